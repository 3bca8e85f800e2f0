package config

import "sync"

type SettingsProvider[T any] interface {
	// GetSettings returns the current settings of type T.
	GetSettings() T
}

// MutableSettingsProvider holds a settings value that can be replaced at runtime.
// Readers always receive a copy taken under the read lock.
type MutableSettingsProvider[T any] struct {
	mutex    sync.RWMutex
	settings T
}

// NewMutableSettingsProvider creates a provider seeded with initial settings
func NewMutableSettingsProvider[T any](initial T) *MutableSettingsProvider[T] {
	return &MutableSettingsProvider[T]{settings: initial}
}

// GetSettings returns the current settings, implementing SettingsProvider interface
func (p *MutableSettingsProvider[T]) GetSettings() T {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.settings
}

// Update applies fn to the current settings under the write lock.
// If fn returns an error the stored settings are left unchanged.
func (p *MutableSettingsProvider[T]) Update(fn func(current T) (T, error)) (T, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	updated, err := fn(p.settings)
	if err != nil {
		return p.settings, err
	}
	p.settings = updated
	return updated, nil
}

// Set replaces the current settings
func (p *MutableSettingsProvider[T]) Set(settings T) {
	p.mutex.Lock()
	p.settings = settings
	p.mutex.Unlock()
}

package encoding

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/yeti47/cryospy/screencap/devices"
)

// FakeEncoder produces a readable pseudo container: one "sample" marker per consumed sample.
// It lets the recording pipeline run without ffmpeg.
type FakeEncoder struct {
	Supported []string // Accepted mime types, everything when empty
	OpenErr   error

	mu       sync.Mutex
	sessions []*FakeSession
}

func NewFakeEncoder(supported ...string) *FakeEncoder {
	return &FakeEncoder{Supported: supported}
}

func (f *FakeEncoder) IsTypeSupported(mimeType string) bool {
	return len(f.Supported) == 0 || slices.Contains(f.Supported, mimeType)
}

// LastSession returns the most recently opened session, or nil
func (f *FakeEncoder) LastSession() *FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

func (f *FakeEncoder) Open(ctx context.Context, stream *devices.Stream, options EncoderOptions) (EncoderSession, error) {
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	timeslice := options.Timeslice
	if timeslice <= 0 {
		timeslice = 10 * time.Millisecond
	}

	s := &FakeSession{
		MimeType: options.MimeType,
		chunks:   make(chan []byte, 256),
		stop:     make(chan struct{}),
		fail:     make(chan error, 1),
		samples:  make(chan struct{}, 256),
	}

	for _, track := range stream.Tracks() {
		go s.consume(track)
	}
	go s.run(timeslice)

	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

// FakeSession is the session handed out by FakeEncoder
type FakeSession struct {
	MimeType string

	chunks   chan []byte
	stop     chan struct{}
	stopOnce sync.Once
	fail     chan error
	samples  chan struct{}

	mu       sync.Mutex
	paused   bool
	accepted int
	dropped  int
	err      error
}

func (s *FakeSession) consume(track *devices.Track) {
	for {
		select {
		case _, ok := <-track.Samples():
			if !ok {
				return
			}
			s.mu.Lock()
			paused := s.paused
			if paused {
				s.dropped++
			}
			s.mu.Unlock()
			if paused {
				continue
			}
			select {
			case s.samples <- struct{}{}:
			default:
			}
			s.mu.Lock()
			s.accepted++
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

func (s *FakeSession) run(timeslice time.Duration) {
	defer close(s.chunks)

	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

	pending := 0
	flush := func() {
		if pending > 0 {
			s.chunks <- []byte(fmt.Sprintf("chunk[%d]", pending))
			pending = 0
		}
	}

	for {
		select {
		case <-s.samples:
			pending++
		case <-ticker.C:
			flush()
		case <-s.stop:
			for drained := false; !drained; {
				select {
				case <-s.samples:
					pending++
				default:
					drained = true
				}
			}
			flush()
			return
		case err := <-s.fail:
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
	}
}

func (s *FakeSession) Chunks() <-chan []byte { return s.chunks }

func (s *FakeSession) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *FakeSession) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

func (s *FakeSession) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *FakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Fail ends the session with err as if the encoder crashed
func (s *FakeSession) Fail(err error) {
	select {
	case s.fail <- err:
	default:
	}
}

// Counts returns how many samples were encoded and how many were dropped while paused
func (s *FakeSession) Counts() (accepted, dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted, s.dropped
}

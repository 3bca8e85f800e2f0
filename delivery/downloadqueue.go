package delivery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/metrics"
)

const maxNameAttempts = 1000

// DownloadQueue writes finished exports into the download directory in the background
type DownloadQueue interface {
	// Queue adds a delivery job to the queue. It returns false if the queue is full.
	Queue(job *DeliveryJob) bool

	// Start begins processing the queue until stopChan is closed
	Start(stopChan <-chan struct{}, wg *sync.WaitGroup, successCallback func(job *DeliveryJob), failureCallback func(job *DeliveryJob, err error))

	// Drain processes remaining deliveries during shutdown with timeout
	Drain(timeout time.Duration)
}

type QueueSettings struct {
	Directory    string
	BufferSize   int
	MaxRetries   int
	RetryDelay   time.Duration
	DrainTimeout time.Duration
	Metrics      *metrics.Metrics
}

type downloadQueue struct {
	settings QueueSettings
	jobs     chan *DeliveryJob
	logger   common.Logger
	write    func(dir, filename string, data []byte) (string, error)
}

// NewDownloadQueue creates a queue delivering into settings.Directory
func NewDownloadQueue(settings QueueSettings, logger common.Logger) DownloadQueue {
	if settings.BufferSize <= 0 {
		settings.BufferSize = 1
	}
	if settings.RetryDelay <= 0 {
		settings.RetryDelay = 500 * time.Millisecond
	}
	return &downloadQueue{
		settings: settings,
		jobs:     make(chan *DeliveryJob, settings.BufferSize),
		logger:   common.LoggerOrNop(logger),
		write:    writeUnique,
	}
}

func (q *downloadQueue) Queue(job *DeliveryJob) bool {
	if job.QueuedAt.IsZero() {
		job.QueuedAt = time.Now()
	}
	select {
	case q.jobs <- job:
		q.logger.Info("Queued delivery", "filename", job.Filename())
		return true
	default:
		q.logger.Warn("Delivery queue full, dropping export", "filename", job.Filename())
		return false
	}
}

func (q *downloadQueue) Start(stopChan <-chan struct{}, wg *sync.WaitGroup, successCallback func(job *DeliveryJob), failureCallback func(job *DeliveryJob, err error)) {
	defer wg.Done()

	for {
		select {
		case job := <-q.jobs:
			q.deliver(job, stopChan, successCallback, failureCallback)
		case <-stopChan:
			q.drain(q.settings.DrainTimeout, successCallback, failureCallback)
			return
		}
	}
}

func (q *downloadQueue) Drain(timeout time.Duration) {
	q.drain(timeout, nil, nil)
}

func (q *downloadQueue) drain(timeout time.Duration, successCallback func(job *DeliveryJob), failureCallback func(job *DeliveryJob, err error)) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case job := <-q.jobs:
			q.deliver(job, nil, successCallback, failureCallback)
		case <-timer.C:
			q.logger.Warn("Delivery queue drain timeout, forcing shutdown", "pending", len(q.jobs))
			return
		default:
			return
		}
	}
}

// deliver writes one job, retrying up to MaxRetries times. A closed stopChan cuts the backoff short.
func (q *downloadQueue) deliver(job *DeliveryJob, stopChan <-chan struct{}, successCallback func(job *DeliveryJob), failureCallback func(job *DeliveryJob, err error)) {
	if job.Deliverable == nil || job.Deliverable.Blob.IsEmpty() {
		q.fail(job, errors.New("nothing to deliver"), failureCallback)
		return
	}

	for {
		path, err := q.write(q.settings.Directory, job.Deliverable.Filename, job.Deliverable.Blob.Data)
		if err == nil {
			job.Path = path
			q.settings.Metrics.Delivered(true)
			q.logger.Info("Delivered export", "path", path,
				"size", humanize.Bytes(uint64(job.Deliverable.Blob.Size())), "waited", time.Since(job.QueuedAt))
			if successCallback != nil {
				successCallback(job)
			}
			return
		}

		if job.RetryCount >= q.settings.MaxRetries {
			q.fail(job, err, failureCallback)
			return
		}
		job.RetryCount++
		q.logger.Warn("Delivery failed, retrying", "filename", job.Filename(), "attempt", job.RetryCount, "error", err)

		select {
		case <-time.After(q.settings.RetryDelay * time.Duration(job.RetryCount)):
		case <-stopChan:
		}
	}
}

func (q *downloadQueue) fail(job *DeliveryJob, err error, failureCallback func(job *DeliveryJob, err error)) {
	q.settings.Metrics.Delivered(false)
	q.logger.Error("Failed to deliver export", "filename", job.Filename(), "retries", job.RetryCount, "error", err)
	if failureCallback != nil {
		failureCallback(job, err)
	}
}

// writeUnique creates dir/filename, or "name (n).ext" when that already exists. Existing files are never overwritten.
func writeUnique(dir, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	filename = filepath.Base(filename)
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	for n := 0; n < maxNameAttempts; n++ {
		name := filename
		if n > 0 {
			name = fmt.Sprintf("%s (%d)%s", stem, n, ext)
		}
		path := filepath.Join(dir, name)

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create %s: %w", path, err)
		}

		if _, err := file.Write(data); err != nil {
			file.Close()
			os.Remove(path)
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		if err := file.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("failed to close %s: %w", path, err)
		}
		return path, nil
	}

	return "", fmt.Errorf("no free file name for %s after %d attempts", filename, maxNameAttempts)
}

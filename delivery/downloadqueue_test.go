package delivery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeti47/cryospy/screencap/exporting"
	"github.com/yeti47/cryospy/screencap/metrics"
	"github.com/yeti47/cryospy/screencap/models"
)

func newJob(filename, data string) *DeliveryJob {
	return &DeliveryJob{Deliverable: &exporting.Deliverable{
		Filename:  filename,
		Requested: exporting.FormatWebM,
		Format:    exporting.FormatWebM,
		Blob:      models.Blob{Data: []byte(data), MimeType: "video/webm"},
	}}
}

func assertDeliveries(t *testing.T, m *metrics.Metrics, result string, count int) {
	t.Helper()
	expected := fmt.Sprintf(`
# HELP screencap_deliveries_total Files written to the download directory
# TYPE screencap_deliveries_total counter
screencap_deliveries_total{result=%q} %d
`, result, count)
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "screencap_deliveries_total"))
}

func TestWriteUniqueNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.webm"), []byte("existing"), 0644))

	path, err := writeUnique(dir, "clip.webm", []byte("first"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip (1).webm"), path)

	path, err = writeUnique(dir, "clip.webm", []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip (2).webm"), path)

	existing, err := os.ReadFile(filepath.Join(dir, "clip.webm"))
	require.NoError(t, err)
	assert.Equal(t, "existing", string(existing))
}

func TestWriteUniqueStripsDirectories(t *testing.T) {
	dir := t.TempDir()

	path, err := writeUnique(dir, "../escape.webm", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "escape.webm"), path)
}

func TestQueueRejectsWhenFull(t *testing.T) {
	queue := NewDownloadQueue(QueueSettings{Directory: t.TempDir(), BufferSize: 1}, nil)

	assert.True(t, queue.Queue(newJob("a.webm", "a")))
	assert.False(t, queue.Queue(newJob("b.webm", "b")))
}

func TestStartDeliversAndDrainsOnStop(t *testing.T) {
	dir := t.TempDir()
	m := metrics.New()
	queue := NewDownloadQueue(QueueSettings{Directory: dir, BufferSize: 4, DrainTimeout: time.Second, Metrics: m}, nil)

	for _, name := range []string{"a.webm", "b.webm", "c.webm"} {
		require.True(t, queue.Queue(newJob(name, name)))
	}

	var mu sync.Mutex
	var delivered []string
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	close(stop)
	go queue.Start(stop, &wg, func(job *DeliveryJob) {
		mu.Lock()
		delivered = append(delivered, job.Path)
		mu.Unlock()
	}, nil)
	wg.Wait()

	require.Len(t, delivered, 3)
	for _, path := range delivered {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, filepath.Base(path), string(data))
	}
	assertDeliveries(t, m, "success", 3)
}

func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	queue := NewDownloadQueue(QueueSettings{Directory: t.TempDir(), MaxRetries: 3, RetryDelay: time.Millisecond}, nil).(*downloadQueue)
	attempts := 0
	queue.write = func(dir, filename string, data []byte) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("disk busy")
		}
		return filepath.Join(dir, filename), nil
	}

	var succeeded *DeliveryJob
	queue.deliver(newJob("a.webm", "a"), nil, func(job *DeliveryJob) { succeeded = job }, nil)

	require.NotNil(t, succeeded)
	assert.Equal(t, 2, succeeded.RetryCount)
	assert.Equal(t, 3, attempts)
}

func TestDeliveryGivesUpAfterMaxRetries(t *testing.T) {
	m := metrics.New()
	queue := NewDownloadQueue(QueueSettings{Directory: t.TempDir(), MaxRetries: 2, RetryDelay: time.Millisecond, Metrics: m}, nil).(*downloadQueue)
	queue.write = func(dir, filename string, data []byte) (string, error) {
		return "", errors.New("read-only file system")
	}

	var failed *DeliveryJob
	var failure error
	queue.deliver(newJob("a.webm", "a"), nil, nil, func(job *DeliveryJob, err error) {
		failed, failure = job, err
	})

	require.NotNil(t, failed)
	assert.Equal(t, 2, failed.RetryCount)
	assert.EqualError(t, failure, "read-only file system")
	assert.Empty(t, failed.Path)
	assertDeliveries(t, m, "failure", 1)
}

func TestEmptyDeliverableFails(t *testing.T) {
	queue := NewDownloadQueue(QueueSettings{Directory: t.TempDir()}, nil).(*downloadQueue)

	var failure error
	queue.deliver(newJob("a.webm", ""), nil, nil, func(job *DeliveryJob, err error) { failure = err })
	assert.Error(t, failure)
}

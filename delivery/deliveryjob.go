package delivery

import (
	"time"

	"github.com/yeti47/cryospy/screencap/exporting"
)

// DeliveryJob represents an exported recording waiting to be written to the download directory
type DeliveryJob struct {
	Deliverable *exporting.Deliverable
	QueuedAt    time.Time
	RetryCount  int    // Number of retry attempts made
	Path        string // Final path, set once the file has been written
}

// Filename returns the name the deliverable asks for
func (j *DeliveryJob) Filename() string {
	if j.Deliverable == nil {
		return ""
	}
	return j.Deliverable.Filename
}

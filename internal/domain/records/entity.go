package records

import (
	"time"

	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// ClampLimit bounds a history page size. Non-positive limits get the
// default.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// RecordID identifier type
type RecordID string

// Record is one saved annotation bundle for an image. Annotations keeps the
// JSON string exactly as the client sent it.
type Record struct {
	ID          RecordID  `json:"id"`
	StudyKey    int64     `json:"studyKey"`
	SeriesKey   int64     `json:"seriesKey"`
	ImageKey    int64     `json:"imageKey"`
	FrameNo     int       `json:"frameNo"`
	Annotations string    `json:"annotations"`
	CreatedAt   string    `json:"createdAt"`
	SavedAt     time.Time `json:"savedAt"`
	Objects     int       `json:"objects"`
	ArchiveURL  string    `json:"archiveUrl,omitempty"`
}

// Keys returns the hierarchical address of the record.
func (r *Record) Keys() imageid.Keys {
	return imageid.Keys{StudyKey: r.StudyKey, SeriesKey: r.SeriesKey, ImageKey: r.ImageKey, FrameNo: r.FrameNo}
}

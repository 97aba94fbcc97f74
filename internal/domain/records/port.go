package records

import (
	"context"
	"errors"

	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
)

var (
	// ErrInvalidPayload is returned for bodies that are not annotation records.
	ErrInvalidPayload = errors.New("records: invalid payload")
	ErrNotFound       = errors.New("records: not found")
)

// Repository port (interface untuk persistence)
type Repository interface {
	Save(ctx context.Context, r *Record) error
	// Latest returns the newest records for the image, newest first. Frame
	// is ignored.
	Latest(ctx context.Context, keys imageid.Keys, limit int) ([]*Record, error)
	CountByStudy(ctx context.Context, studyKey int64) (int, error)
}

// ArchiveStore port (interface untuk penyimpanan arsip bundle)
type ArchiveStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

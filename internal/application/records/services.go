package records

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bryanwahyu/annoscope/internal/application"
	"github.com/bryanwahyu/annoscope/internal/domain/annotations"
	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
	domain "github.com/bryanwahyu/annoscope/internal/domain/records"
)

// Service implements use-cases untuk annotation records.
// Service is safe for concurrent use.
type Service struct {
	Repo    domain.Repository
	Archive domain.ArchiveStore
	Clock   application.Clock
	Logger  *slog.Logger
}

// SaveCommand is the body of POST /annotations/studies/.../images/{imageKey}.
type SaveCommand struct {
	Keys        imageid.Keys
	Annotations string
	CreatedAt   string
}

// Save stores the bundle. An archive copy is written when an ArchiveStore
// is configured; failing to archive does not fail the save.
func (s *Service) Save(ctx context.Context, cmd SaveCommand) (*domain.Record, error) {
	if strings.TrimSpace(cmd.Annotations) == "" {
		return nil, fmt.Errorf("%w: annotations is empty", domain.ErrInvalidPayload)
	}
	parsed := annotations.Unwrap(cmd.Annotations)

	rec := &domain.Record{
		ID:          domain.RecordID(uuid.NewString()),
		StudyKey:    cmd.Keys.StudyKey,
		SeriesKey:   cmd.Keys.SeriesKey,
		ImageKey:    cmd.Keys.ImageKey,
		FrameNo:     cmd.Keys.FrameNo,
		Annotations: cmd.Annotations,
		CreatedAt:   cmd.CreatedAt,
		SavedAt:     s.clock().Now().UTC(),
		Objects:     len(parsed.Objects),
	}

	if s.Archive != nil {
		key := fmt.Sprintf("%s/%s.json", cmd.Keys.Path(), rec.ID)
		url, err := s.Archive.Put(ctx, key, "application/json", []byte(cmd.Annotations))
		if err != nil {
			s.logger().Warn("archive upload failed", "key", key, "error", err)
		} else {
			rec.ArchiveURL = url
		}
	}

	if err := s.Repo.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	s.logger().Info("annotation record saved", "id", rec.ID, "image", cmd.Keys.String(), "objects", rec.Objects)
	return rec, nil
}

// Latest returns the newest record for the image, or ErrNotFound.
func (s *Service) Latest(ctx context.Context, keys imageid.Keys) (*domain.Record, error) {
	list, err := s.Repo.Latest(ctx, keys, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, domain.ErrNotFound
	}
	return list[0], nil
}

// History returns up to limit records for the image, newest first.
func (s *Service) History(ctx context.Context, keys imageid.Keys, limit int) ([]*domain.Record, error) {
	return s.Repo.Latest(ctx, keys, domain.ClampLimit(limit))
}

// CountByStudy returns how many records were stored for a study.
func (s *Service) CountByStudy(ctx context.Context, studyKey int64) (int, error) {
	return s.Repo.CountByStudy(ctx, studyKey)
}

func (s *Service) clock() application.Clock {
	if s.Clock == nil {
		return application.SystemClock{}
	}
	return s.Clock
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

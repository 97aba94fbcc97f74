package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/annoscope/internal/application"
	domain "github.com/bryanwahyu/annoscope/internal/domain/annotations"
	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
)

// CreatedAtLayout is the createdAt format expected by the annotation API.
const CreatedAtLayout = "2006-01-02 15:04:05"

// DefaultKinds are the tool kinds persisted when Service.Kinds is empty.
var DefaultKinds = []string{domain.ToolArrowAnnotate}

// Service maps the shared store onto per-image records and back.
// Service is safe for concurrent use once configured.
type Service struct {
	Backend  domain.Backend
	Clock    application.Clock
	Kinds    []string
	Logger   *slog.Logger
	Recorder application.Recorder
}

// Groups maps a referenced image identifier to its annotations.
type Groups map[string][]domain.Annotation

// Keys returns the group identifiers in sorted order.
func (g Groups) Keys() []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fetched is the result of Fetch. Bundle.Objects is never nil.
type Fetched struct {
	Keys    imageid.Keys
	Bundle  domain.Bundle
	SavedAt time.Time
	Empty   bool
}

// ExportForSave returns copies of the persistable annotations in store,
// optionally narrowed by pred. Ownership is stripped from the copies and
// synthetic comparison identities are mapped back to their base image, so
// the predicate sees the identity as rendered but the copies do not.
func (s *Service) ExportForSave(store domain.Store, pred Predicate) []domain.Annotation {
	kinds := s.Kinds
	if len(kinds) == 0 {
		kinds = DefaultKinds
	}
	allowed := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}

	out := make([]domain.Annotation, 0)
	for _, a := range store.All() {
		if !allowed[a.Kind()] {
			continue
		}
		if pred != nil && !pred(&a) {
			continue
		}
		c := a.Clone()
		c.Owner = domain.Ownership{}
		domain.Unsynthesize(&c)
		out = append(out, c)
	}
	return out
}

// GroupByImage buckets list by referenced image. Annotations without one
// are dropped with a warning.
func (s *Service) GroupByImage(list []domain.Annotation) Groups {
	groups := make(Groups)
	for _, a := range list {
		id := a.ImageID()
		if id == "" {
			s.logger().Warn("annotation without referencedImageId dropped", "uid", a.UID, "tool", a.Kind())
			s.recorder().AnnotationDropped("no_image_id")
			continue
		}
		groups[id] = append(groups[id], a)
	}
	return groups
}

// Save writes every group concurrently. All requests are issued and awaited;
// the first failure to arrive is returned. Writes that already succeeded are
// not rolled back.
func (s *Service) Save(ctx context.Context, groups Groups) error {
	records := make([]domain.Record, 0, len(groups))
	createdAt := s.clock().Now().UTC().Format(CreatedAtLayout)

	for _, id := range groups.Keys() {
		keys, err := imageid.ParseKeys(id)
		if err != nil {
			s.logger().Warn("skipping group with unparsable image id", "image_id", id, "error", err)
			s.recorder().AnnotationDropped("unparsable_key")
			continue
		}
		payload, err := json.Marshal(domain.NewBundle(groups[id]))
		if err != nil {
			return fmt.Errorf("encode bundle for %s: %w", id, err)
		}
		records = append(records, domain.Record{
			StudyKey:    keys.StudyKey,
			SeriesKey:   keys.SeriesKey,
			ImageKey:    keys.ImageKey,
			FrameNo:     keys.FrameNo,
			Annotations: string(payload),
			CreatedAt:   createdAt,
		})
	}

	var g errgroup.Group
	for _, rec := range records {
		g.Go(func() error {
			err := s.Backend.Save(ctx, rec)
			s.recorder().SaveRequest(err == nil)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.logger().Info("annotations saved", "requests", len(records))
	return nil
}

// SaveCurrent groups list and saves it. When list is empty and
// currentImageID is known, an empty bundle is written for that image so the
// stored state is cleared. A non-empty list whose entries were all dropped
// clears nothing.
func (s *Service) SaveCurrent(ctx context.Context, list []domain.Annotation, currentImageID string) (int, error) {
	groups := s.GroupByImage(list)
	if len(list) == 0 && currentImageID != "" {
		groups[domain.BaseID(currentImageID)] = []domain.Annotation{}
	}
	if err := s.Save(ctx, groups); err != nil {
		return 0, err
	}
	return len(groups), nil
}

// Fetch loads the latest bundle stored for keys. An empty body yields an
// empty bundle; a body that cannot be interpreted also degrades to empty.
func (s *Service) Fetch(ctx context.Context, keys imageid.Keys) (Fetched, error) {
	out := Fetched{Keys: keys, Bundle: domain.NewBundle(nil), SavedAt: s.clock().Now(), Empty: true}

	body, err := s.Backend.Fetch(ctx, keys)
	if err != nil {
		return Fetched{}, err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return out, nil
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		s.logger().Warn("annotation response is not an array", "keys", keys.String(), "error", err)
		return out, nil
	}
	if len(rows) == 0 {
		return out, nil
	}

	u := domain.UnwrapRaw(rows[0])
	for _, field := range []string{"savedAt", "createdAt"} {
		var ts string
		if err := json.Unmarshal(u.Container[field], &ts); err != nil {
			continue
		}
		if t, ok := parseTimestamp(ts); ok {
			out.SavedAt = t
			break
		}
	}
	out.Bundle = u.Bundle()
	out.Empty = u.Empty()
	if u.Skipped > 0 {
		s.logger().Warn("skipped malformed annotations", "keys", keys.String(), "skipped", u.Skipped)
	}
	return out, nil
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, CreatedAtLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) recorder() application.Recorder {
	return application.OrNop(s.Recorder)
}

func (s *Service) clock() application.Clock {
	if s.Clock == nil {
		return application.SystemClock{}
	}
	return s.Clock
}

package records

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/annoscope/internal/application"
	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
	domain "github.com/bryanwahyu/annoscope/internal/domain/records"
)

type memRepo struct {
	mu   sync.Mutex
	recs []*domain.Record
	err  error
	last int
}

func (m *memRepo) Save(_ context.Context, r *domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, r)
	return nil
}

func (m *memRepo) Latest(_ context.Context, k imageid.Keys, limit int) ([]*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = limit
	var out []*domain.Record
	for i := len(m.recs) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.recs[i]
		if r.StudyKey == k.StudyKey && r.SeriesKey == k.SeriesKey && r.ImageKey == k.ImageKey {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) CountByStudy(_ context.Context, study int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.recs {
		if r.StudyKey == study {
			n++
		}
	}
	return n, nil
}

type fakeArchive struct {
	keys []string
	err  error
}

func (f *fakeArchive) Put(_ context.Context, key, contentType string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "http://archive/" + key, nil
}

var keys = imageid.Keys{StudyKey: 1, SeriesKey: 2, ImageKey: 3, FrameNo: imageid.NoFrame}

func TestSave(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	repo := &memRepo{}
	archive := &fakeArchive{}
	svc := &Service{Repo: repo, Archive: archive, Clock: application.FixedClock{T: now}}

	rec, err := svc.Save(ctx, SaveCommand{Keys: keys, Annotations: `{"objects":[{"annotationUID":"a"},{"annotationUID":"b"}]}`, CreatedAt: "c"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 2, rec.Objects)
	assert.Equal(t, time.UTC, rec.SavedAt.Location())
	require.Len(t, archive.keys, 1)
	assert.Equal(t, "studies/1/series/2/images/3/"+string(rec.ID)+".json", archive.keys[0])
	assert.Equal(t, "http://archive/"+archive.keys[0], rec.ArchiveURL)

	got, err := svc.Latest(ctx, keys)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestSaveArchiveFailureIsNotFatal(t *testing.T) {
	svc := &Service{Repo: &memRepo{}, Archive: &fakeArchive{err: errors.New("s3 down")}}
	rec, err := svc.Save(context.Background(), SaveCommand{Keys: keys, Annotations: `[]`})
	require.NoError(t, err)
	assert.Empty(t, rec.ArchiveURL)
	assert.Equal(t, 0, rec.Objects)
}

func TestSaveErrors(t *testing.T) {
	svc := &Service{Repo: &memRepo{err: errors.New("db gone")}}
	_, err := svc.Save(context.Background(), SaveCommand{Keys: keys, Annotations: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = svc.Save(context.Background(), SaveCommand{Keys: keys, Annotations: "{}"})
	assert.ErrorContains(t, err, "db gone")
}

func TestLatestAndHistory(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	svc := &Service{Repo: repo}

	_, err := svc.Latest(ctx, keys)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for i := 0; i < 3; i++ {
		_, err := svc.Save(ctx, SaveCommand{Keys: keys, Annotations: "{}"})
		require.NoError(t, err)
	}
	list, err := svc.History(ctx, keys, 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)
	assert.Equal(t, 20, repo.last)

	_, err = svc.History(ctx, keys, 500)
	require.NoError(t, err)
	assert.Equal(t, 100, repo.last)

	n, err := svc.CountByStudy(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/annoscope/internal/application"
	domain "github.com/bryanwahyu/annoscope/internal/domain/annotations"
	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
	"github.com/bryanwahyu/annoscope/internal/infra/annotationapi"
	"github.com/bryanwahyu/annoscope/internal/infra/engine"
)

const (
	img153 = "wadouri:http://h/studies/10/series/2/images/153"
	img154 = "wadouri:http://h/studies/10/series/2/images/154/frames/3"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

type fakeRecorder struct {
	application.NopRecorder
	mu      sync.Mutex
	dropped []string
	ok, bad int
}

func (r *fakeRecorder) AnnotationDropped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, reason)
}

func (r *fakeRecorder) SaveRequest(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.ok++
	} else {
		r.bad++
	}
}

func arrow(uid, image string) domain.Annotation {
	return domain.Annotation{UID: uid, ToolName: domain.ToolArrowAnnotate, ReferencedImageID: image, Data: json.RawMessage(`{"text":"` + uid + `"}`)}
}

func newService(t *testing.T, handler http.Handler) (*Service, *fakeRecorder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	rec := &fakeRecorder{}
	return &Service{
		Backend:  annotationapi.NewClient(srv.URL, "", 0),
		Clock:    application.FixedClock{T: fixedNow},
		Recorder: rec,
	}, rec
}

func TestExportForSave(t *testing.T) {
	e := engine.New()
	a := arrow("a", img153)
	a.Owner = domain.Ownership{Surface: "s1"}
	require.NoError(t, e.Add(a, "s1"))
	b := arrow("b", img153)
	b.Owner = domain.Ownership{Surface: "s2"}
	require.NoError(t, e.Add(b, "s2"))
	require.NoError(t, e.Add(domain.Annotation{UID: "len", ToolName: "Length", ReferencedImageID: img153}, "s1"))
	require.NoError(t, e.Add(domain.Annotation{UID: "meta", Metadata: map[string]any{"toolName": "ArrowAnnotate"}}, "s1"))

	svc := &Service{}
	out := svc.ExportForSave(e, nil)
	require.Len(t, out, 3)
	for _, x := range out {
		assert.False(t, x.Owner.Scoped())
	}

	out = svc.ExportForSave(e, SurfacePredicate("s1", ""))
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].UID)

	svc.Kinds = []string{"Length"}
	out = svc.ExportForSave(e, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "len", out[0].UID)
}

func TestExportForSaveMapsComparisonIdentities(t *testing.T) {
	e := engine.New()
	left := arrow("l", img153+"?vp=left")
	left.Metadata = map[string]any{
		domain.MetaReferencedImageID:  img153 + "?vp=left",
		domain.MetaReferencedImageURI: "http://h/studies/10/series/2/images/153?vp=left",
	}
	require.NoError(t, e.Add(left, "s1"))
	require.NoError(t, e.Add(arrow("r", img153+"?vp=right"), "s2"))

	svc := &Service{}
	out := svc.ExportForSave(e, func(a *domain.Annotation) bool {
		return strings.Contains(a.ImageID(), "vp=")
	})
	require.Len(t, out, 2)

	groups := svc.GroupByImage(out)
	assert.Equal(t, []string{img153}, groups.Keys())
	assert.Len(t, groups[img153], 2)
	for _, a := range out {
		if a.UID == "l" {
			assert.Equal(t, img153, a.Metadata[domain.MetaReferencedImageID])
			assert.Equal(t, "http://h/studies/10/series/2/images/153", a.Metadata[domain.MetaReferencedImageURI])
		}
	}

	for _, a := range e.All() {
		assert.Contains(t, a.ReferencedImageID, "?vp=")
	}
}

func TestGroupByImageDropsMissingIdentity(t *testing.T) {
	rec := &fakeRecorder{}
	svc := &Service{Recorder: rec}
	groups := svc.GroupByImage([]domain.Annotation{arrow("a", img153), arrow("b", ""), arrow("c", img153), arrow("d", img154)})

	assert.Equal(t, []string{img153, img154}, groups.Keys())
	assert.Len(t, groups[img153], 2)
	assert.Equal(t, []string{"no_image_id"}, rec.dropped)
}

func TestSaveDispatchesConcurrently(t *testing.T) {
	var mu sync.Mutex
	got := map[string]domain.Record{}
	var inFlight, peak atomic.Int64
	release := make(chan struct{})
	var arrived sync.WaitGroup
	arrived.Add(2)

	svc, rec := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		arrived.Done()
		<-release
		inFlight.Add(-1)

		body, _ := io.ReadAll(r.Body)
		var record domain.Record
		assert.NoError(t, json.Unmarshal(body, &record))
		mu.Lock()
		got[r.URL.Path] = record
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))

	go func() {
		arrived.Wait()
		close(release)
	}()

	groups := svc.GroupByImage([]domain.Annotation{arrow("a", img153), arrow("b", img154)})
	require.NoError(t, svc.Save(context.Background(), groups))

	assert.Equal(t, int64(2), peak.Load())
	require.Len(t, got, 2)

	r153 := got["/annotations/studies/10/series/2/images/153"]
	assert.Equal(t, int64(10), r153.StudyKey)
	assert.Equal(t, imageid.NoFrame, r153.FrameNo)
	assert.Equal(t, "2024-05-06 07:08:09", r153.CreatedAt)
	inner := domain.Unwrap(r153.Annotations)
	assert.Equal(t, "5.3.0", inner.Version)
	require.Len(t, inner.Objects, 1)
	assert.Equal(t, "a", inner.Objects[0].UID)

	r154 := got["/annotations/studies/10/series/2/images/154"]
	assert.Equal(t, 3, r154.FrameNo)
	assert.Equal(t, 2, rec.ok)
}

func TestSaveFailsWhenOneRequestFails(t *testing.T) {
	var calls atomic.Int64
	svc, rec := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if strings.HasSuffix(r.URL.Path, "/images/154") {
			http.Error(w, "disk full", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	groups := svc.GroupByImage([]domain.Annotation{arrow("a", img153), arrow("b", img154)})
	err := svc.Save(context.Background(), groups)
	require.Error(t, err)

	var te *domain.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	assert.Contains(t, err.Error(), "/annotations/studies/10/series/2/images/154")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 1, rec.ok)
	assert.Equal(t, 1, rec.bad)
}

func TestSaveSkipsUnparsableKeys(t *testing.T) {
	var calls atomic.Int64
	svc, rec := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	groups := Groups{
		img153:                  {arrow("a", img153)},
		"wadouri:http://h/nope": {arrow("b", "wadouri:http://h/nope")},
	}
	require.NoError(t, svc.Save(context.Background(), groups))
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, []string{"unparsable_key"}, rec.dropped)
}

func TestSaveCurrentClearsEmptyImage(t *testing.T) {
	var body domain.Record
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))

	n, err := svc.SaveCurrent(context.Background(), nil, img153)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.JSONEq(t, `{"version":"5.3.0","objects":[]}`, body.Annotations)

	n, err = svc.SaveCurrent(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSaveCurrentKeepsStoreWhenEverythingDropped(t *testing.T) {
	var calls atomic.Int64
	svc, rec := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	n, err := svc.SaveCurrent(context.Background(), []domain.Annotation{arrow("orphan", "")}, img153)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(0), calls.Load())
	assert.Equal(t, []string{"no_image_id"}, rec.dropped)
}

func TestFetch(t *testing.T) {
	bundle := `{"version":"5.3.0","objects":[{"annotationUID":"a1","toolName":"ArrowAnnotate","referencedImageId":"` + img153 + `","data":{}}]}`
	quoted, _ := json.Marshal(bundle)
	wrapped, _ := json.Marshal(`{"annotations":` + string(quoted) + `}`)

	tests := []struct {
		name    string
		status  int
		body    string
		want    int
		savedAt time.Time
		wantErr bool
	}{
		{name: "empty body", status: 200, body: "", want: 0, savedAt: fixedNow},
		{name: "empty array", status: 200, body: "[]", want: 0, savedAt: fixedNow},
		{name: "garbage", status: 200, body: "<html>", want: 0, savedAt: fixedNow},
		{name: "string field", status: 200, body: `[{"annotations":` + string(quoted) + `,"savedAt":"2024-01-02T03:04:05Z"}]`, want: 1, savedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{name: "double wrapped", status: 200, body: `[{"annotations":` + string(wrapped) + `}]`, want: 1, savedAt: fixedNow},
		{name: "object field", status: 200, body: `[{"annotations":` + bundle + `,"createdAt":"2024-01-02 03:04:05"}]`, want: 1, savedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{name: "array field", status: 200, body: `[{"annotations":[{"annotationUID":"x"}]}]`, want: 1, savedAt: fixedNow},
		{name: "not found", status: 404, body: "missing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			got, err := svc.Fetch(context.Background(), imageid.Keys{StudyKey: 10, SeriesKey: 2, ImageKey: 153, FrameNo: -1})
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrTransport)
				assert.Contains(t, err.Error(), "missing")
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, got.Bundle.Objects)
			assert.Len(t, got.Bundle.Objects, tt.want)
			assert.Equal(t, tt.want == 0, got.Empty)
			assert.True(t, tt.savedAt.Equal(got.SavedAt), got.SavedAt)
		})
	}
}

func TestCompileFilter(t *testing.T) {
	pred, err := CompileFilter(`group == "cmp" && image contains "vp=left"`)
	require.NoError(t, err)

	a := arrow("a", img153+"?vp=left")
	a.Owner.Group = "cmp"
	assert.True(t, pred(&a))

	a.Owner.Group = "other"
	assert.False(t, pred(&a))

	none, err := CompileFilter("  ")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = CompileFilter(`tool +`)
	assert.Error(t, err)

	_, err = CompileFilter(`uid`)
	assert.Error(t, err)
}

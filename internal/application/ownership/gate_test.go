package ownership

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/annoscope/internal/application"
	domain "github.com/bryanwahyu/annoscope/internal/domain/annotations"
	"github.com/bryanwahyu/annoscope/internal/infra/engine"
)

type countingRecorder struct {
	application.NopRecorder
	violations atomic.Int64
}

func (r *countingRecorder) OwnershipViolation() { r.violations.Add(1) }

func setup(t *testing.T) (*engine.Engine, *Gate, *countingRecorder) {
	t.Helper()
	e := engine.New()
	rec := &countingRecorder{}
	g := NewGate(e, e, nil, rec)
	return e, g, rec
}

func add(t *testing.T, e *engine.Engine, uid, image string, owner domain.Ownership) {
	t.Helper()
	a := domain.Annotation{UID: uid, ToolName: domain.ToolArrowAnnotate, ReferencedImageID: image}
	Tag(&a, owner.Surface, owner.Group)
	require.NoError(t, e.Add(a, owner.Surface))
}

func TestIsVisible(t *testing.T) {
	e, g, rec := setup(t)
	s1, _ := e.CreateSurface("a")
	s2, _ := e.CreateSurface("b")
	require.NoError(t, e.BindToolGroup(s1, "g1"))
	require.NoError(t, e.BindToolGroup(s2, "g2"))

	tests := []struct {
		name   string
		owner  domain.Ownership
		target domain.SurfaceHandle
		want   bool
	}{
		{"same surface", domain.Ownership{Surface: s1}, s1, true},
		{"other surface", domain.Ownership{Surface: s1}, s2, false},
		{"surface wins over group", domain.Ownership{Surface: s1, Group: "g2"}, s2, false},
		{"same group", domain.Ownership{Group: "g1"}, s1, true},
		{"other group", domain.Ownership{Group: "g1"}, s2, false},
		{"unknown target", domain.Ownership{Group: "g1"}, "ghost", false},
		{"unscoped", domain.Ownership{}, s1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := domain.Annotation{UID: "x"}
			Tag(&a, tt.owner.Surface, tt.owner.Group)
			assert.Equal(t, tt.want, g.IsVisible(&a, tt.target))
		})
	}
	assert.Equal(t, int64(1), rec.violations.Load())
	assert.False(t, g.IsVisible(nil, s1))
}

func TestTagOverwrites(t *testing.T) {
	a := domain.Annotation{UID: "x"}
	Tag(&a, "s1", "g1")
	Tag(&a, "", "g2")
	assert.Equal(t, domain.Ownership{Group: "g2"}, a.Owner)
}

func TestInstallOnce(t *testing.T) {
	e, g, _ := setup(t)

	var wg sync.WaitGroup
	var wins atomic.Int64
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Install(e) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
	assert.Equal(t, 1, e.Installs())
	assert.True(t, g.Installed())
}

func TestVisibleThroughEngine(t *testing.T) {
	e, g, _ := setup(t)
	g.Install(e)
	s1, _ := e.CreateSurface("a")
	s2, _ := e.CreateSurface("b")

	add(t, e, "a1", "img", domain.Ownership{Surface: s1})
	add(t, e, "a2", "img", domain.Ownership{Surface: s2})
	add(t, e, "stray", "img", domain.Ownership{})

	vis := e.Visible(s1)
	require.Len(t, vis, 1)
	assert.Equal(t, "a1", vis[0].UID)
}

func TestPurgeUnscopedIdempotent(t *testing.T) {
	e, g, rec := setup(t)
	add(t, e, "a1", "img", domain.Ownership{Surface: "s1"})
	add(t, e, "a2", "img", domain.Ownership{Group: "g"})
	add(t, e, "u1", "img", domain.Ownership{})
	add(t, e, "u2", "img", domain.Ownership{})

	assert.Equal(t, 2, g.PurgeUnscoped())
	once := e.All()
	assert.Equal(t, 0, g.PurgeUnscoped())
	assert.Equal(t, once, e.All())
	assert.Len(t, once, 2)
	assert.Equal(t, int64(2), rec.violations.Load())
}

func TestScopedRemoval(t *testing.T) {
	e, g, _ := setup(t)
	add(t, e, "mine", "wadouri:http://h/x?vp=left", domain.Ownership{Surface: "s1", Group: "g"})
	add(t, e, "group", "wadouri:http://h/x", domain.Ownership{Group: "g"})
	add(t, e, "other", "wadouri:http://h/x?vp=left", domain.Ownership{Surface: "s2", Group: "g"})
	add(t, e, "lost", "wadouri:http://h/x?vp=left", domain.Ownership{Group: "g-other"})

	assert.Equal(t, 1, g.RemoveBySurface("s1"))
	assert.Equal(t, 1, g.RemoveByGroup("g", "s1"))
	assert.Equal(t, 1, g.RemoveByImageFragment("vp=left", "s1"))

	all := e.All()
	require.Len(t, all, 1)
	assert.Equal(t, "other", all[0].UID)

	assert.Equal(t, 0, g.RemoveBySurface(""))
	assert.Equal(t, 0, g.RemoveByGroup("", "s1"))
	assert.Equal(t, 0, g.RemoveByImageFragment("", "s1"))
}

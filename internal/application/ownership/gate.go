package ownership

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bryanwahyu/annoscope/internal/application"
	domain "github.com/bryanwahyu/annoscope/internal/domain/annotations"
)

// Tag stamps ownership on a. Re-tagging overwrites.
func Tag(a *domain.Annotation, surface domain.SurfaceHandle, group string) {
	a.Owner = domain.Ownership{Surface: surface, Group: group}
}

// Gate owns the visibility predicate and the bookkeeping used to remove
// annotations by scope. One Gate per engine.
type Gate struct {
	Store    domain.Store
	Groups   domain.GroupResolver
	Logger   *slog.Logger
	Recorder application.Recorder

	once      sync.Once
	installed atomic.Bool
}

func NewGate(store domain.Store, groups domain.GroupResolver, logger *slog.Logger, rec application.Recorder) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{Store: store, Groups: groups, Logger: logger, Recorder: application.OrNop(rec)}
}

// Install registers IsVisible with the renderer. Only the first call has an
// effect; it returns true for that call.
func (g *Gate) Install(inst domain.PredicateInstaller) bool {
	did := false
	g.once.Do(func() {
		inst.InstallFilterPredicate(g.IsVisible)
		g.installed.Store(true)
		did = true
	})
	return did
}

// Installed reports whether the predicate is in place.
func (g *Gate) Installed() bool { return g.installed.Load() }

// IsVisible decides whether a is drawn on target: surface ownership wins,
// then group ownership; unscoped annotations are never drawn.
func (g *Gate) IsVisible(a *domain.Annotation, target domain.SurfaceHandle) bool {
	if a == nil {
		return false
	}
	switch {
	case a.Owner.Surface != "":
		return a.Owner.Surface == target
	case a.Owner.Group != "":
		if g.Groups == nil {
			return false
		}
		group, ok := g.Groups.GroupOf(target)
		return ok && group == a.Owner.Group
	default:
		g.recorder().OwnershipViolation()
		return false
	}
}

// PurgeUnscoped removes every annotation with neither surface nor group.
func (g *Gate) PurgeUnscoped() int {
	n := g.RemoveWhere(func(a *domain.Annotation) bool { return !a.Owner.Scoped() })
	if n > 0 {
		g.logger().Warn("purged unscoped annotations", "removed", n)
		for i := 0; i < n; i++ {
			g.recorder().OwnershipViolation()
		}
	}
	return n
}

// RemoveBySurface removes annotations pinned to h.
func (g *Gate) RemoveBySurface(h domain.SurfaceHandle) int {
	if h == "" {
		return 0
	}
	return g.RemoveWhere(func(a *domain.Annotation) bool { return a.Owner.Surface == h })
}

// RemoveByGroup removes annotations scoped to group, leaving those pinned
// to a surface other than owner.
func (g *Gate) RemoveByGroup(group string, owner domain.SurfaceHandle) int {
	if group == "" {
		return 0
	}
	return g.RemoveWhere(func(a *domain.Annotation) bool {
		return a.Owner.Group == group && !pinnedElsewhere(a, owner)
	})
}

// RemoveByImageFragment removes annotations whose referenced image contains
// fragment, leaving those pinned to a surface other than owner.
func (g *Gate) RemoveByImageFragment(fragment string, owner domain.SurfaceHandle) int {
	if fragment == "" {
		return 0
	}
	return g.RemoveWhere(func(a *domain.Annotation) bool {
		return strings.Contains(a.ImageID(), fragment) && !pinnedElsewhere(a, owner)
	})
}

// RemoveWhere removes every stored annotation match accepts.
func (g *Gate) RemoveWhere(match func(a *domain.Annotation) bool) int {
	removed := 0
	for _, a := range g.Store.All() {
		if match(&a) && g.Store.Remove(a.UID, a.Owner.Surface) {
			removed++
		}
	}
	return removed
}

func pinnedElsewhere(a *domain.Annotation, owner domain.SurfaceHandle) bool {
	return a.Owner.Surface != "" && a.Owner.Surface != owner
}

func (g *Gate) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

func (g *Gate) recorder() application.Recorder {
	return application.OrNop(g.Recorder)
}

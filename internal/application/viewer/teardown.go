package viewer

import (
	"fmt"

	domain "github.com/bryanwahyu/annoscope/internal/domain/annotations"
)

// Cleanup pass names, in execution order.
const (
	PassSurface  = "surface"
	PassGroup    = "group"
	PassFragment = "fragment"
	PassUnscoped = "unscoped"
)

// PassResult is the outcome of one cleanup pass.
type PassResult struct {
	Name    string
	Removed int
	Err     error
}

// TeardownReport lists every pass that ran for one surface.
type TeardownReport struct {
	Handle domain.SurfaceHandle
	Passes []PassResult
}

// Removed sums the passes.
func (r TeardownReport) Removed() int {
	n := 0
	for _, p := range r.Passes {
		n += p.Removed
	}
	return n
}

// Orphans counts what the passes after the first one still found. A
// non-zero value means ownership metadata went missing somewhere.
func (r TeardownReport) Orphans() int {
	n := 0
	for i, p := range r.Passes {
		if i > 0 {
			n += p.Removed
		}
	}
	return n
}

// Teardown removes everything the surface may have left in the shared
// store, then destroys it. All four passes always run; a panicking pass is
// recorded and the next one still runs. Tearing down twice is a no-op.
func (m *Manager) Teardown(s *Surface) TeardownReport {
	report := TeardownReport{Handle: s.Handle}
	if err := s.transition(StateTearingDown, StateUninitialized, StateMounting, StateReady); err != nil {
		return report
	}

	fragment := ""
	if d := s.Disambiguator(); d != "" {
		fragment = domain.FragmentFor(d)
	}

	passes := []struct {
		name string
		run  func() int
	}{
		{PassSurface, func() int { return m.Gate.RemoveBySurface(s.Handle) }},
		{PassGroup, func() int { return m.Gate.RemoveByGroup(s.Group, s.Handle) }},
		{PassFragment, func() int { return m.Gate.RemoveByImageFragment(fragment, s.Handle) }},
		{PassUnscoped, func() int { return m.Gate.PurgeUnscoped() }},
	}
	for i, p := range passes {
		res := runPass(p.name, p.run)
		report.Passes = append(report.Passes, res)
		m.Recorder.TeardownPass(res.Name, res.Removed)

		switch {
		case res.Err != nil:
			m.Logger.Error("cleanup pass failed", "surface", s.Handle, "pass", res.Name, "error", res.Err)
		case i > 0 && res.Removed > 0:
			m.Logger.Warn("cleanup pass found orphans", "surface", s.Handle, "pass", res.Name, "removed", res.Removed)
		default:
			m.Logger.Debug("cleanup pass", "surface", s.Handle, "pass", res.Name, "removed", res.Removed)
		}
	}

	if s.Handle != "" {
		if err := m.Engine.DestroySurface(s.Handle); err != nil {
			m.Logger.Warn("destroy surface", "surface", s.Handle, "error", err)
		}
	}
	_ = s.transition(StateGone, StateTearingDown)
	m.forget(s.Handle)
	return report
}

func runPass(name string, run func() int) (res PassResult) {
	res.Name = name
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("pass %s panicked: %v", name, r)
		}
	}()
	res.Removed = run()
	return res
}

// TeardownAll tears down every live surface.
func (m *Manager) TeardownAll() []TeardownReport {
	surfaces := m.Surfaces()
	out := make([]TeardownReport, 0, len(surfaces))
	for _, s := range surfaces {
		out = append(out, m.Teardown(s))
	}
	return out
}

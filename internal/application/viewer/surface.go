package viewer

import (
	"errors"
	"sync"

	domain "github.com/bryanwahyu/annoscope/internal/domain/annotations"
	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
)

var (
	ErrSurfaceGone     = errors.New("viewer: surface torn down")
	ErrNoImageIdentity = errors.New("viewer: no usable image identity")
	ErrBadTransition   = errors.New("viewer: invalid state transition")
)

// State of one rendering surface.
type State int

const (
	StateUninitialized State = iota
	StateMounting
	StateReady
	StateTearingDown
	StateGone
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateMounting:
		return "mounting"
	case StateReady:
		return "ready"
	case StateTearingDown:
		return "tearing_down"
	case StateGone:
		return "gone"
	default:
		return "unknown"
	}
}

// Surface is the manager's view of one viewport. The mutex serialises state
// changes with store writes made on the surface's behalf, so no annotation
// can be added once teardown has started.
type Surface struct {
	Handle domain.SurfaceHandle
	Host   string
	Group  string

	mu            sync.Mutex
	state         State
	baseImageID   string
	imageID       string
	disambiguator string
	fallback      *imageid.Keys
}

func (s *Surface) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Alive reports whether continuations may still act on the surface.
func (s *Surface) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive()
}

func (s *Surface) alive() bool {
	return s.state == StateMounting || s.state == StateReady
}

// ImageID is the identity annotations on this surface anchor to: the
// synthetic one in comparison mode, else the loaded image.
func (s *Surface) ImageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imageID
}

// BaseImageID is the identity before any synthetic derivation.
func (s *Surface) BaseImageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseImageID
}

// Disambiguator returns the comparison tag, empty outside comparison mode.
func (s *Surface) Disambiguator() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disambiguator
}

func (s *Surface) transition(to State, from ...State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range from {
		if s.state == f {
			s.state = to
			return nil
		}
	}
	if to == StateReady && !s.alive() {
		return ErrSurfaceGone
	}
	return ErrBadTransition
}

// whileAlive runs fn with the state held, skipping it once teardown began.
func (s *Surface) whileAlive(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive() {
		return ErrSurfaceGone
	}
	return fn()
}

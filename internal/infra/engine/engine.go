// Package engine is a headless rendering collaborator: it keeps surfaces,
// tool groups and the shared annotation store in memory and applies the
// installed visibility predicate where a real renderer would draw.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	domain "github.com/bryanwahyu/annoscope/internal/domain/annotations"
)

var (
	ErrUnknownSurface = errors.New("engine: unknown surface")
	ErrDuplicateUID   = errors.New("engine: duplicate annotation uid")
	ErrMissingUID     = errors.New("engine: annotation uid is empty")
)

// Loader fetches pixel data for imageID. It runs without the engine lock
// held, so it may block or be slow.
type Loader func(ctx context.Context, h domain.SurfaceHandle, imageID string) error

type surface struct {
	host    string
	group   string
	current string
	renders int
}

type entry struct {
	a       domain.Annotation
	surface domain.SurfaceHandle
}

// Engine implements domain.Engine and domain.Store. Safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	seq       int
	surfaces  map[domain.SurfaceHandle]*surface
	entries   map[string]*entry
	order     []string
	predicate domain.VisibilityFunc
	installs  int
	loader    Loader
	log       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLoader sets the pixel loader. The default loader returns immediately.
func WithLoader(l Loader) Option {
	return func(e *Engine) { e.loader = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		surfaces: make(map[domain.SurfaceHandle]*surface),
		entries:  make(map[string]*entry),
		loader:   func(context.Context, domain.SurfaceHandle, string) error { return nil },
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) CreateSurface(host string) (domain.SurfaceHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	if host == "" {
		host = "surface"
	}
	h := domain.SurfaceHandle(fmt.Sprintf("%s-%d", host, e.seq))
	e.surfaces[h] = &surface{host: host}
	return h, nil
}

func (e *Engine) DestroySurface(h domain.SurfaceHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.surfaces[h]; !ok {
		return fmt.Errorf("destroy %s: %w", h, ErrUnknownSurface)
	}
	delete(e.surfaces, h)
	e.log.Debug("surface destroyed", "surface", h)
	return nil
}

func (e *Engine) BindToolGroup(h domain.SurfaceHandle, group string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.surfaces[h]
	if !ok {
		return fmt.Errorf("bind %s: %w", h, ErrUnknownSurface)
	}
	s.group = group
	return nil
}

func (e *Engine) GroupOf(h domain.SurfaceHandle) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.surfaces[h]
	if !ok || s.group == "" {
		return "", false
	}
	return s.group, true
}

// LoadImage runs the loader and then makes imageID the surface's current
// image. A surface destroyed during the load yields ErrUnknownSurface.
func (e *Engine) LoadImage(ctx context.Context, h domain.SurfaceHandle, imageID string) error {
	e.mu.Lock()
	_, ok := e.surfaces[h]
	loader := e.loader
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("load %s: %w", h, ErrUnknownSurface)
	}

	if err := loader(ctx, h, imageID); err != nil {
		return fmt.Errorf("load %s on %s: %w", imageID, h, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.surfaces[h]
	if !ok {
		return fmt.Errorf("load %s: %w", h, ErrUnknownSurface)
	}
	s.current = imageID
	return nil
}

func (e *Engine) CurrentImageID(h domain.SurfaceHandle) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.surfaces[h]
	if !ok || s.current == "" {
		return "", false
	}
	return s.current, true
}

func (e *Engine) Render(h domain.SurfaceHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.surfaces[h]
	if !ok {
		return fmt.Errorf("render %s: %w", h, ErrUnknownSurface)
	}
	s.renders++
	return nil
}

func (e *Engine) InstallFilterPredicate(fn domain.VisibilityFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.predicate = fn
	e.installs++
}

// Add stores a copy of a. The annotation is indexed by its UID.
func (e *Engine) Add(a domain.Annotation, h domain.SurfaceHandle) error {
	if a.UID == "" {
		return ErrMissingUID
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[a.UID]; ok {
		return fmt.Errorf("add %s: %w", a.UID, ErrDuplicateUID)
	}
	e.entries[a.UID] = &entry{a: a.Clone(), surface: h}
	e.order = append(e.order, a.UID)
	return nil
}

func (e *Engine) Remove(uid string, _ domain.SurfaceHandle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[uid]; !ok {
		return false
	}
	delete(e.entries, uid)
	for i, id := range e.order {
		if id == uid {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return true
}

// All returns copies of every stored annotation in insertion order.
func (e *Engine) All() []domain.Annotation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Annotation, 0, len(e.order))
	for _, uid := range e.order {
		out = append(out, e.entries[uid].a.Clone())
	}
	return out
}

// Visible returns what would be drawn on h. Without a predicate every
// annotation is drawn, which is the renderer's own default.
func (e *Engine) Visible(h domain.SurfaceHandle) []domain.Annotation {
	e.mu.Lock()
	pred := e.predicate
	e.mu.Unlock()

	all := e.All()
	if pred == nil {
		return all
	}
	out := all[:0]
	for i := range all {
		if pred(&all[i], h) {
			out = append(out, all[i])
		}
	}
	return out
}

// Renders returns how often h was rendered.
func (e *Engine) Renders(h domain.SurfaceHandle) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.surfaces[h]; ok {
		return s.renders
	}
	return 0
}

// Installs returns how often a predicate was installed.
func (e *Engine) Installs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.installs
}

// Surfaces returns the number of live surfaces.
func (e *Engine) Surfaces() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.surfaces)
}

package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/bryanwahyu/annoscope/internal/application"
	"github.com/bryanwahyu/annoscope/internal/application/ownership"
	domain "github.com/bryanwahyu/annoscope/internal/domain/annotations"
	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
)

// Defaults applied while mounting and injecting.
type Defaults struct {
	// Scheme is prefixed to identifiers that carry none, e.g. "wadouri".
	Scheme string
	// BaseURL is the location prefix used to build identifiers from
	// fallback keys.
	BaseURL string
	// ToolName is given to injected annotations without one.
	ToolName string
	// Group is the tool group bound when a request names none.
	Group string
}

// MountRequest describes one surface to bring up.
type MountRequest struct {
	Host    string
	Group   string
	ImageID string
	// Comparison is the disambiguator of a comparison view. Empty means the
	// surface shows ImageID under its own identity.
	Comparison string
	Bundle     *domain.Bundle
	Fallback   *imageid.Keys
}

// Manager drives surfaces through their lifecycle against the engine and
// keeps the shared store clean while doing so.
type Manager struct {
	Engine   domain.Engine
	Store    domain.Store
	Gate     *ownership.Gate
	Defaults Defaults
	Logger   *slog.Logger
	Recorder application.Recorder
	NewUID   func() string

	mu       sync.Mutex
	surfaces map[domain.SurfaceHandle]*Surface
	order    []domain.SurfaceHandle
}

func NewManager(engine domain.Engine, store domain.Store, gate *ownership.Gate, defaults Defaults, logger *slog.Logger, rec application.Recorder) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults.ToolName == "" {
		defaults.ToolName = domain.ToolArrowAnnotate
	}
	return &Manager{
		Engine:   engine,
		Store:    store,
		Gate:     gate,
		Defaults: defaults,
		Logger:   logger,
		Recorder: application.OrNop(rec),
		NewUID:   uuid.NewString,
		surfaces: make(map[domain.SurfaceHandle]*Surface),
	}
}

// Mount creates a surface and loads it. On ErrSurfaceGone the surface was
// torn down while its image was loading and nothing was injected. Any other
// load failure tears the surface down before returning it.
func (m *Manager) Mount(ctx context.Context, req MountRequest) (*Surface, error) {
	s, err := m.Create(req)
	if err != nil {
		return nil, err
	}
	if err := m.Load(ctx, s, req.Bundle); err != nil {
		m.Teardown(s)
		return s, err
	}
	return s, nil
}

// Create installs the visibility gate, creates the engine surface, binds its
// tool group and derives the synthetic identity in comparison mode.
func (m *Manager) Create(req MountRequest) (*Surface, error) {
	m.Gate.Install(m.Engine)

	s := &Surface{Host: req.Host, Group: req.Group, fallback: req.Fallback}
	if s.Group == "" {
		s.Group = m.Defaults.Group
	}
	if err := s.transition(StateMounting, StateUninitialized); err != nil {
		return nil, err
	}

	h, err := m.Engine.CreateSurface(req.Host)
	if err != nil {
		return nil, fmt.Errorf("create surface %q: %w", req.Host, err)
	}
	s.Handle = h

	if s.Group != "" {
		if err := m.Engine.BindToolGroup(h, s.Group); err != nil {
			_ = m.Engine.DestroySurface(h)
			return nil, fmt.Errorf("bind tool group %q: %w", s.Group, err)
		}
	}

	base := imageid.EnsureScheme(req.ImageID, m.Defaults.Scheme)
	target := base
	if req.Comparison != "" && base != "" {
		target, err = domain.DeriveSyntheticID(base, req.Comparison)
		if err != nil {
			_ = m.Engine.DestroySurface(h)
			return nil, err
		}
	}
	s.baseImageID, s.imageID, s.disambiguator = base, target, req.Comparison

	m.mu.Lock()
	m.surfaces[h] = s
	m.order = append(m.order, h)
	m.mu.Unlock()

	m.Logger.Debug("surface created", "surface", h, "group", s.Group, "image_id", target)
	return s, nil
}

// Load loads the surface's image, then injects bundle (if any) and renders.
// A missing image identity only skips injection.
func (m *Manager) Load(ctx context.Context, s *Surface, bundle *domain.Bundle) error {
	target := s.ImageID()
	var loadErr error
	if target != "" {
		loadErr = m.Engine.LoadImage(ctx, s.Handle, target)
	}
	if !s.Alive() {
		m.Logger.Debug("surface gone after image load, skipping inject", "surface", s.Handle)
		return ErrSurfaceGone
	}
	if loadErr != nil {
		return fmt.Errorf("load image: %w", loadErr)
	}

	if bundle != nil {
		if _, err := m.Inject(s, *bundle, nil); err != nil && !errors.Is(err, ErrNoImageIdentity) {
			return err
		}
	} else if err := m.render(s); err != nil {
		return err
	}

	return s.transition(StateReady, StateMounting, StateReady)
}

// Inject clears what the surface already owns and adds a private copy of
// bundle: fresh UIDs, anchored identities, ownership stamped before each
// add. fallback keys are used for annotations that carry no identity and a
// surface without a current image.
func (m *Manager) Inject(s *Surface, bundle domain.Bundle, fallback *imageid.Keys) (int, error) {
	if !s.Alive() {
		return 0, ErrSurfaceGone
	}
	m.Gate.RemoveBySurface(s.Handle)

	work := bundle.Clone()
	if synthetic := s.ImageID(); s.Disambiguator() != "" && synthetic != "" {
		work = domain.RemapBundle(bundle, synthetic)
	}
	if fallback == nil {
		fallback = s.fallback
	}

	injected, unresolved := 0, 0
	for i := range work.Objects {
		a := &work.Objects[i]
		rid := m.resolveIdentity(s, a, fallback)
		if rid == "" {
			unresolved++
			continue
		}
		anchor(a, rid)
		a.UID = m.NewUID()
		if a.ToolName == "" {
			a.ToolName = m.Defaults.ToolName
		}
		ownership.Tag(a, s.Handle, s.Group)

		err := s.whileAlive(func() error { return m.Store.Add(*a, s.Handle) })
		if errors.Is(err, ErrSurfaceGone) {
			return injected, err
		}
		if err != nil {
			m.Logger.Warn("annotation not added", "surface", s.Handle, "error", err)
			continue
		}
		injected++
	}

	var result error
	if unresolved > 0 {
		m.Logger.Warn("annotations without image identity not injected", "surface", s.Handle, "count", unresolved)
		m.Recorder.AnnotationDropped("no_image_id")
		if injected == 0 {
			result = ErrNoImageIdentity
		}
	}
	if err := m.render(s); err != nil {
		return injected, err
	}
	return injected, result
}

func (m *Manager) resolveIdentity(s *Surface, a *domain.Annotation, fallback *imageid.Keys) string {
	rid := a.ImageID()
	if rid == "" {
		if cur, ok := m.Engine.CurrentImageID(s.Handle); ok {
			rid = cur
		}
	}
	if rid == "" && fallback != nil {
		rid = imageid.Build("", m.Defaults.BaseURL, *fallback)
	}
	if rid == "" {
		return ""
	}
	rid = imageid.EnsureScheme(rid, m.Defaults.Scheme)
	if d := s.Disambiguator(); d != "" {
		if synthetic, err := domain.DeriveSyntheticID(rid, d); err == nil {
			rid = synthetic
		}
	}
	return rid
}

// anchor points a at rid and fills both metadata mirrors.
func anchor(a *domain.Annotation, rid string) {
	a.ReferencedImageID = rid
	a.SetMeta(domain.MetaReferencedImageID, rid)
	a.SetMeta(domain.MetaReferencedImageURI, imageid.StripScheme(rid))
}

func (m *Manager) render(s *Surface) error {
	return s.whileAlive(func() error { return m.Engine.Render(s.Handle) })
}

// Surface returns the live surface for h.
func (m *Manager) Surface(h domain.SurfaceHandle) (*Surface, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.surfaces[h]
	return s, ok
}

// Surfaces returns live surfaces in creation order.
func (m *Manager) Surfaces() []*Surface {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Surface, 0, len(m.order))
	for _, h := range m.order {
		out = append(out, m.surfaces[h])
	}
	return out
}

func (m *Manager) forget(h domain.SurfaceHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.surfaces, h)
	for i, x := range m.order {
		if x == h {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

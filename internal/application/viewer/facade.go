package viewer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanwahyu/annoscope/internal/application/persistence"
	domain "github.com/bryanwahyu/annoscope/internal/domain/annotations"
	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
)

// Notifier surfaces user-facing outcomes (dialog, toast, log line).
type Notifier interface {
	Info(msg string)
	Error(msg string, err error)
}

// LogNotifier writes notifications to a slog logger.
type LogNotifier struct{ Logger *slog.Logger }

func (n LogNotifier) Info(msg string) { n.logger().Info(msg) }

func (n LogNotifier) Error(msg string, err error) { n.logger().Error(msg, "error", err) }

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

// Layout of the surface grid.
type Layout struct {
	Rows int
	Cols int
}

// Cells returns Rows*Cols, at least one.
func (l Layout) Cells() int {
	if l.Rows <= 0 || l.Cols <= 0 {
		return 1
	}
	return l.Rows * l.Cols
}

// DefaultLayout is the 2x2 grid.
var DefaultLayout = Layout{Rows: 2, Cols: 2}

// Workspace is the thin façade UI screens call into.
type Workspace struct {
	Manager     *Manager
	Persistence *persistence.Service
	Catalog     domain.StudyCatalog
	Notifier    Notifier
	Layout      Layout
	// Export narrows what SaveAnnotations writes; nil writes everything
	// persistable.
	Export persistence.Predicate

	mu   sync.Mutex
	grid []*Surface
}

// LoadFromStart tears the current grid down and mounts the study's series
// in key order, starting at startSeriesKey (or the first series when it is
// unknown), one series per cell.
func (w *Workspace) LoadFromStart(ctx context.Context, studyKey int64, startSeriesKey string) ([]*Surface, error) {
	study, err := w.Catalog.FetchStudy(ctx, studyKey)
	if err != nil {
		w.notifier().Error("series list failed", err)
		return nil, err
	}
	if len(study.Series) == 0 {
		w.notifier().Info("no series")
		return nil, nil
	}

	sorted := append([]domain.Series(nil), study.Series...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SeriesKey < sorted[j].SeriesKey })

	start := 0
	if key := strings.TrimSpace(startSeriesKey); key != "" {
		start = -1
		for i, s := range sorted {
			if strconv.FormatInt(s.SeriesKey, 10) == key {
				start = i
				break
			}
		}
		if start < 0 {
			w.Manager.Logger.Warn("start series not found, using first", "series", key)
			start = 0
		}
	}
	end := start + w.layout().Cells()
	if end > len(sorted) {
		end = len(sorted)
	}
	pick := sorted[start:end]

	w.resetGrid()

	mounted := make([]*Surface, 0, len(pick))
	keys := make([]string, 0, len(pick))
	for i, series := range pick {
		if len(series.ImageIDs) == 0 {
			continue
		}
		s, err := w.Manager.Mount(ctx, MountRequest{
			Host:    fmt.Sprintf("grid-%d", i),
			ImageID: series.ImageIDs[0],
		})
		if err != nil {
			if s != nil {
				w.Manager.Teardown(s)
			}
			w.notifier().Error("series load failed", err)
			w.setGrid(mounted)
			return mounted, err
		}
		mounted = append(mounted, s)
		keys = append(keys, strconv.FormatInt(series.SeriesKey, 10))
	}
	w.setGrid(mounted)
	w.notifier().Info("loaded series: " + strings.Join(keys, ", "))
	return mounted, nil
}

// SaveAnnotations exports the persistable annotations and saves them. With
// nothing to save, the first grid surface's image is cleared on the server.
func (w *Workspace) SaveAnnotations(ctx context.Context) error {
	list := w.Persistence.ExportForSave(w.Manager.Store, w.Export)

	current := ""
	if grid := w.Grid(); len(grid) > 0 {
		if id, ok := w.Manager.Engine.CurrentImageID(grid[0].Handle); ok {
			current = id
		}
	}

	n, err := w.Persistence.SaveCurrent(ctx, list, current)
	if err != nil {
		w.notifier().Error("save failed", err)
		return err
	}
	w.notifier().Info(fmt.Sprintf("saved %d annotations to %d images", len(list), n))
	return nil
}

// LoadAnnotations fetches the bundle stored for keys and injects it into s.
func (w *Workspace) LoadAnnotations(ctx context.Context, s *Surface, keys imageid.Keys) (int, error) {
	fetched, err := w.Persistence.Fetch(ctx, keys)
	if err != nil {
		w.notifier().Error("load failed", err)
		return 0, err
	}
	if fetched.Empty {
		w.notifier().Info("no annotations")
		return 0, nil
	}
	n, err := w.Manager.Inject(s, fetched.Bundle, &keys)
	if err != nil {
		w.notifier().Error("inject failed", err)
		return n, err
	}
	w.notifier().Info(fmt.Sprintf("loaded %d annotations", n))
	return n, nil
}

// ClearAll removes every annotation owned by a live surface plus anything
// unscoped, then re-renders.
func (w *Workspace) ClearAll() int {
	removed := 0
	for _, s := range w.Manager.Surfaces() {
		removed += w.Manager.Gate.RemoveBySurface(s.Handle)
		removed += w.Manager.Gate.RemoveByGroup(s.Group, s.Handle)
	}
	removed += w.Manager.Gate.PurgeUnscoped()
	for _, s := range w.Manager.Surfaces() {
		_ = w.Manager.render(s)
	}
	w.notifier().Info(fmt.Sprintf("cleared %d annotations", removed))
	return removed
}

// Grid returns the surfaces mounted by the last LoadFromStart.
func (w *Workspace) Grid() []*Surface {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Surface(nil), w.grid...)
}

func (w *Workspace) resetGrid() {
	w.mu.Lock()
	old := w.grid
	w.grid = nil
	w.mu.Unlock()
	for _, s := range old {
		w.Manager.Teardown(s)
	}
}

func (w *Workspace) setGrid(g []*Surface) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.grid = g
}

func (w *Workspace) layout() Layout {
	if w.Layout.Rows == 0 && w.Layout.Cols == 0 {
		return DefaultLayout
	}
	return w.Layout
}

func (w *Workspace) notifier() Notifier {
	if w.Notifier == nil {
		return LogNotifier{Logger: w.Manager.Logger}
	}
	return w.Notifier
}

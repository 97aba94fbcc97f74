package annotations

import (
	"context"

	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
)

// Store port, the process-wide annotation index owned by the renderer.
type Store interface {
	Add(a Annotation, surface SurfaceHandle) error
	Remove(uid string, surface SurfaceHandle) bool
	All() []Annotation
}

// VisibilityFunc is consulted by the renderer before drawing any annotation.
type VisibilityFunc func(a *Annotation, target SurfaceHandle) bool

// PredicateInstaller port
type PredicateInstaller interface {
	InstallFilterPredicate(fn VisibilityFunc)
}

// GroupResolver reports which tool group a surface currently belongs to.
type GroupResolver interface {
	GroupOf(surface SurfaceHandle) (string, bool)
}

// Engine port (rendering/tooling collaborator)
type Engine interface {
	PredicateInstaller
	GroupResolver

	CreateSurface(host string) (SurfaceHandle, error)
	DestroySurface(h SurfaceHandle) error
	BindToolGroup(h SurfaceHandle, group string) error
	LoadImage(ctx context.Context, h SurfaceHandle, imageID string) error
	CurrentImageID(h SurfaceHandle) (string, bool)
	Render(h SurfaceHandle) error
}

// Record is the wire payload written per image.
type Record struct {
	StudyKey    int64  `json:"studyKey"`
	SeriesKey   int64  `json:"seriesKey"`
	ImageKey    int64  `json:"imageKey"`
	FrameNo     int    `json:"frameNo"`
	Annotations string `json:"annotations"`
	CreatedAt   string `json:"createdAt"`
}

// Keys returns the hierarchical address of the record.
func (r Record) Keys() imageid.Keys {
	return imageid.Keys{StudyKey: r.StudyKey, SeriesKey: r.SeriesKey, ImageKey: r.ImageKey, FrameNo: r.FrameNo}
}

// Backend port (persistence API transport)
type Backend interface {
	Save(ctx context.Context, rec Record) error
	// Fetch returns the raw response body; empty means nothing stored.
	Fetch(ctx context.Context, keys imageid.Keys) ([]byte, error)
}

// Series is one entry of a study listing.
type Series struct {
	SeriesKey int64    `json:"seriesKey"`
	ImageIDs  []string `json:"imageIds"`
}

// Study listing returned by the catalog.
type Study struct {
	StudyKey int64    `json:"studyKey"`
	Series   []Series `json:"series"`
}

// StudyCatalog port (image catalog used by the grid loader)
type StudyCatalog interface {
	FetchStudy(ctx context.Context, studyKey int64) (Study, error)
}

package application

// Recorder receives operational signals from the ownership, persistence
// and viewer services. Implementations must be safe for concurrent use.
type Recorder interface {
	// OwnershipViolation is raised for every unscoped annotation observed.
	OwnershipViolation()
	// AnnotationDropped is raised when an annotation or group is skipped
	// (reason: "no_image_id", "unparsable_key").
	AnnotationDropped(reason string)
	// SaveRequest reports the outcome of one per-image request.
	SaveRequest(ok bool)
	// TeardownPass reports how many annotations one cleanup pass removed.
	TeardownPass(pass string, removed int)
}

// NopRecorder discards every signal.
type NopRecorder struct{}

func (NopRecorder) OwnershipViolation()      {}
func (NopRecorder) AnnotationDropped(string) {}
func (NopRecorder) SaveRequest(bool)         {}
func (NopRecorder) TeardownPass(string, int) {}

// OrNop returns r, or NopRecorder when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return NopRecorder{}
	}
	return r
}

package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	apprecords "github.com/bryanwahyu/annoscope/internal/application/records"
	domain "github.com/bryanwahyu/annoscope/internal/domain/records"
	"github.com/bryanwahyu/annoscope/internal/middleware"
)

const maxBodyBytes = 8 << 20

// Options configures the optional middleware around the record routes.
type Options struct {
	Logger      *slog.Logger
	Metrics     *middleware.Metrics
	APIKeys     map[string]string
	CORSOrigins []string
	RateLimiter *middleware.RateLimiter
	// Health serves /health, /ready and /live; a nil Health is created ready.
	Health *middleware.Health
}

type Router struct {
	recordsSvc *apprecords.Service
	metrics    *middleware.Metrics
	logger     *slog.Logger
}

func NewRouter(recordsSvc *apprecords.Service, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{recordsSvc: recordsSvc, metrics: opts.Metrics, logger: logger}
	mux := chi.NewRouter()

	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Logging(logger))
	if opts.Metrics != nil {
		mux.Use(opts.Metrics.Middleware)
	}
	if len(opts.CORSOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	if len(opts.APIKeys) > 0 {
		mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	}
	if opts.RateLimiter != nil {
		mux.Use(middleware.RateLimit(opts.RateLimiter))
	}

	health := opts.Health
	if health == nil {
		health = middleware.NewHealth(nil)
		health.SetReady(true)
	}
	mux.Get("/health", health.Handler)
	mux.Get("/ready", health.Ready)
	mux.Get("/live", health.Live)
	if opts.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	mux.Route("/annotations/studies/{studyKey}", func(rt chi.Router) {
		rt.Get("/summary", r.wrap(r.handleSummary))
		rt.Post("/series/{seriesKey}/images/{imageKey}", r.wrap(r.handleSave))
		rt.Get("/series/{seriesKey}/images/{imageKey}", r.wrap(r.handleLatest))
		rt.Get("/series/{seriesKey}/images/{imageKey}/history", r.wrap(r.handleHistory))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var br badRequest
			switch {
			case errors.As(err, &br), errors.Is(err, domain.ErrInvalidPayload):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, domain.ErrNotFound):
				http.Error(w, "not found", http.StatusNotFound)
			default:
				r.logger.Error("request failed", "path", req.URL.Path, "error", err)
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

// POST /annotations/studies/{studyKey}/series/{seriesKey}/images/{imageKey}
// Body: {"annotations": "<bundle json>", "createdAt": "...", "frameNo": n}
func (r *Router) handleSave(w http.ResponseWriter, req *http.Request) error {
	keys, err := middleware.ValidateKeys(chi.URLParam(req, "studyKey"), chi.URLParam(req, "seriesKey"), chi.URLParam(req, "imageKey"))
	if err != nil {
		return badRequest{err}
	}
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		return badRequest{err}
	}
	if err := middleware.ValidateRecordBody(raw); err != nil {
		return badRequest{err}
	}

	var body struct {
		Annotations string `json:"annotations"`
		CreatedAt   string `json:"createdAt"`
		FrameNo     *int   `json:"frameNo"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return badRequest{err}
	}
	if keys.FrameNo, err = middleware.ValidateFrame(body.FrameNo); err != nil {
		return badRequest{err}
	}

	rec, err := r.recordsSvc.Save(req.Context(), apprecords.SaveCommand{
		Keys:        keys,
		Annotations: body.Annotations,
		CreatedAt:   body.CreatedAt,
	})
	if err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.RecordSaved()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	return json.NewEncoder(w).Encode(rec)
}

// GET .../images/{imageKey}
// Answers a one-element array, or an empty body when nothing was saved.
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	keys, err := middleware.ValidateKeys(chi.URLParam(req, "studyKey"), chi.URLParam(req, "seriesKey"), chi.URLParam(req, "imageKey"))
	if err != nil {
		return badRequest{err}
	}
	rec, err := r.recordsSvc.Latest(req.Context(), keys)
	if errors.Is(err, domain.ErrNotFound) {
		w.WriteHeader(http.StatusOK)
		return nil
	}
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode([]*domain.Record{rec})
}

// GET .../images/{imageKey}/history?limit=
func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) error {
	keys, err := middleware.ValidateKeys(chi.URLParam(req, "studyKey"), chi.URLParam(req, "seriesKey"), chi.URLParam(req, "imageKey"))
	if err != nil {
		return badRequest{err}
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.recordsSvc.History(req.Context(), keys, limit)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.Record{}
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}

// GET /annotations/studies/{studyKey}/summary
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	studyKey, err := strconv.ParseInt(chi.URLParam(req, "studyKey"), 10, 64)
	if err != nil || studyKey < 0 {
		return badRequest{errors.New("invalid studyKey")}
	}
	n, err := r.recordsSvc.CountByStudy(req.Context(), studyKey)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]any{
		"studyKey": studyKey,
		"records":  n,
	})
}

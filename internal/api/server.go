package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sift/internal/insight"
	"github.com/MikeSquared-Agency/sift/internal/predictor"
	"github.com/MikeSquared-Agency/sift/internal/processor"
	"github.com/MikeSquared-Agency/sift/internal/scoring"
	"github.com/MikeSquared-Agency/sift/internal/store"
)

// maxExportBytes caps the body of a scoring request.
const maxExportBytes = 32 << 20

// Runner scores exports on request. *processor.Processor satisfies it.
type Runner interface {
	Process(ctx context.Context, exportID, source string, r io.Reader) (*processor.Outcome, error)
	Stats() processor.Stats
}

// RunReader reads stored runs. *store.Store satisfies it.
type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (*store.Run, error)
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
	GetCorpus(ctx context.Context, runID uuid.UUID, sentiment predictor.Sentiment) ([]scoring.ScoredMessage, error)
}

type Server struct {
	router *chi.Mux
	port   int
	runner Runner
	runs   RunReader
	logger *slog.Logger
	http   *http.Server
}

// NewServer builds the API. runs may be nil when persistence is disabled, in
// which case the run history routes are not mounted.
func NewServer(port int, apiToken string, runner Runner, runs RunReader, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		runner: runner,
		runs:   runs,
		logger: logger,
	}

	router.Get("/health", s.health)

	router.Route("/api/v1/sift", func(r chi.Router) {
		r.Get("/status", s.status)

		r.Group(func(r chi.Router) {
			r.Use(BearerAuthMiddleware(apiToken))
			r.Post("/score", s.score)
			if runs != nil {
				r.Get("/runs", s.listRuns)
				r.Get("/runs/{id}", s.getRun)
				r.Get("/runs/{id}/corpus", s.getCorpus)
			}
		})
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":  "sift",
		"status": "ok",
		"runs":   s.runner.Stats(),
	})
}

// ScoreResponse is the body returned by POST /api/v1/sift/score.
type ScoreResponse struct {
	RunID    uuid.UUID               `json:"run_id"`
	Load     processor.LoadSummary   `json:"load"`
	Threads  int                     `json:"threads"`
	Messages int                     `json:"messages"`
	Kept     int                     `json:"kept"`
	Dropped  int                     `json:"dropped"`
	Failed   int                     `json:"failed"`
	Corpus   []scoring.ScoredMessage `json:"corpus"`
	Insights *insight.Report         `json:"insights,omitempty"`
}

// score handles POST /api/v1/sift/score. The body is an export: a JSON array
// of raw records.
func (s *Server) score(w http.ResponseWriter, r *http.Request) {
	exportID := r.URL.Query().Get("export_id")
	if exportID == "" {
		exportID = "api-" + uuid.NewString()
	}
	source := r.URL.Query().Get("source")

	body := http.MaxBytesReader(w, r.Body, maxExportBytes)
	out, err := s.runner.Process(r.Context(), exportID, source, body)
	if err != nil {
		var mbe *http.MaxBytesError
		switch {
		case errors.As(err, &mbe):
			writeError(w, http.StatusRequestEntityTooLarge, "export too large")
		case errors.Is(err, context.Canceled):
			writeError(w, http.StatusServiceUnavailable, "scoring cancelled")
		default:
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}

	res := out.Result
	writeJSON(w, http.StatusOK, ScoreResponse{
		RunID:    out.RunID,
		Load:     out.Load,
		Threads:  res.Threads,
		Messages: res.Messages,
		Kept:     res.Kept,
		Dropped:  res.Dropped,
		Failed:   res.Failed,
		Corpus:   res.Corpus,
		Insights: out.Insights,
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}
	run, err := s.runs.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run failed", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get run failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) getCorpus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}

	sentiment := predictor.Sentiment(r.URL.Query().Get("sentiment"))
	switch sentiment {
	case "", predictor.Negative, predictor.Neutral, predictor.Positive:
	default:
		writeError(w, http.StatusBadRequest, "invalid sentiment")
		return
	}

	if _, err := s.runs.GetRun(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	corpus, err := s.runs.GetCorpus(r.Context(), id, sentiment)
	if err != nil {
		s.logger.Error("get corpus failed", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get corpus failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": id, "corpus": corpus, "count": len(corpus)})
}

func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package server exposes the pipeline over HTTP: the intake endpoint, the
// stage action dispatcher, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/imkarma/hivegate/internal/config"
	"github.com/imkarma/hivegate/internal/guardrail"
	"github.com/imkarma/hivegate/internal/intake"
	"github.com/imkarma/hivegate/internal/logging"
	"github.com/imkarma/hivegate/internal/metrics"
	"github.com/imkarma/hivegate/internal/worker"
)

const maxBodyBytes = 1 << 20

// Action names accepted by the dispatcher.
const (
	ActionGuardrail = "guardrail"
	ActionWorker    = "worker"
)

// ErrUnknownAction is returned for actions the dispatcher does not know.
var ErrUnknownAction = errors.New("unknown action")

// Server wires the pipeline stages to HTTP handlers.
type Server struct {
	Intake    *intake.Service
	Guardrail *guardrail.Filter
	Worker    *worker.Executor
	Metrics   *metrics.Metrics

	// Health reports whether the task store is reachable.
	Health func(ctx context.Context) error

	RequestTimeout time.Duration
	Log            zerolog.Logger
}

// ActionRequest is the body of POST /api/actions.
type ActionRequest struct {
	Action   string `json:"action"`
	Max      int    `json:"max,omitempty"`
	Assignee string `json:"assignee,omitempty"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type intakeResponse struct {
	OK bool `json:"ok"`
	*intake.Result
}

type guardrailResponse struct {
	OK bool `json:"ok"`
	*guardrail.Result
}

type workerTask struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Assignee           string `json:"assignee"`
	ArtifactPath       string `json:"artifact_path"`
	VerificationTaskID string `json:"verification_task_id,omitempty"`
}

type workerResponse struct {
	OK        bool        `json:"ok"`
	Processed int         `json:"processed"`
	Task      *workerTask `json:"task,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/intake", s.handleIntake)
	mux.HandleFunc("POST /api/actions", s.handleAction)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.Metrics.Handler())
	return mux
}

// context bounds the request by RequestTimeout and attaches a request logger.
func (s *Server) context(r *http.Request) (context.Context, context.CancelFunc) {
	log := s.Log.With().Str("method", r.Method).Str("path", r.URL.Path).Logger()
	ctx := logging.WithContext(r.Context(), log)
	if s.RequestTimeout > 0 {
		return context.WithTimeout(ctx, s.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Server) handleIntake(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()

	if s.Intake == nil {
		writeError(ctx, w, fmt.Errorf("%w: intake is not configured", config.ErrConfiguration))
		return
	}
	var req intake.Request
	if err := decode(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	start := time.Now()
	res, err := s.Intake.Submit(ctx, req)
	s.Metrics.ObserveStage("intake", start)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, intakeResponse{OK: true, Result: res})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()

	var req ActionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	log := logging.FromContext(ctx)
	log.Debug().Str("action", req.Action).Msg("dispatching action")

	switch req.Action {
	case ActionGuardrail:
		s.runGuardrail(ctx, w, req)
	case ActionWorker:
		s.runWorker(ctx, w, req)
	default:
		writeError(ctx, w, fmt.Errorf("%w %q", ErrUnknownAction, req.Action))
	}
}

func (s *Server) runGuardrail(ctx context.Context, w http.ResponseWriter, req ActionRequest) {
	if s.Guardrail == nil {
		writeError(ctx, w, fmt.Errorf("%w: guardrail is not configured", config.ErrConfiguration))
		return
	}
	start := time.Now()
	res, err := s.Guardrail.Run(ctx, req.Max)
	s.Metrics.ObserveStage("guardrail", start)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, guardrailResponse{OK: true, Result: res})
}

func (s *Server) runWorker(ctx context.Context, w http.ResponseWriter, req ActionRequest) {
	if s.Worker == nil {
		writeError(ctx, w, fmt.Errorf("%w: worker is not configured", config.ErrConfiguration))
		return
	}
	start := time.Now()
	res, err := s.Worker.Run(ctx, worker.Request{Assignee: req.Assignee, Max: req.Max})
	s.Metrics.ObserveStage("worker", start)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	out := workerResponse{OK: true, Processed: res.Processed, Reason: res.Reason}
	if res.Processed > 0 {
		out.Task = &workerTask{
			ID:                 res.TaskID,
			Title:              res.Title,
			Assignee:           res.Assignee,
			ArtifactPath:       res.ArtifactPath,
			VerificationTaskID: res.VerificationTaskID,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Health != nil {
		ctx, cancel := s.context(r)
		defer cancel()
		if err := s.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest{fmt.Errorf("invalid JSON body: %w", err)}
	}
	return nil
}

// status maps pipeline errors onto HTTP status codes.
func status(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br),
		errors.Is(err, intake.ErrInvalidInput),
		errors.Is(err, ErrUnknownAction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := status(err)
	if code >= http.StatusInternalServerError {
		log := logging.FromContext(ctx)
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, errorResponse{OK: false, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Package handler serves the operator REST API over opportunities.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/execution"
	"github.com/ramiqadoumi/engageflow/internal/store"
	"github.com/ramiqadoumi/engageflow/pkg/telemetry"
	"github.com/ramiqadoumi/engageflow/services/api/middleware"
	"github.com/ramiqadoumi/engageflow/services/intake"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Engine is the set of lifecycle operations the API exposes. *execution.Engine satisfies it.
type Engine interface {
	Schedule(ctx context.Context, id, ownerID string) (*domain.Opportunity, error)
	Execute(ctx context.Context, id, ownerID string, overrideApproval bool) (execution.Result, error)
	Retry(ctx context.Context, id, ownerID string) (*domain.Opportunity, error)
	Approve(ctx context.Context, id, ownerID, text string) (execution.Result, error)
	Cancel(ctx context.Context, id, ownerID, reason string) (*domain.Opportunity, error)
	RecordFeedback(ctx context.Context, id, ownerID string, fb domain.Feedback) (*domain.Opportunity, error)
}

// Ingester accepts new candidates. *intake.Service satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, c intake.Candidate) (intake.Outcome, error)
}

// REST handles HTTP requests for the operator API. Every handler acts as the
// owner Authenticate put in the request context.
type REST struct {
	store    store.Store
	engine   Engine
	ingester Ingester
	ready    telemetry.ReadyFunc
	logger   *slog.Logger
}

// NewREST creates a new REST handler. ready may be nil.
func NewREST(st store.Store, engine Engine, ingester Ingester, ready telemetry.ReadyFunc, logger *slog.Logger) *REST {
	return &REST{store: st, engine: engine, ingester: ingester, ready: ready, logger: logger}
}

// Routes mounts the opportunity endpoints on r.
func (h *REST) Routes(r chi.Router) {
	r.Route("/opportunities", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/schedule", h.Schedule)
			r.Post("/execute", h.Execute)
			r.Post("/retry", h.Retry)
			r.Post("/approve", h.Approve)
			r.Post("/cancel", h.Cancel)
			r.Post("/feedback", h.Feedback)
		})
	})
}

// ExecuteRequest is the optional body of POST /opportunities/{id}/execute.
type ExecuteRequest struct {
	OverrideApproval bool `json:"override_approval"`
}

// ApproveRequest is the body of POST /opportunities/{id}/approve. An empty
// text approves the suggested text as-is.
type ApproveRequest struct {
	Text string `json:"text"`
}

// CancelRequest is the optional body of POST /opportunities/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// FeedbackRequest is the body of POST /opportunities/{id}/feedback.
type FeedbackRequest struct {
	Feedback string `json:"feedback"`
}

// ResultResponse is returned by execute and approve.
type ResultResponse struct {
	OpportunityID string     `json:"opportunity_id"`
	Outcome       string     `json:"outcome"`
	Status        string     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	ActionID      string     `json:"action_id,omitempty"`
	Text          string     `json:"text,omitempty"`
	Confidence    float64    `json:"confidence,omitempty"`
	Attempts      int        `json:"attempts"`
	RetryAt       *time.Time `json:"retry_at,omitempty"`
}

// CreateResponse is returned by POST /opportunities.
type CreateResponse struct {
	Result      string              `json:"result"`
	Reason      string              `json:"reason,omitempty"`
	Opportunity *domain.Opportunity `json:"opportunity,omitempty"`
}

// ListResponse is returned by GET /opportunities.
type ListResponse struct {
	Opportunities []*domain.Opportunity `json:"opportunities"`
	Total         int                   `json:"total"`
}

// List handles GET /opportunities?status=&action_type=&limit=.
func (h *REST) List(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.OwnerID(r.Context())
	q := r.URL.Query()
	f := store.Filter{OwnerID: ownerID, OrderBy: store.OrderCreatedDesc, Limit: defaultListLimit}

	for _, raw := range q["status"] {
		s, err := domain.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Statuses = append(f.Statuses, s)
	}
	if raw := q.Get("action_type"); raw != "" {
		at, err := domain.ParseActionType(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.ActionType = at
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = min(n, maxListLimit)
	}

	list, err := h.store.Find(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	count := f
	count.Limit = 0
	total, err := h.store.Count(r.Context(), count)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Opportunities: list, Total: total})
}

// Get handles GET /opportunities/{id}.
func (h *REST) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	o, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ownerID := middleware.OwnerID(r.Context()); o.OwnerID != ownerID {
		h.fail(w, r, &domain.AccessDeniedError{OpportunityID: id, OwnerID: ownerID})
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Create handles POST /opportunities. The candidate is ingested for the
// authenticated owner regardless of any owner_id in the body.
func (h *REST) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer().Start(r.Context(), "api.create_opportunity")
	defer span.End()

	var c intake.Candidate
	if !decode(w, r, &c, true) {
		return
	}
	c.OwnerID = middleware.OwnerID(ctx)
	span.SetAttributes(
		attribute.String("owner.id", c.OwnerID),
		attribute.String("target.external_id", c.Target.ExternalID),
	)

	out, err := h.ingester.Ingest(ctx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")
		h.fail(w, r, err)
		return
	}
	code := http.StatusOK
	if out.Opportunity != nil {
		code = http.StatusCreated
	}
	writeJSON(w, code, CreateResponse{Result: string(out.Result), Reason: out.Reason, Opportunity: out.Opportunity})
}

// Schedule handles POST /opportunities/{id}/schedule.
func (h *REST) Schedule(w http.ResponseWriter, r *http.Request) {
	o, err := h.engine.Schedule(r.Context(), chi.URLParam(r, "id"), middleware.OwnerID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Execute handles POST /opportunities/{id}/execute.
func (h *REST) Execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !decode(w, r, &req, false) {
		return
	}
	res, err := h.engine.Execute(r.Context(), chi.URLParam(r, "id"), middleware.OwnerID(r.Context()), req.OverrideApproval)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultResponse(res))
}

// Retry handles POST /opportunities/{id}/retry.
func (h *REST) Retry(w http.ResponseWriter, r *http.Request) {
	o, err := h.engine.Retry(r.Context(), chi.URLParam(r, "id"), middleware.OwnerID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Approve handles POST /opportunities/{id}/approve.
func (h *REST) Approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !decode(w, r, &req, false) {
		return
	}
	res, err := h.engine.Approve(r.Context(), chi.URLParam(r, "id"), middleware.OwnerID(r.Context()), req.Text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultResponse(res))
}

// Cancel handles POST /opportunities/{id}/cancel.
func (h *REST) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !decode(w, r, &req, false) {
		return
	}
	o, err := h.engine.Cancel(r.Context(), chi.URLParam(r, "id"), middleware.OwnerID(r.Context()), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Feedback handles POST /opportunities/{id}/feedback.
func (h *REST) Feedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if !decode(w, r, &req, true) {
		return
	}
	fb, err := domain.ParseFeedback(req.Feedback)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.engine.RecordFeedback(r.Context(), chi.URLParam(r, "id"), middleware.OwnerID(r.Context()), fb)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.logger.Warn("not ready", slog.String("error", err.Error()))
			writeError(w, http.StatusServiceUnavailable, "dependencies not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// fail maps a domain error to its status code. Unexpected errors are logged
// and reported as 500 without detail.
func (h *REST) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("owner_id", middleware.OwnerID(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

// StatusFor returns the HTTP status code for err.
func StatusFor(err error) int {
	var (
		notFound   *domain.NotFoundError
		denied     *domain.AccessDeniedError
		expired    *domain.ExpiredOpportunityError
		transition *domain.InvalidTransitionError
		processed  *domain.AlreadyProcessedError
		exhausted  *domain.RetryExhaustedError
		duplicate  *domain.DuplicateCompletionError
		generation *domain.GenerationError
		invalid    *intake.InvalidCandidateError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &denied):
		return http.StatusForbidden
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &expired):
		return http.StatusGone
	case errors.As(err, &transition), errors.As(err, &processed), errors.As(err, &exhausted),
		errors.As(err, &duplicate), store.IsConflict(err):
		return http.StatusConflict
	case errors.As(err, &generation):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func toResultResponse(res execution.Result) ResultResponse {
	return ResultResponse{
		OpportunityID: res.OpportunityID,
		Outcome:       string(res.Outcome),
		Status:        string(res.Status),
		Reason:        res.Reason,
		ActionID:      res.ActionID,
		Text:          res.Text,
		Confidence:    res.Confidence,
		Attempts:      res.Attempts,
		RetryAt:       res.RetryAt,
	}
}

// decode reads a JSON body into dst. An empty body is accepted unless required.
func decode(w http.ResponseWriter, r *http.Request, dst any, required bool) bool {
	if r.ContentLength == 0 && !required {
		return true
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && !required {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

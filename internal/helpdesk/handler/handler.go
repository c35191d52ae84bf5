// Package handler exposes the assignment orchestrator over HTTP. It is
// thin glue: parse, validate, call the service, map coded errors to status
// codes.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"troubledesk/internal/helpdesk/models"
	"troubledesk/internal/helpdesk/service"
	"troubledesk/pkg/fault"
)

// Handler holds the transport dependencies.
type Handler struct {
	svc      *service.Service
	validate *validator.Validate
	logger   *slog.Logger
}

// New builds a Handler. A nil logger silences error logging.
func New(svc *service.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Register mounts all routes on the router. Callers wrap the router with
// the Auth middleware.
func (h *Handler) Register(r chi.Router) {
	r.Route("/issues", func(r chi.Router) {
		r.Post("/", h.handleSubmit)
		r.Get("/", h.handleListMine)
		r.Route("/{issueID}", func(r chi.Router) {
			r.Delete("/", h.handleDelete)
			r.Post("/accept", h.handleAccept)
			r.Post("/resolution", h.handleResolution)
			r.Post("/done", h.handleMarkDone)
			r.Post("/reject", h.handleReject)
			r.Post("/escalate", h.handleEscalate)
			r.Post("/rating", h.handleRating)
		})
	})
	r.Get("/assignments", h.handleListAssignments)
	r.Put("/experts/availability", h.handleAvailability)
	r.Put("/experts/{expertID}/verified", h.handleVerify)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, fault.New(fault.CodeForbidden, "not authenticated"))
		return
	}
	var req submitIssueRequest
	if !h.decode(w, r, &req) {
		return
	}

	issue, err := h.svc.Submit(r.Context(), caller, service.SubmitInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Urgency:     req.Urgency,
		Region:      req.Region,
	})
	if err != nil {
		h.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, issue)
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, fault.New(fault.CodeForbidden, "not authenticated"))
		return
	}
	issues, err := h.svc.ListIssuesBySubmitter(r.Context(), caller)
	if err != nil {
		h.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issueList(issues))
}

func (h *Handler) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, fault.New(fault.CodeForbidden, "not authenticated"))
		return
	}
	issues, err := h.svc.ListAssignments(r.Context(), caller)
	if err != nil {
		h.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issueList(issues))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, fault.New(fault.CodeForbidden, "not authenticated"))
		return
	}
	if err := h.svc.Delete(r.Context(), caller, chi.URLParam(r, "issueID")); err != nil {
		h.error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Accept)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Reject)
}

func (h *Handler) handleEscalate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Escalate)
}

// transition runs the issue-id-only operations that return the updated
// issue.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, caller models.Identity, issueID string) (*models.Issue, error)) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, fault.New(fault.CodeForbidden, "not authenticated"))
		return
	}
	issue, err := op(r.Context(), caller, chi.URLParam(r, "issueID"))
	if err != nil {
		h.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (h *Handler) handleResolution(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, fault.New(fault.CodeForbidden, "not authenticated"))
		return
	}
	var req resolutionRequest
	if !h.decode(w, r, &req) {
		return
	}
	issue, err := h.svc.SubmitResolution(r.Context(), caller, chi.URLParam(r, "issueID"), req.ResolutionNotes)
	if err != nil {
		h.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (h *Handler) handleMarkDone(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, fault.New(fault.CodeForbidden, "not authenticated"))
		return
	}
	issue, closed, err := h.svc.MarkDone(r.Context(), caller, chi.URLParam(r, "issueID"))
	if err != nil {
		h.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"issue":  issue,
		"closed": closed,
	})
}

func (h *Handler) handleRating(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, fault.New(fault.CodeForbidden, "not authenticated"))
		return
	}
	var req ratingRequest
	if !h.decode(w, r, &req) {
		return
	}
	rating, err := h.svc.RateExpert(r.Context(), caller, chi.URLParam(r, "issueID"), req.Rating, req.Comment)
	if err != nil {
		h.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rating)
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, fault.New(fault.CodeForbidden, "not authenticated"))
		return
	}
	var req availabilityRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.SetAvailability(r.Context(), caller, *req.Available); err != nil {
		h.error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, fault.New(fault.CodeForbidden, "not authenticated"))
		return
	}
	var req verifyExpertRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.VerifyExpert(r.Context(), caller, chi.URLParam(r, "expertID"), req.Notes); err != nil {
		h.error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode parses and validates a JSON body, writing the error response
// itself when parsing fails.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, fault.Wrap(err, fault.CodeValidation, "invalid JSON body"))
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, fault.Wrap(err, fault.CodeValidation, "invalid request"))
		return false
	}
	return true
}

// issueList never serializes as null.
func issueList(issues []models.Issue) []models.Issue {
	if issues == nil {
		return []models.Issue{}
	}
	return issues
}

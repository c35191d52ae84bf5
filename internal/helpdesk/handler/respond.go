package handler

import (
	"encoding/json"
	"net/http"

	"troubledesk/pkg/fault"
)

// errorBody is the JSON error shape. Internal details never leak: 5xx
// responses carry the code only.
type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"description,omitempty"`
}

var statusByCode = map[fault.Code]int{
	fault.CodeNotFound:           http.StatusNotFound,
	fault.CodeForbidden:          http.StatusForbidden,
	fault.CodeValidation:         http.StatusBadRequest,
	fault.CodeConflict:           http.StatusConflict,
	fault.CodeInternal:           http.StatusInternalServerError,
	fault.CodeInvariantViolation: http.StatusInternalServerError,
}

func writeError(w http.ResponseWriter, err error) {
	code := fault.GetCode(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := errorBody{Error: string(code)}
	if status < http.StatusInternalServerError {
		body.Description = err.Error()
	}
	writeJSON(w, status, body)
}

// error writes the response for a failed service call, logging anything
// that maps to a 5xx since those details never reach the client.
func (h *Handler) error(w http.ResponseWriter, r *http.Request, err error) {
	switch fault.GetCode(err) {
	case fault.CodeInternal, fault.CodeInvariantViolation:
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

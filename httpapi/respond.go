package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integration-broker/core"
)

// ErrorBody is the error envelope of every non-2xx response.
type ErrorBody struct {
	Code       string                `json:"code"`
	Message    string                `json:"message"`
	Status     int                   `json:"status"`
	RequestID  string                `json:"requestId,omitempty"`
	Details    map[string]any        `json:"details,omitempty"`
	Validation []goerrors.FieldError `json:"validation,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	mapped := core.MapError(err)
	status := mapped.Code
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}
	body := ErrorBody{
		Code:       mapped.TextCode,
		Message:    mapped.Message,
		Status:     status,
		RequestID:  middleware.GetReqID(r.Context()),
		Details:    mapped.Metadata,
		Validation: mapped.ValidationErrors,
	}
	if status >= http.StatusInternalServerError {
		s.cfg.Observer.Error(r.Context(), "httpapi: request failed", map[string]any{
			"path":  r.URL.Path,
			"code":  mapped.TextCode,
			"error": err.Error(),
		})
		if mapped.Category == goerrors.CategoryInternal {
			body.Message = "internal error"
			body.Details = nil
		}
	}
	writeJSON(w, status, ErrorResponse{Error: body})
}

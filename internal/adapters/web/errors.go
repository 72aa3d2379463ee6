package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"invoicing-service/internal/app"
	"invoicing-service/internal/core"

	"go.uber.org/zap"
)

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
	// Posting carries the stock side of a posted invoice next to it.
	Posting *app.PostingDetails `json:"posting,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeSuccess wraps data in the success envelope.
func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, successResponse{Success: true, Message: message, Data: data})
}

// writeServiceError maps an error from the application layer onto the error envelope.
// Wrapped causes are logged, never sent to the client.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.KindOf(err)
	switch {
	case errors.Is(err, core.ErrInvoiceNotFound), errors.Is(err, core.ErrProductNotFound):
		writeError(w, r, core.Message(err), "NOT_FOUND", http.StatusNotFound)
	case kind == core.KindUnauthorized:
		writeError(w, r, core.Message(err), string(kind), http.StatusUnauthorized)
	case kind == core.KindValidation, kind == core.KindNumeric:
		writeError(w, r, core.Message(err), string(kind), http.StatusUnprocessableEntity)
	default:
		h.logger.Error("request failed",
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		message := "internal server error"
		var ce *core.Error
		if errors.As(err, &ce) {
			message = ce.Message
		}
		writeError(w, r, message, string(core.KindPersistence), http.StatusInternalServerError)
	}
}

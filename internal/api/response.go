package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opsforge/wpc/internal/core"
)

// ErrorResponse is the WPC error envelope.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a WPC error response.
func WriteError(w http.ResponseWriter, err *core.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code.HTTPStatus())
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    string(err.Code),
		Message: err.Message,
	})
}

// WriteAnyError maps an arbitrary error onto the envelope. Typed
// errors keep their code and message byte-identical for every caller;
// anything else becomes WPC_INTERNAL.
func WriteAnyError(w http.ResponseWriter, err error) {
	var appErr *core.AppError
	if errors.As(err, &appErr) {
		WriteError(w, appErr)
		return
	}
	WriteError(w, core.NewAppError(core.ErrInternal, "internal error"))
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

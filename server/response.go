package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/junctive/contexd/errors"
	"github.com/junctive/contexd/logger"
)

// apiError is the wire shape of all error responses.
type apiError struct {
	Error       string `json:"error"`
	Description string `json:"description"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorw("Failed to encode response", "error", err)
	}
}

// writeRaw writes pre-rendered JSON.
func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// writeError maps a domain error onto the HTTP error taxonomy.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsAlreadyExists(err):
		writeJSON(w, http.StatusUnprocessableEntity, apiError{
			Error:       "Unprocessable",
			Description: err.Error(),
		})
	case errors.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, apiError{
			Error:       "NotFound",
			Description: err.Error(),
		})
	case errors.IsBadRequest(err):
		writeJSON(w, http.StatusBadRequest, apiError{
			Error:       "BadRequest",
			Description: err.Error(),
		})
	default:
		logger.Errorw("Internal error", "error", err)
		writeJSON(w, http.StatusInternalServerError, apiError{
			Error:       "InternalServerError",
			Description: "an unexpected error occurred",
		})
	}
}

// readBody reads and returns the request body, rejecting empty bodies.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, apiError{
			Error:       "BadRequest",
			Description: "request body is required",
		})
		return nil, false
	}
	return body, true
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/shramba/internal/csvimport"
	"github.com/erazemk/shramba/internal/inventory"
	"github.com/erazemk/shramba/internal/logging"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// errorStatus maps controller errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, inventory.ErrEmptyInput),
		errors.Is(err, inventory.ErrNoValidRecords),
		errors.Is(err, inventory.ErrInvalidDate),
		errors.Is(err, inventory.ErrUnknownFilter),
		errors.Is(err, inventory.ErrUnknownSortColumn),
		errors.Is(err, csvimport.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, inventory.ErrNotSignedIn):
		return http.StatusUnauthorized
	case errors.Is(err, inventory.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrConfirmationDeclined):
		return http.StatusConflict
	case errors.Is(err, inventory.ErrRemoteWriteFailed):
		return http.StatusBadGateway
	case errors.Is(err, inventory.ErrRemoteUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// inventoryError writes err with its mapped status. Unexpected errors are
// logged and reported without detail.
func inventoryError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("inventory request failed", "error", err)
		jsonError(w, status, "internal error")
		return
	}
	jsonError(w, status, err.Error())
}

// Package httputil holds the JSON response helpers shared by the debug
// routes.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/banshee-data/serialdebug/internal/fault"
	"github.com/banshee-data/serialdebug/internal/monitoring"
)

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("failed to encode json response: %v", err)
	}
}

// WriteJSONOK writes a successful JSON response (200 OK).
func WriteJSONOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// StatusFor maps an error to the HTTP status its fault kind implies.
func StatusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.UnknownResource:
		return http.StatusNotFound
	case fault.Config, fault.Serialization:
		return http.StatusBadRequest
	case fault.IO:
		return http.StatusBadGateway
	case fault.Delivery:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as {"kind": ..., "message": ...}. Errors without a
// fault in their chain are reported with kind "internal".
func WriteError(w http.ResponseWriter, err error) {
	var fe *fault.Error
	if errors.As(err, &fe) {
		WriteJSON(w, StatusFor(err), fe)
		return
	}
	WriteJSON(w, http.StatusInternalServerError, map[string]string{"kind": "internal", "message": err.Error()})
}

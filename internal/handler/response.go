package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

var (
	errContentType = errors.New("Content-Type must be application/json")
	errBadBody     = errors.New("request body must be a single valid JSON object matching the documented schema")
)

// WriteJSON encodes data as the JSON response body with the given status
// code. Decimal fields marshal as quoted strings, so clients never round
// prices or quantities through binary floats.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already on the wire; an encode failure here can
	// only mean a dropped connection.
	_ = json.NewEncoder(w).Encode(data)
}

// errorResponse is the uniform error envelope: a machine-readable
// snake_case reason code plus a human-readable message.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes the error envelope with the given status code.
func WriteError(w http.ResponseWriter, status int, reason, message string) {
	WriteJSON(w, status, errorResponse{
		Error:   reason,
		Message: message,
	})
}

// ParseJSON decodes the request body into v. It requires an
// application/json Content-Type, rejects unknown fields, and rejects
// trailing data after the JSON value.
func ParseJSON(r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		return errContentType
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errBadBody
	}
	if dec.More() {
		return errBadBody
	}
	return nil
}

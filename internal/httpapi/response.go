package httpapi

import (
	"encoding/json"
	"net/http"
)

type errorEnvelope struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: message, Details: details})
}

package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError renders the same envelope the handlers use.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   map[string]string{"message": message},
	})
}

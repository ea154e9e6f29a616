package middleware

import (
	"encoding/json"
	"net/http"

	"nexsync-auth/internal/model"
)

func writeJSONError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Code:    code,
		Message: message,
	})
}

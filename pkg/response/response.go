// Package response writes JSON bodies in the shape the canvas client expects.
package response

import (
	"encoding/json"
	"net/http"

	"canvasboard/pkg/logger"
)

// ErrorBody is the error envelope; the client reads "detail".
type ErrorBody struct {
	Detail string `json:"detail"`
}

func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Errorf("Failed to encode response: %v", err)
	}
}

func Error(w http.ResponseWriter, status int, detail string) {
	JSON(w, status, ErrorBody{Detail: detail})
}

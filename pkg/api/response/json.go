// Package response writes the API's JSON success and error payloads.
package response

import (
	"encoding/json"
	"net/http"
)

// JSON writes data as a JSON body with the given status code. A nil data
// value writes only the status.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; nothing left to salvage here.
			http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		}
	}
}

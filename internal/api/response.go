// Package api serves rule parsing and evaluation over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/RuleNotify/internal/models"
)

// cannedErrors holds the fixed error bodies, marshaled once at startup. The 500 entry
// is also written when a response fails to encode.
var cannedErrors = map[int][]byte{}

func init() {
	for status, message := range map[int]string{
		http.StatusInternalServerError: "Internal server error",
		http.StatusNotFound:            "Not found",
		http.StatusMethodNotAllowed:    "Method not allowed",
	} {
		body, err := json.Marshal(models.Error(message))
		if err != nil {
			panic(fmt.Sprintf("Failed to marshal %d response at startup: %v", status, err))
		}
		cannedErrors[status] = body
	}
}

// writeJSONResponse marshals response and writes it with statusCode. An encoding
// failure becomes the canned 500 body.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	body, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		body, statusCode = cannedErrors[http.StatusInternalServerError], http.StatusInternalServerError
	}
	writeBody(w, statusCode, body)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSONResponse(w, statusCode, models.Error(message))
}

// writeCanned writes the pre-marshaled error body for statusCode.
func writeCanned(w http.ResponseWriter, statusCode int) {
	body, ok := cannedErrors[statusCode]
	if !ok {
		body, statusCode = cannedErrors[http.StatusInternalServerError], http.StatusInternalServerError
	}
	writeBody(w, statusCode, body)
}

func writeBody(w http.ResponseWriter, statusCode int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server.writeBody: failed to write response", "status", statusCode, "error", err)
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"ai-trade-finder/database"
	"ai-trade-finder/helpers"
)

// correlationHeader lets a caller supply the correlation id of its request
const correlationHeader = "X-Correlation-ID"

// getIntParam retrieves an integer query parameter with default value and optional range validation
func getIntParam(r *http.Request, key string, defaultVal int, minVal, maxVal *int) int {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}

	if minVal != nil && val < *minVal {
		return defaultVal
	}
	if maxVal != nil && val > *maxVal {
		return defaultVal
	}

	return val
}

func intPtr(v int) *int { return &v }

// requestContext attaches the caller's correlation id, or a new one, to the request context
func requestContext(r *http.Request) context.Context {
	if id := r.Header.Get(correlationHeader); id != "" {
		return helpers.WithCorrelationID(r.Context(), id)
	}
	ctx, _ := helpers.EnsureCorrelationID(r.Context())
	return ctx
}

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API Error: failed to encode response: %v", err)
	}
}

// respondWithError logs the error and sends a JSON error response
// Use this to avoid exposing internal errors while still logging them
func respondWithError(w http.ResponseWriter, code int, message string, err error) {
	if err != nil {
		log.Printf("API Error [%d]: %s - %v", code, message, err)
	} else {
		log.Printf("API Error [%d]: %s", code, message)
	}
	writeJSON(w, code, map[string]string{"status": "error", "message": message})
}

// respondWithStoreError maps store errors to HTTP status codes
func respondWithStoreError(w http.ResponseWriter, err error) {
	switch {
	case database.IsNotFound(err):
		respondWithError(w, http.StatusNotFound, err.Error(), nil)
	case database.IsValidation(err):
		respondWithError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, database.ErrVersionConflict):
		respondWithError(w, http.StatusConflict, "trade was modified concurrently, retry", err)
	default:
		respondWithError(w, http.StatusInternalServerError, "internal error", err)
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"ai-trade-finder/database/types"
)

// sourceHealthTTL is how long a data source health probe is cached
const sourceHealthTTL = 30 * time.Second

// handleHealth returns the health status of the API
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
		"redis":  s.deps.Cache.Enabled(),
	}
	if s.deps.Broker != nil {
		resp["ws_clients"] = s.deps.Broker.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListDataSources describes the registered data sources
func (s *Server) handleListDataSources(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		respondWithError(w, http.StatusServiceUnavailable, "data source registry not available", nil)
		return
	}

	sources := s.deps.Registry.Describe()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources": sources,
		"count":   len(sources),
	})
}

// handleDataSourceHealth probes every data source, serving a short-lived cached result when available
func (s *Server) handleDataSourceHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		respondWithError(w, http.StatusServiceUnavailable, "data source registry not available", nil)
		return
	}

	if cached, ok := s.deps.Cache.GetSourceHealth(r.Context()); ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"health": cached, "cached": true})
		return
	}

	health := make(map[string]bool)
	for category, healthy := range s.deps.Registry.Health(r.Context()) {
		health[string(category)] = healthy
	}
	s.deps.Cache.SetSourceHealth(r.Context(), health, sourceHealthTTL)

	writeJSON(w, http.StatusOK, map[string]interface{}{"health": health, "cached": false})
}

// handleListPrompts lists the workflow prompt catalog
func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workflows == nil {
		respondWithError(w, http.StatusServiceUnavailable, "workflows not available", nil)
		return
	}

	prompts := s.deps.Workflows.ListPrompts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"prompts": prompts,
		"count":   len(prompts),
	})
}

// handleRunWorkflow runs an ad-hoc analysis. Failed runs return 422 with the structured result.
func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workflows == nil {
		respondWithError(w, http.StatusServiceUnavailable, "workflows not available", nil)
		return
	}

	var req types.WorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result := s.deps.Workflows.Run(requestContext(r), req)
	code := http.StatusOK
	if result.Status == "error" {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, result)
}

// handleGetConversation returns a conversation with its turns
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Conversations == nil {
		respondWithError(w, http.StatusServiceUnavailable, "conversations not available", nil)
		return
	}

	conv, err := s.deps.Conversations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

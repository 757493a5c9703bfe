// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

package search

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/northbound/reflect-index/internal/reflection"
)

// ReflectRequest is the JSON body of POST /reflect, mirroring
// reflect_on_past's parameters (spec.md §4.L).
type ReflectRequest struct {
	Query          string  `json:"query"`
	Limit          int     `json:"limit"`
	MinScore       float32 `json:"min_score"`
	UseDecay       int     `json:"use_decay"` // -1 auto, 0 off, 1 on
	Project        string  `json:"project"`
	IncludeRaw     bool    `json:"include_raw"`
	ResponseFormat string  `json:"response_format"`
	Brief          bool    `json:"brief"`
	Cwd            string  `json:"cwd"`
}

// ReflectionRequest is the JSON body of POST /reflection, mirroring
// store_reflection's parameters (spec.md §4.M).
type ReflectionRequest struct {
	Content     string   `json:"content"`
	Tags        []string `json:"tags"`
	Project     string   `json:"project"`
	ProjectPath string   `json:"project_path"`
}

// Handler serves the frontend-contract HTTP surface for the modules
// actually implemented in core: reflect_on_past and store_reflection.
// search_by_file, search_by_concept, and get_full_conversation are named
// in spec.md §6 as "frontend contract, not implemented in core" and have
// no handler here.
type Handler struct {
	engine     *Engine
	reflection *reflection.Store
}

// NewHandler constructs a Handler. reflectionStore may be nil, in which
// case POST /reflection responds 503.
func NewHandler(engine *Engine, reflectionStore *reflection.Store) *Handler {
	return &Handler{engine: engine, reflection: reflectionStore}
}

// Mount attaches this handler's routes to mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/reflect", h.handleReflect)
	mux.HandleFunc("/reflection", h.handleStoreReflection)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *Handler) handleReflect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ReflectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Query == "" {
		writeJSONError(w, http.StatusBadRequest, "query is required")
		return
	}

	opts := Options{
		Query:          req.Query,
		Limit:          req.Limit,
		MinScore:       req.MinScore,
		UseDecay:       DecayMode(req.UseDecay),
		Project:        req.Project,
		IncludeRaw:     req.IncludeRaw,
		ResponseFormat: req.ResponseFormat,
		Brief:          req.Brief,
	}

	rendered, timing, err := h.engine.Reflect(r.Context(), opts, req.Cwd)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("reflect failed: %v", err))
		return
	}

	contentType := "application/xml"
	if opts.ResponseFormat == "markdown" {
		contentType = "text/markdown"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Reflect-Timing-Total-Ms", fmt.Sprintf("%d", timing.totalMs()))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(rendered))
}

func (h *Handler) handleStoreReflection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.reflection == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "reflection store not configured")
		return
	}

	var req ReflectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Content == "" {
		writeJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	err := h.reflection.Store(r.Context(), reflection.Reflection{
		Content:     req.Content,
		Tags:        req.Tags,
		Project:     req.Project,
		ProjectPath: req.ProjectPath,
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("store_reflection failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "stored"})
}

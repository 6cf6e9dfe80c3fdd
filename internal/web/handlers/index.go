package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/lookalike/internal/database"
)

// IndexHandler handles maintenance of the in-memory HNSW index.
type IndexHandler struct {
	rebuilder func() database.HNSWRebuilder
	logger    *zap.Logger
}

// NewIndexHandler creates a new index handler using the registered rebuilder.
func NewIndexHandler(logger *zap.Logger) *IndexHandler {
	return &IndexHandler{rebuilder: database.GetHNSWRebuilder, logger: logger}
}

// RebuildIndexResponse represents the response from rebuilding the HNSW index
type RebuildIndexResponse struct {
	Success      bool  `json:"success"`
	ProfileCount int   `json:"profile_count"`
	Saved        bool  `json:"saved"`
	DurationMs   int64 `json:"duration_ms"`
}

// Rebuild rebuilds the HNSW index from the database and saves it to disk
func (h *IndexHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	rebuilder := h.rebuilder()
	if rebuilder == nil || !rebuilder.IsHNSWEnabled() {
		respondError(w, http.StatusConflict, "HNSW index is not enabled")
		return
	}

	if err := rebuilder.RebuildHNSW(r.Context()); err != nil {
		h.logger.Error("failed to rebuild HNSW index", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to rebuild HNSW index")
		return
	}

	// The index is usable in memory even if saving fails
	saved := true
	if err := rebuilder.SaveHNSWIndex(); err != nil {
		h.logger.Warn("failed to save HNSW index to disk", zap.Error(err))
		saved = false
	}

	respondJSON(w, http.StatusOK, RebuildIndexResponse{
		Success:      true,
		ProfileCount: rebuilder.HNSWCount(),
		Saved:        saved,
		DurationMs:   time.Since(startTime).Milliseconds(),
	})
}

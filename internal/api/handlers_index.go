package api

import (
	"net/http"
)

// handleRunIndex handles POST /api/index/run. The cycle runs in the
// background; a cycle already in flight answers 409.
func (s *Server) handleRunIndex(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Indexer is not running in this process", nil)
		return
	}
	if s.indexer.Status().CycleInProgress {
		respondError(w, http.StatusConflict, ErrCodeConflict, "An indexing cycle is already in progress", nil)
		return
	}

	ctx := s.runCtx
	go func() {
		result, err := s.indexer.RunCycle(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("Manually triggered indexing cycle failed")
			return
		}
		if result.Skipped {
			s.logger.Info("Manually triggered indexing cycle skipped, another cycle was running")
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// handleIndexStatus handles GET /api/index/status
func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Indexer is not running in this process", nil)
		return
	}
	respondJSON(w, http.StatusOK, s.indexer.Status())
}

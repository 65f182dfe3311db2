package api

import (
	"net/http"

	"github.com/auction-scanner/internal/errors"
	"github.com/auction-scanner/internal/models"
	"github.com/gorilla/mux"
)

// ruleRequest is the body of rule create and update calls.
type ruleRequest struct {
	Name                 string   `json:"name"`
	SearchQuery          string   `json:"searchQuery"`
	Locations            []string `json:"locations"`
	MaxBidPrice          float64  `json:"maxBidPrice"`
	MaxTimeLeftMinutes   float64  `json:"maxTimeLeftMinutes"`
	CheckIntervalMinutes float64  `json:"checkIntervalMinutes"`
	IsActive             *bool    `json:"isActive,omitempty"` // defaults to true
}

func (req *ruleRequest) toRule(id string) *models.CrawlerRule {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return &models.CrawlerRule{
		ID:                   id,
		Name:                 req.Name,
		SearchQuery:          req.SearchQuery,
		Locations:            req.Locations,
		MaxBidPrice:          req.MaxBidPrice,
		MaxTimeLeftMinutes:   req.MaxTimeLeftMinutes,
		CheckIntervalMinutes: req.CheckIntervalMinutes,
		IsActive:             active,
	}
}

// requireEngine answers 503 when the process runs without a rule engine.
func (s *Server) requireEngine(w http.ResponseWriter) bool {
	if s.engine == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Rule engine is not running in this process", nil)
		return false
	}
	return true
}

// handleListRules handles GET /api/rules
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	respondJSON(w, http.StatusOK, s.engine.ListRules())
}

// handleCreateRule handles POST /api/rules
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	var req ruleRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	rule, err := s.engine.AddRule(r.Context(), req.toRule(""))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// handleGetRule handles GET /api/rules/{id}
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	id := mux.Vars(r)["id"]
	rule := s.engine.GetRule(id)
	if rule == nil {
		respondServiceError(w, errors.NewNotFoundError("rule", id))
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// handleUpdateRule handles PUT /api/rules/{id}
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	var req ruleRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	rule, err := s.engine.UpdateRule(r.Context(), req.toRule(mux.Vars(r)["id"]))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// handleDeleteRule handles DELETE /api/rules/{id}
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	if err := s.engine.RemoveRule(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCheckRule handles POST /api/rules/{id}/check
func (s *Server) handleCheckRule(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	id := mux.Vars(r)["id"]
	matched, err := s.engine.CheckRuleByID(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ruleId":  id,
		"matches": matched,
	})
}

// handleListResults handles GET /api/results[?ruleId=]
func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	var results []*models.StoredResult
	if ruleID := r.URL.Query().Get("ruleId"); ruleID != "" {
		results = s.engine.GetResultsForRule(ruleID)
	} else {
		results = s.engine.GetStoredResults()
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"total":   len(results),
	})
}

// handleUpdateResult handles PATCH /api/results/{ruleId}/{itemId}
func (s *Server) handleUpdateResult(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	var flags models.ResultFlags
	if err := parseJSONBody(r, &flags); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if flags.IsTracked == nil && flags.IsWatched == nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "isTracked or isWatched required", nil)
		return
	}

	vars := mux.Vars(r)
	res, err := s.engine.SetResultFlags(vars["ruleId"], vars["itemId"], flags)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

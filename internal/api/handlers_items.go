package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/auction-scanner/internal/errors"
	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/storage"
	"github.com/auction-scanner/internal/types"
	"github.com/gorilla/mux"
)

// Ending-soon window bounds in hours.
const (
	defaultEndingSoonHours = 24
	maxEndingSoonHours     = 168
)

// resolveLocationParam accepts a catalogue slug or a facility name.
func resolveLocationParam(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if loc, ok := types.LocationByID(raw); ok {
		return loc.Name, nil
	}
	if loc, ok := types.LookupLocation(raw); ok {
		return loc.Name, nil
	}
	return "", errors.NewUnknownLocationError(raw)
}

func parseFloatParam(r *http.Request, name string) (*float64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return nil, false
	}
	return &v, true
}

func parseIntParam(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// handleSearchItems handles GET /api/items/search?q=&location=&minBid=&maxBid=&page=&limit=
func (s *Server) handleSearchItems(w http.ResponseWriter, r *http.Request) {
	location, err := resolveLocationParam(r.URL.Query().Get("location"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	minBid, ok := parseFloatParam(r, "minBid")
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "minBid must be a non-negative number", nil)
		return
	}
	maxBid, ok := parseFloatParam(r, "maxBid")
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "maxBid must be a non-negative number", nil)
		return
	}
	if minBid != nil && maxBid != nil && *minBid > *maxBid {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "minBid cannot exceed maxBid", nil)
		return
	}

	page, ok := parseIntParam(r, "page", 1)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "page must be a positive integer", nil)
		return
	}
	limit, ok := parseIntParam(r, "limit", storage.DefaultSearchLimit)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a positive integer", nil)
		return
	}

	result, err := s.store.SearchItems(r.Context(), storage.SearchFilter{
		Query:    r.URL.Query().Get("q"),
		Location: location,
		MinBid:   minBid,
		MaxBid:   maxBid,
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleEndingSoon handles GET /api/items/ending-soon?hours=
func (s *Server) handleEndingSoon(w http.ResponseWriter, r *http.Request) {
	hours, ok := parseIntParam(r, "hours", defaultEndingSoonHours)
	if !ok || hours < 1 || hours > maxEndingSoonHours {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "hours must be between 1 and 168", nil)
		return
	}

	items, err := s.store.GetItemsEndingSoon(r.Context(), hours)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if items == nil {
		items = []*models.ItemRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"hours": hours,
	})
}

// handleGetItem handles GET /api/items/{id}?location=
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if r.URL.Query().Get("location") == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "location query parameter required", nil)
		return
	}
	location, err := resolveLocationParam(r.URL.Query().Get("location"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	item, err := s.store.GetItem(r.Context(), id, location)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if item == nil {
		respondServiceError(w, errors.NewNotFoundError("item", id))
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// handleListEnded handles GET /api/ended-items
func (s *Server) handleListEnded(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.GetAllEndedItems(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if items == nil {
		items = []*models.EndedAuctionItem{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

// handleGetEnded handles GET /api/ended-items/{id}
func (s *Server) handleGetEnded(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	item, err := s.store.GetEndedItem(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if item == nil {
		respondServiceError(w, errors.NewNotFoundError("ended item", id))
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountItems(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	ended, err := s.store.GetAllEndedItems(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	byStatus := map[string]int{}
	total := 0
	for status, n := range counts {
		byStatus[string(status)] = n
		total += n
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":    total,
		"byStatus": byStatus,
		"archived": len(ended),
	})
}

// handleLocations handles GET /api/locations
func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, types.Locations)
}

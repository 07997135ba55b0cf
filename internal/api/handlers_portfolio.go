package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/portfolio-aggregator/internal/errors"
)

// handleRefreshWallet handles POST /api/wallets/{id}/refresh
func (s *Server) handleRefreshWallet(w http.ResponseWriter, r *http.Request) {
	result, err := s.portfolioService.RefreshPortfolio(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleGetAllocation handles GET /api/wallets/{id}/allocation
func (s *Server) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]
	allocation, err := s.portfolioService.GetAssetAllocation(r.Context(), walletID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"walletId":   walletID,
		"allocation": allocation,
	})
}

// handleGetAssets handles GET /api/wallets/{id}/assets
func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]
	assets, err := s.portfolioService.GetAssets(r.Context(), walletID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"walletId": walletID,
		"assets":   assets,
		"count":    len(assets),
	})
}

// handleGetDashboard handles GET /api/dashboard
func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	view, err := s.portfolioService.GetDashboardStats(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// handleGetHistory handles GET /api/history?days=N
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("days", "must be a positive integer"))
			return
		}
		days = n
	}

	snapshots, err := s.portfolioService.GetPortfolioHistory(r.Context(), days)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

// handleGetStats handles GET /api/stats
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.portfolioService.RefreshStats())
}

package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/portfolio-aggregator/internal/service"
)

// handleCreateWallet handles POST /api/wallets
func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var input service.CreateWalletInput
	if err := parseJSONBody(w, r, &input); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	wallet, err := s.portfolioService.CreateWallet(r.Context(), input)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, wallet)
}

// handleListWallets handles GET /api/wallets
func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.portfolioService.ListWallets(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"wallets": wallets,
		"count":   len(wallets),
	})
}

// handleGetWallet handles GET /api/wallets/{id}
func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.portfolioService.GetWallet(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, wallet)
}

// handleDeleteWallet handles DELETE /api/wallets/{id}
func (s *Server) handleDeleteWallet(w http.ResponseWriter, r *http.Request) {
	if err := s.portfolioService.DeleteWallet(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

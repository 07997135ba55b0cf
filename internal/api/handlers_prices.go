package api

import (
	"net/http"
	"sort"
	"time"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/provider"
)

// PriceView is one cached quote as served to clients
type PriceView struct {
	Symbol    string    `json:"symbol"`
	PriceUSD  float64   `json:"priceUsd"`
	Change24h *float64  `json:"change24h,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func priceViews(entries map[string]price.Entry) []PriceView {
	out := make([]PriceView, 0, len(entries))
	for sym, e := range entries {
		v := PriceView{Symbol: sym, PriceUSD: e.Price, UpdatedAt: e.UpdatedAt}
		if e.HasChange {
			c := e.Change24h
			v.Change24h = &c
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *Server) pricesBody() map[string]interface{} {
	body := map[string]interface{}{
		"prices": priceViews(s.prices.Entries()),
	}
	if last := s.prices.LastRefresh(); !last.IsZero() {
		body["lastRefresh"] = last.UTC()
	}
	return body
}

// handleGetPrices handles GET /api/prices
func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		respondServiceError(w, r, apperrors.NewServiceUnavailableError("price cache"))
		return
	}
	respondJSON(w, http.StatusOK, s.pricesBody())
}

// handleRefreshPrices handles POST /api/prices/refresh. A failed fetch keeps
// the previous cache and is reported to the caller.
func (s *Server) handleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		respondServiceError(w, r, apperrors.NewServiceUnavailableError("price cache"))
		return
	}
	if err := s.prices.Refresh(r.Context()); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.pricesBody())
}

// handleProviderMetrics handles GET /api/providers/metrics
func (s *Server) handleProviderMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := []provider.MetricsSnapshot{}
	if s.providers != nil {
		if m := s.providers.Metrics(); m != nil {
			metrics = m
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"providers": metrics,
	})
}

package models

import (
	"time"
)

// DashboardStats is the portfolio-wide headline: every wallet's holdings
// as of the last refresh. Only one row exists.
type DashboardStats struct {
	WalletCount      int       `json:"walletCount" db:"wallet_count"`
	TotalUSD         float64   `json:"totalUsd" db:"total_usd"`
	TotalPrimary     float64   `json:"totalPrimary" db:"total_primary"`
	Change24hAmount  float64   `json:"change24hAmount" db:"change_24h_amount"`
	Change24hPercent float64   `json:"change24hPercent" db:"change_24h_percent"`
	UpdatedAt        time.Time `json:"updatedAt" db:"updated_at"`
}

// Allocation is one slice of the asset allocation chart
type Allocation struct {
	Name       string  `json:"name"`
	Symbol     string  `json:"symbol"`
	ValueUSD   float64 `json:"valueUsd"`
	Percentage float64 `json:"percentage"`
}

package models

import (
	"time"
)

// PortfolioSnapshot is the portfolio total for one UTC day. A later refresh
// on the same day overwrites it.
type PortfolioSnapshot struct {
	SnapshotDate time.Time `json:"snapshotDate" db:"snapshot_date"`
	TotalUSD     float64   `json:"totalUsd" db:"total_usd"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// Package models provides data models for the portfolio aggregator.
package models

import (
	"time"
)

// Wallet is one tracked owner: an EVM address shared by every secondary
// chain plus any number of bitcoin addresses.
type Wallet struct {
	ID           string    `json:"id" db:"id"`
	Label        string    `json:"label" db:"label"`
	EVMAddress   string    `json:"evmAddress" db:"evm_address"`
	BTCAddresses []string  `json:"btcAddresses" db:"btc_addresses"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

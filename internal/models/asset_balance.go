package models

import (
	"time"
)

// AssetBalance is the last observed holding of one asset on one chain.
// Rows are unique per (wallet, chain, symbol) and are overwritten on every
// refresh.
type AssetBalance struct {
	ID              string    `json:"id" db:"id"`
	WalletID        string    `json:"walletId" db:"wallet_id"`
	Chain           string    `json:"chain" db:"chain"`
	ChainID         uint64    `json:"chainId" db:"chain_id"`
	AssetSymbol     string    `json:"assetSymbol" db:"asset_symbol"`
	AssetName       string    `json:"assetName" db:"asset_name"`
	AssetDecimals   uint8     `json:"assetDecimals" db:"asset_decimals"`
	ContractAddress string    `json:"contractAddress,omitempty" db:"contract_address"`
	Balance         string    `json:"balance" db:"balance"`
	BalanceFloat    float64   `json:"balanceFloat" db:"balance_float"`
	USDPrice        float64   `json:"usdPrice" db:"usd_price"`
	USDValue        float64   `json:"usdValue" db:"usd_value"`
	IsTestnet       bool      `json:"isTestnet" db:"is_testnet"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}

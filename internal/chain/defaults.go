package chain

import (
	"os"
	"strings"
)

// Chain ids of the built-in table
const (
	EthereumID uint64 = 1
	OptimismID uint64 = 10
	BSCID      uint64 = 56
	PolygonID  uint64 = 137
	ArbitrumID uint64 = 42161
	SepoliaID  uint64 = 11155111
)

// PrimarySymbol is the primary-ledger asset every portfolio is denominated in
const PrimarySymbol = "BTC"

// Primary describes the bitcoin ledger. It is not an EVM chain and is queried
// through block explorers rather than a provider.
var Primary = Asset{Symbol: PrimarySymbol, Name: "Bitcoin", Decimals: 8}

// PrimaryChainName is the chain label used when persisting primary balances
const PrimaryChainName = "bitcoin"

func erc20(symbol, name string, decimals uint8, contract string) Asset {
	return Asset{Symbol: symbol, Name: name, Decimals: decimals, Contract: contract}
}

// DefaultDescriptors returns the built-in chain table. Endpoints can be
// overridden with <NAME>_HTTP_URL and <NAME>_WSS_URL.
func DefaultDescriptors() []Descriptor {
	chains := []Descriptor{
		{
			ID:          EthereumID,
			Name:        "ethereum",
			DisplayName: "Ethereum",
			HTTPURL:     "https://eth.llamarpc.com",
			Assets: []Asset{
				{Symbol: "ETH", Name: "Ethereum", Decimals: 18},
				erc20("USDT", "Tether USD", 6, "0xdAC17F958D2ee523a2206206994597C13D831ec7"),
				erc20("USDC", "USD Coin", 6, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
			},
		},
		{
			ID:          ArbitrumID,
			Name:        "arbitrum",
			DisplayName: "Arbitrum One",
			HTTPURL:     "https://arb1.arbitrum.io/rpc",
			Assets: []Asset{
				{Symbol: "ETH", Name: "Ethereum", Decimals: 18},
				erc20("USDT", "Tether USD", 6, "0xfd086bc7cd5c481dcc9c85ebe478a1c0b69fcbb9"),
				erc20("USDC", "USD Coin", 6, "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
			},
		},
		{
			ID:          OptimismID,
			Name:        "optimism",
			DisplayName: "Optimism",
			HTTPURL:     "https://mainnet.optimism.io",
			Assets: []Asset{
				{Symbol: "ETH", Name: "Ethereum", Decimals: 18},
				erc20("USDT", "Tether USD", 6, "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58"),
				erc20("USDC", "USD Coin", 6, "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"),
			},
		},
		{
			ID:          PolygonID,
			Name:        "polygon",
			DisplayName: "Polygon",
			HTTPURL:     "https://polygon-rpc.com",
			Assets: []Asset{
				{Symbol: "MATIC", Name: "Polygon", Decimals: 18},
				erc20("USDT", "Tether USD", 6, "0xc2132D05D31c914a87C6611C10748AEb04B58e8F"),
				erc20("USDC", "USD Coin", 6, "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
			},
		},
		{
			ID:          BSCID,
			Name:        "bsc",
			DisplayName: "BNB Smart Chain",
			HTTPURL:     "https://bsc-dataseed1.binance.org",
			Assets: []Asset{
				{Symbol: "BNB", Name: "BNB", Decimals: 18},
				erc20("USDT", "Tether USD", 18, "0x55d398326f99059fF775485246999027B3197955"),
				erc20("USDC", "USD Coin", 18, "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"),
			},
		},
		{
			ID:          SepoliaID,
			Name:        "sepolia",
			DisplayName: "Sepolia",
			HTTPURL:     "https://ethereum-sepolia-rpc.publicnode.com",
			Testnet:     true,
			Assets: []Asset{
				{Symbol: "ETH", Name: "Sepolia Ether", Decimals: 18},
				erc20("USDC", "USD Coin", 6, "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"),
				erc20("USDT", "Tether USD", 6, "0xE50d86c6dE38F9754f6777d2925377564Bf79482"),
			},
		},
	}

	for i := range chains {
		applyEnvOverrides(&chains[i])
	}
	return chains
}

// applyEnvOverrides reads <NAME>_HTTP_URL / <NAME>_WSS_URL. Ethereum also
// honours the older ETH_RPC_URL / ETH_WSS_URL names.
func applyEnvOverrides(d *Descriptor) {
	prefix := strings.ToUpper(d.Name)

	if v := os.Getenv(prefix + "_HTTP_URL"); v != "" {
		d.HTTPURL = v
	} else if d.ID == EthereumID {
		if v := os.Getenv("ETH_RPC_URL"); v != "" {
			d.HTTPURL = v
		}
	}

	if v := os.Getenv(prefix + "_WSS_URL"); v != "" {
		d.WSSURL = v
	} else if d.ID == EthereumID {
		if v := os.Getenv("ETH_WSS_URL"); v != "" {
			d.WSSURL = v
		}
	}
}

// Package provider gives each EVM chain one resilient RPC handle: a pool of
// persistent websocket connections that is health-checked and rebuilt in the
// background, with a plain HTTP client as the fallback path.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	// ErrWSSConnectionFailed indicates no websocket connection could be opened
	ErrWSSConnectionFailed = errors.New("wss connection failed")
	// ErrHTTPConnectionFailed indicates the HTTP client could not be built
	ErrHTTPConnectionFailed = errors.New("http connection failed")
	// ErrAllProvidersFailed indicates both the pooled and HTTP paths failed
	ErrAllProvidersFailed = errors.New("all providers failed")
	// ErrPoolEmpty is returned by Acquire when the pool holds no connections
	ErrPoolEmpty = errors.New("connection pool is empty")
)

// Error wraps provider errors with the chain and operation they came from
type Error struct {
	Chain string
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error [%s:%s]: %v", e.Chain, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client is the subset of the go-ethereum RPC client the provider needs.
// *ethclient.Client satisfies it.
type Client interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Dialer opens a client for url
type Dialer func(ctx context.Context, url string) (Client, error)

// DialEthClient is the production Dialer
func DialEthClient(ctx context.Context, url string) (Client, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Config holds per-chain provider settings
type Config struct {
	HTTPURL              string
	WSSURL               string
	EnableWSS            bool
	PoolSize             int
	ConnectTimeout       time.Duration
	HealthCheckInterval  time.Duration
	AutoReconnect        bool
	MaxReconnectAttempts int
	// ReconnectBaseDelay is the first reconnect backoff, doubled per attempt
	ReconnectBaseDelay time.Duration
	// CallTimeout bounds a single pooled RPC call before HTTP is tried
	CallTimeout time.Duration
}

const (
	minConnectTimeout      = time.Second
	minHealthCheckInterval = 5 * time.Second
)

// DefaultConfig returns provider settings for the given endpoints
func DefaultConfig(httpURL, wssURL string) Config {
	return Config{
		HTTPURL:              httpURL,
		WSSURL:               wssURL,
		EnableWSS:            true,
		PoolSize:             2,
		ConnectTimeout:       10 * time.Second,
		HealthCheckInterval:  30 * time.Second,
		AutoReconnect:        true,
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   time.Second,
		CallTimeout:          15 * time.Second,
	}
}

// WSSEnabled reports whether a websocket pool should be built
func (c Config) WSSEnabled() bool {
	return c.EnableWSS && c.WSSURL != ""
}

func (c Config) poolSize() int {
	if c.PoolSize < 1 {
		return 1
	}
	return c.PoolSize
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout < minConnectTimeout {
		return minConnectTimeout
	}
	return c.ConnectTimeout
}

func (c Config) healthInterval() time.Duration {
	if c.HealthCheckInterval < minHealthCheckInterval {
		return minHealthCheckInterval
	}
	return c.HealthCheckInterval
}

func (c Config) reconnectAttempts() int {
	if c.MaxReconnectAttempts < 1 {
		return 1
	}
	return c.MaxReconnectAttempts
}

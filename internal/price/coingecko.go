package price

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/time/rate"

	"github.com/portfolio-aggregator/internal/circuitbreaker"
	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/httpclient"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/retry"
)

// coinGeckoIDs maps tracked symbols to CoinGecko coin ids
var coinGeckoIDs = map[string]string{
	"ETH":   "ethereum",
	"BTC":   "bitcoin",
	"USDT":  "tether",
	"USDC":  "usd-coin",
	"MATIC": "matic-network",
	"BNB":   "binancecoin",
	"DAI":   "dai",
}

// CoinGeckoID returns the coin id for symbol
func CoinGeckoID(symbol string) (string, bool) {
	id, ok := coinGeckoIDs[strings.ToUpper(symbol)]
	return id, ok
}

type coinGeckoQuote struct {
	USD       *float64 `json:"usd"`
	Change24h *float64 `json:"usd_24h_change"`
}

// CoinGeckoConfig configures the CoinGecko source
type CoinGeckoConfig struct {
	BaseURL        string
	APIKey         string
	RequestsPerSec float64
	Policy         *retry.Policy
}

// CoinGeckoSource fetches prices from the simple/price endpoint. Requests
// go through a rate limiter and a circuit breaker.
type CoinGeckoSource struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	policy  retry.Policy
	logger  *logging.Logger
}

// NewCoinGeckoSource creates a source
func NewCoinGeckoSource(http *httpclient.Client, cfg CoinGeckoConfig, breakers *circuitbreaker.Manager) *CoinGeckoSource {
	if breakers == nil {
		breakers = circuitbreaker.NewManager()
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 0.5
	}
	policy := retry.PricePolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	return &CoinGeckoSource{
		http:    http,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		breaker: breakers.GetOrCreate("coingecko", nil),
		policy:  policy,
		logger:  logging.Component("coingecko"),
	}
}

// Name identifies the source in logs and errors
func (s *CoinGeckoSource) Name() string {
	return "coingecko"
}

// FetchPrices returns quotes for every symbol CoinGecko knows. Symbols
// without a coin id, and coins whose reply has no usd field, are left out.
func (s *CoinGeckoSource) FetchPrices(ctx context.Context, symbols []string) (map[string]Quote, error) {
	idToSymbol := make(map[string]string, len(symbols))
	ids := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		if IsStablecoin(sym) {
			continue
		}
		id, ok := coinGeckoIDs[sym]
		if !ok {
			s.logger.WithField("symbol", sym).Debug("no coingecko id for symbol")
			continue
		}
		if _, dup := idToSymbol[id]; dup {
			continue
		}
		idToSymbol[id] = sym
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return map[string]Quote{}, nil
	}
	sort.Strings(ids)

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")
	endpoint := fmt.Sprintf("%s/simple/price?%s", s.baseURL, q.Encode())

	var headers map[string]string
	if s.apiKey != "" {
		headers = map[string]string{"x-cg-demo-api-key": s.apiKey}
	}

	body, err := retry.Value(ctx, s.policy, func(ctx context.Context, attempt int) (map[string]coinGeckoQuote, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
		var resp map[string]coinGeckoQuote
		err := s.breaker.Execute(ctx, func(ctx context.Context) error {
			return s.http.GetJSON(ctx, endpoint, headers, &resp)
		})
		if err != nil && !apperrors.IsRetryable(err) {
			return nil, retry.Permanent(err)
		}
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]Quote, len(body))
	for id, raw := range body {
		sym, ok := idToSymbol[id]
		if !ok || raw.USD == nil {
			continue
		}
		quote := Quote{Price: *raw.USD}
		if raw.Change24h != nil {
			quote.Change24h = *raw.Change24h
			quote.HasChange = true
		}
		out[sym] = quote
	}

	s.logger.WithFields(map[string]interface{}{
		"requested": len(ids),
		"received":  len(out),
	}).Debug("coingecko prices fetched")
	return out, nil
}

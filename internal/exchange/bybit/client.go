package bybit

import (
	"context"
	"strings"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// tickerFunc fetches /v5/market/tickers for the given params
type tickerFunc func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Client is a read-only Bybit market data client used as the fallback
// quote source when the swap router cannot price an asset.
type Client struct {
	httpClient *bybit_api.Client
	tickers    tickerFunc
	category   string
	quoteCoin  string
	symbols    map[string]string // token address -> base coin, e.g. WLD
	stables    map[string]bool   // token addresses priced 1:1 with the quote coin
	testnet    bool
}

// Config holds the configuration for the Bybit client. Only public market
// endpoints are used, so API keys are optional.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	BaseURL   string
	Category  string // "spot" unless set
	QuoteCoin string // "USDT" unless set
	// Symbols maps token addresses to the coin listed on Bybit
	Symbols map[string]string
	// StableTokens are base tokens treated as equal to the quote coin
	StableTokens []string
}

// NewClient creates a new Bybit client
func NewClient(config Config) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		if config.Testnet {
			baseURL = bybit_api.TESTNET
		} else {
			baseURL = bybit_api.MAINNET
		}
	}
	if config.Category == "" {
		config.Category = "spot"
	}
	if config.QuoteCoin == "" {
		config.QuoteCoin = "USDT"
	}

	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	c := &Client{
		httpClient: httpClient,
		category:   config.Category,
		quoteCoin:  strings.ToUpper(config.QuoteCoin),
		symbols:    make(map[string]string, len(config.Symbols)),
		stables:    make(map[string]bool, len(config.StableTokens)),
		testnet:    config.Testnet,
	}
	c.tickers = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	}
	for address, coin := range config.Symbols {
		c.symbols[strings.ToLower(address)] = strings.ToUpper(coin)
	}
	for _, address := range config.StableTokens {
		c.stables[strings.ToLower(address)] = true
	}
	return c
}

// Name implements exchange.QuoteProvider
func (c *Client) Name() string {
	return "bybit"
}

// GetEnvironment returns a string describing the current environment
func (c *Client) GetEnvironment() string {
	if c.testnet {
		return "testnet"
	}
	return "mainnet"
}

// coinFor returns the listed coin for a token address
func (c *Client) coinFor(address string) (string, bool) {
	coin, ok := c.symbols[strings.ToLower(address)]
	return coin, ok
}

func (c *Client) isStable(address string) bool {
	return c.stables[strings.ToLower(address)]
}

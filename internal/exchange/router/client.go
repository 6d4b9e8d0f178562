package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/exchange"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/safety"
)

// Config holds the swap router connection settings
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RequestsPerSecond bounds outbound calls, burst equals the rate
	RequestsPerSecond float64
	// QuoteAmount is the asset amount priced by GetPrice, 1 unless set
	QuoteAmount float64
}

// Client talks to an HTTP swap-routing service that quotes, executes and
// sizes swaps. Amounts cross the wire as decimal strings.
type Client struct {
	baseURL     string
	apiKey      string
	http        *http.Client
	limiter     *safety.RateLimiter
	quoteAmount decimal.Decimal
}

// NewClient creates a router client
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("router base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid router base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.QuoteAmount <= 0 {
		cfg.QuoteAmount = 1
	}

	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		http:        &http.Client{Timeout: cfg.Timeout},
		limiter:     safety.NewRateLimiter("router", burst, cfg.RequestsPerSecond),
		quoteAmount: decimal.NewFromFloat(cfg.QuoteAmount),
	}, nil
}

// Name implements exchange.QuoteProvider and exchange.SwapExecutor
func (c *Client) Name() string {
	return "router"
}

type quoteResponse struct {
	AmountOut decimal.Decimal `json:"amountOut"`
	Error     string          `json:"error,omitempty"`
}

type swapPayload struct {
	Wallet      string          `json:"wallet"`
	TokenIn     string          `json:"tokenIn"`
	TokenOut    string          `json:"tokenOut"`
	AmountIn    decimal.Decimal `json:"amountIn"`
	MaxSlippage decimal.Decimal `json:"maxSlippage"`
}

type swapResponse struct {
	Success   bool            `json:"success"`
	TxHash    string          `json:"txHash"`
	AmountIn  decimal.Decimal `json:"amountIn"`
	AmountOut decimal.Decimal `json:"amountOut"`
	Error     string          `json:"error,omitempty"`
}

type liquidityResponse struct {
	MaxSafeAmount decimal.Decimal `json:"maxSafeAmount"`
	Error         string          `json:"error,omitempty"`
}

// GetPrice quotes QuoteAmount of asset into base and returns base per asset unit
func (c *Client) GetPrice(ctx context.Context, asset, base string) (float64, error) {
	q := url.Values{}
	q.Set("tokenIn", asset)
	q.Set("tokenOut", base)
	q.Set("amountIn", c.quoteAmount.String())

	var resp quoteResponse
	if err := c.do(ctx, http.MethodGet, "/quote?"+q.Encode(), nil, &resp); err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, fmt.Errorf("router quote: %s", resp.Error)
	}
	if !resp.AmountOut.IsPositive() {
		return 0, fmt.Errorf("router quote returned %s", resp.AmountOut)
	}
	price, _ := resp.AmountOut.Div(c.quoteAmount).Float64()
	return price, nil
}

// ExecuteSwap implements exchange.SwapExecutor. A swap the router reports
// as failed is returned with Success false and a nil error; transport and
// protocol failures return an error.
func (c *Client) ExecuteSwap(ctx context.Context, req exchange.SwapRequest) (exchange.SwapResult, error) {
	payload := swapPayload{
		Wallet:      req.Wallet,
		TokenIn:     req.TokenIn,
		TokenOut:    req.TokenOut,
		AmountIn:    decimal.NewFromFloat(req.AmountIn),
		MaxSlippage: decimal.NewFromFloat(req.MaxSlippage),
	}

	var resp swapResponse
	if err := c.do(ctx, http.MethodPost, "/swap", payload, &resp); err != nil {
		return exchange.SwapResult{}, err
	}

	amountIn, _ := resp.AmountIn.Float64()
	amountOut, _ := resp.AmountOut.Float64()
	result := exchange.SwapResult{
		Success:    resp.Success,
		TxRef:      resp.TxHash,
		AmountIn:   amountIn,
		AmountOut:  amountOut,
		ExecutedAt: time.Now(),
		Error:      resp.Error,
	}
	if result.Success && result.AmountIn == 0 {
		result.AmountIn = req.AmountIn
	}
	return result, nil
}

// AnalyzeLiquidity implements exchange.LiquidityAnalyzer
func (c *Client) AnalyzeLiquidity(ctx context.Context, tokenIn, tokenOut string, maxSlippage float64) (float64, error) {
	q := url.Values{}
	q.Set("tokenIn", tokenIn)
	q.Set("tokenOut", tokenOut)
	q.Set("maxSlippage", decimal.NewFromFloat(maxSlippage).String())

	var resp liquidityResponse
	if err := c.do(ctx, http.MethodGet, "/liquidity?"+q.Encode(), nil, &resp); err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, fmt.Errorf("router liquidity: %s", resp.Error)
	}
	amount, _ := resp.MaxSafeAmount.Float64()
	return amount, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("router %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read router response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("router %s %s returned status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode router response: %w", err)
	}
	return nil
}

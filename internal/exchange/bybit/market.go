package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// GetLatestPrice gets the last traded price for a symbol such as WLDUSDT
func (c *Client) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	params := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
	}

	result, err := c.tickers(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest price: %w", err)
	}

	price, err := parseLatestPriceResponse(result)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price response for %s: %w", symbol, err)
	}
	return price, nil
}

// GetPrice implements exchange.QuoteProvider. The asset is priced against
// the quote coin; when base is not a stable token the result is the cross
// rate asset/quote divided by base/quote.
func (c *Client) GetPrice(ctx context.Context, asset, base string) (float64, error) {
	coin, ok := c.coinFor(asset)
	if !ok {
		return 0, fmt.Errorf("no bybit symbol mapped for %s", asset)
	}

	assetPrice, err := c.GetLatestPrice(ctx, coin+c.quoteCoin)
	if err != nil {
		return 0, err
	}
	if c.isStable(base) {
		return assetPrice, nil
	}

	baseCoin, ok := c.coinFor(base)
	if !ok {
		return 0, fmt.Errorf("no bybit symbol mapped for base %s", base)
	}
	basePrice, err := c.GetLatestPrice(ctx, baseCoin+c.quoteCoin)
	if err != nil {
		return 0, err
	}
	if basePrice <= 0 {
		return 0, fmt.Errorf("non-positive price for base %s", baseCoin)
	}
	return assetPrice / basePrice, nil
}

// parseLatestPriceResponse parses the ticker response to extract the latest price
func parseLatestPriceResponse(response interface{}) (float64, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok || serverResp == nil {
		return 0, fmt.Errorf("invalid response type")
	}

	if err := ParseAPIError(serverResp.RetCode, serverResp.RetMsg); err != nil {
		return 0, err
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal result: %w", err)
	}

	var tickerResult struct {
		Category string `json:"category"`
		List     []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &tickerResult); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ticker result: %w", err)
	}

	if len(tickerResult.List) == 0 {
		return 0, fmt.Errorf("no ticker data found")
	}

	price, err := strconv.ParseFloat(tickerResult.List[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid last price %q: %w", tickerResult.List[0].LastPrice, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("non-positive last price %q", tickerResult.List[0].LastPrice)
	}
	return price, nil
}

package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/exchange"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tokenIn") == "0xbad" {
			http.Error(w, "no route", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"amountOut":"0.0667"}`))
	})
	mux.HandleFunc("/swap", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		if payload["tokenOut"] == "0xilliquid" {
			_, _ = w.Write([]byte(`{"success":false,"error":"insufficient liquidity"}`))
			return
		}
		assert.Equal(t, "10", payload["amountIn"])
		assert.Equal(t, "0.5", payload["maxSlippage"])
		_, _ = w.Write([]byte(`{"success":true,"txHash":"0xabc","amountIn":"10","amountOut":"150"}`))
	})
	mux.HandleFunc("/liquidity", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("maxSlippage"))
		_, _ = w.Write([]byte(`{"maxSafeAmount":"250.5"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestGetPrice(t *testing.T) {
	srv := newTestServer(t)
	c, err := NewClient(Config{BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	price, err := c.GetPrice(context.Background(), "0xwld", "0xusdc")
	require.NoError(t, err)
	assert.Equal(t, 0.0667, price)

	_, err = c.GetPrice(context.Background(), "0xbad", "0xusdc")
	assert.ErrorContains(t, err, "404")
}

func TestExecuteSwap(t *testing.T) {
	srv := newTestServer(t)
	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	res, err := c.ExecuteSwap(context.Background(), exchange.SwapRequest{
		Wallet: "0xwallet", TokenIn: "0xusdc", TokenOut: "0xwld", AmountIn: 10, MaxSlippage: 0.5,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "0xabc", res.TxRef)
	assert.Equal(t, 150.0, res.AmountOut)
	assert.InDelta(t, 10.0/150.0, res.EffectivePrice(true), 1e-12)

	res, err = c.ExecuteSwap(context.Background(), exchange.SwapRequest{
		TokenIn: "0xusdc", TokenOut: "0xilliquid", AmountIn: 10, MaxSlippage: 0.5,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "insufficient liquidity", res.Error)
}

func TestAnalyzeLiquidityCapability(t *testing.T) {
	srv := newTestServer(t)
	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	amount, ok, err := exchange.MaxSafeAmount(context.Background(), c, "0xusdc", "0xwld", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 250.5, amount)
}

package safety

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
)

const (
	wldAddress  = "0x2cFc85d8E48F8EAB294be644d9E25C3030863003"
	usdcAddress = "0x79A02482A880bCE3F13e09Da970dC34db4CD24d1"
	solMint     = "So11111111111111111111111111111111111111112"
)

func TestClassifyAddress(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		address string
		kind    AddressKind
		code    string
	}{
		{"evm", wldAddress, AddressEVM, ""},
		{"evm upper prefix", "0X79A02482A880bCE3F13e09Da970dC34db4CD24d1", AddressEVM, ""},
		{"base58 mint", solMint, AddressBase58, ""},
		{"empty", "  ", "", "ADDRESS_EMPTY"},
		{"short hex", "0x1234", "", "ADDRESS_BAD_LENGTH"},
		{"bad hex", "0xZZFc85d8E48F8EAB294be644d9E25C3030863003", "", "ADDRESS_BAD_HEX"},
		{"not base58", "0OIl0OIl", "", "ADDRESS_BAD_ENCODING"},
		{"short base58", "abc", "", "ADDRESS_BAD_LENGTH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, res := v.ClassifyAddress(tt.address)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.code == "", res.Valid)
			assert.Equal(t, tt.code, res.Code)
		})
	}
}

func TestValidateTokenAddressReturnsValidationError(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateTokenAddress(usdcAddress))

	err := v.ValidateTokenAddress("WLD")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boterrors.ErrValidation))
}

func TestValidatePriceAndAmount(t *testing.T) {
	v := NewValidator()

	assert.True(t, v.ValidatePrice(0.0667, "WLD").Valid)
	assert.Equal(t, "INVALID_PRICE_NON_POSITIVE", v.ValidatePrice(0, "WLD").Code)
	assert.Equal(t, "INVALID_PRICE_NAN", v.ValidatePrice(math.NaN(), "WLD").Code)
	assert.Equal(t, "INVALID_PRICE_INF", v.ValidatePrice(math.Inf(1), "WLD").Code)

	assert.True(t, v.ValidateAmount(10, "amount").Valid)
	assert.False(t, v.ValidateAmount(-1, "amount").Valid)
	assert.False(t, v.ValidateAmount(math.NaN(), "amount").Valid)

	assert.True(t, v.ValidateSlippage(0.5).Valid)
	assert.False(t, v.ValidateSlippage(0).Valid)
	assert.False(t, v.ValidateSlippage(100).Valid)

	assert.True(t, v.ValidateSymbol("USDC.e").Valid)
	assert.False(t, v.ValidateSymbol("W L D").Valid)
}

func TestSafeDivision(t *testing.T) {
	v := NewValidator()

	got, err := v.SafeDivision(10, 4)
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)

	_, err = v.SafeDivision(1, 0)
	assert.Error(t, err)
	_, err = v.SafeDivision(math.NaN(), 1)
	assert.Error(t, err)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("quote", CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}).WithClock(func() time.Time { return now })

	boom := errors.New("boom")
	assert.Equal(t, boom, cb.Call(func() error { return boom }))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, boom, cb.Call(func() error { return boom }))
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, "CLOSED", cb.GetStats().State)
}

func TestCircuitBreakerIgnoresCallerCancellation(t *testing.T) {
	cb := NewCircuitBreaker("exec", CircuitBreakerConfig{FailureThreshold: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.GetState())

	err = cb.Execute(context.Background(), func(context.Context) error { return context.DeadlineExceeded })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter("router", 2, 1000)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rl.Wait(ctx))

	slow := NewRateLimiter("slow", 1, 0.001)
	require.True(t, slow.Allow())
	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, slow.Wait(ctx), context.DeadlineExceeded)
}

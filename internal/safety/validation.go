package safety

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/mr-tron/base58"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
)

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
}

// Err converts a failed result into a validation BotError, nil when valid.
func (r ValidationResult) Err(component, operation string) error {
	if r.Valid {
		return nil
	}
	return boterrors.NewValidationError(component, operation, r.Message).WithContext("code", r.Code)
}

func invalid(code, format string, args ...interface{}) ValidationResult {
	return ValidationResult{Valid: false, Message: fmt.Sprintf(format, args...), Code: code}
}

var valid = ValidationResult{Valid: true}

// Validator provides defensive validation for prices, amounts and token
// addresses coming from configuration, the API and quote sources.
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePrice validates a quoted or executed price
func (v *Validator) ValidatePrice(price float64, asset string) ValidationResult {
	if math.IsNaN(price) {
		return invalid("INVALID_PRICE_NAN", "invalid price for %s: price is NaN", asset)
	}
	if math.IsInf(price, 0) {
		return invalid("INVALID_PRICE_INF", "invalid price for %s: price is infinite", asset)
	}
	if price <= 0 {
		return invalid("INVALID_PRICE_NON_POSITIVE", "invalid price %g for %s: price must be positive", price, asset)
	}
	if price > 1e12 {
		return invalid("PRICE_OUT_OF_BOUNDS", "suspicious price %g for %s: exceeds reasonable bounds", price, asset)
	}
	return valid
}

// ValidateAmount validates a trade amount in base currency or asset tokens
func (v *Validator) ValidateAmount(amount float64, field string) ValidationResult {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return invalid("INVALID_AMOUNT", "%s is not a finite number", field)
	}
	if amount <= 0 {
		return invalid("AMOUNT_NON_POSITIVE", "%s must be positive, got %g", field, amount)
	}
	if amount > 1e15 {
		return invalid("AMOUNT_OUT_OF_BOUNDS", "suspicious %s %g: exceeds reasonable bounds", field, amount)
	}
	return valid
}

// ValidateSlippage validates a max slippage percentage, (0, 100)
func (v *Validator) ValidateSlippage(slippage float64) ValidationResult {
	if math.IsNaN(slippage) {
		return invalid("SLIPPAGE_NAN", "max slippage is NaN")
	}
	if slippage <= 0 || slippage >= 100 {
		return invalid("SLIPPAGE_OUT_OF_RANGE", "max slippage %g%% must be between 0 and 100", slippage)
	}
	return valid
}

// ValidatePercentageRange validates a percentage is within [lo, hi]
func (v *Validator) ValidatePercentageRange(percentage, lo, hi float64, context string) ValidationResult {
	if math.IsNaN(percentage) {
		return invalid("PERCENTAGE_NAN", "%s percentage is NaN", context)
	}
	if percentage < lo {
		return invalid("PERCENTAGE_BELOW_MIN", "%s percentage %.4f below minimum %.4f", context, percentage, lo)
	}
	if percentage > hi {
		return invalid("PERCENTAGE_ABOVE_MAX", "%s percentage %.4f above maximum %.4f", context, percentage, hi)
	}
	return valid
}

// ValidateSymbol validates a display symbol such as WLD or USDC.e
func (v *Validator) ValidateSymbol(symbol string) ValidationResult {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return invalid("SYMBOL_EMPTY", "symbol cannot be empty")
	}
	if len(symbol) > 20 {
		return invalid("SYMBOL_TOO_LONG", "symbol '%s' too long: maximum 20 characters allowed", symbol)
	}
	for _, char := range symbol {
		if !((char >= 'A' && char <= 'Z') || (char >= 'a' && char <= 'z') || (char >= '0' && char <= '9') || char == '.' || char == '_' || char == '-') {
			return invalid("SYMBOL_INVALID_CHARS", "symbol '%s' contains invalid characters", symbol)
		}
	}
	return valid
}

// AddressKind identifies the encoding of a token address
type AddressKind string

const (
	AddressEVM    AddressKind = "evm"
	AddressBase58 AddressKind = "base58"
)

// ClassifyAddress returns the encoding of a well-formed token address.
// EVM addresses are 0x followed by 40 hex digits; base58 addresses must
// decode to a 32-byte public key.
func (v *Validator) ClassifyAddress(address string) (AddressKind, ValidationResult) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", invalid("ADDRESS_EMPTY", "token address cannot be empty")
	}

	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		body := address[2:]
		if len(body) != 40 {
			return "", invalid("ADDRESS_BAD_LENGTH", "token address %s must have 40 hex digits", address)
		}
		if _, err := hex.DecodeString(body); err != nil {
			return "", invalid("ADDRESS_BAD_HEX", "token address %s is not valid hex", address)
		}
		return AddressEVM, valid
	}

	decoded, err := base58.Decode(address)
	if err != nil {
		return "", invalid("ADDRESS_BAD_ENCODING", "token address %s is neither hex nor base58", address)
	}
	if len(decoded) != 32 {
		return "", invalid("ADDRESS_BAD_LENGTH", "token address %s decodes to %d bytes, want 32", address, len(decoded))
	}
	return AddressBase58, valid
}

// ValidateTokenAddress satisfies strategy.AddressValidator and
// triggers.AddressValidator.
func (v *Validator) ValidateTokenAddress(address string) error {
	_, res := v.ClassifyAddress(address)
	return res.Err("validator", "token_address")
}

// SafeDivision performs division with zero and NaN checks
func (v *Validator) SafeDivision(dividend, divisor float64) (float64, error) {
	if divisor == 0 {
		return 0, fmt.Errorf("division by zero: %g / %g", dividend, divisor)
	}
	if math.IsNaN(dividend) || math.IsNaN(divisor) {
		return 0, fmt.Errorf("division with NaN: %g / %g", dividend, divisor)
	}
	if math.IsInf(dividend, 0) || math.IsInf(divisor, 0) {
		return 0, fmt.Errorf("division with infinity: %g / %g", dividend, divisor)
	}

	result := dividend / divisor
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("division resulted in invalid value: %g / %g", dividend, divisor)
	}
	return result, nil
}

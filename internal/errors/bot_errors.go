package errors

import (
	"fmt"
	"sync"
)

// ErrorCategory represents the kinds of failure the engine distinguishes
type ErrorCategory string

const (
	// Recoverable at runtime, never stop the engine
	ErrorCategoryUnknownAsset      ErrorCategory = "UNKNOWN_ASSET"
	ErrorCategoryInsufficientData  ErrorCategory = "INSUFFICIENT_DATA"
	ErrorCategoryQuoteUnavailable  ErrorCategory = "QUOTE_UNAVAILABLE"
	ErrorCategoryExecutionFailed   ErrorCategory = "EXECUTION_FAILED"
	ErrorCategoryPersistenceFailed ErrorCategory = "PERSISTENCE_FAILED"

	// Rejected synchronously when a strategy, trigger or config is created
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"
	ErrorCategoryValidation    ErrorCategory = "VALIDATION"
)

// Sentinels for errors.Is checks. Any BotError with the same category matches.
var (
	ErrUnknownAsset      = &BotError{Category: ErrorCategoryUnknownAsset, Message: "asset is not tracked"}
	ErrInsufficientData  = &BotError{Category: ErrorCategoryInsufficientData, Message: "not enough data points"}
	ErrQuoteUnavailable  = &BotError{Category: ErrorCategoryQuoteUnavailable, Message: "price quote unavailable"}
	ErrExecutionFailed   = &BotError{Category: ErrorCategoryExecutionFailed, Message: "swap execution failed"}
	ErrPersistenceFailed = &BotError{Category: ErrorCategoryPersistenceFailed, Message: "snapshot persistence failed"}
	ErrInvalidConfig     = &BotError{Category: ErrorCategoryConfiguration, Message: "invalid configuration"}
	ErrValidation        = &BotError{Category: ErrorCategoryValidation, Message: "validation failed"}
)

// BotError represents a categorized error with context
type BotError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

// Error implements the error interface
func (e *BotError) Error() string {
	if e.Component == "" && e.Operation == "" {
		return fmt.Sprintf("[%s] %s", e.Category, e.Message)
	}
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *BotError) Unwrap() error {
	return e.Underlying
}

// Is matches sentinel errors by category so callers can write
// errors.Is(err, ErrUnknownAsset) regardless of component or operation.
func (e *BotError) Is(target error) bool {
	t, ok := target.(*BotError)
	if !ok {
		return false
	}
	if t == e {
		return true
	}
	return t.Component == "" && t.Operation == "" && t.Category == e.Category
}

// IsRetryable returns whether the failed operation may be attempted again
func (e *BotError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal reports errors that must be rejected instead of recovered.
// Only creation-time configuration and validation failures qualify.
func (e *BotError) IsFatal() bool {
	return e.Category == ErrorCategoryConfiguration || e.Category == ErrorCategoryValidation
}

// NewBotError creates a new categorized bot error
func NewBotError(category ErrorCategory, component, operation, message string) *BotError {
	return &BotError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Retryable: isRetryableCategory(category),
	}
}

// WrapError wraps an existing error with bot error context
func WrapError(err error, category ErrorCategory, component, operation string) *BotError {
	if err == nil {
		return nil
	}

	return &BotError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
		Retryable:  isRetryableCategory(category),
	}
}

// WithContext adds context information to the error
func (e *BotError) WithContext(key string, value interface{}) *BotError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryable sets the retryable flag
func (e *BotError) WithRetryable(retryable bool) *BotError {
	e.Retryable = retryable
	return e
}

func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryConfiguration, ErrorCategoryValidation, ErrorCategoryUnknownAsset:
		return false
	default:
		return true
	}
}

// Categorize returns err as a BotError, wrapping it under the fallback
// category when it is not one already.
func Categorize(err error, fallback ErrorCategory, component, operation string) *BotError {
	if err == nil {
		return nil
	}
	if botErr, ok := err.(*BotError); ok {
		return botErr
	}
	return WrapError(err, fallback, component, operation)
}

// Common error constructors
func NewUnknownAssetError(component, operation, asset string) *BotError {
	return NewBotError(ErrorCategoryUnknownAsset, component, operation, "asset is not tracked").
		WithContext("asset", asset)
}

func NewInsufficientDataError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryInsufficientData, component, operation, message)
}

func NewQuoteError(component, operation string, err error) *BotError {
	if err == nil {
		return NewBotError(ErrorCategoryQuoteUnavailable, component, operation, "no price returned")
	}
	return WrapError(err, ErrorCategoryQuoteUnavailable, component, operation)
}

func NewExecutionError(component, operation string, err error) *BotError {
	if err == nil {
		return NewBotError(ErrorCategoryExecutionFailed, component, operation, "swap reported failure")
	}
	return WrapError(err, ErrorCategoryExecutionFailed, component, operation)
}

func NewPersistenceError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryPersistenceFailed, component, operation)
}

func NewValidationError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryValidation, component, operation, message)
}

func NewConfigurationError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryConfiguration, component, operation, message)
}

// Error recovery strategies
type RecoveryAction string

const (
	RecoveryActionRetry    RecoveryAction = "RETRY"
	RecoveryActionSkip     RecoveryAction = "SKIP"
	RecoveryActionReject   RecoveryAction = "REJECT"
	RecoveryActionFallback RecoveryAction = "FALLBACK"
	RecoveryActionWait     RecoveryAction = "WAIT"
)

// GetRecoveryAction suggests a recovery action based on error category
func (e *BotError) GetRecoveryAction() RecoveryAction {
	switch e.Category {
	case ErrorCategoryConfiguration, ErrorCategoryValidation:
		return RecoveryActionReject
	case ErrorCategoryUnknownAsset:
		return RecoveryActionSkip
	case ErrorCategoryQuoteUnavailable:
		return RecoveryActionFallback
	case ErrorCategoryInsufficientData, ErrorCategoryExecutionFailed:
		// re-evaluated from scratch on the next tick
		return RecoveryActionWait
	case ErrorCategoryPersistenceFailed:
		return RecoveryActionRetry
	default:
		return RecoveryActionRetry
	}
}

// ErrorStats tracks error statistics
type ErrorStats struct {
	mu               sync.Mutex
	TotalErrors      int
	ErrorsByCategory map[ErrorCategory]int
	RecentErrors     []*BotError
	MaxRecentErrors  int
}

// NewErrorStats creates a new error statistics tracker
func NewErrorStats(maxRecentErrors int) *ErrorStats {
	return &ErrorStats{
		ErrorsByCategory: make(map[ErrorCategory]int),
		RecentErrors:     make([]*BotError, 0, maxRecentErrors),
		MaxRecentErrors:  maxRecentErrors,
	}
}

// RecordError records an error in the statistics
func (es *ErrorStats) RecordError(err *BotError) {
	if err == nil {
		return
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	es.TotalErrors++
	es.ErrorsByCategory[err.Category]++

	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > es.MaxRecentErrors {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate returns the error rate for a specific category
func (es *ErrorStats) GetErrorRate(category ErrorCategory) float64 {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.TotalErrors == 0 {
		return 0.0
	}
	return float64(es.ErrorsByCategory[category]) / float64(es.TotalErrors)
}

// HasRecentErrors checks if there have been errors in the recent history
func (es *ErrorStats) HasRecentErrors(category ErrorCategory, count int) bool {
	es.mu.Lock()
	defer es.mu.Unlock()

	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Category == category {
			recentCount++
		}
	}
	return recentCount >= count
}

// Counts returns a copy of the per-category counters
func (es *ErrorStats) Counts() map[ErrorCategory]int {
	es.mu.Lock()
	defer es.mu.Unlock()

	out := make(map[ErrorCategory]int, len(es.ErrorsByCategory))
	for k, v := range es.ErrorsByCategory {
		out[k] = v
	}
	return out
}

package recovery

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
)

// RecoveryHandler retries recoverable operations with backoff and keeps
// error statistics for the status view
type RecoveryHandler struct {
	errorStats    *errors.ErrorStats
	retryConfig   RetryConfig
	logger        Logger
	backoffConfig BackoffConfig
	sleep         func(ctx context.Context, d time.Duration) error
}

// RetryConfig defines retry behavior for different error categories.
// Categories missing from MaxRetries are never retried.
type RetryConfig struct {
	MaxRetries map[errors.ErrorCategory]int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// BackoffConfig defines backoff strategies
type BackoffConfig struct {
	Strategy   BackoffStrategy
	Multiplier float64
	Jitter     bool
}

// BackoffStrategy defines different backoff strategies
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
)

// Logger interface for recovery handler
type Logger interface {
	Info(format string, args ...interface{})
	LogWarning(component, message string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

// RecoveryResult represents the result of a recovery attempt
type RecoveryResult struct {
	Action     errors.RecoveryAction
	Delay      time.Duration
	ShouldStop bool
	Message    string
}

// DefaultRetryConfig retries persistence and quotes. Swaps are never
// retried here; the next tick re-evaluates from scratch.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: map[errors.ErrorCategory]int{
			errors.ErrorCategoryPersistenceFailed: 3,
			errors.ErrorCategoryQuoteUnavailable:  1,
		},
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  10 * time.Second,
	}
}

// NewRecoveryHandler creates a new recovery handler
func NewRecoveryHandler(logger Logger) *RecoveryHandler {
	return &RecoveryHandler{
		errorStats:  errors.NewErrorStats(50),
		retryConfig: DefaultRetryConfig(),
		logger:      logger,
		backoffConfig: BackoffConfig{
			Strategy:   BackoffExponential,
			Multiplier: 2,
			Jitter:     true,
		},
		sleep: sleepContext,
	}
}

// WithRetryConfig replaces the retry limits and delays
func (rh *RecoveryHandler) WithRetryConfig(cfg RetryConfig) *RecoveryHandler {
	rh.retryConfig = cfg
	return rh
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Record categorizes err and adds it to the statistics without retrying
func (rh *RecoveryHandler) Record(err error, fallback errors.ErrorCategory, component, operation string) *errors.BotError {
	botError := errors.Categorize(err, fallback, component, operation)
	rh.errorStats.RecordError(botError)
	return botError
}

// HandleError processes an error and returns a recovery strategy
func (rh *RecoveryHandler) HandleError(err error, component, operation string, attempt int) *RecoveryResult {
	botError := rh.Record(err, errors.ErrorCategoryPersistenceFailed, component, operation)
	rh.logError(botError, attempt)

	if rh.shouldStop(botError, attempt) {
		return &RecoveryResult{
			Action:     botError.GetRecoveryAction(),
			ShouldStop: true,
			Message:    rh.getStopReason(botError, attempt),
		}
	}

	action := botError.GetRecoveryAction()
	return &RecoveryResult{
		Action:  action,
		Delay:   rh.calculateDelay(attempt),
		Message: rh.getRecoveryMessage(action, botError, attempt),
	}
}

// shouldStop reports whether retrying must end for this error
func (rh *RecoveryHandler) shouldStop(botError *errors.BotError, attempt int) bool {
	if botError.IsFatal() {
		return true
	}
	maxRetries, exists := rh.retryConfig.MaxRetries[botError.Category]
	return !exists || attempt >= maxRetries
}

func (rh *RecoveryHandler) calculateDelay(attempt int) time.Duration {
	baseDelay := rh.retryConfig.BaseDelay

	var delay time.Duration
	switch rh.backoffConfig.Strategy {
	case BackoffExponential:
		multiplier := 1.0
		for i := 0; i < attempt; i++ {
			multiplier *= rh.backoffConfig.Multiplier
		}
		delay = time.Duration(float64(baseDelay) * multiplier)
	case BackoffLinear:
		delay = baseDelay * time.Duration(attempt+1)
	default:
		delay = baseDelay
	}

	if rh.retryConfig.MaxDelay > 0 && delay > rh.retryConfig.MaxDelay {
		delay = rh.retryConfig.MaxDelay
	}
	if rh.backoffConfig.Jitter {
		delay = addJitter(delay)
	}
	return delay
}

// addJitter adds up to 10% random jitter
func addJitter(delay time.Duration) time.Duration {
	jitter := int64(delay) / 10
	if jitter <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int63n(jitter))
}

func (rh *RecoveryHandler) logError(botError *errors.BotError, attempt int) {
	switch {
	case botError.IsFatal():
		rh.logger.Error("FATAL ERROR: %s", botError.Error())
	case attempt > 0:
		rh.logger.LogWarning("Error Recovery", "Attempt %d - %s", attempt+1, botError.Error())
	default:
		rh.logger.Debug("Error occurred: %s", botError.Error())
	}
}

func (rh *RecoveryHandler) getRecoveryMessage(action errors.RecoveryAction, botError *errors.BotError, attempt int) string {
	switch action {
	case errors.RecoveryActionRetry:
		return fmt.Sprintf("Retrying %s operation (attempt %d) after %s error",
			botError.Operation, attempt+2, botError.Category)
	case errors.RecoveryActionWait:
		return fmt.Sprintf("Waiting before retry due to %s", botError.Category)
	case errors.RecoveryActionFallback:
		return fmt.Sprintf("Retrying with fallback sources after %s error", botError.Category)
	default:
		return fmt.Sprintf("No recovery for %s error", botError.Category)
	}
}

func (rh *RecoveryHandler) getStopReason(botError *errors.BotError, attempt int) string {
	if botError.IsFatal() {
		return fmt.Sprintf("Fatal error in %s: %s", botError.Component, botError.Message)
	}
	maxRetries, exists := rh.retryConfig.MaxRetries[botError.Category]
	if !exists {
		return fmt.Sprintf("%s errors are not retried", botError.Category)
	}
	return fmt.Sprintf("Maximum retry attempts (%d) exceeded for %s errors", maxRetries, botError.Category)
}

// ExecuteWithRecovery runs fn, retrying recoverable failures with backoff
func (rh *RecoveryHandler) ExecuteWithRecovery(
	ctx context.Context,
	component, operation string,
	fn func(ctx context.Context) error,
) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				rh.logger.Info("Operation %s.%s succeeded after %d attempts", component, operation, attempt+1)
			}
			return nil
		}

		result := rh.HandleError(err, component, operation, attempt)
		if result.ShouldStop {
			if attempt > 0 {
				rh.logger.Error("Giving up %s.%s: %s", component, operation, result.Message)
			}
			return err
		}

		rh.logger.Debug("Waiting %v before retry: %s", result.Delay, result.Message)
		if err := rh.sleep(ctx, result.Delay); err != nil {
			return err
		}
	}
}

// GetErrorStats returns the current error statistics
func (rh *RecoveryHandler) GetErrorStats() *errors.ErrorStats {
	return rh.errorStats
}

// ResetStats resets error statistics
func (rh *RecoveryHandler) ResetStats() {
	rh.errorStats = errors.NewErrorStats(50)
}

// common/backoff/backoff.go
package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/YaganovValera/crypto-relay/common/logger"
)

// -----------------------------------------------------------------------------
// Metrics & service label
// -----------------------------------------------------------------------------

var (
	serviceLabel = "unknown"

	metrics = struct {
		Retries   *prometheus.CounterVec
		Failures  *prometheus.CounterVec
		Successes *prometheus.CounterVec
		Delays    *prometheus.HistogramVec
	}{
		Retries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "common", Subsystem: "backoff", Name: "retries_total",
				Help: "Number of back-off retry attempts",
			},
			[]string{"service"},
		),
		Failures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "common", Subsystem: "backoff", Name: "failures_total",
				Help: "Number of operations that gave up after retries",
			},
			[]string{"service"},
		),
		Successes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "common", Subsystem: "backoff", Name: "successes_total",
				Help: "Number of operations that eventually succeeded",
			},
			[]string{"service"},
		),
		Delays: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "common", Subsystem: "backoff", Name: "retry_delay_seconds",
				Help:    "Histogram of retry delays (seconds)",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
	}
)

// SetServiceLabel must be called once from common.InitServiceName(..)
// before the first Execute(..).  See common/service.go.
func SetServiceLabel(name string) { serviceLabel = name }

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

const (
	// StrategyExponential doubles (Multiplier) the delay on every retry.
	StrategyExponential = "exponential"
	// StrategyConstant waits InitialInterval between every attempt.
	StrategyConstant = "constant"
)

// Config contains tunables for the retry strategy.
//
// All zero values are treated as “use reasonable default”.
type Config struct {
	// Strategy is "exponential" (default) or "constant".
	Strategy string `mapstructure:"strategy"`

	// InitialInterval is the first delay before retrying. For the constant
	// strategy it is the delay between every two attempts.
	InitialInterval time.Duration `mapstructure:"initial_interval"`

	// RandomizationFactor adds ±jitter to each delay.
	// Accepted range: 0.0 ≤ f ≤ 1.0
	RandomizationFactor float64 `mapstructure:"randomization_factor"`

	// Multiplier multiplies the previous delay to get the next one
	// ( e.g. 2 → doubles on every retry ).
	Multiplier float64 `mapstructure:"multiplier"`

	// MaxInterval caps each individual delay.
	MaxInterval time.Duration `mapstructure:"max_interval"`

	// MaxElapsedTime is the total time allowed for all retries
	// before giving up.  Zero → unlimited.
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time"`

	// MaxRetries bounds the number of retries after the first attempt.
	// Zero → unlimited.
	MaxRetries int `mapstructure:"max_retries"`

	// PerAttemptTimeout limits the execution time of every single
	// user function call.  Zero → no per-attempt timeout.
	PerAttemptTimeout time.Duration `mapstructure:"per_attempt_timeout"`
}

// applyDefaults fills cfg with safe defaults in-place.
func (c *Config) applyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyExponential
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.RandomizationFactor <= 0 {
		c.RandomizationFactor = 0.5
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
}

// validate performs cheap sanity checks.
func (c Config) validate() error {
	switch c.Strategy {
	case StrategyExponential, StrategyConstant:
	default:
		return fmt.Errorf("backoff: unknown Strategy %q", c.Strategy)
	}
	if c.RandomizationFactor < 0 || c.RandomizationFactor > 1 {
		return fmt.Errorf("backoff: RandomizationFactor must be in [0,1]")
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("backoff: Multiplier must be ≥ 1")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("backoff: MaxRetries must be ≥ 0")
	}
	return nil
}

// RetryableFunc is a unit of work that may be re-executed until it
// succeeds or the back-off strategy gives up.
type RetryableFunc func(ctx context.Context) error

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// ErrMaxRetries is returned from Execute(..) when the function was still
// failing after all retries were exhausted.
type ErrMaxRetries struct {
	Err      error // last error returned by fn
	Attempts int   // number of attempts performed
}

func (e *ErrMaxRetries) Error() string {
	return fmt.Sprintf("backoff: %d attempt(s) failed: %v", e.Attempts, e.Err)
}
func (e *ErrMaxRetries) Unwrap() error { return e.Err }

// Permanent marks an error as non-retryable.
func Permanent(err error) error { return backoff.Permanent(err) }

// -----------------------------------------------------------------------------
// Core
// -----------------------------------------------------------------------------

func newStrategy(cfg Config) backoff.BackOff {
	var bo backoff.BackOff
	switch cfg.Strategy {
	case StrategyConstant:
		bo = backoff.NewConstantBackOff(cfg.InitialInterval)
	default:
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = cfg.InitialInterval
		exp.RandomizationFactor = cfg.RandomizationFactor
		exp.Multiplier = cfg.Multiplier
		exp.MaxInterval = cfg.MaxInterval
		// 0 у cenkalti означает «без ограничения»
		exp.MaxElapsedTime = cfg.MaxElapsedTime
		exp.Reset()
		bo = exp
	}
	if cfg.MaxRetries > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(cfg.MaxRetries))
	}
	return bo
}

// Execute runs fn() with the back-off defined by cfg, emitting
// Prometheus metrics and structured logs via log.
//
// Context cancellation is returned as is; exhausting the strategy yields
// *ErrMaxRetries; a Permanent error stops retrying and is returned unwrapped.
func Execute(ctx context.Context, cfg Config, log *logger.Logger, fn RetryableFunc) error {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("backoff: invalid config: %w", err)
	}
	boCtx := backoff.WithContext(newStrategy(cfg), ctx)

	attempts := 0
	permanent := false
	operation := func() error {
		attempts++
		var err error
		if cfg.PerAttemptTimeout > 0 {
			atCtx, cancel := context.WithTimeout(ctx, cfg.PerAttemptTimeout)
			err = fn(atCtx)
			cancel()
		} else {
			err = fn(ctx)
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		metrics.Retries.WithLabelValues(serviceLabel).Inc()
		metrics.Delays.WithLabelValues(serviceLabel).Observe(delay.Seconds())
		log.Warn("back-off retry",
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(operation, boCtx, notify)
	switch {
	case err == nil:
		metrics.Successes.WithLabelValues(serviceLabel).Inc()
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case permanent:
		return err
	}

	metrics.Failures.WithLabelValues(serviceLabel).Inc()
	log.Error("back-off give-up",
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return &ErrMaxRetries{Err: err, Attempts: attempts}
}

package resilience

import (
	"time"

	"github.com/sells-group/finrecon/internal/config"
)

// OracleRetry builds the retry policy for extraction oracle calls.
func OracleRetry(cfg config.AnthropicConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}
	rc.OnRetry = RetryLogger("anthropic", "extract")
	return rc
}

// OracleBreaker builds the circuit breaker guarding the extraction oracle.
func OracleBreaker(cfg config.AnthropicConfig) *Breaker {
	bc := DefaultBreakerConfig("anthropic")
	if cfg.BreakerFailures > 0 {
		bc.FailureThreshold = uint32(cfg.BreakerFailures)
	}
	if cfg.BreakerCooldown > 0 {
		bc.Cooldown = time.Duration(cfg.BreakerCooldown) * time.Second
	}
	return NewBreaker(bc)
}

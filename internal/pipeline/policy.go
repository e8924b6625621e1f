package pipeline

import (
	"time"

	"github.com/dyike/AurumGo/config"
	"github.com/dyike/AurumGo/internal/retry"
)

// PolicyFromConfig builds the retry policy shared by model calls and page
// navigation.
func PolicyFromConfig(cfg *config.Config) retry.Policy {
	p := retry.DefaultPolicy()
	if cfg == nil {
		return p
	}
	p.MaxAttempts = cfg.RetryMaxAttempts
	p.BaseDelay = time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond
	p.RateLimitDelay = time.Duration(cfg.RetryRateLimitDelayMs) * time.Millisecond
	p.MaxDelay = time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond
	p.AttemptTimeout = cfg.LLMTimeout()
	return p
}

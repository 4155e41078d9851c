package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
)

// WaitReady probes the client until it reports healthy or timeout elapses.
// Clients that do not implement HealthChecker are assumed ready.
func WaitReady(ctx context.Context, client LLMClient, timeout time.Duration) error {
	hc, ok := client.(HealthChecker)
	if !ok {
		return nil
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := uint(timeout / time.Second)
	if attempts < 1 {
		attempts = 1
	}
	err := retry.Do(
		func() error {
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return hc.HealthCheck(probeCtx)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("%s (%s) not ready after %s: %w", client.Name(), client.Model(), timeout, err)
	}
	return nil
}

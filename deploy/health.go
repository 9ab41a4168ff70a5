package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/als-computing/otter/capability"
)

const healthCheckTimeout = 10 * time.Second

// HealthGate verifies every data source that requires a health check.
// Any failure aborts startup so a misconfigured archive surfaces
// immediately instead of during the first chat turn.
func HealthGate(ctx context.Context, sources []capability.DataSource, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, src := range sources {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := src.HealthCheck(checkCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("data source %s failed health check: %w", src.Name(), err)
		}
		logger.Info("Data source healthy", "source", src.Name())
	}
	return nil
}

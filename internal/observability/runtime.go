package observability

import (
	"context"
	"log/slog"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Kzoeps/maearth-test/internal/config"
)

// Runtime bundles the observability providers that need flushing at
// shutdown.
type Runtime struct {
	TracerProvider *sdktrace.TracerProvider
}

func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	tp, err := InitTracing(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Runtime{TracerProvider: tp}, nil
}

// Shutdown flushes providers. Safe on a nil or partially initialized
// runtime.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil || r.TracerProvider == nil {
		return nil
	}
	return r.TracerProvider.Shutdown(ctx)
}

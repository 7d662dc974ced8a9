package observability

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// FlushConfig says where a finished run's metrics go. Empty fields are skipped.
type FlushConfig struct {
	PushgatewayURL string
	Job            string
	TextfilePath   string
}

// FlushTelemetry delivers metrics for a finished run and flushes logs.
// A batch process exits before any scrape, so metrics are pushed to a
// Pushgateway and/or written for the node_exporter textfile collector.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, cfg FlushConfig) error {
	var errs []error
	if cfg.PushgatewayURL != "" {
		job := cfg.Job
		if job == "" {
			job = ServiceName
		}
		if err := push.New(cfg.PushgatewayURL, job).Gatherer(registry).PushContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("push metrics: %w", err))
		}
	}
	if cfg.TextfilePath != "" {
		if err := prometheus.WriteToTextfile(cfg.TextfilePath, registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics textfile: %w", err))
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}

package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	coursegrpc "semaphore/coursework/internal/grpc"
	"semaphore/coursework/internal/telemetry"
)

type HealthProbeConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// RunHealthProbe probes once immediately and then on every tick until ctx is
// done. Outcomes feed the gRPC health status and the dependency_up gauge.
func RunHealthProbe(ctx context.Context, cfg HealthProbeConfig, reporter *coursegrpc.HealthReporter, probes []coursegrpc.Probe, metrics *telemetry.Metrics, log zerolog.Logger) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	log = telemetry.Component(log, "health_probe")

	tick := func() {
		tickCtx, cancel := context.WithTimeout(ctx, timeout)
		failures := reporter.Update(tickCtx, probes)
		cancel()
		for _, p := range probes {
			err := failures[p.Name]
			metrics.SetDependencyUp(p.Name, err == nil)
			if err != nil {
				log.Warn().Err(err).Str("dependency", p.Name).Msg("dependency probe failed")
			}
		}
	}

	tick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// StartHealthProbe runs RunHealthProbe in its own goroutine.
func StartHealthProbe(ctx context.Context, cfg HealthProbeConfig, reporter *coursegrpc.HealthReporter, probes []coursegrpc.Probe, metrics *telemetry.Metrics, log zerolog.Logger) {
	go RunHealthProbe(ctx, cfg, reporter, probes, metrics, log)
}

package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service key reported for the coursework API.
const ServiceName = "semaphore.coursework.v1.Coursework"

// Probe checks one dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthReporter serves grpc.health.v1 and flips the coursework service
// between SERVING and NOT_SERVING from probe outcomes.
type HealthReporter struct {
	server *health.Server
}

func NewHealthReporter() *HealthReporter {
	server := health.NewServer()
	server.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{server: server}
}

func (r *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.server)
}

// Update runs every probe and returns the failures keyed by probe name.
func (r *HealthReporter) Update(ctx context.Context, probes []Probe) map[string]error {
	failures := map[string]error{}
	for _, p := range probes {
		if err := p.Check(ctx); err != nil {
			failures[p.Name] = err
		}
	}
	status := healthpb.HealthCheckResponse_SERVING
	if len(failures) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.server.SetServingStatus(ServiceName, status)
	r.server.SetServingStatus("", status)
	return failures
}

// Shutdown marks everything NOT_SERVING ahead of a graceful stop.
func (r *HealthReporter) Shutdown() {
	r.server.Shutdown()
}

// Check answers a health query in-process; used by the HTTP readiness route.
func (r *HealthReporter) Check(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := r.server.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

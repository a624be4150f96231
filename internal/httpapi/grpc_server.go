package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"glgapp.org/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer exposes the standard gRPC health service. Its status follows
// the HTTP readiness probe for both the empty service name and glg-api.
type HealthServer struct {
	srv       *health.Server
	readiness readinessChecker
}

// NewHealthServer starts in NOT_SERVING until the first Refresh.
func NewHealthServer(r readinessChecker) *HealthServer {
	s := &HealthServer{srv: health.NewServer(), readiness: r}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register attaches the health service to g.
func (s *HealthServer) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.srv)
}

// Refresh runs the readiness probe once and publishes the result.
func (s *HealthServer) Refresh(ctx context.Context) error {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	obs.SetReady(true)
	s.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run refreshes every interval until ctx is done, then marks the service as
// shutting down.
func (s *HealthServer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			obs.Warn("grpc health refresh failed", map[string]any{"error": err})
		}
		select {
		case <-ctx.Done():
			s.srv.Shutdown()
			return
		case <-t.C:
		}
	}
}

func (s *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.srv.SetServingStatus("", status)
	s.srv.SetServingStatus(serviceName, status)
}

package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/obs"
)

// HealthServer publishes database readiness over the standard gRPC health
// protocol, both for the empty service name and for serviceName.
type HealthServer struct {
	srv   *health.Server
	ready ReadyProbe
}

func NewHealthServer(ready ReadyProbe) *HealthServer {
	h := &HealthServer{srv: health.NewServer(), ready: ready}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Refresh runs the probe once and publishes the outcome.
func (h *HealthServer) Refresh(ctx context.Context) error {
	if err := h.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run refreshes every interval until ctx is done, then reports shutdown so
// watchers stop routing to this instance.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, interval/2)
		defer cancel()
		if err := h.Refresh(pctx); err != nil && ctx.Err() == nil {
			obs.Logger().WarnContext(ctx, "grpc_health_not_serving", "error", obs.Redact(err.Error()))
		}
	}
	probe()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-t.C:
			probe()
		}
	}
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}

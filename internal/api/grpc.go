package api

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the engine.
const ServiceName = "dupharvest.Engine"

// HealthServer exposes grpc.health.v1.Health for the running engine.
type HealthServer struct {
	addr   string
	srv    *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// NewHealthServer creates a gRPC server with the standard health service registered.
func NewHealthServer(addr string, logger zerolog.Logger) *HealthServer {
	h := &HealthServer{
		addr:   addr,
		srv:    grpc.NewServer(),
		health: health.NewServer(),
		logger: logger.With().Str("component", "grpc").Logger(),
	}
	healthpb.RegisterHealthServer(h.srv, h.health)
	h.SetServing(false)
	return h
}

// SetServing flips the reported status of the engine service.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(ServiceName, status)
	h.health.SetServingStatus("", status)
}

// Run listens on the configured address and serves until the context is cancelled.
func (h *HealthServer) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", h.addr, err)
	}
	return h.Serve(ctx, lis)
}

// Serve serves on an existing listener until the context is cancelled.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		h.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server starting")
		errCh <- h.srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	h.health.Shutdown()
	h.srv.GracefulStop()
	h.logger.Info().Msg("gRPC health server exited")
	return nil
}

package server

import (
	"context"
	"fmt"
	"net"

	"StockMesh/internal/observability"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer exposes the standard gRPC health and reflection services, which
// is what orchestrators probe and grpcurl/grpcui introspect. The JSON API is
// the query surface; this endpoint exists for infrastructure.
type GRPCServer struct {
	addr   string
	server *grpc.Server
	hs     *health.Server
	hc     *observability.HealthChecker
	log    zerolog.Logger
}

// NewGRPCServer creates a gRPC server with health and reflection registered.
func NewGRPCServer(addr string, hc *observability.HealthChecker, log zerolog.Logger) *GRPCServer {
	server := grpc.NewServer()

	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(server)

	return &GRPCServer{
		addr:   addr,
		server: server,
		hs:     hs,
		hc:     hc,
		log:    log.With().Str("component", "grpc-server").Logger(),
	}
}

// SetServing flips the reported health status. Called once startup completes
// and again on shutdown.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.hs.SetServingStatus("", status)
}

// Run serves until ctx is cancelled (blocking).
func (s *GRPCServer) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen on %s: %w", s.addr, err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.SetServing(false)
		s.server.GracefulStop()
	}()

	s.log.Info().Str("addr", s.addr).Msg("gRPC server listening")
	if err := s.server.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

package registry

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/orc-run/agentmesh/internal/telemetry"
)

// GRPCHealthChecker probes a remote agent's standard gRPC health-checking
// protocol (grpc.health.v1.Health), used for agents deployed behind a
// control-plane sidecar that exposes liveness over gRPC rather than the
// A2A HTTP surface. Card carries no gRPC health endpoint field and no
// component of this module calls Check automatically; the caller passes
// the target explicitly.
type GRPCHealthChecker struct {
	dialTimeout time.Duration
	logger      telemetry.Logger
}

// NewGRPCHealthChecker constructs a GRPCHealthChecker.
func NewGRPCHealthChecker(logger telemetry.Logger) *GRPCHealthChecker {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &GRPCHealthChecker{dialTimeout: 5 * time.Second, logger: logger}
}

// Check dials target and issues a Health/Check RPC for service (empty
// string checks overall server health), returning true if the remote
// reports SERVING.
func (h *GRPCHealthChecker) Check(ctx context.Context, target, service string) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, h.dialTimeout)
	defer cancel()

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return false, fmt.Errorf("dialing %s for health check: %w", target, err)
	}
	defer func() { _ = conn.Close() }()

	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(dialCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING, nil
}

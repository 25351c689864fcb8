package client

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

// GRPCClient checks command center health over the standard grpc.health.v1
// service.
type GRPCClient struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
	token   string
}

var _ HealthChecker = (*GRPCClient)(nil)

// NewGRPCClient connects to addr. service is the health service name to query;
// empty asks about the server as a whole.
func NewGRPCClient(addr, service, token string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
		service: service,
		token:   token,
	}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// Health maps SERVING to "ok" and any other status to its lower-cased name.
func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Check(ctx, &healthpb.HealthCheckRequest{Service: c.service})
	if err != nil {
		return "", fmt.Errorf("grpc health check: %w", err)
	}
	if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
		return "ok", nil
	}
	return strings.ToLower(resp.GetStatus().String()), nil
}

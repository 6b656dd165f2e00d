package recognizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultDialTimeout = 3 * time.Second

type ClientConfig struct {
	Endpoint    string
	DialTimeout time.Duration
}

// Client calls a recognition service over gRPC. It implements Service.
type Client struct {
	endpoint string
	conn     *grpc.ClientConn
}

var _ Service = (*Client)(nil)

// Dial connects to cfg.Endpoint and waits until the connection is ready.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("recognizer endpoint is empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial recognizer grpc %q: %w", endpoint, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for recognizer grpc readiness: %w", err)
	}

	return &Client{endpoint: endpoint, conn: conn}, nil
}

func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) UploadAudio(ctx context.Context, upload Upload) (UploadResponse, error) {
	req, err := encodeUpload(upload)
	if err != nil {
		return UploadResponse{}, &NetworkError{Op: "upload audio", Err: err}
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, uploadMethod, req, resp); err != nil {
		return UploadResponse{}, &NetworkError{Op: "upload audio", Err: err}
	}
	return decodeUploadResponse(resp), nil
}

func (c *Client) PollResult(ctx context.Context, query Query) (PollResponse, error) {
	req, err := encodeQuery(query)
	if err != nil {
		return PollResponse{}, &NetworkError{Op: "poll result", Err: err}
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, pollMethod, req, resp); err != nil {
		return PollResponse{}, &NetworkError{Op: "poll result", Err: err}
	}
	return decodePollResponse(resp), nil
}

// Health runs the standard gRPC health check for the recognizer service.
func (c *Client) Health(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("recognizer is %s", resp.GetStatus())
	}
	return nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

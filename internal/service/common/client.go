//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	api "github.com/oshokin/door-monitor/internal/api/grpc/door"
	"github.com/oshokin/door-monitor/internal/config"
	"github.com/oshokin/door-monitor/internal/domain/door"
)

// Client wraps the DoorMonitorService connection with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the door monitor.
	conn grpc.ClientConnInterface
	// closer releases conn, nil for borrowed connections.
	closer func() error

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errStateRequired is returned when a report carries no state.
	errStateRequired = errors.New("state must be provided")
	// errInstanceRequired is returned when an instance id is missing.
	errInstanceRequired = errors.New("instance id must be provided")
)

// Dial establishes a gRPC connection to the door monitor.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy until native TLS is added.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	// Use the non-context NewClient API recommended by grpc-go
	// (DialContext is deprecated as of grpc-go v1.60+).
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial door monitor: %w", err)
	}

	client := NewClient(conn, opts...)
	client.closer = conn.Close

	return client, nil
}

// NewClient wraps an existing connection. Close does not close it.
func NewClient(conn grpc.ClientConnInterface, opts ...Option) *Client {
	client := &Client{
		conn:        conn,
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}

	return c.closer()
}

// ReportState pushes a sensor state to the monitor.
func (c *Client) ReportState(ctx context.Context, state string, actor *door.Actor) (*api.ReportReply, error) {
	if state == "" {
		return nil, errStateRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	reply := new(structpb.Struct)
	if err := c.conn.Invoke(callCtx, api.ReportStateMethod, api.NewReportRequest(state, actor), reply); err != nil {
		return nil, fmt.Errorf("report state: %w", err)
	}

	return api.DecodeReportReply(reply), nil
}

// GetInstanceStatus retrieves a monitoring instance.
func (c *Client) GetInstanceStatus(ctx context.Context, id string) (*api.InstanceStatus, error) {
	if id == "" {
		return nil, errInstanceRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	reply := new(structpb.Struct)
	if err := c.conn.Invoke(callCtx, api.GetInstanceStatusMethod, wrapperspb.String(id), reply); err != nil {
		return nil, fmt.Errorf("get instance status: %w", err)
	}

	return api.DecodeInstanceStatus(reply)
}

// TerminateInstance stops a running monitoring instance.
func (c *Client) TerminateInstance(ctx context.Context, id, reason string) error {
	if id == "" {
		return errInstanceRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	err := c.conn.Invoke(callCtx, api.TerminateInstanceMethod, api.NewTerminateRequest(id, reason), new(emptypb.Empty))
	if err != nil {
		return fmt.Errorf("terminate instance: %w", err)
	}

	return nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

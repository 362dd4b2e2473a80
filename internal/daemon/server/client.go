package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/autopanel-io/autopanel/internal/models"
	"github.com/autopanel-io/autopanel/internal/replay"
)

// Client calls PanelService on a running daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon described by info.
func Dial(info *models.DaemonInfo) (*Client, error) {
	if info == nil {
		return nil, fmt.Errorf("daemon not running")
	}
	addr := fmt.Sprintf("%s:%d", info.Host, info.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invokeStruct(ctx context.Context, method string, in any, out any) error {
	reply := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, fullMethod(method), in, reply); err != nil {
		return err
	}
	return fromStruct(reply, out)
}

// GetStatus returns the daemon status.
func (c *Client) GetStatus(ctx context.Context) (*StatusInfo, error) {
	var st StatusInfo
	if err := c.invokeStruct(ctx, "GetStatus", &emptypb.Empty{}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListSessions lists recent sessions. limit <= 0 uses the daemon's default.
func (c *Client) ListSessions(ctx context.Context, limit int) (*SessionList, error) {
	var list SessionList
	if err := c.invokeStruct(ctx, "ListSessions", wrapperspb.Int32(int32(limit)), &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// RenderSession renders one session.
func (c *Client) RenderSession(ctx context.Context, sessionID string) (*replay.Trajectory, error) {
	var t replay.Trajectory
	if err := c.invokeStruct(ctx, "RenderSession", wrapperspb.String(sessionID), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// StartTask starts a task on the daemon.
func (c *Client) StartTask(ctx context.Context, req StartTaskRequest) (*models.TaskStatus, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	var st models.TaskStatus
	if err := c.invokeStruct(ctx, "StartTask", in, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// StopTask stops the running task and returns its final status.
func (c *Client) StopTask(ctx context.Context) (*models.TaskStatus, error) {
	var st models.TaskStatus
	if err := c.invokeStruct(ctx, "StopTask", &emptypb.Empty{}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// DeviceStatus returns the attached devices as seen by the daemon.
func (c *Client) DeviceStatus(ctx context.Context) (*DeviceReport, error) {
	var rep DeviceReport
	if err := c.invokeStruct(ctx, "DeviceStatus", &emptypb.Empty{}, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.conn.Invoke(ctx, fullMethod("Shutdown"), &emptypb.Empty{}, &emptypb.Empty{})
}

// StreamOutput calls fn for each visible console line of the running task
// until the task exits or ctx is cancelled.
func (c *Client) StreamOutput(ctx context.Context, fn func(line string)) error {
	stream, err := c.conn.NewStream(ctx, &PanelServiceDesc.Streams[0], fullMethod("StreamOutput"))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		line := &wrapperspb.StringValue{}
		if err := stream.RecvMsg(line); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fn(line.GetValue())
	}
}

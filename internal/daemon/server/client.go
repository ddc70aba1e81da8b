package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nine-chronicles/launcher/internal/config"
	"github.com/nine-chronicles/launcher/internal/daemon/bus"
)

// Client talks to a running launcher.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the launcher at addr (host:port).
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to launcher: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Connect dials the launcher recorded in instance.yaml.
func Connect() (*Client, error) {
	info, err := config.LoadInstanceInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to load instance info: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("launcher not running")
	}
	return Dial(info.Address())
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// DownloadSnapshot starts a snapshot download. An empty url uses the
// configured snapshot URL.
func (c *Client) DownloadSnapshot(ctx context.Context, url string) (map[string]any, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if url != "" {
		req.Fields["url"] = structpb.NewStringValue(url)
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, MethodDownloadSnapshot, req, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// LaunchGame starts the game client with args.
func (c *Client) LaunchGame(ctx context.Context, args []string) (map[string]any, error) {
	values := make([]*structpb.Value, 0, len(args))
	for _, a := range args {
		values = append(values, structpb.NewStringValue(a))
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"args": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, MethodLaunchGame, req, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// ClearCache deletes the blockchain store.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.conn.Invoke(ctx, MethodClearCache, &emptypb.Empty{}, &emptypb.Empty{})
}

// ShowWindow asks the launcher to show its window.
func (c *Client) ShowWindow(ctx context.Context) error {
	return c.conn.Invoke(ctx, MethodShowWindow, &emptypb.Empty{}, &emptypb.Empty{})
}

// MinimizeWindow hides the launcher window to the tray.
func (c *Client) MinimizeWindow(ctx context.Context) error {
	return c.conn.Invoke(ctx, MethodMinimizeWindow, &emptypb.Empty{}, &emptypb.Empty{})
}

// RequestClose sends the window's close request. It reports whether the
// launcher terminated rather than hiding to the tray.
func (c *Client) RequestClose(ctx context.Context) (bool, error) {
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, MethodRequestClose, &emptypb.Empty{}, out); err != nil {
		return false, err
	}
	return out.GetFields()["closed"].GetBoolValue(), nil
}

// Quit asks the launcher to exit.
func (c *Client) Quit(ctx context.Context) error {
	return c.conn.Invoke(ctx, MethodQuit, &emptypb.Empty{}, &emptypb.Empty{})
}

// Status returns the launcher status.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, MethodGetStatus, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// EventStream receives launcher events.
type EventStream struct {
	stream grpc.ClientStream
}

// Subscribe opens an event stream. Cancel ctx to close it.
func (c *Client) Subscribe(ctx context.Context) (*EventStream, error) {
	stream, err := c.conn.NewStream(ctx, &LauncherServiceDesc.Streams[0], MethodSubscribe)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}

// Recv blocks for the next event.
func (s *EventStream) Recv() (bus.Event, error) {
	msg := &structpb.Struct{}
	if err := s.stream.RecvMsg(msg); err != nil {
		return bus.Event{}, err
	}
	return StructToEvent(msg), nil
}

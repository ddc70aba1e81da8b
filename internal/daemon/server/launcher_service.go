package server

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nine-chronicles/launcher/internal/daemon/bus"
	"github.com/nine-chronicles/launcher/internal/daemon/launcher"
	"github.com/nine-chronicles/launcher/internal/daemon/loop"
	"github.com/nine-chronicles/launcher/internal/daemon/process"
)

// Dispatcher is the orchestrator as seen by the server.
type Dispatcher interface {
	Handle(ctx context.Context, cmd bus.Command) (launcher.Result, error)
	Subscribe() *bus.Subscription
	Unsubscribe(sub *bus.Subscription)
}

// ============================================================================
// Service Implementation
// ============================================================================

type launcherService struct {
	d Dispatcher
}

func (s *launcherService) DownloadSnapshot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cmd := bus.Command{Kind: bus.CmdDownloadSnapshot}
	if v, ok := req.GetFields()["url"]; ok {
		cmd.Download.URL = v.GetStringValue()
	}

	res, err := s.d.Handle(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStructOrInternal(launcher.JobFields(*res.Job))
}

func (s *launcherService) LaunchGame(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cmd := bus.Command{Kind: bus.CmdLaunchGame}
	if v, ok := req.GetFields()["args"]; ok {
		list := v.GetListValue()
		if list == nil {
			return nil, status.Error(codes.InvalidArgument, "args must be a list of strings")
		}
		for _, a := range list.GetValues() {
			sv, ok := a.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "args must be a list of strings")
			}
			cmd.Args = append(cmd.Args, sv.StringValue)
		}
	}

	res, err := s.d.Handle(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStructOrInternal(launcher.ProcessFields(*res.Process))
}

func (s *launcherService) ClearCache(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if _, err := s.d.Handle(ctx, bus.Command{Kind: bus.CmdClearCache}); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *launcherService) ShowWindow(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if _, err := s.d.Handle(ctx, bus.Command{Kind: bus.CmdShowWindow}); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *launcherService) MinimizeWindow(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if _, err := s.d.Handle(ctx, bus.Command{Kind: bus.CmdMinimizeWindow}); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *launcherService) RequestClose(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	res, err := s.d.Handle(ctx, bus.Command{Kind: bus.CmdCloseWindow})
	if err != nil {
		return nil, toStatus(err)
	}
	return newStructOrInternal(map[string]any{"closed": res.Closed})
}

func (s *launcherService) Quit(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if _, err := s.d.Handle(ctx, bus.Command{Kind: bus.CmdQuit}); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *launcherService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	res, err := s.d.Handle(ctx, bus.Command{Kind: bus.CmdStatus})
	if err != nil {
		return nil, toStatus(err)
	}
	return newStructOrInternal(res.Status.Fields())
}

func (s *launcherService) Subscribe(_ *emptypb.Empty, stream grpc.ServerStream) error {
	sub := s.d.Subscribe()
	defer s.d.Unsubscribe(sub)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				if sub.Dropped() {
					return status.Error(codes.ResourceExhausted, "event subscriber fell behind")
				}
				return nil
			}
			msg, err := EventToStruct(ev)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// ============================================================================
// Conversion Helpers
// ============================================================================

// EventToStruct encodes an event for the wire.
func EventToStruct(ev bus.Event) (*structpb.Struct, error) {
	m := ev.Fields()
	m["seq"] = float64(ev.Seq)
	m["kind"] = string(ev.Kind)
	m["time"] = ev.Time.Format(time.RFC3339Nano)
	return structpb.NewStruct(m)
}

// StructToEvent decodes an event received from the wire.
func StructToEvent(s *structpb.Struct) bus.Event {
	f := s.GetFields()
	ev := bus.Event{
		Seq:      uint64(f["seq"].GetNumberValue()),
		Kind:     bus.EventKind(f["kind"].GetStringValue()),
		JobID:    f["job_id"].GetStringValue(),
		Fraction: f["fraction"].GetNumberValue(),
		Path:     f["path"].GetStringValue(),
		Phase:    f["phase"].GetStringValue(),
		Error:    f["error"].GetStringValue(),
		Visible:  f["visible"].GetBoolValue(),
	}
	if t, err := time.Parse(time.RFC3339Nano, f["time"].GetStringValue()); err == nil {
		ev.Time = t
	}
	if code, ok := f["code"]; ok {
		ev.Code = int(code.GetNumberValue())
		ev.HasCode = true
	}
	return ev
}

func newStructOrInternal(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

// toStatus maps orchestrator errors onto gRPC status codes.
func toStatus(err error) error {
	var (
		spawnErr *process.SpawnError
		clearErr *launcher.CacheClearError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, bus.ErrUnknownCommand),
		errors.Is(err, launcher.ErrNoSnapshotURL),
		errors.Is(err, launcher.ErrInvalidSnapshotURL):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &spawnErr):
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return status.Error(codes.NotFound, err.Error())
		}
		if errors.Is(err, os.ErrPermission) {
			return status.Error(codes.PermissionDenied, err.Error())
		}
		return status.Error(codes.Internal, err.Error())
	case errors.As(err, &clearErr):
		if clearErr.Reason == launcher.ReasonBusy {
			return status.Error(codes.FailedPrecondition, err.Error())
		}
		if errors.Is(err, os.ErrPermission) {
			return status.Error(codes.PermissionDenied, err.Error())
		}
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, loop.ErrStopped):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

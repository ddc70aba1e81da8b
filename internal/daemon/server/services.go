package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ============================================================================
// gRPC Service Definition (hand-written; messages are well-known types)
// ============================================================================

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "launcher.v1.Launcher"

// Full method names.
const (
	MethodDownloadSnapshot = "/" + ServiceName + "/DownloadSnapshot"
	MethodLaunchGame       = "/" + ServiceName + "/LaunchGame"
	MethodClearCache       = "/" + ServiceName + "/ClearCache"
	MethodShowWindow       = "/" + ServiceName + "/ShowWindow"
	MethodMinimizeWindow   = "/" + ServiceName + "/MinimizeWindow"
	MethodRequestClose     = "/" + ServiceName + "/RequestClose"
	MethodQuit             = "/" + ServiceName + "/Quit"
	MethodGetStatus        = "/" + ServiceName + "/GetStatus"
	MethodSubscribe        = "/" + ServiceName + "/Subscribe"
)

// LauncherServer is the server interface for the Launcher service.
//
// DownloadSnapshot takes {"url": string} and returns the job.
// LaunchGame takes {"args": [string]} and returns the game process.
// RequestClose is the window's close button and returns {"closed": bool};
// closed is false when the window was only hidden to the tray.
// Subscribe streams events as {"seq", "kind", "time", ...payload}.
type LauncherServer interface {
	DownloadSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LaunchGame(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearCache(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	ShowWindow(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	MinimizeWindow(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	RequestClose(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Quit(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Subscribe(*emptypb.Empty, grpc.ServerStream) error
}

// LauncherServiceDesc describes the Launcher service to grpc.Server.
var LauncherServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LauncherServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("DownloadSnapshot", newStruct, LauncherServer.DownloadSnapshot),
		unary("LaunchGame", newStruct, LauncherServer.LaunchGame),
		unary("ClearCache", newEmpty, LauncherServer.ClearCache),
		unary("ShowWindow", newEmpty, LauncherServer.ShowWindow),
		unary("MinimizeWindow", newEmpty, LauncherServer.MinimizeWindow),
		unary("RequestClose", newEmpty, LauncherServer.RequestClose),
		unary("Quit", newEmpty, LauncherServer.Quit),
		unary("GetStatus", newEmpty, LauncherServer.GetStatus),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "launcher/v1/launcher.proto",
}

// RegisterLauncherServer registers srv with the gRPC server.
func RegisterLauncherServer(s grpc.ServiceRegistrar, srv LauncherServer) {
	s.RegisterService(&LauncherServiceDesc, srv)
}

func newStruct() *structpb.Struct { return &structpb.Struct{} }

func newEmpty() *emptypb.Empty { return &emptypb.Empty{} }

func unary[Req, Resp proto.Message](
	name string,
	newReq func() Req,
	call func(LauncherServer, context.Context, Req) (Resp, error),
) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LauncherServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LauncherServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(LauncherServer).Subscribe(in, stream)
}

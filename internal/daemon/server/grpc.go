package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/autopanel-io/autopanel/internal/daemon/agent"
	"github.com/autopanel-io/autopanel/internal/trajectory"
)

// PanelServiceName is the fully qualified gRPC service name.
const PanelServiceName = "autopanel.v1.PanelService"

// PanelServiceServer is the server interface for PanelService. Payloads are
// well-known protobuf types; structured replies carry the same JSON objects
// as the HTTP API.
type PanelServiceServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListSessions(context.Context, *wrapperspb.Int32Value) (*structpb.Struct, error)
	RenderSession(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	StartTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopTask(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StreamOutput(*emptypb.Empty, grpc.ServerStreamingServer[wrapperspb.StringValue]) error
	DeviceStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

func newEmpty() *emptypb.Empty { return new(emptypb.Empty) }
func newStruct() *structpb.Struct { return new(structpb.Struct) }
func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
func newInt32() *wrapperspb.Int32Value { return new(wrapperspb.Int32Value) }
func fullMethod(name string) string { return "/" + PanelServiceName + "/" + name }

func unary[Req proto.Message](name string, newReq func() Req, call func(PanelServiceServer, context.Context, Req) (proto.Message, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(PanelServiceServer), ctx, req.(Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}, handler)
		},
	}
}

func streamOutputHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(PanelServiceServer).StreamOutput(in, &grpc.GenericServerStream[emptypb.Empty, wrapperspb.StringValue]{ServerStream: stream})
}

// PanelServiceDesc is the grpc.ServiceDesc for PanelService.
var PanelServiceDesc = grpc.ServiceDesc{
	ServiceName: PanelServiceName,
	HandlerType: (*PanelServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", newEmpty, func(s PanelServiceServer, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
			return s.GetStatus(ctx, in)
		}),
		unary("ListSessions", newInt32, func(s PanelServiceServer, ctx context.Context, in *wrapperspb.Int32Value) (proto.Message, error) {
			return s.ListSessions(ctx, in)
		}),
		unary("RenderSession", newString, func(s PanelServiceServer, ctx context.Context, in *wrapperspb.StringValue) (proto.Message, error) {
			return s.RenderSession(ctx, in)
		}),
		unary("StartTask", newStruct, func(s PanelServiceServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
			return s.StartTask(ctx, in)
		}),
		unary("StopTask", newEmpty, func(s PanelServiceServer, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
			return s.StopTask(ctx, in)
		}),
		unary("DeviceStatus", newEmpty, func(s PanelServiceServer, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
			return s.DeviceStatus(ctx, in)
		}),
		unary("Shutdown", newEmpty, func(s PanelServiceServer, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
			return s.Shutdown(ctx, in)
		}),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamOutput",
			Handler:       streamOutputHandler,
			ServerStreams: true,
		},
	},
	Metadata: "autopanel/v1/panel.proto",
}

// RegisterPanelServiceServer registers srv with the gRPC server.
func RegisterPanelServiceServer(s grpc.ServiceRegistrar, srv PanelServiceServer) {
	s.RegisterService(&PanelServiceDesc, srv)
}

// panelService implements PanelServiceServer on top of the Server.
type panelService struct {
	server *Server
}

func (p *panelService) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return replyStruct(p.server.status())
}

func (p *panelService) ListSessions(_ context.Context, in *wrapperspb.Int32Value) (*structpb.Struct, error) {
	return replyStruct(p.server.sessions(int(in.GetValue())))
}

func (p *panelService) RenderSession(_ context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	t, err := p.server.render(in.GetValue())
	if err != nil {
		return nil, grpcError(err)
	}
	return replyStruct(t)
}

func (p *panelService) StartTask(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req StartTaskRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid task request: %v", err)
	}
	st, err := p.server.startTask(req)
	if err != nil {
		return nil, grpcError(err)
	}
	return replyStruct(st)
}

func (p *panelService) StopTask(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	st, err := p.server.stopTask()
	if err != nil {
		return nil, grpcError(err)
	}
	return replyStruct(st)
}

func (p *panelService) StreamOutput(_ *emptypb.Empty, stream grpc.ServerStreamingServer[wrapperspb.StringValue]) error {
	err := p.server.streamOutput(stream.Context(), func(line string) error {
		return stream.Send(wrapperspb.String(line))
	})
	if err != nil {
		return grpcError(err)
	}
	return nil
}

func (p *panelService) DeviceStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return replyStruct(p.server.deviceStatus(ctx))
}

func (p *panelService) Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	// Let the reply go out before the listener closes.
	go p.server.Stop()
	return &emptypb.Empty{}, nil
}

func grpcError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, agent.ErrNoTask):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, agent.ErrInvalidRequest),
		errors.Is(err, ErrUnknownPreset),
		errors.Is(err, trajectory.ErrInvalidSessionID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func replyStruct(v any) (*structpb.Struct, error) {
	s, err := toStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

// toStruct converts a JSON-encodable object into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	return out, nil
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

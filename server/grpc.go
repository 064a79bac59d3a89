package server

import (
	"context"

	"github.com/lguibr/rpcactor/dispatch"
	"github.com/lguibr/rpcactor/envelope"
	"github.com/lguibr/rpcactor/rpcerr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ActorServer is the gRPC face of the envelope transport.
type ActorServer interface {
	Call(ctx context.Context, req *envelope.CallRequest) (*envelope.CallResponse, error)
}

var actorServiceDesc = grpc.ServiceDesc{
	ServiceName: envelope.GRPCServiceName,
	HandlerType: (*ActorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: actorCallHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rpcactor",
}

func actorCallHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(envelope.CallRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ActorServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: envelope.GRPCCallMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ActorServer).Call(ctx, req.(*envelope.CallRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterGRPC exposes h on s.
func RegisterGRPC(s *grpc.Server, h *Host) {
	s.RegisterService(&actorServiceDesc, &grpcActorServer{host: h})
}

type grpcActorServer struct {
	host *Host
}

// Call runs the envelope body as one turn of the addressed actor.
// Per-request failures travel inside the envelope; only failures to run the
// envelope at all become gRPC status errors.
func (s *grpcActorServer) Call(ctx context.Context, req *envelope.CallRequest) (*envelope.CallResponse, error) {
	if req.Actor == "" {
		return nil, status.Error(codes.InvalidArgument, "actor is required")
	}
	out, err := s.host.call(ctx, req.Actor, func(ctx context.Context, a *actorHost) (any, error) {
		return envelope.Execute(dispatch.WithTransport(ctx, "grpc"), a.dispatcher, req.Body)
	})
	if err != nil {
		return nil, grpcStatus(err)
	}
	return &envelope.CallResponse{Body: out.([]byte)}, nil
}

func grpcStatus(err error) error {
	e := rpcerr.From(err)
	switch e.Kind {
	case rpcerr.MethodNotFound:
		return status.Error(codes.NotFound, e.Message)
	case rpcerr.InvalidExpression, rpcerr.ArgumentParse:
		return status.Error(codes.InvalidArgument, e.Message)
	case rpcerr.Transport:
		return status.Error(codes.Unavailable, e.Message)
	default:
		return status.Error(codes.Internal, e.Message)
	}
}

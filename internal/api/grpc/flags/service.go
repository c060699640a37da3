package flags

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "flagarbiter.v1.FlagService"

// Full method names of the FlagService.
const (
	SetFlagStateFullMethodName    = "/" + ServiceName + "/SetFlagState"
	GetDecisionFullMethodName     = "/" + ServiceName + "/GetDecision"
	ListFlagsFullMethodName       = "/" + ServiceName + "/ListFlags"
	SetFlagPriorityFullMethodName = "/" + ServiceName + "/SetFlagPriority"
	RegisterFlagFullMethodName    = "/" + ServiceName + "/RegisterFlag"
)

// FlagServiceServer is the server API for the FlagService.
type FlagServiceServer interface {
	// SetFlagState switches a flag and returns whether it changed plus the current decision.
	SetFlagState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// GetDecision returns the current decision.
	GetDecision(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	// ListFlags returns every flag record.
	ListFlags(ctx context.Context, req *emptypb.Empty) (*structpb.ListValue, error)
	// SetFlagPriority changes an upper flag's priority and returns the current decision.
	SetFlagPriority(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// RegisterFlag creates a flag on first reference or refreshes its definition.
	RegisterFlag(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// FlagServiceClient is the client API for the FlagService.
type FlagServiceClient interface {
	SetFlagState(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetDecision(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListFlags(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	SetFlagPriority(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	RegisterFlag(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

// FlagServiceDesc describes the FlagService for grpc.Server registration.
//
//nolint:gochecknoglobals // Service descriptors are package-level by convention.
var FlagServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FlagServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SetFlagState",
			Handler: unaryHandler(
				SetFlagStateFullMethodName,
				func(ctx context.Context, srv FlagServiceServer, in *structpb.Struct) (any, error) {
					return srv.SetFlagState(ctx, in)
				},
			),
		},
		{
			MethodName: "GetDecision",
			Handler: unaryHandler(
				GetDecisionFullMethodName,
				func(ctx context.Context, srv FlagServiceServer, in *emptypb.Empty) (any, error) {
					return srv.GetDecision(ctx, in)
				},
			),
		},
		{
			MethodName: "ListFlags",
			Handler: unaryHandler(
				ListFlagsFullMethodName,
				func(ctx context.Context, srv FlagServiceServer, in *emptypb.Empty) (any, error) {
					return srv.ListFlags(ctx, in)
				},
			),
		},
		{
			MethodName: "SetFlagPriority",
			Handler: unaryHandler(
				SetFlagPriorityFullMethodName,
				func(ctx context.Context, srv FlagServiceServer, in *structpb.Struct) (any, error) {
					return srv.SetFlagPriority(ctx, in)
				},
			),
		},
		{
			MethodName: "RegisterFlag",
			Handler: unaryHandler(
				RegisterFlagFullMethodName,
				func(ctx context.Context, srv FlagServiceServer, in *structpb.Struct) (any, error) {
					return srv.RegisterFlag(ctx, in)
				},
			),
		},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterFlagServiceServer registers srv on the registrar.
func RegisterFlagServiceServer(s grpc.ServiceRegistrar, srv FlagServiceServer) {
	s.RegisterService(&FlagServiceDesc, srv)
}

// NewFlagServiceClient returns a client bound to cc.
func NewFlagServiceClient(cc grpc.ClientConnInterface) FlagServiceClient {
	return &flagServiceClient{cc: cc}
}

type flagServiceClient struct {
	cc grpc.ClientConnInterface
}

func (c *flagServiceClient) SetFlagState(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SetFlagStateFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *flagServiceClient) GetDecision(
	ctx context.Context,
	in *emptypb.Empty,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetDecisionFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *flagServiceClient) ListFlags(
	ctx context.Context,
	in *emptypb.Empty,
	opts ...grpc.CallOption,
) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, ListFlagsFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *flagServiceClient) SetFlagPriority(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SetFlagPriorityFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *flagServiceClient) RegisterFlag(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, RegisterFlagFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// unaryHandler builds a grpc.MethodHandler that decodes Req and dispatches to call.
func unaryHandler[Req any](
	fullMethod string,
	call func(ctx context.Context, srv FlagServiceServer, in *Req) (any, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}

		server, _ := srv.(FlagServiceServer)

		if interceptor == nil {
			return call(ctx, server, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}

		handler := func(ctx context.Context, req any) (any, error) {
			typed, _ := req.(*Req)

			return call(ctx, server, typed)
		}

		return interceptor(ctx, in, info, handler)
	}
}

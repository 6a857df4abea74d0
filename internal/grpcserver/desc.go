package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// serviceDesc describes dispatch.v1.Dispatch. Every method is unary and
// exchanges google.protobuf.Struct messages.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DispatchServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("FindCandidates", DispatchServer.FindCandidates),
		unary("DecideAssignment", DispatchServer.DecideAssignment),
		unary("SendOffer", DispatchServer.SendOffer),
		unary("ExpireOffer", DispatchServer.ExpireOffer),
		unary("AcceptOffer", DispatchServer.AcceptOffer),
		unary("RejectOffer", DispatchServer.RejectOffer),
		unary("CheckAvailability", DispatchServer.CheckAvailability),
		unary("ReserveSlot", DispatchServer.ReserveSlot),
		unary("ConfirmBooking", DispatchServer.ConfirmBooking),
		unary("CancelBooking", DispatchServer.CancelBooking),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dispatch/v1/dispatch.proto",
}

type rpc func(DispatchServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call rpc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DispatchServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(DispatchServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

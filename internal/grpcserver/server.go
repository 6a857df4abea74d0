// Package grpcserver implements the dispatch.v1.Dispatch gRPC service.
//
// It delegates all business logic to dispatch.Service and handles only the
// gRPC transport concerns: metadata extraction, error mapping, and
// conversion between google.protobuf.Struct payloads and the service's
// input/output records.
package grpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"fieldops/dispatch-service/internal/dispatch"
	"fieldops/dispatch-service/internal/model"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dispatch.v1.Dispatch"

// IdempotencyMetadataKey carries the caller's idempotency token.
const IdempotencyMetadataKey = "x-idempotency-key"

// DispatchServer is the server API of dispatch.v1.Dispatch.
type DispatchServer interface {
	FindCandidates(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DecideAssignment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendOffer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExpireOffer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AcceptOffer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectOffer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckAvailability(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReserveSlot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Server implements DispatchServer.
type Server struct {
	svc *dispatch.Service
}

// NewServer constructs a gRPC Server backed by the given dispatch.Service.
func NewServer(svc *dispatch.Service) *Server {
	return &Server{svc: svc}
}

// Register mounts srv on gs.
func Register(gs *grpc.Server, srv DispatchServer) {
	gs.RegisterService(&serviceDesc, srv)
}

// ─── RPC implementations ─────────────────────────────────────────────────────

func (s *Server) FindCandidates(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, req, s.svc.FindCandidates, func(in *dispatch.FindCandidatesInput) *string { return &in.IdempotencyKey })
}

func (s *Server) DecideAssignment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, req, s.svc.DecideAssignment, func(in *dispatch.DecideAssignmentInput) *string { return &in.IdempotencyKey })
}

func (s *Server) SendOffer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, req, s.svc.SendOffer, func(in *dispatch.SendOfferInput) *string { return &in.IdempotencyKey })
}

func (s *Server) ExpireOffer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, req, s.svc.ExpireOffer, func(in *dispatch.ExpireOfferInput) *string { return &in.IdempotencyKey })
}

func (s *Server) AcceptOffer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, req, s.svc.AcceptOffer, func(in *dispatch.AcceptOfferInput) *string { return &in.IdempotencyKey })
}

func (s *Server) RejectOffer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, req, s.svc.RejectOffer, func(in *dispatch.RejectOfferInput) *string { return &in.IdempotencyKey })
}

func (s *Server) CheckAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, req, s.svc.CheckAvailability, func(in *dispatch.CheckAvailabilityInput) *string { return &in.IdempotencyKey })
}

func (s *Server) ReserveSlot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, req, s.svc.ReserveSlot, func(in *dispatch.ReserveSlotInput) *string { return &in.IdempotencyKey })
}

func (s *Server) ConfirmBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, req, s.svc.ConfirmBooking, func(in *dispatch.BookingInput) *string { return &in.IdempotencyKey })
}

func (s *Server) CancelBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, req, s.svc.CancelBooking, func(in *dispatch.BookingInput) *string { return &in.IdempotencyKey })
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// handle decodes req into In, applies the metadata idempotency key, calls fn
// and encodes its output.
func handle[In, Out any](ctx context.Context, req *structpb.Struct, fn func(context.Context, In) (Out, error), key func(*In) *string) (*structpb.Struct, error) {
	var in In
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if k := idempotencyKeyFromCtx(ctx); k != "" {
		*key(&in) = k
	}

	out, err := fn(ctx, in)
	if err != nil {
		return nil, toGRPCError(err)
	}

	res, err := toStruct(out)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return res, nil
}

// idempotencyKeyFromCtx extracts the x-idempotency-key value from the
// incoming gRPC metadata.
func idempotencyKeyFromCtx(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(IdempotencyMetadataKey); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// toGRPCError maps domain errors to gRPC status errors. The stable error
// code travels as an ErrorInfo detail.
func toGRPCError(err error) error {
	var c codes.Code
	switch dispatch.ErrorKind(err) {
	case model.KindValidation:
		c = codes.InvalidArgument
	case model.KindNotFound:
		c = codes.NotFound
	case model.KindConflict:
		c = codes.AlreadyExists
	case model.KindInvalidState:
		c = codes.FailedPrecondition
	case model.KindTransient:
		c = codes.Unavailable
	default:
		return status.Error(codes.Internal, "internal server error")
	}

	st := status.New(c, err.Error())
	if code := dispatch.ErrorCode(err); code != "" {
		if withInfo, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: code, Domain: "dispatch"}); derr == nil {
			st = withInfo
		}
	}
	return st.Err()
}

func fromStruct(s *structpb.Struct, dst any) error {
	if s == nil {
		return nil
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

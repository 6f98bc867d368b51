package api

import (
	"context"
	"encoding/json"
	"fmt"

	"bookingsys/internal/domain"
	"bookingsys/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const appointmentServiceName = "bookingsys.appointments.v1.AppointmentService"

// AppointmentServiceServer is the gRPC face of the lifecycle manager. Every
// message is a google.protobuf.Struct carrying the same JSON shapes as the
// HTTP API.
type AppointmentServiceServer interface {
	Approve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reject(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Complete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Create(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Edit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	List(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryMethod(name string, call func(AppointmentServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			impl := srv.(AppointmentServiceServer)
			if interceptor == nil {
				return call(impl, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + appointmentServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(impl, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// AppointmentServiceDesc is written by hand; there is no generated stub.
var AppointmentServiceDesc = grpc.ServiceDesc{
	ServiceName: appointmentServiceName,
	HandlerType: (*AppointmentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Approve", AppointmentServiceServer.Approve),
		unaryMethod("Reject", AppointmentServiceServer.Reject),
		unaryMethod("Complete", AppointmentServiceServer.Complete),
		unaryMethod("Cancel", AppointmentServiceServer.Cancel),
		unaryMethod("Create", AppointmentServiceServer.Create),
		unaryMethod("Edit", AppointmentServiceServer.Edit),
		unaryMethod("Get", AppointmentServiceServer.Get),
		unaryMethod("List", AppointmentServiceServer.List),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bookingsys/appointments/v1/appointments.proto",
}

// AppointmentGRPCService adapts domain.AppointmentService to the wire.
type AppointmentGRPCService struct {
	appointments domain.AppointmentService
}

func NewAppointmentGRPCService(appointments domain.AppointmentService) *AppointmentGRPCService {
	return &AppointmentGRPCService{appointments: appointments}
}

type idRequest struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason,omitempty"`
}

type editRequest struct {
	ID int64 `json:"id"`
	models.AppointmentPatch
}

type listRequest struct {
	Page      int    `json:"page"`
	Size      int    `json:"size"`
	Sort      string `json:"sort"`
	Direction string `json:"direction"`
}

func (s *AppointmentGRPCService) Approve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, in, s.appointments.Approve)
}

func (s *AppointmentGRPCService) Reject(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, in, s.appointments.Reject)
}

func (s *AppointmentGRPCService) Complete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, in, s.appointments.Complete)
}

func (s *AppointmentGRPCService) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, in, s.appointments.Get)
}

func (s *AppointmentGRPCService) transition(
	ctx context.Context,
	in *structpb.Struct,
	call func(context.Context, int64, models.Principal) (*models.Appointment, error),
) (*structpb.Struct, error) {
	var req idRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	if req.ID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	a, err := call(ctx, req.ID, PrincipalFrom(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(a)
}

func (s *AppointmentGRPCService) Cancel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	if req.ID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	a, err := s.appointments.Cancel(ctx, req.ID, PrincipalFrom(ctx), req.Reason)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(a)
}

func (s *AppointmentGRPCService) Create(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var draft models.AppointmentDraft
	if err := decodeStruct(in, &draft); err != nil {
		return nil, err
	}
	a, err := s.appointments.Create(ctx, draft, PrincipalFrom(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(a)
}

func (s *AppointmentGRPCService) Edit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req editRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	if req.ID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	a, err := s.appointments.Edit(ctx, req.ID, req.AppointmentPatch, PrincipalFrom(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(a)
}

func (s *AppointmentGRPCService) List(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	page := models.PageRequest{
		Page:      req.Page,
		Size:      req.Size,
		SortField: req.Sort,
		Direction: models.SortDirection(req.Direction),
	}
	res, err := s.appointments.List(ctx, PrincipalFrom(ctx), page)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(res)
}

// decodeStruct round-trips through JSON so the HTTP and gRPC shapes stay identical.
func decodeStruct(in *structpb.Struct, dst any) error {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return status.Error(codes.InvalidArgument, fmt.Sprintf("invalid request: %v", err))
	}
	return nil
}

func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

package door

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	domain "github.com/oshokin/door-monitor/internal/domain/door"
	wf "github.com/oshokin/door-monitor/internal/domain/workflow"
	"github.com/oshokin/door-monitor/internal/logger"
	"github.com/oshokin/door-monitor/internal/service/ingest"
	"github.com/oshokin/door-monitor/internal/workflow"
)

// defaultTerminateReason is recorded when a terminate request carries no reason.
const defaultTerminateReason = "terminated by operator"

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	ReportState(ctx context.Context, raw string, actor *domain.Actor) (*ingest.Response, error)
	Status(ctx context.Context, id string) (*wf.Instance, error)
	Terminate(ctx context.Context, id, reason string) error
}

// Server implements the DoorMonitorService gRPC API.
type Server struct {
	// service provides the business logic.
	service Service
}

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

// ReportState ingests a sensor state report.
func (s *Server) ReportState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	response, err := s.service.ReportState(ctx, stringField(req, fieldState), toDomainActor(req))
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldOutcome:    structpb.NewStringValue(string(response.Outcome)),
		fieldState:      structpb.NewStringValue(string(response.State)),
		fieldInstanceID: structpb.NewStringValue(response.InstanceID),
		fieldSuperseded: structpb.NewStringValue(response.Superseded),
	}}, nil
}

// GetInstanceStatus returns the persisted state of a monitoring instance.
func (s *Server) GetInstanceStatus(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := strings.TrimSpace(req.GetValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "instance id is required")
	}

	instance, err := s.service.Status(ctx, id)
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	return toProtoInstance(instance), nil
}

// TerminateInstance stops a running monitoring instance.
func (s *Server) TerminateInstance(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	id := strings.TrimSpace(stringField(req, fieldID))
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "instance id is required")
	}

	reason := strings.TrimSpace(stringField(req, fieldReason))
	if reason == "" {
		reason = defaultTerminateReason
	}

	if err := s.service.Terminate(ctx, id, reason); err != nil {
		return nil, toStatus(ctx, err)
	}

	return new(emptypb.Empty), nil
}

// toStatus maps domain errors to gRPC status codes.
func toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ingest.ErrInvalidState):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, workflow.ErrInstanceNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, workflow.ErrInstanceNotRunning):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		logger.ErrorKV(ctx, "Request failed", "error", err)

		return status.Error(codes.Internal, "internal error")
	}
}

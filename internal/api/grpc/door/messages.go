package door

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/door-monitor/internal/domain/door"
	wf "github.com/oshokin/door-monitor/internal/domain/workflow"
)

// Field names of the structpb messages.
const (
	fieldState         = "state"
	fieldHostname      = "hostname"
	fieldUsername      = "username"
	fieldOutcome       = "outcome"
	fieldInstanceID    = "instance_id"
	fieldSuperseded    = "superseded"
	fieldID            = "id"
	fieldReason        = "reason"
	fieldName          = "name"
	fieldStatus        = "status"
	fieldInput         = "input"
	fieldOutput        = "output"
	fieldError         = "error"
	fieldCreatedAt     = "created_at"
	fieldUpdatedAt     = "updated_at"
	fieldHistoryLength = "history_length"
)

// ReportReply is the decoded ReportState reply.
type ReportReply struct {
	// Outcome is already_set, closed or started.
	Outcome string
	// State is the normalised reported state.
	State string
	// InstanceID is the started instance, if any.
	InstanceID string
	// Superseded is the instance terminated in favour of the new one, if any.
	Superseded string
}

// InstanceStatus is the decoded GetInstanceStatus reply.
type InstanceStatus struct {
	ID            string
	Name          string
	Status        wf.Status
	Input         string
	Output        string
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	HistoryLength int
}

// NewReportRequest encodes a ReportState request.
func NewReportRequest(state string, actor *domain.Actor) *structpb.Struct {
	fields := map[string]*structpb.Value{
		fieldState: structpb.NewStringValue(state),
	}

	if actor != nil {
		fields[fieldHostname] = structpb.NewStringValue(actor.Hostname)
		fields[fieldUsername] = structpb.NewStringValue(actor.Username)
	}

	return &structpb.Struct{Fields: fields}
}

// NewTerminateRequest encodes a TerminateInstance request.
func NewTerminateRequest(id, reason string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldID:     structpb.NewStringValue(id),
		fieldReason: structpb.NewStringValue(reason),
	}}
}

// DecodeReportReply decodes a ReportState reply.
func DecodeReportReply(reply *structpb.Struct) *ReportReply {
	return &ReportReply{
		Outcome:    stringField(reply, fieldOutcome),
		State:      stringField(reply, fieldState),
		InstanceID: stringField(reply, fieldInstanceID),
		Superseded: stringField(reply, fieldSuperseded),
	}
}

// DecodeInstanceStatus decodes a GetInstanceStatus reply.
func DecodeInstanceStatus(reply *structpb.Struct) (*InstanceStatus, error) {
	createdAt, err := timeField(reply, fieldCreatedAt)
	if err != nil {
		return nil, err
	}

	updatedAt, err := timeField(reply, fieldUpdatedAt)
	if err != nil {
		return nil, err
	}

	return &InstanceStatus{
		ID:            stringField(reply, fieldID),
		Name:          stringField(reply, fieldName),
		Status:        wf.Status(stringField(reply, fieldStatus)),
		Input:         stringField(reply, fieldInput),
		Output:        stringField(reply, fieldOutput),
		Error:         stringField(reply, fieldError),
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
		HistoryLength: int(reply.GetFields()[fieldHistoryLength].GetNumberValue()),
	}, nil
}

// toDomainActor extracts the optional reporter from a ReportState request.
func toDomainActor(req *structpb.Struct) *domain.Actor {
	hostname := stringField(req, fieldHostname)
	username := stringField(req, fieldUsername)

	if hostname == "" && username == "" {
		return nil
	}

	return &domain.Actor{
		Hostname: hostname,
		Username: username,
	}
}

// toProtoInstance encodes an instance as a GetInstanceStatus reply.
func toProtoInstance(instance *wf.Instance) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldID:            structpb.NewStringValue(instance.ID),
		fieldName:          structpb.NewStringValue(instance.Name),
		fieldStatus:        structpb.NewStringValue(string(instance.Status)),
		fieldInput:         structpb.NewStringValue(string(instance.Input)),
		fieldOutput:        structpb.NewStringValue(string(instance.Output)),
		fieldError:         structpb.NewStringValue(instance.Error),
		fieldCreatedAt:     structpb.NewStringValue(instance.CreatedAt.UTC().Format(time.RFC3339Nano)),
		fieldUpdatedAt:     structpb.NewStringValue(instance.UpdatedAt.UTC().Format(time.RFC3339Nano)),
		fieldHistoryLength: structpb.NewNumberValue(float64(instance.HistoryLength)),
	}}
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func timeField(s *structpb.Struct, name string) (time.Time, error) {
	raw := stringField(s, name)
	if raw == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", name, err)
	}

	return t, nil
}

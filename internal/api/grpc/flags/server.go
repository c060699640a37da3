package flags

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/flag-arbiter/internal/domain/flag"
	"github.com/oshokin/flag-arbiter/internal/logger"
	"github.com/oshokin/flag-arbiter/internal/service/flagstore"
)

// Service abstracts the flag store operations the transport layer depends on.
// Mutations return the decision computed for them, nil when none was computed.
type Service interface {
	SetState(ctx context.Context, id string, on bool, at time.Time) (bool, *domain.Decision, error)
	SetPriority(ctx context.Context, id string, priority *int) (*domain.Decision, error)
	Register(ctx context.Context, def *domain.Flag) (*domain.Flag, error)
	Flags() []*domain.Flag
}

// DecisionSource exposes the latest computed decision. It answers requests
// that computed no decision of their own.
type DecisionSource interface {
	Current() *domain.Decision
}

// Server implements the FlagService gRPC API.
type Server struct {
	// service provides the flag store operations.
	service Service
	// decisions provides the decision returned to callers.
	decisions DecisionSource
}

// NewServer wires the store and the decision source into a gRPC handler.
func NewServer(service Service, decisions DecisionSource) *Server {
	return &Server{
		service:   service,
		decisions: decisions,
	}
}

// SetFlagState switches a flag On or Off. The response carries the decision
// computed for this transition, or the latest one when the flag was unchanged.
func (s *Server) SetFlagState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	fields := req.GetFields()

	id := fields[fieldID].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	onValue, ok := fields[fieldOn].GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "on must be a boolean")
	}

	var at time.Time

	if raw := fields[fieldAt].GetStringValue(); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "at must be an RFC 3339 time: %v", err)
		}

		at = parsed
	}

	changed, decision, err := s.service.SetState(ctx, id, onValue.BoolValue, at)
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	response, err := structpb.NewStruct(map[string]any{
		fieldChanged:  changed,
		fieldDecision: DecisionToMap(s.orCurrent(decision)),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "unable to encode decision")
	}

	return response, nil
}

// GetDecision returns the current decision.
func (s *Server) GetDecision(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return s.currentDecision()
}

// ListFlags returns all flag records sorted by id.
func (s *Server) ListFlags(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	list, err := FlagsToList(s.service.Flags())
	if err != nil {
		return nil, status.Error(codes.Internal, "unable to encode flags")
	}

	return list, nil
}

// SetFlagPriority changes the priority of an upper flag. The priority field
// must be present; null selects automatic priority. The response carries the
// decision computed for the change, or the latest one when nothing changed.
func (s *Server) SetFlagPriority(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	fields := req.GetFields()

	id := fields[fieldID].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	raw, ok := fields[fieldPriority]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "priority is required, null for automatic")
	}

	priority, err := priorityFromValue(raw)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	decision, err := s.service.SetPriority(ctx, id, priority)
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	return encodeDecision(s.orCurrent(decision))
}

// RegisterFlag creates a flag Off on first reference, or refreshes the
// definition of an existing one, and returns the stored record.
func (s *Server) RegisterFlag(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	def, err := DefinitionFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	registered, err := s.service.Register(ctx, def)
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	logger.InfoKV(ctx, "Flag registered", "flag_id", registered.ID, "tier", string(registered.Tier))

	record, err := FlagToStruct(registered)
	if err != nil {
		return nil, status.Error(codes.Internal, "unable to encode flag")
	}

	return record, nil
}

func (s *Server) currentDecision() (*structpb.Struct, error) {
	return encodeDecision(s.decisions.Current())
}

// orCurrent falls back to the latest decision when a request computed none.
func (s *Server) orCurrent(decision *domain.Decision) *domain.Decision {
	if decision != nil {
		return decision
	}

	return s.decisions.Current()
}

func encodeDecision(decision *domain.Decision) (*structpb.Struct, error) {
	encoded, err := DecisionToStruct(decision)
	if err != nil {
		return nil, status.Error(codes.Internal, "unable to encode decision")
	}

	return encoded, nil
}

// toStatus maps store errors to gRPC status codes.
func toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, flagstore.ErrUnknownFlag):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, flagstore.ErrInvalidID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, flagstore.ErrPriorityOnLower),
		errors.Is(err, flagstore.ErrTierMismatch),
		errors.Is(err, flagstore.ErrInvalidLink):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		logger.Errorf(ctx, "Flag store request failed: %v", err)

		return status.Error(codes.Internal, "unable to persist flags")
	}
}

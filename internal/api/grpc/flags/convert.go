package flags

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/flag-arbiter/internal/domain/flag"
	repo "github.com/oshokin/flag-arbiter/internal/repository/flags"
)

// Message field names.
const (
	fieldID          = "id"
	fieldOn          = "on"
	fieldAt          = "at"
	fieldPriority    = "priority"
	fieldChanged     = "changed"
	fieldDecision    = "decision"
	fieldSequence    = "sequence"
	fieldTrigger     = "trigger"
	fieldWinner      = "winner"
	fieldIdle        = "idle"
	fieldActiveUpper = "active_upper"
	fieldDecidedAt   = "decided_at"
	fieldName        = "name"
	fieldLastChange  = "last_state_change_time"
	fieldOnActions   = "on_actions"
	fieldOffActions  = "off_actions"
	fieldType        = "type"
	fieldLinked      = "linked_lower_flags"
)

var (
	// errMalformedDecision is returned when a decision message cannot be read back.
	errMalformedDecision = errors.New("malformed decision")
	// errInvalidPriority is returned for a priority that is neither null nor an integer.
	errInvalidPriority = errors.New("priority must be an integer or null")
	// errMalformedDefinition is returned for a flag definition that cannot be registered.
	errMalformedDefinition = errors.New("malformed flag definition")
)

// DecisionToMap renders a decision as a generic map. A nil decision is idle.
func DecisionToMap(d *domain.Decision) map[string]any {
	if d == nil {
		d = new(domain.Decision)
	}

	result := map[string]any{
		fieldID:          "",
		fieldSequence:    d.Sequence,
		fieldTrigger:     d.Trigger,
		fieldIdle:        d.IsIdle(),
		fieldActiveUpper: d.ActiveUpper,
		fieldDecidedAt:   nil,
		fieldWinner:      nil,
	}

	if d.ID != uuid.Nil {
		result[fieldID] = d.ID.String()
	}

	if !d.DecidedAt.IsZero() {
		result[fieldDecidedAt] = repo.FormatTime(d.DecidedAt)
	}

	if w := d.Winner; w != nil {
		winner := map[string]any{
			fieldID:         w.ID,
			fieldName:       w.Name,
			fieldPriority:   nil,
			fieldLastChange: nil,
			fieldOnActions:  repo.EncodeActions(w.OnActions),
		}

		if w.Priority != nil {
			winner[fieldPriority] = *w.Priority
		}

		if !w.LastStateChange.IsZero() {
			winner[fieldLastChange] = repo.FormatTime(w.LastStateChange)
		}

		result[fieldWinner] = winner
	}

	return result
}

// DecisionToStruct renders a decision as a protobuf Struct.
func DecisionToStruct(d *domain.Decision) (*structpb.Struct, error) {
	return structpb.NewStruct(DecisionToMap(d))
}

// DecisionFromMap reads a decision rendered by DecisionToMap.
//
//nolint:cyclop // One check per field.
func DecisionFromMap(m map[string]any) (*domain.Decision, error) {
	d := new(domain.Decision)

	if id, _ := m[fieldID].(string); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("%w: id: %w", errMalformedDecision, err)
		}

		d.ID = parsed
	}

	if seq, ok := m[fieldSequence].(float64); ok {
		d.Sequence = uint64(seq)
	}

	if active, ok := m[fieldActiveUpper].(float64); ok {
		d.ActiveUpper = int(active)
	}

	d.Trigger, _ = m[fieldTrigger].(string)

	decidedAt, err := repo.ParseTime(m[fieldDecidedAt])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedDecision, err)
	}

	d.DecidedAt = decidedAt

	raw, ok := m[fieldWinner].(map[string]any)
	if !ok {
		return d, nil
	}

	winner := new(domain.WinnerView)
	winner.ID, _ = raw[fieldID].(string)
	winner.Name, _ = raw[fieldName].(string)

	if winner.ID == "" {
		return nil, fmt.Errorf("%w: winner without id", errMalformedDecision)
	}

	if p, ok := raw[fieldPriority].(float64); ok {
		winner.Priority = domain.Priority(int(p))
	}

	if winner.LastStateChange, err = repo.ParseTime(raw[fieldLastChange]); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedDecision, err)
	}

	if winner.OnActions, err = repo.DecodeActions(raw[fieldOnActions]); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedDecision, err)
	}

	d.Winner = winner

	return d, nil
}

// DecisionFromStruct reads a decision from a protobuf Struct.
func DecisionFromStruct(s *structpb.Struct) (*domain.Decision, error) {
	return DecisionFromMap(s.AsMap())
}

// FlagsToList renders flag records as a protobuf ListValue.
func FlagsToList(flags []*domain.Flag) (*structpb.ListValue, error) {
	records := make([]any, 0, len(flags))
	for _, f := range flags {
		records = append(records, repo.EncodeRecord(f))
	}

	return structpb.NewList(records)
}

// FlagsFromList reads flag records from a protobuf ListValue.
func FlagsFromList(l *structpb.ListValue) ([]*domain.Flag, error) {
	items := l.AsSlice()
	result := make([]*domain.Flag, 0, len(items))

	for _, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: flag entry is %T", repo.ErrMalformedRecord, item)
		}

		f, err := repo.DecodeRecord(record)
		if err != nil {
			return nil, err
		}

		result = append(result, f)
	}

	return result, nil
}

// DefinitionToStruct renders a flag definition as a RegisterFlag request.
// State and timestamps are not part of a definition.
func DefinitionToStruct(f *domain.Flag) (*structpb.Struct, error) {
	linked := make([]any, 0, len(f.LinkedLowerFlags))
	for _, id := range f.LinkedLowerFlags {
		linked = append(linked, id)
	}

	fields := map[string]any{
		fieldID:         f.ID,
		fieldName:       f.Name,
		fieldType:       string(f.Tier),
		fieldPriority:   nil,
		fieldLinked:     linked,
		fieldOnActions:  repo.EncodeActions(f.OnActions),
		fieldOffActions: repo.EncodeActions(f.OffActions),
	}

	if f.Priority != nil {
		fields[fieldPriority] = *f.Priority
	}

	return structpb.NewStruct(fields)
}

// DefinitionFromStruct reads a flag definition from a RegisterFlag request.
// A missing priority means automatic.
func DefinitionFromStruct(s *structpb.Struct) (*domain.Flag, error) {
	fields := s.GetFields()

	id := fields[fieldID].GetStringValue()
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", errMalformedDefinition)
	}

	tier, err := domain.ParseTier(fields[fieldType].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", errMalformedDefinition, id, err)
	}

	var priority *int

	if raw, ok := fields[fieldPriority]; ok {
		if priority, err = priorityFromValue(raw); err != nil {
			return nil, fmt.Errorf("%w: %q: %w", errMalformedDefinition, id, err)
		}
	}

	var linked []string

	for _, value := range fields[fieldLinked].GetListValue().GetValues() {
		linkedID, ok := value.GetKind().(*structpb.Value_StringValue)
		if !ok || linkedID.StringValue == "" {
			return nil, fmt.Errorf("%w: %q: linked flags must be ids", errMalformedDefinition, id)
		}

		linked = append(linked, linkedID.StringValue)
	}

	m := s.AsMap()

	onActions, err := definitionActions(id, m[fieldOnActions])
	if err != nil {
		return nil, err
	}

	offActions, err := definitionActions(id, m[fieldOffActions])
	if err != nil {
		return nil, err
	}

	return &domain.Flag{
		ID:               id,
		Name:             fields[fieldName].GetStringValue(),
		Tier:             tier,
		Priority:         priority,
		LinkedLowerFlags: linked,
		OnActions:        onActions,
		OffActions:       offActions,
	}, nil
}

// definitionActions decodes actions and rejects unknown types.
func definitionActions(id string, raw any) ([]domain.Action, error) {
	actions, err := repo.DecodeActions(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", errMalformedDefinition, id, err)
	}

	for _, action := range actions {
		if err = domain.ValidateActionType(action.Type); err != nil {
			return nil, fmt.Errorf("%w: %q: %w", errMalformedDefinition, id, err)
		}
	}

	return actions, nil
}

// FlagToStruct renders one flag record.
func FlagToStruct(f *domain.Flag) (*structpb.Struct, error) {
	return structpb.NewStruct(repo.EncodeRecord(f))
}

// FlagFromStruct reads one flag record.
func FlagFromStruct(s *structpb.Struct) (*domain.Flag, error) {
	return repo.DecodeRecord(s.AsMap())
}

// priorityFromValue accepts null or an integral number.
func priorityFromValue(v *structpb.Value) (*int, error) {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil //nolint:nilnil // Null priority means automatic.
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.Abs(n) > math.MaxInt32 {
			return nil, fmt.Errorf("%w: got %v", errInvalidPriority, n)
		}

		return domain.Priority(int(n)), nil
	default:
		return nil, errInvalidPriority
	}
}

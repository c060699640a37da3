package flags

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/oshokin/flag-arbiter/internal/domain/flag"
)

// documentVersion is written into the metadata of every JSON document.
const documentVersion = "2.0"

// decisionRules documents the arbitration order next to the data it applies to.
//
//nolint:gochecknoglobals // Read-only description embedded in saved documents.
var decisionRules = map[string]any{
	"priority_rule":      "a lower number means a higher priority",
	"null_priority_rule": "a null priority ranks below every numeric priority",
	"tie_breaker_rule":   "among equal priorities the latest last_state_change_time wins",
	"auto_priority_rule": "with only null priorities the latest last_state_change_time wins",
	"secondary_key_rule": "when priority and time are equal the smallest id wins",
}

// encodeDocument builds the generic JSON document for flags, sorted by id.
func encodeDocument(flags []*flag.Flag) map[string]any {
	sorted := slices.SortedFunc(slices.Values(flags), func(a, b *flag.Flag) int {
		return cmp.Compare(a.ID, b.ID)
	})

	upper := make([]any, 0, len(sorted))
	lower := make([]any, 0, len(sorted))

	for _, f := range sorted {
		if f.IsUpper() {
			upper = append(upper, EncodeRecord(f))
		} else {
			lower = append(lower, EncodeRecord(f))
		}
	}

	return map[string]any{
		"metadata": map[string]any{
			"version":               documentVersion,
			"winner_decision_rules": decisionRules,
		},
		"upper_flags": upper,
		"lower_flags": lower,
	}
}

// decodeDocument reads flags back from a generic JSON document.
func decodeDocument(doc map[string]any) ([]*flag.Flag, error) {
	var (
		result []*flag.Flag
		seen   = make(map[string]struct{})
	)

	for _, key := range []string{"upper_flags", "lower_flags"} {
		raw, ok := doc[key]
		if !ok || raw == nil {
			continue
		}

		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a list", ErrMalformedRecord, key)
		}

		for _, item := range list {
			record, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s entry is not an object", ErrMalformedRecord, key)
			}

			f, err := DecodeRecord(record)
			if err != nil {
				return nil, err
			}

			if _, dup := seen[f.ID]; dup {
				return nil, fmt.Errorf("%w: duplicate id %q", ErrMalformedRecord, f.ID)
			}

			seen[f.ID] = struct{}{}
			result = append(result, f)
		}
	}

	return result, nil
}

// EncodeRecord converts a flag into a generic record. Priority and the last
// state change time are always present, as null when unset.
func EncodeRecord(f *flag.Flag) map[string]any {
	record := map[string]any{
		fieldID:              f.ID,
		fieldName:            f.Name,
		fieldType:            string(f.Tier),
		fieldPriority:        nil,
		fieldState:           f.State,
		fieldLastStateChange: nil,
		fieldOnActions:       EncodeActions(f.OnActions),
		fieldOffActions:      EncodeActions(f.OffActions),
	}

	if f.Priority != nil {
		record[fieldPriority] = *f.Priority
	}

	if !f.LastStateChange.IsZero() {
		record[fieldLastStateChange] = FormatTime(f.LastStateChange)
	}

	if f.IsUpper() {
		linked := make([]any, 0, len(f.LinkedLowerFlags))
		for _, id := range f.LinkedLowerFlags {
			linked = append(linked, id)
		}

		record[fieldLinkedLowerFlags] = linked
	}

	return record
}

// DecodeRecord converts a generic record into a flag.
//
//nolint:cyclop // One check per required field.
func DecodeRecord(record map[string]any) (*flag.Flag, error) {
	id, _ := record[fieldID].(string)
	if id == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedRecord)
	}

	tier, err := decodeTier(record)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrMalformedRecord, id, err)
	}

	rawPriority, ok := record[fieldPriority]
	if !ok {
		return nil, fmt.Errorf("%w: %q: priority must be present, null when automatic", ErrMalformedRecord, id)
	}

	priority, err := decodePriority(rawPriority)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrMalformedRecord, id, err)
	}

	state, ok := record[fieldState].(bool)
	if !ok {
		return nil, fmt.Errorf("%w: %q: state must be a boolean", ErrMalformedRecord, id)
	}

	rawTime, ok := record[fieldLastStateChange]
	if !ok {
		return nil, fmt.Errorf("%w: %q: %s must be present", ErrMalformedRecord, id, fieldLastStateChange)
	}

	changedAt, err := ParseTime(rawTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrMalformedRecord, id, err)
	}

	onActions, err := DecodeActions(record[fieldOnActions])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrMalformedRecord, id, err)
	}

	offActions, err := DecodeActions(record[fieldOffActions])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrMalformedRecord, id, err)
	}

	linked, err := decodeStrings(record[fieldLinkedLowerFlags])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrMalformedRecord, id, err)
	}

	name, _ := record[fieldName].(string)

	return &flag.Flag{
		ID:               id,
		Name:             name,
		Tier:             tier,
		State:            state,
		Priority:         priority,
		LastStateChange:  changedAt,
		LinkedLowerFlags: linked,
		OnActions:        onActions,
		OffActions:       offActions,
	}, nil
}

// decodeTier reads "type", honouring the legacy "is_upper" boolean.
func decodeTier(record map[string]any) (flag.Tier, error) {
	if isUpper, ok := record[fieldLegacyIsUpper].(bool); ok {
		if isUpper {
			return flag.TierUpper, nil
		}

		return flag.TierLower, nil
	}

	typeName, ok := record[fieldType].(string)
	if !ok {
		return "", fmt.Errorf("%s must be present", fieldType)
	}

	return flag.ParseTier(typeName)
}

// decodePriority accepts null or an integral number.
func decodePriority(raw any) (*int, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil //nolint:nilnil // Null priority means automatic.
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("priority %v is not an integer", v)
		}

		if math.Abs(v) > math.MaxInt32 {
			return nil, fmt.Errorf("priority %v is out of range", v)
		}

		return flag.Priority(int(v)), nil
	default:
		return nil, fmt.Errorf("priority has unexpected type %T", raw)
	}
}

// ParseTime accepts null, an RFC 3339 string or legacy epoch seconds.
func ParseTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse %s: %w", fieldLastStateChange, err)
		}

		return t.UTC(), nil
	case float64:
		seconds, fraction := math.Modf(v)

		return time.Unix(int64(seconds), int64(fraction*float64(time.Second))).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%s has unexpected type %T", fieldLastStateChange, raw)
	}
}

// FormatTime renders timestamps with nanosecond precision so ordering survives a reload.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// EncodeActions converts actions into generic records.
func EncodeActions(actions []flag.Action) []any {
	result := make([]any, 0, len(actions))

	for _, a := range actions {
		params := a.Clone().Params
		if params == nil {
			params = map[string]any{}
		}

		result = append(result, map[string]any{
			fieldActionType:   a.Type,
			fieldActionParams: params,
		})
	}

	return result
}

// DecodeActions converts generic records into actions.
func DecodeActions(raw any) ([]flag.Action, error) {
	if raw == nil {
		return nil, nil
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("actions have unexpected type %T", raw)
	}

	if len(list) == 0 {
		return nil, nil
	}

	actions := make([]flag.Action, 0, len(list))

	for _, item := range list {
		record, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("action has unexpected type %T", item)
		}

		actionType, _ := record[fieldActionType].(string)
		params, _ := record[fieldActionParams].(map[string]any)

		if len(params) == 0 {
			params = nil
		}

		actions = append(actions, flag.Action{Type: actionType, Params: params})
	}

	return actions, nil
}

// decodeStrings converts a generic list into strings.
func decodeStrings(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("list has unexpected type %T", raw)
	}

	if len(list) == 0 {
		return nil, nil
	}

	result := make([]string, 0, len(list))

	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("list item has unexpected type %T", item)
		}

		result = append(result, s)
	}

	return result, nil
}

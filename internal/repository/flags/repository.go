package flags

import (
	"context"
	"errors"

	"github.com/oshokin/flag-arbiter/internal/domain/flag"
)

// Repository defines persistence operations for flag records.
type Repository interface {
	Load(ctx context.Context) ([]*flag.Flag, error)
	Save(ctx context.Context, flags []*flag.Flag) error
}

var (
	// ErrNotFound is returned when nothing has been persisted yet.
	ErrNotFound = errors.New("flags not found")
	// ErrMalformedRecord is returned when a persisted record lacks a required field.
	ErrMalformedRecord = errors.New("malformed flag record")
)

// Field names shared by both backends.
const (
	fieldID               = "id"
	fieldName             = "name"
	fieldType             = "type"
	fieldLegacyIsUpper    = "is_upper"
	fieldPriority         = "priority"
	fieldState            = "state"
	fieldLastStateChange  = "last_state_change_time"
	fieldLinkedLowerFlags = "linked_lower_flags"
	fieldOnActions        = "on_actions"
	fieldOffActions       = "off_actions"
	fieldActionType       = "type"
	fieldActionParams     = "params"
)

package flagstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/oshokin/flag-arbiter/internal/arbiter"
	"github.com/oshokin/flag-arbiter/internal/domain/flag"
	"github.com/oshokin/flag-arbiter/internal/logger"
	repo "github.com/oshokin/flag-arbiter/internal/repository/flags"
)

// Listener is told about every change while the store's lock is held.
// It returns the decision it computed, nil when it computes none.
// It must not call back into the store.
type Listener interface {
	OnFlagChanged(ctx context.Context, id string, src arbiter.Source) *flag.Decision
}

var (
	// ErrInvalidID is returned for an empty flag id.
	ErrInvalidID = errors.New("flag id must be provided")
	// ErrUnknownFlag is returned when the flag does not exist.
	ErrUnknownFlag = errors.New("unknown flag")
	// ErrTierMismatch is returned when a flag would change tier.
	ErrTierMismatch = errors.New("flag tier cannot change")
	// ErrPriorityOnLower is returned when a priority is set on a lower flag.
	ErrPriorityOnLower = errors.New("priority applies to upper flags only")
	// ErrInvalidLink is returned when an upper flag links a flag that is not a known lower flag.
	ErrInvalidLink = errors.New("linked flag must be a known lower flag")
)

// Store holds the flag records behind a single-writer lock.
type Store struct {
	// repo persists flag records; nil disables persistence.
	repo repo.Repository
	// listener receives change notifications; nil disables them.
	listener Listener
	// clock supplies the time for transitions requested without one.
	clock func() time.Time

	// mu serializes writers and protects flags.
	mu sync.RWMutex
	// flags maps flag id to record.
	flags map[string]*flag.Flag
}

// Option configures the store.
type Option func(*Store)

// WithClock overrides the clock used when a transition carries no time.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates a store from persisted records merged with seed definitions.
// Persisted records keep their state and timestamp; seeds refresh metadata.
func New(
	ctx context.Context,
	repository repo.Repository,
	seeds []*flag.Flag,
	listener Listener,
	opts ...Option,
) (*Store, error) {
	s := &Store{
		repo:     repository,
		listener: listener,
		clock:    time.Now,
		flags:    make(map[string]*flag.Flag),
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.restore(ctx); err != nil {
		return nil, err
	}

	for _, seed := range seeds {
		if err := s.merge(seed); err != nil {
			return nil, err
		}
	}

	if err := s.validateLinks(); err != nil {
		return nil, err
	}

	// Links may have changed since the records were saved.
	for _, upper := range s.sortedLocked() {
		if len(upper.LinkedLowerFlags) > 0 {
			s.deriveUpper(upper, time.Time{})
		}
	}

	if err := s.persist(ctx); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Flag store ready", "flags", len(s.flags))

	return s, nil
}

// restore loads persisted records, tolerating an empty repository.
func (s *Store) restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	persisted, err := s.repo.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("load flags: %w", err)
	}

	for _, f := range persisted {
		s.flags[f.ID] = f.Clone()
	}

	return nil
}

// merge adds seed or refreshes the metadata of an existing record.
func (s *Store) merge(seed *flag.Flag) error {
	if seed.ID == "" {
		return ErrInvalidID
	}

	if seed.Tier == flag.TierLower && seed.Priority != nil {
		return fmt.Errorf("%q: %w", seed.ID, ErrPriorityOnLower)
	}

	existing, ok := s.flags[seed.ID]
	if !ok {
		created := seed.Clone()
		created.State = false
		created.LastStateChange = time.Time{}
		s.flags[seed.ID] = created

		return nil
	}

	if existing.Tier != seed.Tier {
		return fmt.Errorf("%q is %s, not %s: %w", seed.ID, existing.Tier, seed.Tier, ErrTierMismatch)
	}

	existing.Name = seed.Name
	existing.Priority = flag.ClonePriority(seed.Priority)
	existing.LinkedLowerFlags = slices.Clone(seed.LinkedLowerFlags)
	existing.OnActions = flag.CloneActions(seed.OnActions)
	existing.OffActions = flag.CloneActions(seed.OffActions)

	return nil
}

// validateLinks checks that every link points to a known lower flag.
func (s *Store) validateLinks() error {
	for _, f := range s.flags {
		for _, linked := range f.LinkedLowerFlags {
			target, ok := s.flags[linked]
			if !ok || target.Tier != flag.TierLower {
				return fmt.Errorf("%q links %q: %w", f.ID, linked, ErrInvalidLink)
			}
		}
	}

	return nil
}

// SetState switches a flag On or Off at the given time (zero means now).
// It reports whether a transition happened and returns the last decision
// computed for it; setting the current state is a no-op with a nil decision.
// A lower flag transition re-derives the upper flags linked to it.
func (s *Store) SetState(ctx context.Context, id string, on bool, at time.Time) (bool, *flag.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flags[id]
	if !ok {
		return false, nil, fmt.Errorf("%q: %w", id, ErrUnknownFlag)
	}

	if f.State == on {
		return false, nil, nil
	}

	decision := s.transition(ctx, f, on, at)

	if f.Tier == flag.TierLower {
		for _, upper := range s.sortedLocked() {
			if slices.Contains(upper.LinkedLowerFlags, id) && s.deriveUpper(upper, at) {
				decision = latest(decision, s.notify(ctx, upper.ID))
			}
		}
	}

	return true, decision, s.persist(ctx)
}

// SetPriority changes the priority of an upper flag and returns the decision
// recomputed for it, nil when the priority is unchanged.
func (s *Store) SetPriority(ctx context.Context, id string, priority *int) (*flag.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flags[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrUnknownFlag)
	}

	if f.Tier == flag.TierLower && priority != nil {
		return nil, fmt.Errorf("%q: %w", id, ErrPriorityOnLower)
	}

	if equalPriority(f.Priority, priority) {
		return nil, nil //nolint:nilnil // An unchanged priority computes no decision.
	}

	f.Priority = flag.ClonePriority(priority)

	logger.InfoKV(ctx, "Flag priority changed", "flag_id", id, "priority", flag.FormatPriority(priority))
	decision := s.notify(ctx, id)

	return decision, s.persist(ctx)
}

// Register creates a flag in the Off state on first reference, or refreshes
// the metadata of an existing one. The tier of an existing flag cannot change.
func (s *Store) Register(ctx context.Context, def *flag.Flag) (*flag.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, linked := range def.LinkedLowerFlags {
		target, ok := s.flags[linked]
		if !ok || target.Tier != flag.TierLower {
			return nil, fmt.Errorf("%q links %q: %w", def.ID, linked, ErrInvalidLink)
		}
	}

	_, existed := s.flags[def.ID]
	if err := s.merge(def); err != nil {
		return nil, err
	}

	f := s.flags[def.ID]

	if existed {
		s.notify(ctx, def.ID)
	}

	if len(f.LinkedLowerFlags) > 0 && s.deriveUpper(f, time.Time{}) {
		s.notify(ctx, def.ID)
	}

	if err := s.persist(ctx); err != nil {
		return nil, err
	}

	return f.Clone(), nil
}

// Refresh recomputes the decision from the current snapshot without changing any flag.
func (s *Store) Refresh(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notify(ctx, "")
}

// ActiveUpperFlags returns a consistent snapshot of the upper flags that are On.
func (s *Store) ActiveUpperFlags() []*flag.Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeUpperLocked()
}

// Flags returns a snapshot of all flags sorted by id.
func (s *Store) Flags() []*flag.Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneAll(s.sortedLocked())
}

// Get returns a copy of one flag.
func (s *Store) Get(id string) (*flag.Flag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flags[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrUnknownFlag)
	}

	return f.Clone(), nil
}

// transition flips a flag, stamps it and notifies the listener.
func (s *Store) transition(ctx context.Context, f *flag.Flag, on bool, at time.Time) *flag.Decision {
	f.State = on
	f.LastStateChange = s.stamp(f, at)

	logger.InfoKV(
		ctx,
		"Flag state changed",
		"flag_id", f.ID,
		"tier", string(f.Tier),
		"state", on,
		"at", f.LastStateChange,
	)

	return s.notify(ctx, f.ID)
}

// deriveUpper sets an upper flag to the OR of its linked lower flags.
// It reports whether the state changed. The caller notifies.
func (s *Store) deriveUpper(upper *flag.Flag, at time.Time) bool {
	shouldBeOn := false

	for _, linked := range upper.LinkedLowerFlags {
		if lower, ok := s.flags[linked]; ok && lower.State {
			shouldBeOn = true

			break
		}
	}

	if upper.State == shouldBeOn {
		return false
	}

	upper.State = shouldBeOn
	upper.LastStateChange = s.stamp(upper, at)

	return true
}

// stamp returns the time of a transition of f. A time not after the flag's
// previous change is moved to 1ns past it; other flags are not consulted.
func (s *Store) stamp(f *flag.Flag, at time.Time) time.Time {
	if at.IsZero() {
		at = s.clock()
	}

	at = at.UTC()
	if !at.After(f.LastStateChange) {
		at = f.LastStateChange.Add(time.Nanosecond)
	}

	return at
}

// notify hands the listener a view bound to the locked store.
func (s *Store) notify(ctx context.Context, id string) *flag.Decision {
	if s.listener == nil {
		return nil
	}

	return s.listener.OnFlagChanged(ctx, id, lockedView{store: s})
}

// latest prefers the newer of two decisions, ignoring nil.
func latest(current, next *flag.Decision) *flag.Decision {
	if next == nil {
		return current
	}

	return next
}

// persist saves all records. The caller holds the lock.
func (s *Store) persist(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	if err := s.repo.Save(ctx, s.sortedLocked()); err != nil {
		logger.Errorf(ctx, "Failed to persist flags: %v", err)

		return fmt.Errorf("persist flags: %w", err)
	}

	return nil
}

// activeUpperLocked returns copies of the active upper flags. The caller holds the lock.
func (s *Store) activeUpperLocked() []*flag.Flag {
	var active []*flag.Flag

	for _, f := range s.sortedLocked() {
		if f.IsActiveUpper() {
			active = append(active, f.Clone())
		}
	}

	return active
}

// sortedLocked returns the records ordered by id. The caller holds the lock.
func (s *Store) sortedLocked() []*flag.Flag {
	result := make([]*flag.Flag, 0, len(s.flags))
	for _, f := range s.flags {
		result = append(result, f)
	}

	slices.SortFunc(result, func(a, b *flag.Flag) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return result
}

// lockedView reads the store without locking; it is only handed out while
// the write lock is held.
type lockedView struct {
	store *Store
}

// ActiveUpperFlags returns the active upper flags of the locked store.
func (v lockedView) ActiveUpperFlags() []*flag.Flag {
	return v.store.activeUpperLocked()
}

func cloneAll(flags []*flag.Flag) []*flag.Flag {
	result := make([]*flag.Flag, 0, len(flags))
	for _, f := range flags {
		result = append(result, f.Clone())
	}

	return result
}

func equalPriority(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return *a == *b
}

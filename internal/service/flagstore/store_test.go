package flagstore

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/flag-arbiter/internal/arbiter"
	"github.com/oshokin/flag-arbiter/internal/domain/flag"
	repo "github.com/oshokin/flag-arbiter/internal/repository/flags"
)

var (
	errTestLoad = errors.New("test load error")
	errTestSave = errors.New("test save error")
)

var base = time.Date(2024, time.January, 1, 16, 10, 0, 0, time.UTC)

// memoryRepository is a minimal in-memory Repository implementation for tests.
type memoryRepository struct {
	// flags are returned from Load.
	flags []*flag.Flag
	// loadErr is returned from Load.
	loadErr error
	// saveErr is returned from Save.
	saveErr error
	// saved holds the last records passed to Save.
	saved []*flag.Flag
	// saves counts Save calls.
	saves int
}

func (m *memoryRepository) Load(context.Context) ([]*flag.Flag, error) {
	return m.flags, m.loadErr
}

func (m *memoryRepository) Save(_ context.Context, flags []*flag.Flag) error {
	m.saves++
	m.saved = make([]*flag.Flag, 0, len(flags))

	for _, f := range flags {
		m.saved = append(m.saved, f.Clone())
	}

	return m.saveErr
}

// notification is one recorded listener call.
type notification struct {
	id     string
	active []string
}

// recordingListener remembers every notification with the active ids it saw.
type recordingListener struct {
	calls []notification
}

func (l *recordingListener) OnFlagChanged(_ context.Context, id string, src arbiter.Source) *flag.Decision {
	var active []string
	for _, f := range src.ActiveUpperFlags() {
		active = append(active, f.ID)
	}

	l.calls = append(l.calls, notification{id: id, active: active})

	return nil
}

func (l *recordingListener) ids() []string {
	result := make([]string, 0, len(l.calls))
	for _, c := range l.calls {
		result = append(result, c.id)
	}

	return result
}

func fixedClock() time.Time {
	return base
}

func seeds() []*flag.Flag {
	return []*flag.Flag{
		{ID: "eew", Tier: flag.TierUpper, Priority: flag.Priority(1)},
		{ID: "tsunami", Tier: flag.TierUpper},
		{ID: "eew-low", Tier: flag.TierLower},
		{ID: "eew-high", Tier: flag.TierLower},
		{ID: "eew-any", Tier: flag.TierUpper, LinkedLowerFlags: []string{"eew-low", "eew-high"}},
	}
}

func newStore(t *testing.T, repository repo.Repository, listener Listener) *Store {
	t.Helper()

	s, err := New(context.Background(), repository, seeds(), listener, WithClock(fixedClock))
	require.NoError(t, err)

	return s
}

// TestNew_RestoresAndMergesSeeds keeps persisted state and refreshes metadata from seeds.
func TestNew_RestoresAndMergesSeeds(t *testing.T) {
	t.Parallel()

	persisted := []*flag.Flag{
		{ID: "tsunami", Name: "old", Tier: flag.TierUpper, State: true, LastStateChange: base, Priority: flag.Priority(9)},
	}
	memory := &memoryRepository{flags: persisted}

	s, err := New(context.Background(), memory, []*flag.Flag{
		{ID: "tsunami", Name: "Tsunami", Tier: flag.TierUpper},
		{ID: "eew", Name: "EEW", Tier: flag.TierUpper, Priority: flag.Priority(2)},
	}, nil)
	require.NoError(t, err)

	tsunami, err := s.Get("tsunami")
	require.NoError(t, err)
	require.True(t, tsunami.State)
	require.Equal(t, base, tsunami.LastStateChange)
	require.Equal(t, "Tsunami", tsunami.Name)
	require.Nil(t, tsunami.Priority)

	eew, err := s.Get("eew")
	require.NoError(t, err)
	require.False(t, eew.State)
	require.True(t, eew.LastStateChange.IsZero())
	require.Equal(t, 1, memory.saves)
	require.Len(t, memory.saved, 2)
}

// TestNew_Errors covers load failures and invalid seeds.
func TestNew_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, err := New(ctx, &memoryRepository{loadErr: errTestLoad}, nil, nil)
	require.ErrorIs(t, err, errTestLoad)

	_, err = New(ctx, &memoryRepository{loadErr: repo.ErrNotFound}, seeds(), nil)
	require.NoError(t, err)

	_, err = New(ctx, &memoryRepository{flags: []*flag.Flag{{ID: "eew", Tier: flag.TierLower}}}, seeds(), nil)
	require.ErrorIs(t, err, ErrTierMismatch)

	_, err = New(ctx, nil, []*flag.Flag{{ID: "low", Tier: flag.TierLower, Priority: flag.Priority(1)}}, nil)
	require.ErrorIs(t, err, ErrPriorityOnLower)

	_, err = New(ctx, nil, []*flag.Flag{{ID: "up", Tier: flag.TierUpper, LinkedLowerFlags: []string{"ghost"}}}, nil)
	require.ErrorIs(t, err, ErrInvalidLink)
}

// TestSetState_TransitionStampsAndNotifies checks one transition yields one stamp and one notification.
func TestSetState_TransitionStampsAndNotifies(t *testing.T) {
	t.Parallel()

	memory := new(memoryRepository)
	listener := new(recordingListener)
	s := newStore(t, memory, listener)

	at := base.Add(time.Minute)
	changed, _, err := s.SetState(context.Background(), "eew", true, at)
	require.NoError(t, err)
	require.True(t, changed)

	got, err := s.Get("eew")
	require.NoError(t, err)
	require.True(t, got.State)
	require.Equal(t, at, got.LastStateChange)

	require.Equal(t, []notification{{id: "eew", active: []string{"eew"}}}, listener.calls)
	require.Equal(t, 2, memory.saves)
}

// TestSetState_SameValueIsNotATransition leaves the timestamp alone and skips the recompute.
func TestSetState_SameValueIsNotATransition(t *testing.T) {
	t.Parallel()

	listener := new(recordingListener)
	s := newStore(t, nil, listener)

	changed, _, err := s.SetState(context.Background(), "eew", false, base.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, changed)
	require.Empty(t, listener.calls)

	got, err := s.Get("eew")
	require.NoError(t, err)
	require.True(t, got.LastStateChange.IsZero())
}

// TestSetState_StampsArePerFlag advances a stale or equal time past the flag's
// own previous change and leaves the times of other flags alone.
func TestSetState_StampsArePerFlag(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil, nil)
	ctx := context.Background()

	_, _, err := s.SetState(ctx, "eew", true, base)
	require.NoError(t, err)
	_, _, err = s.SetState(ctx, "tsunami", true, base)
	require.NoError(t, err)
	_, _, err = s.SetState(ctx, "eew", false, base.Add(-time.Hour))
	require.NoError(t, err)
	_, _, err = s.SetState(ctx, "eew", true, time.Time{})
	require.NoError(t, err)

	tsunami, err := s.Get("tsunami")
	require.NoError(t, err)
	require.Equal(t, base, tsunami.LastStateChange)

	eew, err := s.Get("eew")
	require.NoError(t, err)
	require.Equal(t, base.Add(2*time.Nanosecond), eew.LastStateChange)
}

// TestSetState_LateEventKeepsItsTime ranks a late report by the time it carries,
// not by when it arrived.
func TestSetState_LateEventKeepsItsTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	controller := arbiter.New(nopClient{})

	s, err := New(ctx, nil, []*flag.Flag{
		{ID: "quake", Tier: flag.TierUpper},
		{ID: "tsunami", Tier: flag.TierUpper},
	}, controller, WithClock(fixedClock))
	require.NoError(t, err)

	_, _, err = s.SetState(ctx, "quake", true, base.Add(10*time.Second))
	require.NoError(t, err)

	_, decision, err := s.SetState(ctx, "tsunami", true, base.Add(5*time.Second))
	require.NoError(t, err)

	tsunami, err := s.Get("tsunami")
	require.NoError(t, err)
	require.Equal(t, base.Add(5*time.Second), tsunami.LastStateChange)

	require.Equal(t, "quake", decision.WinnerID())
	require.Equal(t, 2, decision.ActiveUpper)
}

// TestMutations_ReturnTheirDecision returns the decision computed inside the
// mutation, the last one when a lower flag drives a linked upper flag.
func TestMutations_ReturnTheirDecision(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	controller := arbiter.New(nopClient{})

	s, err := New(ctx, nil, seeds(), controller, WithClock(fixedClock))
	require.NoError(t, err)

	changed, decision, err := s.SetState(ctx, "eew-low", true, base)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "eew-any", decision.Trigger)
	require.Equal(t, "eew-any", decision.WinnerID())
	require.Equal(t, controller.Current(), decision)

	changed, decision, err = s.SetState(ctx, "eew-low", true, base)
	require.NoError(t, err)
	require.False(t, changed)
	require.Nil(t, decision)

	decision, err = s.SetPriority(ctx, "eew-any", flag.Priority(0))
	require.NoError(t, err)
	require.Equal(t, "eew-any", decision.Trigger)
	require.Equal(t, controller.Current().Sequence, decision.Sequence)

	decision, err = s.SetPriority(ctx, "eew-any", flag.Priority(0))
	require.NoError(t, err)
	require.Nil(t, decision)
}

// TestSetState_LinkedLowerFlags derives the upper flag as the OR of its linked lower flags.
func TestSetState_LinkedLowerFlags(t *testing.T) {
	t.Parallel()

	listener := new(recordingListener)
	s := newStore(t, nil, listener)
	ctx := context.Background()

	_, _, err := s.SetState(ctx, "eew-low", true, base.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, []notification{
		{id: "eew-low"},
		{id: "eew-any", active: []string{"eew-any"}},
	}, listener.calls)

	anyFlag, err := s.Get("eew-any")
	require.NoError(t, err)
	require.True(t, anyFlag.State)
	require.Equal(t, base.Add(time.Second), anyFlag.LastStateChange)

	_, _, err = s.SetState(ctx, "eew-high", true, time.Time{})
	require.NoError(t, err)
	_, _, err = s.SetState(ctx, "eew-low", false, time.Time{})
	require.NoError(t, err)

	anyFlag, err = s.Get("eew-any")
	require.NoError(t, err)
	require.True(t, anyFlag.State)
	require.Equal(t, base.Add(time.Second), anyFlag.LastStateChange)

	_, _, err = s.SetState(ctx, "eew-high", false, time.Time{})
	require.NoError(t, err)

	anyFlag, err = s.Get("eew-any")
	require.NoError(t, err)
	require.False(t, anyFlag.State)
	require.Equal(t,
		[]string{"eew-low", "eew-any", "eew-high", "eew-low", "eew-high", "eew-any"},
		listener.ids(),
	)
}

// TestSetState_Errors covers unknown flags and persistence failures.
func TestSetState_Errors(t *testing.T) {
	t.Parallel()

	memory := new(memoryRepository)
	listener := new(recordingListener)
	s := newStore(t, memory, listener)
	ctx := context.Background()

	_, _, err := s.SetState(ctx, "ghost", true, base)
	require.ErrorIs(t, err, ErrUnknownFlag)

	memory.saveErr = errTestSave

	changed, _, err := s.SetState(ctx, "eew", true, base)
	require.ErrorIs(t, err, errTestSave)
	require.True(t, changed)
	require.Equal(t, []string{"eew"}, listener.ids())
}

// TestSetPriority changes upper flag precedence and recomputes.
func TestSetPriority(t *testing.T) {
	t.Parallel()

	listener := new(recordingListener)
	s := newStore(t, nil, listener)
	ctx := context.Background()

	_, err := s.SetPriority(ctx, "tsunami", flag.Priority(0))
	require.NoError(t, err)
	_, err = s.SetPriority(ctx, "tsunami", flag.Priority(0))
	require.NoError(t, err)
	require.Equal(t, []string{"tsunami"}, listener.ids())

	got, err := s.Get("tsunami")
	require.NoError(t, err)
	require.Equal(t, flag.Priority(0), got.Priority)
	require.True(t, got.LastStateChange.IsZero())

	_, err = s.SetPriority(ctx, "tsunami", nil)
	require.NoError(t, err)
	_, err = s.SetPriority(ctx, "eew-low", flag.Priority(1))
	require.ErrorIs(t, err, ErrPriorityOnLower)
	_, err = s.SetPriority(ctx, "eew-low", nil)
	require.NoError(t, err)
	_, err = s.SetPriority(ctx, "ghost", nil)
	require.ErrorIs(t, err, ErrUnknownFlag)
}

// TestRegister creates flags Off on first reference and refuses tier changes.
func TestRegister(t *testing.T) {
	t.Parallel()

	listener := new(recordingListener)
	s := newStore(t, nil, listener)
	ctx := context.Background()

	created, err := s.Register(ctx, &flag.Flag{ID: "volcano", Name: "Volcano", Tier: flag.TierUpper, State: true})
	require.NoError(t, err)
	require.False(t, created.State)
	require.Empty(t, listener.calls)

	_, _, err = s.SetState(ctx, "volcano", true, base)
	require.NoError(t, err)

	updated, err := s.Register(ctx, &flag.Flag{ID: "volcano", Name: "Eruption", Tier: flag.TierUpper, Priority: flag.Priority(3)})
	require.NoError(t, err)
	require.True(t, updated.State)
	require.Equal(t, "Eruption", updated.Name)
	require.Equal(t, flag.Priority(3), updated.Priority)

	_, err = s.Register(ctx, &flag.Flag{ID: "volcano", Tier: flag.TierLower})
	require.ErrorIs(t, err, ErrTierMismatch)

	_, err = s.Register(ctx, &flag.Flag{ID: "", Tier: flag.TierUpper})
	require.ErrorIs(t, err, ErrInvalidID)

	_, err = s.Register(ctx, &flag.Flag{ID: "linked", Tier: flag.TierUpper, LinkedLowerFlags: []string{"eew"}})
	require.ErrorIs(t, err, ErrInvalidLink)

	_, err = s.Get("linked")
	require.ErrorIs(t, err, ErrUnknownFlag)
}

// TestRegister_LinkedDerivesState turns a new linked upper flag On when a linked lower flag is On.
func TestRegister_LinkedDerivesState(t *testing.T) {
	t.Parallel()

	listener := new(recordingListener)
	s := newStore(t, nil, listener)
	ctx := context.Background()

	_, _, err := s.SetState(ctx, "eew-high", true, base)
	require.NoError(t, err)

	created, err := s.Register(ctx, &flag.Flag{
		ID:               "eew-strong",
		Tier:             flag.TierUpper,
		LinkedLowerFlags: []string{"eew-high"},
	})
	require.NoError(t, err)
	require.True(t, created.State)
	require.Equal(t, "eew-strong", listener.calls[len(listener.calls)-1].id)
}

// TestSnapshots returns copies in id order.
func TestSnapshots(t *testing.T) {
	t.Parallel()

	listener := new(recordingListener)
	s := newStore(t, nil, listener)
	ctx := context.Background()

	_, _, err := s.SetState(ctx, "tsunami", true, base)
	require.NoError(t, err)
	_, _, err = s.SetState(ctx, "eew", true, base)
	require.NoError(t, err)

	active := s.ActiveUpperFlags()
	require.Len(t, active, 2)
	require.Equal(t, "eew", active[0].ID)
	require.Equal(t, "tsunami", active[1].ID)

	active[0].State = false

	got, err := s.Get("eew")
	require.NoError(t, err)
	require.True(t, got.State)

	all := s.Flags()
	require.Len(t, all, 5)
	require.Equal(t, "eew", all[0].ID)
	require.Equal(t, "tsunami", all[4].ID)

	s.Refresh(ctx)
	require.Equal(t, notification{id: "", active: []string{"eew", "tsunami"}}, listener.calls[len(listener.calls)-1])
}

// nopClient accepts every decision.
type nopClient struct{}

func (nopClient) Apply(context.Context, *flag.Decision) error {
	return nil
}

// collectingClient records delivered decisions in delivery order.
type collectingClient struct {
	mu      sync.Mutex
	applied []*flag.Decision
}

func (c *collectingClient) Apply(_ context.Context, decision *flag.Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.applied = append(c.applied, decision.Clone())

	return nil
}

func (c *collectingClient) decisions() []*flag.Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.applied)
}

// snapshotListener forwards to the controller and remembers the snapshot each
// decision was computed from.
type snapshotListener struct {
	controller *arbiter.Controller

	mu        sync.Mutex
	snapshots map[uint64][]*flag.Flag
}

func (l *snapshotListener) OnFlagChanged(ctx context.Context, id string, src arbiter.Source) *flag.Decision {
	decision := l.controller.OnFlagChanged(ctx, id, src)

	l.mu.Lock()
	l.snapshots[decision.Sequence] = src.ActiveUpperFlags()
	l.mu.Unlock()

	return decision
}

func (l *snapshotListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.snapshots)
}

func (l *snapshotListener) snapshot(sequence uint64) []*flag.Flag {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.snapshots[sequence]
}

// rankedWinner orders active flags by priority class, priority, recency and id.
func rankedWinner(active []*flag.Flag) *flag.Flag {
	if len(active) == 0 {
		return nil
	}

	ranked := slices.Clone(active)
	slices.SortFunc(ranked, func(a, b *flag.Flag) int {
		switch {
		case a.HasPriority() != b.HasPriority():
			if a.HasPriority() {
				return -1
			}

			return 1
		case a.HasPriority() && *a.Priority != *b.Priority:
			return cmp.Compare(*a.Priority, *b.Priority)
		case !a.LastStateChange.Equal(b.LastStateChange):
			return b.LastStateChange.Compare(a.LastStateChange)
		default:
			return cmp.Compare(a.ID, b.ID)
		}
	})

	return ranked[0]
}

// TestStore_ConcurrentWriters runs writers in parallel against a real controller.
// Decisions must reach the client in sequence order, each computed from a
// snapshot that no other writer was changing.
func TestStore_ConcurrentWriters(t *testing.T) {
	t.Parallel()

	client := new(collectingClient)
	controller := arbiter.New(client)
	listener := &snapshotListener{
		controller: controller,
		snapshots:  make(map[uint64][]*flag.Flag),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = controller.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	s, err := New(ctx, nil, seeds(), listener)
	require.NoError(t, err)

	controller.Attach(s)

	const (
		writers    = 6
		iterations = 60
	)

	ids := []string{"eew", "tsunami", "eew-low", "eew-high", "eew-any"}

	var wg sync.WaitGroup

	for w := range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range iterations {
				id := ids[(w+i)%len(ids)]

				_, _, setErr := s.SetState(ctx, id, (w+i)%2 == 0, time.Time{})
				if setErr != nil {
					t.Errorf("set %q: %v", id, setErr)

					return
				}

				switch {
				case i%5 == 0:
					priority := flag.Priority(i % 3)
					if w%2 == 0 {
						priority = nil
					}

					if _, prioErr := s.SetPriority(ctx, "tsunami", priority); prioErr != nil {
						t.Errorf("set priority: %v", prioErr)

						return
					}
				case i%7 == 0:
					s.Refresh(ctx)
				}
			}
		}()
	}

	wg.Wait()
	s.Refresh(ctx)

	total := listener.count()
	require.Positive(t, total)

	require.Eventually(t, func() bool {
		return len(client.decisions()) == total
	}, 5*time.Second, 5*time.Millisecond)

	for i, d := range client.decisions() {
		require.Equal(t, uint64(i+1), d.Sequence)

		snapshot := listener.snapshot(d.Sequence)
		require.Len(t, snapshot, d.ActiveUpper, "sequence %d", d.Sequence)

		for _, f := range snapshot {
			require.True(t, f.State, "sequence %d: %q", d.Sequence, f.ID)
			require.False(t, f.LastStateChange.IsZero(), "sequence %d: %q", d.Sequence, f.ID)
		}

		want := rankedWinner(snapshot)
		if want == nil {
			require.True(t, d.IsIdle(), "sequence %d", d.Sequence)

			continue
		}

		require.Equal(t, want.ID, d.WinnerID(), "sequence %d", d.Sequence)
		require.Equal(t, want.LastStateChange, d.Winner.LastStateChange, "sequence %d", d.Sequence)
		require.Equal(t, want.Priority, d.Winner.Priority, "sequence %d", d.Sequence)
	}

	final := rankedWinner(s.ActiveUpperFlags())
	if final == nil {
		require.True(t, controller.Current().IsIdle())

		return
	}

	require.Equal(t, final.ID, controller.Current().WinnerID())
}

package arbiter

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/flag-arbiter/internal/domain/flag"
	"github.com/oshokin/flag-arbiter/internal/logger"
)

// Client applies decisions to the external control surface.
// A nil winner in the decision means the default/idle state.
type Client interface {
	Apply(ctx context.Context, decision *flag.Decision) error
}

// Source is the consistent view of the flag store handed to OnFlagChanged.
type Source interface {
	ActiveUpperFlags() []*flag.Flag
}

// Refresher recomputes the decision from the store's current snapshot.
type Refresher interface {
	Refresh(ctx context.Context)
}

// Observer is notified about decisions and failed deliveries.
type Observer interface {
	Decided(decision *flag.Decision, winnerChanged bool)
	DeliveryFailed(decision *flag.Decision, err error)
}

// Controller owns the recompute-on-every-change discipline.
type Controller struct {
	// client is the only handle to the control surface.
	client Client
	// observer receives decision events.
	observer Observer
	// refresher is used to recompute before retrying a failed delivery.
	refresher Refresher
	// clock stamps DecidedAt.
	clock func() time.Time
	// retryInterval is the delay before a failed delivery is recomputed and retried.
	retryInterval time.Duration

	// queue holds decisions waiting for delivery in computation order.
	queue *queue

	// mu protects sequence and current.
	mu sync.Mutex
	// sequence counts recomputations.
	sequence uint64
	// current is the latest computed decision.
	current *flag.Decision
}

// Option configures the controller.
type Option func(*Controller)

// WithRetryInterval sets the delay before a failed delivery is retried.
// Zero disables retries: failures are only reported.
func WithRetryInterval(interval time.Duration) Option {
	return func(c *Controller) {
		if interval >= 0 {
			c.retryInterval = interval
		}
	}
}

// WithClock overrides the wall clock used for DecidedAt.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithObserver registers an observer for decision events.
func WithObserver(observer Observer) Option {
	return func(c *Controller) {
		if observer != nil {
			c.observer = observer
		}
	}
}

// New creates a controller that delivers decisions to client.
func New(client Client, opts ...Option) *Controller {
	c := &Controller{
		client:   client,
		observer: nopObserver{},
		clock:    time.Now,
		queue:    newQueue(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Attach sets the store used to recompute before a retry.
// It must be called before Run.
func (c *Controller) Attach(refresher Refresher) {
	c.refresher = refresher
}

// OnFlagChanged recomputes the decision from src, queues it for delivery and
// returns a copy. The caller must hold the store's write lock so that the
// snapshot is not torn and decisions are queued in transition order.
// It never blocks on the client.
func (c *Controller) OnFlagChanged(ctx context.Context, id string, src Source) *flag.Decision {
	active := src.ActiveUpperFlags()
	winner := decide(active)

	c.mu.Lock()
	c.sequence++

	decision := &flag.Decision{
		ID:          uuid.New(),
		Sequence:    c.sequence,
		Trigger:     id,
		Winner:      flag.NewWinnerView(winner),
		ActiveUpper: countActiveUpper(active),
		DecidedAt:   c.clock(),
	}

	winnerChanged := c.current == nil || c.current.WinnerID() != decision.WinnerID()
	c.current = decision
	c.mu.Unlock()

	c.queue.push(decision)
	c.observer.Decided(decision, winnerChanged)

	logger.DebugKV(
		ctx,
		"Decision computed",
		"sequence", decision.Sequence,
		"trigger", id,
		"winner", decision.WinnerID(),
		"active_upper", decision.ActiveUpper,
	)

	return decision.Clone()
}

// Current returns the latest computed decision, nil before the first one.
func (c *Controller) Current() *flag.Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current.Clone()
}

// Run delivers queued decisions to the client in order until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "arbiter")

	for {
		if decision, ok := c.queue.pop(); ok {
			c.deliver(ctx, decision)

			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-c.queue.signal:
		}
	}
}

// deliver applies one decision and handles a delivery fault.
func (c *Controller) deliver(ctx context.Context, decision *flag.Decision) {
	err := c.client.Apply(ctx, decision)
	if err == nil {
		logger.InfoKV(
			ctx,
			"Decision applied",
			"decision_id", decision.ID.String(),
			"sequence", decision.Sequence,
			"winner", decision.WinnerID(),
		)

		return
	}

	if ctx.Err() != nil {
		return
	}

	logger.ErrorKV(
		ctx,
		"Failed to apply decision",
		"decision_id", decision.ID.String(),
		"sequence", decision.Sequence,
		"winner", decision.WinnerID(),
		"error", err,
	)
	c.observer.DeliveryFailed(decision, err)
	c.retry(ctx)
}

// retry waits and then recomputes from the current snapshot.
// The failed decision itself is never resent. A newer queued decision
// supersedes the retry.
func (c *Controller) retry(ctx context.Context) {
	if c.retryInterval <= 0 || c.refresher == nil || c.queue.pending() {
		return
	}

	timer := time.NewTimer(c.retryInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.queue.signal:
			if c.queue.pending() {
				return
			}
		case <-timer.C:
			if c.queue.pending() {
				return
			}

			logger.Info(ctx, "Recomputing decision before retry")
			c.refresher.Refresh(ctx)

			return
		}
	}
}

// countActiveUpper counts flags that are upper tier and On.
func countActiveUpper(flags []*flag.Flag) int {
	count := 0

	for _, f := range flags {
		if f.IsActiveUpper() {
			count++
		}
	}

	return count
}

// nopObserver discards events.
type nopObserver struct{}

func (nopObserver) Decided(*flag.Decision, bool) {}
func (nopObserver) DeliveryFailed(*flag.Decision, error) {}

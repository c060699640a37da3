//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	api "github.com/oshokin/flag-arbiter/internal/api/grpc/flags"
	"github.com/oshokin/flag-arbiter/internal/config"
	"github.com/oshokin/flag-arbiter/internal/domain/flag"
)

// Client wraps the gRPC FlagService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the arbiter server.
	conn *grpc.ClientConn
	// api is the FlagService client.
	api api.FlagServiceClient

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
	// actor is forwarded as request metadata when set.
	actor *Actor
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithActor forwards the actor with every call.
func WithActor(actor *Actor) Option {
	return func(c *Client) {
		c.actor = actor
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errIDRequired is returned when a flag id is not provided.
	errIDRequired = errors.New("flag id must be provided")
	// errMalformedResponse is returned when the server reply lacks expected fields.
	errMalformedResponse = errors.New("malformed server response")
)

// Dial establishes a gRPC connection to the arbiter server.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy until native TLS is added.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial arbiter server: %w", err)
	}

	client := &Client{
		conn:        conn,
		api:         api.NewFlagServiceClient(conn),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// SetFlagState switches a flag. A zero at lets the server pick the time.
func (c *Client) SetFlagState(
	ctx context.Context,
	id string,
	on bool,
	at time.Time,
) (bool, *flag.Decision, error) {
	if id == "" {
		return false, nil, errIDRequired
	}

	fields := map[string]any{
		"id": id,
		"on": on,
	}

	if !at.IsZero() {
		fields["at"] = at.UTC().Format(time.RFC3339Nano)
	}

	request, err := structpb.NewStruct(fields)
	if err != nil {
		return false, nil, fmt.Errorf("build request: %w", err)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.SetFlagState(callCtx, request)
	if err != nil {
		return false, nil, fmt.Errorf("set flag state: %w", err)
	}

	changed, ok := response.GetFields()["changed"].GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, nil, fmt.Errorf("%w: changed is missing", errMalformedResponse)
	}

	decision, err := api.DecisionFromStruct(response.GetFields()["decision"].GetStructValue())
	if err != nil {
		return false, nil, fmt.Errorf("%w: %w", errMalformedResponse, err)
	}

	return changed.BoolValue, decision, nil
}

// GetDecision retrieves the current decision.
func (c *Client) GetDecision(ctx context.Context) (*flag.Decision, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.GetDecision(callCtx, new(emptypb.Empty))
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}

	decision, err := api.DecisionFromStruct(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedResponse, err)
	}

	return decision, nil
}

// ListFlags retrieves every flag record.
func (c *Client) ListFlags(ctx context.Context) ([]*flag.Flag, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.ListFlags(callCtx, new(emptypb.Empty))
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}

	flags, err := api.FlagsFromList(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedResponse, err)
	}

	return flags, nil
}

// SetFlagPriority changes an upper flag's priority; nil means automatic.
func (c *Client) SetFlagPriority(ctx context.Context, id string, priority *int) (*flag.Decision, error) {
	if id == "" {
		return nil, errIDRequired
	}

	fields := map[string]any{
		"id":       id,
		"priority": nil,
	}

	if priority != nil {
		fields["priority"] = *priority
	}

	request, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.SetFlagPriority(callCtx, request)
	if err != nil {
		return nil, fmt.Errorf("set flag priority: %w", err)
	}

	decision, err := api.DecisionFromStruct(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedResponse, err)
	}

	return decision, nil
}

// RegisterFlag creates a flag on the server, or refreshes its definition,
// and returns the stored record.
func (c *Client) RegisterFlag(ctx context.Context, def *flag.Flag) (*flag.Flag, error) {
	if def == nil || def.ID == "" {
		return nil, errIDRequired
	}

	request, err := api.DefinitionToStruct(def)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.RegisterFlag(callCtx, request)
	if err != nil {
		return nil, fmt.Errorf("register flag: %w", err)
	}

	registered, err := api.FlagFromStruct(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedResponse, err)
	}

	return registered, nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline. The actor, when
// known, travels as outgoing metadata.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.actor != nil {
		ctx = metadata.AppendToOutgoingContext(
			ctx,
			api.MetadataActorHostname, c.actor.Hostname,
			api.MetadataActorUsername, c.actor.Username,
		)
	}

	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

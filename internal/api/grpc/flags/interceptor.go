package flags

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/oshokin/flag-arbiter/internal/logger"
)

// Metadata keys carrying the calling actor.
const (
	MetadataActorHostname = "x-actor-hostname"
	MetadataActorUsername = "x-actor-username"
)

// UnaryLoggingInterceptor puts the method and calling actor into the request
// logger and logs every call with its status code.
func UnaryLoggingInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	ctx = logger.WithFields(ctx, "method", info.FullMethod, "actor", actorFromContext(ctx))

	started := time.Now()
	resp, err := handler(ctx, req)

	logger.DebugKV(ctx, "Request handled", "code", status.Code(err).String(), "duration", time.Since(started))

	return resp, err
}

// actorFromContext renders the incoming actor metadata as user@host.
func actorFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "unknown"
	}

	host := firstValue(md, MetadataActorHostname)
	user := firstValue(md, MetadataActorUsername)

	if host == "" && user == "" {
		return "unknown"
	}

	return user + "@" + host
}

func firstValue(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}

	return values[0]
}

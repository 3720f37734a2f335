package adminapi

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"

	"github.com/resql/resql/pkg/log"
)

// LoggingInterceptor logs every admin-plane RPC's method, duration,
// and outcome. The teacher's equivalent interceptor (pkg/api) gated
// write methods off of a Unix-socket listener; that distinction
// doesn't apply here since every AdminAPI method is already read-only
// by construction, so this interceptor's only job is observability.
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logEvent := log.Logger.Info()
		if err != nil {
			logEvent = log.Logger.Warn()
		}
		logEvent.
			Str("method", methodName(info.FullMethod)).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("adminapi request")
		return resp, err
	}
}

func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	return parts[len(parts)-1]
}

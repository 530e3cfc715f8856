package door

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/oshokin/door-monitor/internal/logger"
)

// LoggingInterceptor names the request logger and logs every call.
func LoggingInterceptor(base context.Context) grpc.UnaryServerInterceptor {
	named := logger.FromContext(base)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = logger.ToContext(ctx, named)

		if p, ok := peer.FromContext(ctx); ok {
			ctx = logger.WithKV(ctx, "peer", p.Addr.String())
		}

		started := time.Now()
		resp, err := handler(ctx, req)

		logger.DebugKV(ctx, "Handled gRPC call",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(started).String(),
		)

		return resp, err
	}
}

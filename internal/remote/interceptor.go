package remote

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/cartridge/rollout/internal/metrics"
)

// LoggingInterceptor logs every unary request and reports it to the
// metrics collector when one is given.
func LoggingInterceptor(logger zerolog.Logger, collector *metrics.Collector) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		event := logger.Debug()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", duration).
			Msg("grpc request")

		if collector != nil {
			collector.EnvRequest(info.FullMethod, err == nil, duration)
		}
		return resp, err
	}
}

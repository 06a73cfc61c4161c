package server

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/sentivec/embedd/internal/metrics"
	"github.com/sentivec/embedd/internal/rpc"
)

// concurrencyLimit bounds in-flight requests to the worker pool size. Excess
// requests queue on the semaphore in arrival order rather than spawning
// unbounded work; a caller that gives up while queued gets its context error
// back as a status.
func concurrencyLimit(workers int) grpc.UnaryServerInterceptor {
	sem := semaphore.NewWeighted(int64(workers))
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, status.FromContextError(err).Err()
		}
		defer sem.Release(1)

		metrics.InflightRequests.Inc()
		defer metrics.InflightRequests.Dec()

		return handler(ctx, req)
	}
}

// requestLog assigns each request an id and logs its outcome.
func requestLog(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		id := uuid.NewString()

		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("request_id", id),
			zap.Duration("took", time.Since(start)),
		}
		if err != nil {
			fields = append(fields, zap.String("code", status.Code(err).String()), zap.Error(err))
			logger.Warn("request failed", fields...)
		} else {
			logger.Debug("request served", fields...)
		}
		return resp, err
	}
}

// telemetry feeds the prometheus counters and histograms.
func telemetry() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start).Seconds()

		switch info.FullMethod {
		case rpc.MethodGenerateEmbeddings:
			metrics.EmbedRequests.Inc()
			metrics.EmbedDuration.Observe(elapsed)
		case rpc.MethodRerankPassages:
			metrics.RerankRequests.Inc()
			metrics.RerankDuration.Observe(elapsed)
		}
		if err != nil {
			metrics.RequestFailures.WithLabelValues(info.FullMethod).Inc()
		}
		return resp, err
	}
}

package server

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sentivec/embedd/internal/engine"
	"github.com/sentivec/embedd/internal/rpc"
)

// handlers implements rpc.EmbeddingServiceServer. It holds no mutable state
// beyond the read-only engine handle, so every method is safe under
// concurrent dispatch. Faults never escape a request: they are translated to
// a status error and an empty response.
type handlers struct {
	engine   engine.Engine
	logger   *zap.Logger
	maxBatch int // 0 = unlimited
}

func newHandlers(eng engine.Engine, logger *zap.Logger, maxBatch int) *handlers {
	return &handlers{engine: eng, logger: logger, maxBatch: maxBatch}
}

func (h *handlers) GenerateEmbeddings(ctx context.Context, req *rpc.EmbeddingRequest) (*rpc.EmbeddingResponse, error) {
	if err := h.checkBatch(len(req.Texts), "texts"); err != nil {
		return &rpc.EmbeddingResponse{}, err
	}

	h.logger.Info("generating embeddings", zap.Int("texts", len(req.Texts)))

	vecs, err := h.engine.Encode(ctx, req.Texts)
	if err != nil {
		h.logger.Error("error generating embeddings", zap.Error(err))
		return &rpc.EmbeddingResponse{}, status.Errorf(codes.Internal, "error generating embeddings: %v", err)
	}
	if len(vecs) != len(req.Texts) {
		h.logger.Error("engine returned misaligned batch",
			zap.Int("want", len(req.Texts)), zap.Int("got", len(vecs)))
		return &rpc.EmbeddingResponse{}, status.Error(codes.Internal, "engine returned misaligned batch")
	}

	embeddings := make([][]byte, len(vecs))
	for i, vec := range vecs {
		embeddings[i] = engine.QuantizeBinary(vec)
	}
	return &rpc.EmbeddingResponse{Embeddings: embeddings}, nil
}

func (h *handlers) RerankPassages(ctx context.Context, req *rpc.RerankingRequest) (*rpc.RerankingResponse, error) {
	if err := h.checkBatch(len(req.Passages), "passages"); err != nil {
		return &rpc.RerankingResponse{}, err
	}

	h.logger.Info("reranking passages",
		zap.Int("passages", len(req.Passages)),
		zap.Int("query_len", len(req.Query)),
	)

	scores, err := h.engine.Score(ctx, req.Query, req.Passages)
	if err != nil {
		if errors.Is(err, engine.ErrRerankerDisabled) {
			return &rpc.RerankingResponse{}, status.Error(codes.FailedPrecondition, "no reranking model configured")
		}
		h.logger.Error("error reranking passages", zap.Error(err))
		return &rpc.RerankingResponse{}, status.Errorf(codes.Internal, "error reranking passages: %v", err)
	}
	if len(scores) != len(req.Passages) {
		h.logger.Error("engine returned misaligned scores",
			zap.Int("want", len(req.Passages)), zap.Int("got", len(scores)))
		return &rpc.RerankingResponse{}, status.Error(codes.Internal, "engine returned misaligned scores")
	}

	return &rpc.RerankingResponse{Scores: scores}, nil
}

// HealthCheck is a liveness probe only: it reports "healthy" as long as the
// process can answer, regardless of engine state or prior request failures.
func (h *handlers) HealthCheck(ctx context.Context, req *rpc.HealthCheckRequest) (*rpc.HealthCheckResponse, error) {
	return &rpc.HealthCheckResponse{Status: rpc.StatusHealthy}, nil
}

func (h *handlers) checkBatch(n int, field string) error {
	if n == 0 {
		return status.Errorf(codes.InvalidArgument, "%s must not be empty", field)
	}
	if h.maxBatch > 0 && n > h.maxBatch {
		return status.Errorf(codes.InvalidArgument, "%s batch of %d exceeds limit of %d", field, n, h.maxBatch)
	}
	return nil
}

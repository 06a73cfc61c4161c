package engine

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Ollama serves embeddings and rerank scores from a local Ollama daemon.
//
// Ollama has no cross-encoder endpoint, so Score embeds the query and the
// passages with the reranking model and rates each pair by angular
// similarity. Scores are comparable within one request, which is all the
// rerank contract promises.
//
// The underlying client is a plain HTTP client and is safe for concurrent
// use, satisfying the Engine precondition without extra locking.
type Ollama struct {
	client        *ollama.Client
	model         string
	rerankerModel string
	limiter       *rate.Limiter // nil = unthrottled
	logger        *zap.Logger
}

type OllamaOptions struct {
	// Host overrides OLLAMA_HOST. Empty uses the client's environment lookup.
	Host string

	// RerankerModel enables the Score capability when non-empty.
	RerankerModel string

	// RateLimit bounds engine calls per second, protecting a shared daemon.
	// Zero disables throttling.
	RateLimit float64
}

func NewOllama(model string, opts OllamaOptions, logger *zap.Logger) (*Ollama, error) {
	var client *ollama.Client
	if opts.Host != "" {
		base, err := url.Parse(opts.Host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host %q: %w", opts.Host, err)
		}
		client = ollama.NewClient(base, http.DefaultClient)
	} else {
		var err error
		client, err = ollama.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("creating ollama client: %w", err)
		}
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), int(math.Ceil(opts.RateLimit)))
	}

	return &Ollama{
		client:        client,
		model:         model,
		rerankerModel: opts.RerankerModel,
		limiter:       limiter,
		logger:        logger,
	}, nil
}

// Load pre-pulls the configured models so the server never accepts traffic
// with a partially available model. A pull failure is fatal to startup.
func (o *Ollama) Load(ctx context.Context) error {
	if err := o.pull(ctx, o.model); err != nil {
		return fmt.Errorf("loading embedding model %q: %w", o.model, err)
	}
	if o.rerankerModel != "" {
		if err := o.pull(ctx, o.rerankerModel); err != nil {
			return fmt.Errorf("loading reranker model %q: %w", o.rerankerModel, err)
		}
	}
	return nil
}

func (o *Ollama) pull(ctx context.Context, model string) error {
	o.logger.Info("pulling model", zap.String("model", model))
	start := time.Now()
	err := o.client.Pull(ctx, &ollama.PullRequest{Model: model}, func(p ollama.ProgressResponse) error {
		return nil
	})
	if err != nil {
		return err
	}
	o.logger.Info("model ready",
		zap.String("model", model),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (o *Ollama) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return o.embed(ctx, o.model, texts)
}

func (o *Ollama) Score(ctx context.Context, query string, passages []string) ([]float32, error) {
	if o.rerankerModel == "" {
		return nil, ErrRerankerDisabled
	}

	// One batch call for the query plus all passages keeps this a single
	// round trip to the daemon.
	inputs := make([]string, 0, len(passages)+1)
	inputs = append(inputs, query)
	inputs = append(inputs, passages...)

	vecs, err := o.embed(ctx, o.rerankerModel, inputs)
	if err != nil {
		return nil, err
	}

	queryVec := vecs[0]
	scores := make([]float32, len(passages))
	for i, passageVec := range vecs[1:] {
		scores[i] = angularSimilarity(queryVec, passageVec)
	}
	return scores, nil
}

func (o *Ollama) embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := o.client.Embed(ctx, &ollama.EmbedRequest{
		Model: model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("backend returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func (o *Ollama) Close() error {
	// The ollama client holds no persistent connections worth tearing down.
	return nil
}

// angularSimilarity maps cosine similarity into [0, 1], spreading out the
// high end where embedding cosines cluster.
func angularSimilarity(a, b []float32) float32 {
	cos := cosineSimilarity(a, b)
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return float32(1 - math.Acos(float64(cos))/math.Pi)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

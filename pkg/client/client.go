// Package client is a thin Go wrapper around the embedd RPC surface.
// Example usage:
//
//	c, err := client.New("localhost:4100", nil)
//	if err != nil {
//	    panic(err)
//	}
//	defer c.Close()
//	vecs, err := c.Embed(ctx, []string{"hello", "world"})
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sentivec/embedd/internal/rpc"
)

// Options tunes the connection. The zero value (or nil) means plaintext with
// the default per-call timeout.
type Options struct {
	// TLS enables an encrypted transport when non-nil.
	TLS *tls.Config

	// Timeout caps each call when the caller's context has no deadline.
	Timeout time.Duration
}

const defaultTimeout = 30 * time.Second

type Client struct {
	cc      *grpc.ClientConn
	timeout time.Duration
}

func New(addr string, opts *Options) (*Client, error) {
	timeout := defaultTimeout
	transport := insecure.NewCredentials()
	if opts != nil {
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		if opts.TLS != nil {
			transport = credentials.NewTLS(opts.TLS)
		}
	}

	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(transport),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(rpc.Codec{}),
			grpc.WaitForReady(true),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating connection to %s: %w", addr, err)
	}

	return &Client{cc: cc, timeout: timeout}, nil
}

// Embed returns one ubinary-quantized vector per text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]byte, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyTexts
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var resp rpc.EmbeddingResponse
	err := c.cc.Invoke(ctx, rpc.MethodGenerateEmbeddings, &rpc.EmbeddingRequest{Texts: texts}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

// Rerank returns one relevance score per passage, in input order.
func (c *Client) Rerank(ctx context.Context, query string, passages []string) ([]float32, error) {
	if len(passages) == 0 {
		return nil, ErrEmptyPassages
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var resp rpc.RerankingResponse
	err := c.cc.Invoke(ctx, rpc.MethodRerankPassages, &rpc.RerankingRequest{Query: query, Passages: passages}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Scores, nil
}

// Health reports the server's liveness status string.
func (c *Client) Health(ctx context.Context) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var resp rpc.HealthCheckResponse
	err := c.cc.Invoke(ctx, rpc.MethodHealthCheck, &rpc.HealthCheckRequest{}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *Client) Close() error {
	return c.cc.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/sentivec/embedd/internal/config"
	"github.com/sentivec/embedd/internal/engine"
	"github.com/sentivec/embedd/internal/rpc"
)

// fakeEngine produces deterministic vectors: the embedding of a text
// quantizes to the text's first byte, which makes ordering checks trivial.
type fakeEngine struct {
	delay          time.Duration
	failText       string // Encode fails when a text equals this
	rerankDisabled bool

	started   chan struct{}
	startOnce sync.Once
}

func (f *fakeEngine) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	f.markStarted()
	if err := f.sleep(ctx); err != nil {
		return nil, err
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		if f.failText != "" && t == f.failText {
			return nil, errors.New("synthetic encode failure")
		}
		vecs[i] = vectorFor(t)
	}
	return vecs, nil
}

func (f *fakeEngine) Score(ctx context.Context, query string, passages []string) ([]float32, error) {
	f.markStarted()
	if f.rerankDisabled {
		return nil, engine.ErrRerankerDisabled
	}
	if err := f.sleep(ctx); err != nil {
		return nil, err
	}
	scores := make([]float32, len(passages))
	for i, p := range passages {
		scores[i] = float32(len(p))
	}
	return scores, nil
}

func (f *fakeEngine) Close() error { return nil }

func (f *fakeEngine) markStarted() {
	if f.started != nil {
		f.startOnce.Do(func() { close(f.started) })
	}
}

func (f *fakeEngine) sleep(ctx context.Context) error {
	if f.delay == 0 {
		return nil
	}
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// vectorFor builds an 8-dim vector whose ubinary quantization equals the
// text's first byte.
func vectorFor(t string) []float32 {
	b := byte(0)
	if t != "" {
		b = t[0]
	}
	vec := make([]float32, 8)
	for j := 0; j < 8; j++ {
		if b&(1<<(7-uint(j))) != 0 {
			vec[j] = 1
		} else {
			vec[j] = -1
		}
	}
	return vec
}

type testHarness struct {
	srv     *Server
	conn    *grpc.ClientConn
	signals chan os.Signal
	runErr  chan error
}

func defaultTestConfig() *config.Config {
	return &config.Config{
		MaxWorkers:      10,
		ShutdownTimeout: 5 * time.Second,
	}
}

func startTestServer(t *testing.T, eng engine.Engine, cfg *config.Config) *testHarness {
	t.Helper()
	if cfg == nil {
		cfg = defaultTestConfig()
	}

	srv, err := New(cfg, eng, zap.NewNop())
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	signals := make(chan os.Signal, 1)
	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(lis, signals) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rpc.Codec{})),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		srv.Shutdown()
		if srv.State() != Stopped {
			select {
			case <-runErr:
			case <-time.After(10 * time.Second):
			}
		}
	})

	return &testHarness{srv: srv, conn: conn, signals: signals, runErr: runErr}
}

func (h *testHarness) embed(ctx context.Context, texts ...string) (*rpc.EmbeddingResponse, error) {
	var resp rpc.EmbeddingResponse
	err := h.conn.Invoke(ctx, rpc.MethodGenerateEmbeddings, &rpc.EmbeddingRequest{Texts: texts}, &resp)
	return &resp, err
}

func (h *testHarness) rerank(ctx context.Context, query string, passages ...string) (*rpc.RerankingResponse, error) {
	var resp rpc.RerankingResponse
	err := h.conn.Invoke(ctx, rpc.MethodRerankPassages, &rpc.RerankingRequest{Query: query, Passages: passages}, &resp)
	return &resp, err
}

func (h *testHarness) health(ctx context.Context) (*rpc.HealthCheckResponse, error) {
	var resp rpc.HealthCheckResponse
	err := h.conn.Invoke(ctx, rpc.MethodHealthCheck, &rpc.HealthCheckRequest{}, &resp)
	return &resp, err
}

func waitForState(t *testing.T, srv *Server, want State, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if srv.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, still %s", want, srv.State())
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGenerateEmbeddingsPreservesOrderAndCount(t *testing.T) {
	h := startTestServer(t, &fakeEngine{}, nil)

	resp, err := h.embed(testCtx(t), "hello", "world")
	require.NoError(t, err)

	require.Len(t, resp.Embeddings, 2)
	assert.Equal(t, []byte{'h'}, resp.Embeddings[0])
	assert.Equal(t, []byte{'w'}, resp.Embeddings[1])
}

func TestGenerateEmbeddingsRejectsEmptyBatch(t *testing.T) {
	h := startTestServer(t, &fakeEngine{}, nil)

	_, err := h.embed(testCtx(t))
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGenerateEmbeddingsRejectsOversizedBatch(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxBatch = 2
	h := startTestServer(t, &fakeEngine{}, cfg)

	_, err := h.embed(testCtx(t), "a", "b", "c")
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	// At the limit is fine.
	resp, err := h.embed(testCtx(t), "a", "b")
	require.NoError(t, err)
	assert.Len(t, resp.Embeddings, 2)
}

func TestGenerateEmbeddingsEngineFaultIsInternal(t *testing.T) {
	h := startTestServer(t, &fakeEngine{failText: "boom"}, nil)

	_, err := h.embed(testCtx(t), "boom")
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "error generating embeddings")
}

func TestFaultInOneRequestDoesNotAffectOthers(t *testing.T) {
	h := startTestServer(t, &fakeEngine{failText: "boom", delay: 20 * time.Millisecond}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.embed(testCtx(t), "boom")
			assert.Equal(t, codes.Internal, status.Code(err))
		}()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := fmt.Sprintf("t%d", i)
			resp, err := h.embed(testCtx(t), text)
			if assert.NoError(t, err) && assert.Len(t, resp.Embeddings, 1) {
				assert.Equal(t, []byte{'t'}, resp.Embeddings[0])
			}
		}(i)
	}
	wg.Wait()
}

func TestRerankPreservesOrderAndCount(t *testing.T) {
	h := startTestServer(t, &fakeEngine{}, nil)

	resp, err := h.rerank(testCtx(t), "cat", "a cat sat", "a dog ran!")
	require.NoError(t, err)

	require.Len(t, resp.Scores, 2)
	assert.Equal(t, float32(len("a cat sat")), resp.Scores[0])
	assert.Equal(t, float32(len("a dog ran!")), resp.Scores[1])
}

func TestRerankWithoutModelIsFailedPrecondition(t *testing.T) {
	h := startTestServer(t, &fakeEngine{rerankDisabled: true}, nil)

	_, err := h.rerank(testCtx(t), "cat", "a cat sat")
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestHealthCheckAlwaysHealthy(t *testing.T) {
	h := startTestServer(t, &fakeEngine{failText: "boom"}, nil)

	// A failing embed does not taint liveness.
	_, err := h.embed(testCtx(t), "boom")
	require.Error(t, err)

	for i := 0; i < 3; i++ {
		resp, err := h.health(testCtx(t))
		require.NoError(t, err)
		assert.Equal(t, rpc.StatusHealthy, resp.Status)
	}
}

func TestRepeatedRequestsAreDeterministic(t *testing.T) {
	h := startTestServer(t, &fakeEngine{}, nil)

	first, err := h.embed(testCtx(t), "hello", "world")
	require.NoError(t, err)
	second, err := h.embed(testCtx(t), "hello", "world")
	require.NoError(t, err)

	assert.Equal(t, first.Embeddings, second.Embeddings)
}

func TestConcurrentRequestsWithinPoolAllSucceed(t *testing.T) {
	h := startTestServer(t, &fakeEngine{delay: 30 * time.Millisecond}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := h.embed(testCtx(t), fmt.Sprintf("x%d", i))
			if assert.NoError(t, err) {
				assert.Len(t, resp.Embeddings, 1)
			}
		}(i)
	}
	wg.Wait()
}

func TestShutdownDrainsInflightRequests(t *testing.T) {
	eng := &fakeEngine{delay: 300 * time.Millisecond, started: make(chan struct{})}
	h := startTestServer(t, eng, nil)
	waitForState(t, h.srv, Serving, 2*time.Second)

	type result struct {
		resp *rpc.EmbeddingResponse
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := h.embed(testCtx(t), "hello")
		got <- result{resp, err}
	}()

	// Signal only once the request is inside the engine.
	select {
	case <-eng.started:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the engine")
	}
	h.signals <- syscall.SIGTERM

	r := <-got
	require.NoError(t, r.err)
	require.Len(t, r.resp.Embeddings, 1)
	assert.Equal(t, []byte{'h'}, r.resp.Embeddings[0])

	require.NoError(t, <-h.runErr)
	assert.Equal(t, Stopped, h.srv.State())
}

func TestRequestsAfterShutdownAreRejected(t *testing.T) {
	h := startTestServer(t, &fakeEngine{}, nil)
	waitForState(t, h.srv, Serving, 2*time.Second)

	h.signals <- syscall.SIGTERM
	require.NoError(t, <-h.runErr)
	waitForState(t, h.srv, Stopped, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := h.embed(ctx, "hello")
	assert.Error(t, err)
}

func TestDuplicateSignalsDrainOnlyOnce(t *testing.T) {
	h := startTestServer(t, &fakeEngine{}, nil)
	waitForState(t, h.srv, Serving, 2*time.Second)

	// Several deliveries must collapse into a single drain.
	for i := 0; i < 3; i++ {
		select {
		case h.signals <- syscall.SIGINT:
		default:
		}
	}
	h.srv.Shutdown()
	h.srv.Shutdown()

	require.NoError(t, <-h.runErr)
	assert.Equal(t, Stopped, h.srv.State())
}

func TestGraceDeadlineAbandonsSlowRequests(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.ShutdownTimeout = 100 * time.Millisecond
	eng := &fakeEngine{delay: 3 * time.Second, started: make(chan struct{})}
	h := startTestServer(t, eng, cfg)
	waitForState(t, h.srv, Serving, 2*time.Second)

	errCh := make(chan error, 1)
	go func() {
		_, err := h.embed(testCtx(t), "slow")
		errCh <- err
	}()

	select {
	case <-eng.started:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the engine")
	}

	start := time.Now()
	h.signals <- syscall.SIGTERM

	// The drain must give up at the deadline, not wait out the engine.
	require.NoError(t, <-h.runErr)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, Stopped, h.srv.State())
	assert.Error(t, <-errCh)
}

func TestLifecycleStateStrings(t *testing.T) {
	assert.Equal(t, "starting", Starting.String())
	assert.Equal(t, "serving", Serving.String())
	assert.Equal(t, "draining", Draining.String())
	assert.Equal(t, "stopped", Stopped.String())
}

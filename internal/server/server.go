// Package server wires the embedding RPC surface: the gRPC dispatcher with
// its bounded worker pool, the request handlers, and the lifecycle state
// machine that sequences startup and graceful shutdown.
package server

import (
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/sentivec/embedd/internal/config"
	"github.com/sentivec/embedd/internal/engine"
	"github.com/sentivec/embedd/internal/rpc"
)

type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	grpc   *grpc.Server
	lc     *lifecycle
}

// New builds the dispatcher around an already-loaded engine. Transport mode
// (plaintext or TLS) is fixed here for the process lifetime.
func New(cfg *config.Config, eng engine.Engine, logger *zap.Logger) (*Server, error) {
	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(rpc.Codec{}),
		grpc.ChainUnaryInterceptor(
			concurrencyLimit(cfg.MaxWorkers),
			telemetry(),
			requestLog(logger),
		),
	}

	if cfg.TLSEnabled() {
		tlsConf, err := cfg.ServerTLS()
		if err != nil {
			return nil, fmt.Errorf("loading TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConf)))
		logger.Info("transport mode: tls")
	} else {
		logger.Info("transport mode: plaintext")
	}

	gs := grpc.NewServer(opts...)
	rpc.RegisterEmbeddingServiceServer(gs, newHandlers(eng, logger, cfg.MaxBatch))

	return &Server{
		cfg:    cfg,
		logger: logger,
		grpc:   gs,
		lc:     newLifecycle(gs, logger, cfg.ShutdownTimeout),
	}, nil
}

// Listen binds all interfaces on the configured port.
func (s *Server) Listen() (net.Listener, error) {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding listener on %s: %w", addr, err)
	}
	return lis, nil
}

// Run serves until a signal on signals completes the drain. Blocking.
func (s *Server) Run(lis net.Listener, signals <-chan os.Signal) error {
	return s.lc.run(lis, signals)
}

// Shutdown triggers the drain without a signal. Idempotent; used by tests
// and embedders.
func (s *Server) Shutdown() {
	s.lc.shutdown()
}

// State reports the current lifecycle state.
func (s *Server) State() State {
	return s.lc.State()
}

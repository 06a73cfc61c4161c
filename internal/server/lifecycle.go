package server

import (
	"net"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/sentivec/embedd/internal/metrics"
)

// State is the process-wide lifecycle state. Transitions run strictly
// forward: Starting -> Serving -> Draining -> Stopped. Only the lifecycle
// drives them.
type State int32

const (
	Starting State = iota
	Serving
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Serving:
		return "serving"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// lifecycle sequences serving and shutdown for a gRPC server.
//
// Draining is entered at most once: the shutdown path is guarded so that
// repeated termination signals neither restart the drain nor disturb the
// grace timer. In-flight requests get up to the grace window to finish;
// whatever still runs at the deadline is abandoned by a hard stop.
type lifecycle struct {
	grpc   *grpc.Server
	logger *zap.Logger
	grace  time.Duration

	state    atomic.Int32
	draining atomic.Bool
	done     chan struct{}
}

func newLifecycle(srv *grpc.Server, logger *zap.Logger, grace time.Duration) *lifecycle {
	l := &lifecycle{
		grpc:   srv,
		logger: logger,
		grace:  grace,
		done:   make(chan struct{}),
	}
	l.setState(Starting)
	return l
}

func (l *lifecycle) State() State {
	return State(l.state.Load())
}

func (l *lifecycle) setState(s State) {
	l.state.Store(int32(s))
	metrics.LifecycleState.Set(float64(s))
}

// run serves on lis until a termination signal arrives and the drain
// finishes, or until Serve fails outright (bad listener). It returns nil on
// any graceful stop, matching the process contract of exiting 0 whether or
// not the grace deadline was hit.
func (l *lifecycle) run(lis net.Listener, signals <-chan os.Signal) error {
	l.setState(Serving)
	l.logger.Info("server started", zap.String("addr", lis.Addr().String()))

	serveErr := make(chan error, 1)
	go func() { serveErr <- l.grpc.Serve(lis) }()

	for {
		select {
		case sig := <-signals:
			l.logger.Info("received termination signal, initiating graceful shutdown",
				zap.String("signal", sig.String()))
			l.shutdown()

		case err := <-serveErr:
			// Serve returns nil once Stop/GracefulStop runs; a real error
			// before any drain means the listener died under us.
			if err != nil && !l.draining.Load() {
				l.setState(Stopped)
				return err
			}

		case <-l.done:
			l.logger.Info("server stopped")
			return nil
		}
	}
}

// shutdown begins the drain exactly once. Safe to call from any goroutine
// and any number of times.
func (l *lifecycle) shutdown() {
	if !l.draining.CompareAndSwap(false, true) {
		return
	}
	l.setState(Draining)

	go func() {
		defer close(l.done)

		drained := make(chan struct{})
		go func() {
			// Closes the listener immediately, then waits for in-flight
			// requests.
			l.grpc.GracefulStop()
			close(drained)
		}()

		timer := time.NewTimer(l.grace)
		defer timer.Stop()

		select {
		case <-drained:
			l.logger.Info("all in-flight requests completed")
		case <-timer.C:
			l.logger.Warn("grace deadline elapsed, abandoning in-flight requests",
				zap.Duration("grace", l.grace))
			l.grpc.Stop()
			<-drained
		}
		l.setState(Stopped)
	}()
}

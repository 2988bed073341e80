package bridge

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/umlpipe/pkg/engine"
	"github.com/matzehuels/umlpipe/pkg/errors"
	"github.com/matzehuels/umlpipe/pkg/observability"
	"github.com/matzehuels/umlpipe/pkg/render"
)

const (
	// ReadHeaderTimeout bounds how long a client may take to send headers.
	ReadHeaderTimeout = 5 * time.Second

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout = 60 * time.Second

	// ShutdownTimeout is the maximum time to wait for in-flight requests on Stop.
	ShutdownTimeout = 5 * time.Second
)

// Status reports the outcome of a start or stop command.
type Status struct {
	Success bool   `json:"success"`
	Port    int    `json:"port,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Options configures a Bridge.
type Options struct {
	Engine render.Engine
	// PortStart and PortEnd bound automatic port selection.
	// Zero uses DefaultPortStart and DefaultPortEnd.
	PortStart int
	PortEnd   int
	Logger    *log.Logger
	// OnStatus, if set, receives every Status that Start and Stop return.
	OnStatus func(Status)
}

// Bridge serves one engine over loopback HTTP. At most one listener is
// alive per Bridge; starting again replaces it.
type Bridge struct {
	engine    render.Engine
	portStart int
	portEnd   int
	logger    *log.Logger
	onStatus  func(Status)
	handler   http.Handler

	// lifecycle serializes Start and Stop. It is always acquired before mu.
	lifecycle sync.Mutex

	mu     sync.Mutex
	srv    *http.Server
	port   int
	served chan struct{} // closed when Serve returns
}

// New creates a stopped Bridge.
func New(opts Options) *Bridge {
	if opts.PortStart == 0 {
		opts.PortStart = DefaultPortStart
	}
	if opts.PortEnd == 0 {
		opts.PortEnd = DefaultPortEnd
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	b := &Bridge{
		engine:    opts.Engine,
		portStart: opts.PortStart,
		portEnd:   opts.PortEnd,
		logger:    opts.Logger.WithPrefix("bridge"),
		onStatus:  opts.OnStatus,
	}
	b.handler = b.routes()
	return b
}

// Handler returns the bridge's HTTP handler.
func (b *Bridge) Handler() http.Handler { return b.handler }

// Start closes any running listener, makes sure the engine is up, then
// binds port (0 selects automatic mode) and serves on it.
//
// An engine start failure leaves no socket bound. A bind failure stops the
// engine again unless it was already running. Errors are reported in the
// returned Status, never as a partially started bridge.
func (b *Bridge) Start(ctx context.Context, port int) Status {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.shutdown()

	wasRunning := engineRunning(b.engine)
	if err := b.engine.EnsureStarted(ctx); err != nil {
		b.logger.Error("engine start failed", "err", err)
		return b.emit(Status{Error: err.Error()})
	}

	var (
		ln  net.Listener
		err error
	)
	if port != 0 {
		ln, err = Bind(port)
	} else {
		ln, err = BindAuto(b.portStart, b.portEnd)
	}
	observability.Bridge().OnListen(ctx, port, err)
	if err != nil {
		b.logger.Error("bind failed", "port", port, "err", err)
		if !wasRunning {
			if serr := b.engine.Stop(); serr != nil {
				b.logger.Warn("engine stop failed", "err", serr)
			}
		}
		return b.emit(Status{Error: err.Error()})
	}

	srv := &http.Server{
		Handler:           b.handler,
		ReadHeaderTimeout: ReadHeaderTimeout,
		IdleTimeout:       IdleTimeout,
	}
	served := make(chan struct{})

	b.mu.Lock()
	b.srv, b.port, b.served = srv, listenerPort(ln), served
	b.mu.Unlock()
	go b.serve(srv, ln, served)

	b.logger.Info("listening", "addr", ln.Addr().String())
	return b.emit(Status{Success: true, Port: listenerPort(ln)})
}

func (b *Bridge) serve(srv *http.Server, ln net.Listener, done chan<- struct{}) {
	defer close(done)
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		b.logger.Error("serve failed", "err", err)
	}
}

// Stop closes the listener and stops the engine.
func (b *Bridge) Stop() Status {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.shutdown()
	if err := b.engine.Stop(); err != nil {
		b.logger.Warn("engine stop failed", "err", err)
		return b.emit(Status{Error: err.Error()})
	}
	return b.emit(Status{Success: true})
}

// Status reports whether the bridge is listening and on which port.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.srv == nil {
		return Status{}
	}
	return Status{Success: true, Port: b.port}
}

// Port returns the bound port, or 0 when stopped.
func (b *Bridge) Port() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port
}

// Done returns a channel closed when the current listener stops serving.
// It is nil when the bridge is stopped.
func (b *Bridge) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.served
}

// shutdown detaches the current server and waits up to ShutdownTimeout
// for its in-flight requests. Caller holds lifecycle; mu is released while
// waiting so Status and Port answer immediately.
func (b *Bridge) shutdown() {
	b.mu.Lock()
	srv, port, served := b.srv, b.port, b.served
	b.srv, b.port, b.served = nil, 0, nil
	b.mu.Unlock()
	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		b.logger.Warn("forced shutdown", "err", err)
		_ = srv.Close()
	}
	<-served
	b.logger.Info("closed", "port", port)
}

// engineRunning reports whether e is already up. Engines without stats
// count as stopped.
func engineRunning(e render.Engine) bool {
	sp, ok := e.(render.StatsProvider)
	return ok && sp.Stats().State == engine.StateRunning
}

func (b *Bridge) emit(st Status) Status {
	if b.onStatus != nil {
		b.onStatus(st)
	}
	return st
}

// statusCode maps a render error to an HTTP status.
func statusCode(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodeDecode, errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

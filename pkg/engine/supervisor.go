package engine

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/umlpipe/pkg/errors"
	"github.com/matzehuels/umlpipe/pkg/observability"
)

// DefaultTimeout bounds how long a request may wait for its frame.
const DefaultTimeout = 10 * time.Second

// DefaultMarker terminates every SVG document the engine writes.
const DefaultMarker = "</svg>"

const readChunkSize = 32 * 1024

// State is the lifecycle state of the engine process.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	}
	return "unknown"
}

// Options configures a Supervisor.
type Options struct {
	Launcher Launcher
	// Timeout per request. Zero uses DefaultTimeout.
	Timeout time.Duration
	// Marker closes every output frame. Empty uses DefaultMarker.
	Marker string
	Logger *log.Logger
}

// Stats is a snapshot of supervisor counters.
type Stats struct {
	State      State
	PID        int
	QueueDepth int
	Starts     int
	Renders    int
	Timeouts   int
	Crashes    int
	Stray      int
}

// Supervisor owns the engine process, its byte streams, the request queue
// and the output buffer. Nothing else touches them.
//
// Supervisor is safe for concurrent use. Submit calls are serialized at the
// point where they enter the queue and write to stdin.
type Supervisor struct {
	launcher Launcher
	timeout  time.Duration
	marker   []byte
	logger   *log.Logger

	// writeMu serializes enqueue+write so queue order equals write order.
	// It is always acquired before mu.
	writeMu sync.Mutex

	mu    sync.Mutex
	state State
	proc  Process
	gen   uint64 // bumped whenever proc changes; stale readers compare against it
	queue Queue
	buf   []byte
	stats Stats
}

// NewSupervisor creates a stopped Supervisor. The engine is launched lazily
// by the first Submit or explicitly with Start.
func NewSupervisor(opts Options) *Supervisor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Marker == "" {
		opts.Marker = DefaultMarker
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Supervisor{
		launcher: opts.Launcher,
		timeout:  opts.Timeout,
		marker:   []byte(opts.Marker),
		logger:   opts.Logger.WithPrefix("engine"),
	}
}

// Start launches the engine, stopping a running instance first.
// A missing engine binary fails with ENGINE_BINARY_MISSING.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		s.state = StateRestarting
		s.stopLocked(errors.New(errors.ErrCodeProcessStopped, "engine restarted"))
	}
	return s.startLocked(ctx)
}

// EnsureStarted launches the engine unless it is already running.
func (s *Supervisor) EnsureStarted(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		return nil
	}
	return s.startLocked(ctx)
}

// Stop terminates the engine, failing every pending request with
// PROCESS_STOPPED. Stopping a stopped Supervisor does nothing.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil
	}
	n := s.stopLocked(errors.New(errors.ErrCodeProcessStopped, "engine stopped"))
	s.logger.Info("stopped", "rejected", n)
	observability.Engine().OnStop(context.Background(), n)
	return nil
}

// Restart stops and starts the engine.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateRestarting
	s.stopLocked(errors.New(errors.ErrCodeProcessStopped, "engine restarted"))
	return s.startLocked(ctx)
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the supervisor counters.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.State = s.state
	st.QueueDepth = s.queue.Len()
	if s.proc != nil {
		st.PID = s.proc.Pid()
	}
	return st
}

// Submit renders source and returns the engine's frame for it.
//
// Sources without a recognized @end marker are never written to the engine;
// Submit returns Placeholder for them. Rendering errors reported by the
// engine arrive as ordinary frames.
//
// Cancelling ctx releases the caller only. The request stays queued so the
// frame it is owed is still consumed in order.
func (s *Supervisor) Submit(ctx context.Context, source string) ([]byte, error) {
	if err := s.EnsureStarted(ctx); err != nil {
		return nil, err
	}
	if !IsComplete(source) {
		return Placeholder(), nil
	}
	if err := errors.ValidateSource(source); err != nil {
		return nil, err
	}

	p, err := s.enqueue(source)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-p.done:
		return res.frame, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// enqueue appends a request and writes its source to the engine.
func (s *Supervisor) enqueue(source string) (*pending, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.proc == nil || s.state != StateRunning {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrCodeProcessStopped, "engine is not running")
	}
	p := newPending(source)
	p.timer = time.AfterFunc(s.timeout, func() { s.expire(p) })
	s.queue.Push(p)
	proc, gen, depth := s.proc, s.gen, s.queue.Len()
	s.mu.Unlock()

	s.logger.Debug("submitted", "id", p.id, "bytes", len(source), "queue", depth)
	observability.Engine().OnSubmit(context.Background(), depth)

	// Written outside mu: a stuck engine may block here until the timeout
	// restart kills it, which closes the pipe and unblocks the write.
	if _, err := io.WriteString(proc.Stdin(), source+"\n"); err != nil {
		s.mu.Lock()
		removed := s.gen == gen && s.queue.Remove(p)
		s.mu.Unlock()
		if removed {
			// p is the tail: no later entry could be queued while writeMu is held.
			p.timer.Stop()
			return nil, errors.Wrap(errors.ErrCodeProcessClosed, err, "write to engine")
		}
		// Already rejected by a stop or exit; the outcome is waiting in p.done.
	}
	return p, nil
}

// startLocked launches a new process. Caller holds mu.
func (s *Supervisor) startLocked(ctx context.Context) error {
	if s.launcher == nil {
		s.state = StateStopped
		return errors.New(errors.ErrCodeEngineBinaryMissing, "no engine launcher configured")
	}
	s.state = StateStarting
	proc, err := s.launcher.Launch(ctx)
	if err != nil {
		s.state = StateStopped
		s.logger.Error("start failed", "err", err)
		observability.Engine().OnStart(context.Background(), 0, err)
		return err
	}

	s.gen++
	s.proc = proc
	s.buf = nil
	s.state = StateRunning
	s.stats.Starts++

	go s.readLoop(proc, s.gen)

	s.logger.Info("started", "pid", proc.Pid())
	observability.Engine().OnStart(context.Background(), proc.Pid(), nil)
	return nil
}

// stopLocked kills the process and drains the queue with reason.
// Caller holds mu. The state ends as Stopped.
func (s *Supervisor) stopLocked(reason error) int {
	proc := s.proc
	s.proc = nil
	s.gen++
	s.buf = nil
	s.state = StateStopped
	if proc != nil {
		_ = proc.Stdin().Close()
		if err := proc.Kill(); err != nil {
			s.logger.Warn("kill failed", "pid", proc.Pid(), "err", err)
		}
	}
	return s.queue.RejectAll(reason)
}

// readLoop drains stdout of one process until EOF, then reaps it.
func (s *Supervisor) readLoop(proc Process, gen uint64) {
	stderrDone := make(chan struct{})
	go s.drainStderr(proc.Stderr(), stderrDone)

	stdout := proc.Stdout()
	chunk := make([]byte, readChunkSize)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			s.deliver(gen, chunk[:n])
		}
		if err != nil {
			break
		}
	}

	<-stderrDone
	s.exited(gen, proc.Wait())
}

// deliver appends output and resolves every complete frame, head first.
func (s *Supervisor) deliver(gen uint64, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}

	s.buf = append(s.buf, data...)
	for {
		frame, rest, ok := ExtractFrame(s.buf, s.marker)
		if !ok {
			break
		}
		frame = bytes.Clone(frame)
		if len(rest) == 0 {
			s.buf = nil
		} else {
			s.buf = rest
		}

		p := s.queue.Pop()
		if p == nil {
			s.stats.Stray++
			s.logger.Warn("discarding frame with no pending request", "bytes", len(frame))
			continue
		}
		s.stats.Renders++
		elapsed := time.Since(p.enqueuedAt)
		p.resolve(frame, nil)

		s.logger.Debug("rendered", "id", p.id, "bytes", len(frame), "duration", elapsed.Round(time.Millisecond))
		observability.Engine().OnFrame(context.Background(), len(frame), elapsed)
	}
}

// exited handles the end of a process. Deliberate stops have already
// bumped gen, so only unexpected exits get past the check.
func (s *Supervisor) exited(gen uint64, waitErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}

	s.proc = nil
	s.gen++
	s.buf = nil
	s.state = StateStopped
	s.stats.Crashes++
	n := s.queue.RejectAll(errors.Wrap(errors.ErrCodeProcessClosed, waitErr, "engine exited unexpectedly"))

	s.logger.Error("exited unexpectedly", "rejected", n, "err", waitErr)
	observability.Engine().OnExit(context.Background(), n, waitErr)
}

// expire handles a request that got no frame in time. The engine is
// desynchronized, so every other queued request is dropped with it.
func (s *Supervisor) expire(p *pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.queue.Remove(p) {
		return
	}

	s.stats.Timeouts++
	depth := s.queue.Len()
	s.logger.Warn("render timed out, restarting engine", "id", p.id, "timeout", s.timeout, "rejected", depth)
	observability.Engine().OnTimeout(context.Background(), depth)

	s.state = StateRestarting
	s.stopLocked(errors.New(errors.ErrCodeProcessStopped, "engine restarted after a render timeout"))
	if err := s.startLocked(context.Background()); err != nil {
		// Stay stopped; the next Submit retries the launch.
		s.logger.Error("restart failed", "err", err)
	}
	p.resolve(nil, errors.New(errors.ErrCodeRenderTimeout, "no output within %s", s.timeout))
}

// drainStderr forwards engine diagnostics to the debug log.
func (s *Supervisor) drainStderr(r io.Reader, done chan<- struct{}) {
	defer close(done)
	if r == nil {
		return
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.logger.Debug("stderr", "line", sc.Text())
	}
}

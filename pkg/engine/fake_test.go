package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeBehavior controls how a fakeEngine answers a block.
type fakeBehavior struct {
	hangOn  string // stop answering (this block and all later ones)
	dropOn  string // silently skip the frame for this block
	splitAt int    // write each frame in two chunks split at this offset
}

// fakeLauncher starts in-memory engines connected through io.Pipe.
type fakeLauncher struct {
	behavior fakeBehavior
	err      error

	mu       sync.Mutex
	launched []*fakeProcess
}

func (l *fakeLauncher) Launch(ctx context.Context) (Process, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p := newFakeProcess(len(l.launched)+1, l.behavior)
	l.launched = append(l.launched, p)
	return p, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched[len(l.launched)-1]
}

type fakeProcess struct {
	pid      int
	behavior fakeBehavior

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	received atomic.Int64 // bytes read from stdin
	blocks   atomic.Int64 // complete blocks seen

	once    sync.Once
	done    chan struct{}
	exitErr error
}

var errKilled = errors.New("signal: killed")

func newFakeProcess(pid int, b fakeBehavior) *fakeProcess {
	p := &fakeProcess{pid: pid, behavior: b, done: make(chan struct{})}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	go p.run()
	return p
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader     { return nil }
func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Kill() error           { p.exit(errKilled); return nil }

func (p *fakeProcess) Wait() error {
	<-p.done
	return p.exitErr
}

// exit ends the process: stdout reaches EOF and stdin writes fail.
func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.exitErr = err
		p.stdinR.CloseWithError(io.ErrClosedPipe)
		p.stdoutW.Close()
		close(p.done)
	})
}

// run reads newline-terminated lines and answers every complete block with
// one <svg> frame echoing the block's body.
func (p *fakeProcess) run() {
	sc := bufio.NewScanner(p.stdinR)
	var block strings.Builder
	stuck := false
	for sc.Scan() {
		line := sc.Text()
		p.received.Add(int64(len(line) + 1))
		block.WriteString(line)
		block.WriteByte('\n')
		if !IsComplete(block.String()) {
			continue
		}
		src := block.String()
		block.Reset()
		p.blocks.Add(1)

		if stuck || (p.behavior.hangOn != "" && strings.Contains(src, p.behavior.hangOn)) {
			stuck = true
			continue
		}
		if p.behavior.dropOn != "" && strings.Contains(src, p.behavior.dropOn) {
			continue
		}
		p.write(fmt.Sprintf("<svg><desc>%s</desc></svg>", body(src)))
	}
}

func (p *fakeProcess) write(frame string) {
	if n := p.behavior.splitAt; n > 0 && n < len(frame) {
		_, _ = io.WriteString(p.stdoutW, frame[:n])
		time.Sleep(5 * time.Millisecond)
		_, _ = io.WriteString(p.stdoutW, frame[n:])
		return
	}
	_, _ = io.WriteString(p.stdoutW, frame)
}

// body strips the @start/@end lines from a block.
func body(src string) string {
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(src), "\n") {
		if strings.HasPrefix(l, "@") {
			continue
		}
		lines = append(lines, l)
	}
	return strings.Join(lines, ";")
}

func diagram(body string) string {
	return "@startuml\n" + body + "\n@enduml"
}

func newTestSupervisor(t *testing.T, l Launcher, timeout time.Duration) *Supervisor {
	t.Helper()
	s := NewSupervisor(Options{Launcher: l, Timeout: timeout})
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

// waitQueue polls until the queue holds n entries.
func waitQueue(t *testing.T, s *Supervisor, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().QueueDepth == n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("queue depth = %d, want %d", s.Stats().QueueDepth, n)
}

// waitBlocks polls until the fake engine has read n complete blocks.
func waitBlocks(t *testing.T, p *fakeProcess, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.blocks.Load() == n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("engine read %d blocks, want %d", p.blocks.Load(), n)
}

type submitResult struct {
	frame []byte
	err   error
}

func submitAsync(s *Supervisor, src string) <-chan submitResult {
	ch := make(chan submitResult, 1)
	go func() {
		frame, err := s.Submit(context.Background(), src)
		ch <- submitResult{frame, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan submitResult) submitResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("submit did not return")
		return submitResult{}
	}
}

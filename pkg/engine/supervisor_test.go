package engine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matzehuels/umlpipe/pkg/errors"
)

func TestSubmitSequentialFIFO(t *testing.T) {
	l := &fakeLauncher{}
	s := newTestSupervisor(t, l, time.Second)
	ctx := context.Background()

	for i := range 20 {
		want := fmt.Sprintf("A%d -> B%d", i, i)
		frame, err := s.Submit(ctx, diagram(want))
		if err != nil {
			t.Fatalf("Submit #%d: %v", i, err)
		}
		if !bytes.Contains(frame, []byte(want)) {
			t.Errorf("response #%d = %q, want it to contain %q", i, frame, want)
		}
	}

	if l.count() != 1 {
		t.Errorf("launched %d processes, want 1", l.count())
	}
	if st := s.Stats(); st.Renders != 20 || st.QueueDepth != 0 {
		t.Errorf("Stats() = %+v, want 20 renders and empty queue", st)
	}
}

func TestSubmitConcurrentCorrelation(t *testing.T) {
	l := &fakeLauncher{behavior: fakeBehavior{splitAt: 7}}
	s := newTestSupervisor(t, l, 2*time.Second)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			want := fmt.Sprintf("node%03d", i)
			frame, err := s.Submit(context.Background(), diagram(want))
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Contains(frame, []byte(want)) {
				errs <- fmt.Errorf("request %s got %q", want, frame)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestSubmitIncompleteNeverWrites(t *testing.T) {
	l := &fakeLauncher{}
	s := newTestSupervisor(t, l, time.Second)

	start := time.Now()
	frame, err := s.Submit(context.Background(), "@startuml\nA -> B")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !bytes.Equal(frame, Placeholder()) {
		t.Errorf("Submit = %q, want placeholder", frame)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("placeholder took %v", elapsed)
	}
	if got := l.last().received.Load(); got != 0 {
		t.Errorf("engine received %d bytes, want 0", got)
	}

	// A complete request afterwards is not stuck behind the fragment.
	frame, err = s.Submit(context.Background(), diagram("C -> D"))
	if err != nil || !bytes.Contains(frame, []byte("C -> D")) {
		t.Errorf("Submit after fragment = %q, %v", frame, err)
	}
}

func TestSubmitLaunchFailure(t *testing.T) {
	missing := errors.New(errors.ErrCodeEngineBinaryMissing, "engine artifact not found")
	l := &fakeLauncher{err: missing}
	s := newTestSupervisor(t, l, time.Second)

	_, err := s.Submit(context.Background(), diagram("A -> B"))
	if !errors.Is(err, errors.ErrCodeEngineBinaryMissing) {
		t.Fatalf("Submit error = %v, want ENGINE_BINARY_MISSING", err)
	}
	if st := s.Stats(); st.State != StateStopped || st.QueueDepth != 0 {
		t.Errorf("Stats() = %+v, want stopped with empty queue", st)
	}
}

func TestTimeoutIsolation(t *testing.T) {
	l := &fakeLauncher{behavior: fakeBehavior{hangOn: "HANG"}}
	s := newTestSupervisor(t, l, 300*time.Millisecond)

	a := submitAsync(s, diagram("HANG"))
	waitQueue(t, s, 1)
	b := submitAsync(s, diagram("B"))
	waitQueue(t, s, 2)
	c := submitAsync(s, diagram("C"))
	waitQueue(t, s, 3)

	if r := await(t, a); !errors.Is(r.err, errors.ErrCodeRenderTimeout) {
		t.Errorf("A error = %v, want RENDER_TIMEOUT", r.err)
	}
	for name, ch := range map[string]<-chan submitResult{"B": b, "C": c} {
		if r := await(t, ch); !errors.Is(r.err, errors.ErrCodeProcessStopped) {
			t.Errorf("%s error = %v, want PROCESS_STOPPED", name, r.err)
		}
	}

	frame, err := s.Submit(context.Background(), diagram("D"))
	if err != nil {
		t.Fatalf("D after restart: %v", err)
	}
	if !bytes.Contains(frame, []byte("D")) {
		t.Errorf("D response = %q", frame)
	}
	if l.count() != 2 {
		t.Errorf("launched %d processes, want 2", l.count())
	}
	if st := s.Stats(); st.Timeouts != 1 || st.State != StateRunning {
		t.Errorf("Stats() = %+v, want 1 timeout and running", st)
	}
}

func TestProcessCrashDrain(t *testing.T) {
	l := &fakeLauncher{behavior: fakeBehavior{hangOn: "@"}}
	s := newTestSupervisor(t, l, 5*time.Second)

	const m = 3
	var results []<-chan submitResult
	for i := range m {
		results = append(results, submitAsync(s, diagram(fmt.Sprintf("X%d", i))))
		waitQueue(t, s, i+1)
	}

	first := l.last()
	first.exit(fmt.Errorf("exit status 1"))

	for i, ch := range results {
		if r := await(t, ch); !errors.Is(r.err, errors.ErrCodeProcessClosed) {
			t.Errorf("request %d error = %v, want PROCESS_CLOSED", i, r.err)
		}
	}
	if st := s.Stats(); st.State != StateStopped || st.Crashes != 1 {
		t.Errorf("Stats() = %+v, want stopped after one crash", st)
	}

	// The next request launches a fresh process instead of reusing the dead one.
	l.behavior = fakeBehavior{}
	frame, err := s.Submit(context.Background(), diagram("fresh"))
	if err != nil {
		t.Fatalf("Submit after crash: %v", err)
	}
	if !bytes.Contains(frame, []byte("fresh")) {
		t.Errorf("response = %q", frame)
	}
	if l.count() != 2 || l.last() == first {
		t.Errorf("launched %d processes, want a second one", l.count())
	}
}

func TestStopRejectsPending(t *testing.T) {
	l := &fakeLauncher{behavior: fakeBehavior{hangOn: "@"}}
	s := newTestSupervisor(t, l, 5*time.Second)

	a := submitAsync(s, diagram("A"))
	waitQueue(t, s, 1)
	b := submitAsync(s, diagram("B"))
	waitQueue(t, s, 2)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	for name, ch := range map[string]<-chan submitResult{"A": a, "B": b} {
		if r := await(t, ch); !errors.Is(r.err, errors.ErrCodeProcessStopped) {
			t.Errorf("%s error = %v, want PROCESS_STOPPED", name, r.err)
		}
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", s.State())
	}

	// Stopping again is a no-op.
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestStartRestartsRunningEngine(t *testing.T) {
	l := &fakeLauncher{}
	s := newTestSupervisor(t, l, time.Second)
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	first := l.last()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if l.count() != 2 {
		t.Errorf("launched %d processes, want 2", l.count())
	}
	select {
	case <-first.done:
	case <-time.After(time.Second):
		t.Error("first process was not killed")
	}

	if err := s.EnsureStarted(ctx); err != nil {
		t.Fatal(err)
	}
	if l.count() != 2 {
		t.Errorf("EnsureStarted relaunched a running engine")
	}

	if err := s.Restart(ctx); err != nil {
		t.Fatal(err)
	}
	if l.count() != 3 || s.State() != StateRunning {
		t.Errorf("after Restart: %d launches, state %v", l.count(), s.State())
	}
}

// The protocol has no correlation token: a frame the engine drops without
// crashing shifts the next response onto the wrong request. Only the
// timeout of the last request exposes the desync.
func TestDroppedFrameMisattribution(t *testing.T) {
	l := &fakeLauncher{behavior: fakeBehavior{dropOn: "DROP"}}
	s := newTestSupervisor(t, l, 300*time.Millisecond)

	a := submitAsync(s, diagram("DROP"))
	waitQueue(t, s, 1)
	waitBlocks(t, l.last(), 1)
	b := submitAsync(s, diagram("second"))

	ra := await(t, a)
	if ra.err != nil {
		t.Fatalf("A error = %v", ra.err)
	}
	if !bytes.Contains(ra.frame, []byte("second")) {
		t.Errorf("A received %q, expected B's frame", ra.frame)
	}
	if rb := await(t, b); !errors.Is(rb.err, errors.ErrCodeRenderTimeout) {
		t.Errorf("B error = %v, want RENDER_TIMEOUT", rb.err)
	}
}

func TestSubmitContextCancelKeepsCorrelation(t *testing.T) {
	l := &fakeLauncher{behavior: fakeBehavior{splitAt: 10}}
	s := newTestSupervisor(t, l, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The cancelled caller may or may not have been queued; either way the
	// next caller must get its own frame.
	_, _ = s.Submit(ctx, diagram("abandoned"))

	frame, err := s.Submit(context.Background(), diagram("kept"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(frame, []byte("kept")) {
		t.Errorf("response = %q, want kept", frame)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateStopped:    "stopped",
		StateStarting:   "starting",
		StateRunning:    "running",
		StateRestarting: "restarting",
		State(42):       "unknown",
	}
	for st, want := range tests {
		if got := st.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", st, got, want)
		}
	}
}

func TestExecLauncherMissing(t *testing.T) {
	tests := []struct {
		name string
		l    *ExecLauncher
	}{
		{"missing executable", &ExecLauncher{Command: "umlpipe-no-such-engine"}},
		{"missing jar", NewPlantUMLLauncher("sh", "/nonexistent/plantuml.jar", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.l.Launch(context.Background())
			if !errors.Is(err, errors.ErrCodeEngineBinaryMissing) {
				t.Errorf("Launch() error = %v, want ENGINE_BINARY_MISSING", err)
			}
		})
	}
}

func TestPlantUMLLauncherArgs(t *testing.T) {
	l := NewPlantUMLLauncher("java", "/opt/plantuml.jar", []string{"-nometadata"})
	got := strings.Join(l.Args, " ")
	want := "-Djava.awt.headless=true -jar /opt/plantuml.jar -pipe -tsvg -charset UTF-8 -nometadata"
	if got != want {
		t.Errorf("Args = %q, want %q", got, want)
	}
	if l.Artifact != "/opt/plantuml.jar" {
		t.Errorf("Artifact = %q", l.Artifact)
	}
}

// shEngine mimics pipe mode with a POSIX shell: one <svg> per @enduml line.
const shEngine = `buf=""
while IFS= read -r line; do
  buf="$buf$line;"
  case "$line" in
    *@enduml*) printf '<svg><desc>%s</desc></svg>' "$buf"; buf="" ;;
  esac
done`

func TestSupervisorWithSubprocess(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	l := &ExecLauncher{Command: "sh", Args: []string{"-c", shEngine}}
	s := newTestSupervisor(t, l, 5*time.Second)
	ctx := context.Background()

	for _, want := range []string{"Alice -> Bob", "Bob -> Carol"} {
		frame, err := s.Submit(ctx, diagram(want))
		if err != nil {
			t.Fatalf("Submit(%q): %v", want, err)
		}
		if !bytes.Contains(frame, []byte(want)) {
			t.Errorf("response = %q, want %q", frame, want)
		}
	}
	if s.Stats().PID == 0 {
		t.Error("Stats().PID = 0 for a running subprocess")
	}
}

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matzehuels/umlpipe/pkg/engine"
	"github.com/matzehuels/umlpipe/pkg/errors"
)

// stubEngine answers every source with an SVG echoing it.
type stubEngine struct {
	mu       sync.Mutex
	startErr error
	err      error
	panicOn  string
	running  bool
	starts   int
	stops    int
	sources  []string

	// entered and block hold Submit until block is closed.
	entered chan struct{}
	block   chan struct{}
}

func (e *stubEngine) EnsureStarted(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	if !e.running {
		e.starts++
		e.running = true
	}
	return nil
}

func (e *stubEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.stops++
		e.running = false
	}
	return nil
}

func (e *stubEngine) counts() (starts, stops int, running bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts, e.stops, e.running
}

func (e *stubEngine) Submit(_ context.Context, source string) ([]byte, error) {
	if e.block != nil {
		e.entered <- struct{}{}
		<-e.block
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.panicOn != "" && strings.Contains(source, e.panicOn) {
		panic("engine exploded")
	}
	if e.err != nil {
		return nil, e.err
	}
	e.sources = append(e.sources, source)
	return []byte("<svg>" + source + "</svg>"), nil
}

func (e *stubEngine) Stats() engine.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return engine.Stats{State: engine.StateStopped, Renders: len(e.sources)}
	}
	return engine.Stats{State: engine.StateRunning, PID: 42, Renders: len(e.sources)}
}

func newTestBridge(t *testing.T, e *stubEngine) *Bridge {
	t.Helper()
	b := New(Options{Engine: e})
	t.Cleanup(func() { b.Stop() })
	return b
}

func TestHandleSVG(t *testing.T) {
	e := &stubEngine{}
	b := newTestBridge(t, e)
	src := "@startuml\nAlice -> Bob: ß\n@enduml"

	req := httptest.NewRequest(http.MethodGet, "/svg/"+Encode(src), nil)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/svg+xml; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if rec.Body.String() != "<svg>"+src+"</svg>" {
		t.Errorf("body = %q", rec.Body)
	}
	if len(e.sources) != 1 || e.sources[0] != src {
		t.Errorf("engine got %q", e.sources)
	}
}

func TestHandlePreflight(t *testing.T) {
	b := newTestBridge(t, &stubEngine{})

	for _, path := range []string{"/svg/~h41", "/anything", "/"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		rec := httptest.NewRecorder()
		b.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("OPTIONS %s status = %d, want 204", path, rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, OPTIONS" {
			t.Errorf("OPTIONS %s Allow-Methods = %q", path, got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("OPTIONS %s Allow-Origin = %q", path, got)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("OPTIONS %s body = %q", path, rec.Body)
		}
	}
}

func TestHandleErrors(t *testing.T) {
	tests := []struct {
		name     string
		engine   *stubEngine
		path     string
		wantCode int
		wantBody string
	}{
		{"no prefix", &stubEngine{}, "/svg/4869", http.StatusBadRequest, "malformed diagram payload"},
		{"bad hex", &stubEngine{}, "/svg/~hxyz", http.StatusBadRequest, "malformed diagram payload"},
		{
			"timeout",
			&stubEngine{err: errors.New(errors.ErrCodeRenderTimeout, "no output within 10s")},
			"/svg/" + Encode("@startuml\n@enduml"),
			http.StatusInternalServerError, "rendering timed out",
		},
		{
			"missing binary hides path",
			&stubEngine{err: errors.New(errors.ErrCodeEngineBinaryMissing, "engine artifact %q not found", "/secret/plantuml.jar")},
			"/svg/" + Encode("@startuml\n@enduml"),
			http.StatusInternalServerError, "rendering engine is not installed",
		},
		{
			"panic",
			&stubEngine{panicOn: "BOOM"},
			"/svg/" + Encode("@startuml\nBOOM\n@enduml"),
			http.StatusInternalServerError, "internal error",
		},
		{"unknown route", &stubEngine{}, "/png/~h41", http.StatusNotFound, "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBridge(t, tt.engine)
			rec := httptest.NewRecorder()
			b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestPanicDoesNotKillListener(t *testing.T) {
	b := newTestBridge(t, &stubEngine{panicOn: "BOOM"})
	base := freeRange(t, 1)

	st := b.Start(context.Background(), base)
	if !st.Success {
		t.Fatalf("Start: %+v", st)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/svg/", st.Port)
	resp, err := http.Get(url + Encode("@startuml\nBOOM\n@enduml"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("panic status = %d", resp.StatusCode)
	}

	resp, err = http.Get(url + Encode("@startuml\nok\n@enduml"))
	if err != nil {
		t.Fatalf("listener died after panic: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status after panic = %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	b := newTestBridge(t, &stubEngine{running: true})
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var h health
	if err := json.NewDecoder(rec.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.Engine != "running" || h.PID != 42 {
		t.Errorf("health = %+v", h)
	}
}

func TestStartAutoAndReplace(t *testing.T) {
	base := freeRange(t, 4)
	occupy(t, base, base)

	var (
		mu       sync.Mutex
		statuses []Status
	)
	e := &stubEngine{}
	b := New(Options{
		Engine:    e,
		PortStart: base,
		PortEnd:   base + 3,
		OnStatus: func(s Status) {
			mu.Lock()
			statuses = append(statuses, s)
			mu.Unlock()
		},
	})
	defer b.Stop()

	first := b.Start(context.Background(), 0)
	if !first.Success || first.Port != base+1 {
		t.Fatalf("first Start = %+v, want port %d", first, base+1)
	}
	done := b.Done()

	// A second start closes the first listener before binding again, so the
	// same port is picked.
	second := b.Start(context.Background(), 0)
	if !second.Success || second.Port != base+1 {
		t.Fatalf("second Start = %+v, want port %d", second, base+1)
	}
	select {
	case <-done:
	default:
		t.Error("first listener still serving")
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/svg/%s", second.Port, Encode("@startuml\n@enduml")))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "<svg>") {
		t.Errorf("GET = %d %q", resp.StatusCode, body)
	}

	stop := b.Stop()
	if !stop.Success || b.Port() != 0 || b.Status().Success {
		t.Errorf("after Stop: %+v, port %d", stop, b.Port())
	}
	if _, stops, _ := e.counts(); stops != 1 {
		t.Errorf("engine stopped %d times, want 1", stops)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 3 {
		t.Errorf("OnStatus called %d times, want 3", len(statuses))
	}
}

func TestStartEngineFailureBindsNothing(t *testing.T) {
	base := freeRange(t, 1)
	e := &stubEngine{startErr: errors.New(errors.ErrCodeEngineBinaryMissing, "engine executable %q not found", "java")}
	b := newTestBridge(t, e)

	st := b.Start(context.Background(), base)
	if st.Success || !strings.Contains(st.Error, "not found") {
		t.Errorf("Start = %+v, want engine failure", st)
	}
	if b.Port() != 0 {
		t.Errorf("Port() = %d after failed start", b.Port())
	}

	ln, err := Bind(base)
	if err != nil {
		t.Fatalf("port %d left bound: %v", base, err)
	}
	ln.Close()
}

func TestStartExplicitBusyPort(t *testing.T) {
	base := freeRange(t, 1)
	occupy(t, base, base)
	b := newTestBridge(t, &stubEngine{})

	st := b.Start(context.Background(), base)
	if st.Success {
		t.Fatalf("Start on busy port succeeded: %+v", st)
	}
	if !strings.Contains(st.Error, fmt.Sprint(base)) {
		t.Errorf("error %q does not name port %d", st.Error, base)
	}
}

func TestStartBusyPortStopsEngine(t *testing.T) {
	base := freeRange(t, 1)
	occupy(t, base, base)
	e := &stubEngine{}
	b := New(Options{Engine: e, PortStart: base, PortEnd: base})

	for _, port := range []int{base, 0} {
		if st := b.Start(context.Background(), port); st.Success {
			t.Fatalf("Start(%d) succeeded: %+v", port, st)
		}
		starts, stops, running := e.counts()
		if running || starts != stops {
			t.Errorf("Start(%d): starts=%d stops=%d running=%v, want engine stopped", port, starts, stops, running)
		}
	}
}

func TestStartBusyPortKeepsRunningEngine(t *testing.T) {
	base := freeRange(t, 1)
	occupy(t, base, base)
	e := &stubEngine{running: true}
	b := newTestBridge(t, e)

	if st := b.Start(context.Background(), base); st.Success {
		t.Fatalf("Start succeeded: %+v", st)
	}
	if _, stops, running := e.counts(); !running || stops != 0 {
		t.Errorf("engine running=%v stops=%d, want untouched", running, stops)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	b := newTestBridge(t, &stubEngine{})
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/svg/~h41", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
	if got := rec.Header().Get("Allow"); got != "GET, OPTIONS" {
		t.Errorf("Allow = %q", got)
	}
}

func TestStatusDuringSlowShutdown(t *testing.T) {
	e := &stubEngine{entered: make(chan struct{}, 1), block: make(chan struct{})}
	b := newTestBridge(t, e)

	st := b.Start(context.Background(), freeRange(t, 1))
	if !st.Success {
		t.Fatalf("Start: %+v", st)
	}
	go func() {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/svg/%s", st.Port, Encode("@startuml\n@enduml")))
		if err == nil {
			resp.Body.Close()
		}
	}()
	select {
	case <-e.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("request never reached the engine")
	}

	stopped := make(chan Status, 1)
	go func() { stopped <- b.Stop() }()

	// Port and Status must not wait for the in-flight render.
	deadline := time.Now().Add(time.Second)
	for {
		begin := time.Now()
		port := b.Port()
		if d := time.Since(begin); d > 200*time.Millisecond {
			t.Fatalf("Port() blocked for %s during shutdown", d)
		}
		if port == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("listener never detached")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if b.Status().Success {
		t.Error("Status reports listening during shutdown")
	}

	close(e.block)
	select {
	case st := <-stopped:
		if !st.Success {
			t.Errorf("Stop = %+v", st)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

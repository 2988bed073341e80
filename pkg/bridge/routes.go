package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/umlpipe/pkg/buildinfo"
	"github.com/matzehuels/umlpipe/pkg/errors"
	"github.com/matzehuels/umlpipe/pkg/observability"
	"github.com/matzehuels/umlpipe/pkg/render"
)

const svgContentType = "image/svg+xml; charset=utf-8"

func (b *Bridge) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(b.logRequests)
	r.Use(b.recoverer)
	r.Use(allowOrigin)
	r.Use(preflight)

	r.Get("/svg/{payload}", b.handleSVG)
	r.Get("/healthz", b.handleHealth)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", "GET, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	return r
}

func allowOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// preflight answers every OPTIONS request with 204, whatever the path.
func preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		h.Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
	})
}

func (b *Bridge) handleSVG(w http.ResponseWriter, r *http.Request) {
	source, err := Decode(chi.URLParam(r, "payload"))
	if err != nil {
		b.logger.Debug("bad payload", "path", r.URL.Path, "err", err)
		writeError(w, err)
		return
	}

	svg, err := b.engine.Submit(r.Context(), source)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nobody reads the response.
			return
		}
		b.logger.Warn("render failed", "err", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", svgContentType)
	w.Header().Set("Content-Length", fmt.Sprint(len(svg)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(svg)
}

type health struct {
	Status     string `json:"status"`
	Port       int    `json:"port"`
	Engine     string `json:"engine"`
	PID        int    `json:"pid,omitempty"`
	QueueDepth int    `json:"queue_depth"`
	Renders    int    `json:"renders"`
	Timeouts   int    `json:"timeouts"`
	Crashes    int    `json:"crashes"`

	Build buildinfo.Info `json:"build"`
}

func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := health{Status: "ok", Port: b.Port(), Engine: "unknown", Build: buildinfo.Get()}
	if sp, ok := b.engine.(render.StatsProvider); ok {
		st := sp.Stats()
		h.Engine = st.State.String()
		h.PID = st.PID
		h.QueueDepth = st.QueueDepth
		h.Renders = st.Renders
		h.Timeouts = st.Timeouts
		h.Crashes = st.Crashes
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h)
}

// writeError sends a fixed message for err's code. Internal details stay
// in the log.
func writeError(w http.ResponseWriter, err error) {
	http.Error(w, errors.PublicMessage(err), statusCode(err))
}

// recoverer turns a handler panic into a plain 500 and keeps the listener up.
func (b *Bridge) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			b.logger.Error("handler panic", "panic", rec, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
			http.Error(w, errors.PublicMessage(nil), http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// logRequests logs every request at debug level and reports it to the
// bridge hooks.
func (b *Bridge) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		b.logger.Debug("request",
			"method", r.Method,
			"path", truncate(r.URL.Path, 64),
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", elapsed.Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()))
		observability.Bridge().OnRequest(context.WithoutCancel(r.Context()), r.Method, r.URL.Path, status, elapsed)
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

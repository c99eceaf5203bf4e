package middleware

import (
	"bufio"
	"errors"
	"math"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type telemetryRecorder struct {
	response http.ResponseWriter
	status   int
	bytes    int
}

func (r *telemetryRecorder) Header() http.Header {
	return r.response.Header()
}

func (r *telemetryRecorder) WriteHeader(status int) {
	r.status = status
	r.response.WriteHeader(status)
}

func (r *telemetryRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.response.Write(data)
	r.bytes += n
	return n, err
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *telemetryRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.response.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (r *telemetryRecorder) Flush() {
	if f, ok := r.response.(http.Flusher); ok {
		f.Flush()
	}
}

// RouteLatency keeps a ring of recent durations per route.
type RouteLatency struct {
	mu     sync.Mutex
	window int
	routes map[string]*latencyWindow
}

type latencyWindow struct {
	samples []int64
	next    int
}

type RouteStats struct {
	Route   string `json:"route"`
	Samples int    `json:"samples"`
	P50Ms   int64  `json:"p50Ms"`
	P95Ms   int64  `json:"p95Ms"`
}

func NewRouteLatency(window int) *RouteLatency {
	if window <= 0 {
		window = 200
	}
	return &RouteLatency{window: window, routes: make(map[string]*latencyWindow)}
}

func (a *RouteLatency) record(route string, ms int64) RouteStats {
	a.mu.Lock()
	win, ok := a.routes[route]
	if !ok {
		win = &latencyWindow{}
		a.routes[route] = win
	}
	if len(win.samples) < a.window {
		win.samples = append(win.samples, ms)
	} else {
		win.samples[win.next] = ms
		win.next = (win.next + 1) % a.window
	}
	values := append([]int64(nil), win.samples...)
	a.mu.Unlock()

	return summarize(route, values)
}

// Snapshot reports every route seen so far, sorted by route.
func (a *RouteLatency) Snapshot() []RouteStats {
	a.mu.Lock()
	out := make([]RouteStats, 0, len(a.routes))
	for route, win := range a.routes {
		out = append(out, summarize(route, append([]int64(nil), win.samples...)))
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out
}

func summarize(route string, values []int64) RouteStats {
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return RouteStats{
		Route:   route,
		Samples: len(values),
		P50Ms:   percentile(values, 0.5),
		P95Ms:   percentile(values, 0.95),
	}
}

func percentile(values []int64, p float64) int64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}

// Telemetry logs one line per request with route percentiles. Server errors
// log at error level, requests slower than slow at warn.
func Telemetry(logger *zap.Logger, latency *RouteLatency, slow time.Duration) func(http.Handler) http.Handler {
	if latency == nil {
		latency = NewRouteLatency(0)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &telemetryRecorder{response: w}

			next.ServeHTTP(recorder, r)

			status := recorder.status
			if status == 0 {
				status = http.StatusOK
			}
			duration := time.Since(start)

			routePattern := ""
			if rc := chi.RouteContext(r.Context()); rc != nil {
				routePattern = rc.RoutePattern()
			}
			route := r.Method + " " + routePattern
			if routePattern == "" {
				route = r.Method + " " + r.URL.Path
			}
			stats := latency.record(route, duration.Milliseconds())
			if logger == nil {
				return
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("routePattern", routePattern),
				zap.String("requestId", readRequestID(r)),
				zap.Int("status", status),
				zap.Int("bytes", recorder.bytes),
				zap.Int64("duration_ms", duration.Milliseconds()),
				zap.Int64("p50_ms", stats.P50Ms),
				zap.Int64("p95_ms", stats.P95Ms),
			}

			switch {
			case status >= 500:
				logger.Error("http_request", fields...)
			case slow > 0 && duration > slow:
				logger.Warn("http_request_slow", fields...)
			default:
				logger.Info("http_request", fields...)
			}
		})
	}
}

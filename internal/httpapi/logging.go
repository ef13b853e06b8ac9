package httpapi

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"qms/ticket-service/internal/telemetry"
)

type requestIDKey struct{}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush and Hijack keep the sockjs streaming and websocket transports working
// behind the middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// LoggingMiddleware assigns a request id, stores a request-scoped logger in the
// context and records one log line and one metrics sample per request.
func LoggingMiddleware(logger pslog.Logger, metrics *telemetry.Metrics, next http.Handler) http.Handler {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		reqLogger := logger.With("request_id", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		ctx = pslog.ContextWithLogger(ctx, reqLogger)

		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r.WithContext(ctx))

		duration := time.Since(start)
		route := routeLabel(r)
		if metrics != nil {
			metrics.ObserveRequest(route, writer.status, duration)
		}
		if route == "realtime" {
			reqLogger.Debug("http.request", "method", r.Method, "path", r.URL.Path, "status", writer.status, "duration_ms", duration.Milliseconds())
			return
		}
		reqLogger.Info("http.request", "method", r.Method, "path", r.URL.Path, "route", route, "status", writer.status, "duration_ms", duration.Milliseconds())
	})
}

func requestIDFromContext(ctx context.Context) string {
	if value, ok := ctx.Value(requestIDKey{}).(string); ok {
		return value
	}
	return ""
}

// routeLabel keeps metric label cardinality bounded.
func routeLabel(r *http.Request) string {
	path := r.URL.Path
	switch {
	case path == "/healthz":
		return "healthz"
	case path == "/metrics":
		return "metrics"
	case path == "/tickets":
		return "tickets.create"
	case path == "/tickets/patch":
		return "tickets.patch"
	case strings.HasPrefix(path, "/tickets/"):
		if r.Method == http.MethodPatch {
			return "tickets.patch"
		}
		return "tickets.get"
	case strings.HasPrefix(path, "/realtime/"):
		return "realtime"
	default:
		return "other"
	}
}

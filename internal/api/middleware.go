package api

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/opensource-finance/findex/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type contextKey int

const (
	collectionKey contextKey = iota
	requestKey
)

// Request headers.
const (
	CollectionIDHeader = "X-Collection-ID"
	RequestIDHeader    = "X-Request-ID"
	TraceIDHeader      = "X-Trace-ID"
)

var tracer = otel.Tracer("findex-api")

// requestInfo identifies a request in logs, spans and adjustment records.
type requestInfo struct {
	RequestID string
	TraceID   string
}

// CollectionMiddleware requires a valid X-Collection-ID header and stores it
// in the request context.
func CollectionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CollectionIDHeader)
		switch {
		case id == "":
			writeError(w, http.StatusBadRequest, CollectionIDHeader+" header is required")
			return
		case !domain.ValidCollectionID(id):
			writeError(w, http.StatusBadRequest, "invalid "+CollectionIDHeader+" header")
			return
		}

		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("findex.collection_id", id))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), collectionKey, id)))
	})
}

// TracingMiddleware starts a span per request. The span is renamed to the
// matched route once the router has run, and 5xx responses mark it failed.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := requestInfo{RequestID: r.Header.Get(RequestIDHeader)}
		if info.RequestID == "" {
			info.RequestID = uuid.New().String()
		}

		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("request.id", info.RequestID),
			),
		)
		defer span.End()

		// Without an SDK the span context is empty; the request ID stands in.
		info.TraceID = info.RequestID
		if sc := span.SpanContext(); sc.TraceID().IsValid() {
			info.TraceID = sc.TraceID().String()
		}

		w.Header().Set(RequestIDHeader, info.RequestID)
		w.Header().Set(TraceIDHeader, info.TraceID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(context.WithValue(ctx, requestKey, info)))

		if route := routePattern(r); route != "" {
			span.SetName(r.Method + " " + route)
		}
		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}

// LoggingMiddleware writes one structured log line per request: errors for
// 5xx, warnings for 4xx and info otherwise.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		switch status := ww.Status(); {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		info, _ := r.Context().Value(requestKey).(requestInfo)
		slog.LogAttrs(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("route", routePattern(r)),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			// The collection context is set further in, so read the header.
			slog.String("collection_id", r.Header.Get(CollectionIDHeader)),
			slog.String("request_id", info.RequestID),
			slog.String("trace_id", info.TraceID),
		)
	})
}

// CORS returns a middleware answering cross-origin requests from
// allowedOrigins. An empty list allows any origin without credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAny := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	allowHeaders := strings.Join([]string{"Content-Type", CollectionIDHeader, RequestIDHeader, TraceIDHeader, "Authorization"}, ", ")
	exposeHeaders := RequestIDHeader + ", " + TraceIDHeader

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			switch {
			case allowAny:
				h.Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(allowedOrigins, origin):
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Expose-Headers", exposeHeaders)
			h.Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RecoverMiddleware turns a handler panic into a 500 response.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("panic recovered",
				"error", rec,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// GetCollectionID returns the collection ID set by CollectionMiddleware.
func GetCollectionID(ctx context.Context) string {
	id, _ := ctx.Value(collectionKey).(string)
	return id
}

// GetRequestID returns the request ID set by TracingMiddleware.
func GetRequestID(ctx context.Context) string {
	info, _ := ctx.Value(requestKey).(requestInfo)
	return info.RequestID
}

// GetTraceID returns the trace ID set by TracingMiddleware.
func GetTraceID(ctx context.Context) string {
	info, _ := ctx.Value(requestKey).(requestInfo)
	return info.TraceID
}

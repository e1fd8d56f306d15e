// Package mw holds the broker's HTTP middleware. Server.Handler composes
// them as RequestID, AccessLog, Recover, CORS, Auth, RateLimit.
package mw

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-realtime/pkg/core"
	"github.com/vango-go/vai-realtime/pkg/gateway/apierror"
	"github.com/vango-go/vai-realtime/pkg/gateway/auth"
	"github.com/vango-go/vai-realtime/pkg/gateway/config"
)

const maxRequestIDLen = 128

type ctxKeyRequestID struct{}

func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyRequestID{}).(string)
	return id, ok && id != ""
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

func newRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RequestID echoes a caller-supplied X-Request-ID or mints one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > maxRequestIDLen {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// Auth gates the broker on its own API keys. Probes and CORS preflights
// pass through untouched.
func Auth(cfg config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isProbePath(r.URL.Path) || cfg.AuthMode == config.AuthModeDisabled {
			next.ServeHTTP(w, r)
			return
		}
		reqID, _ := RequestIDFrom(r.Context())
		deny := func(status int, e *core.Error) {
			e.RequestID = reqID
			writeJSONError(w, status, e)
		}

		if cfg.AuthMode != config.AuthModeOptional && cfg.AuthMode != config.AuthModeRequired {
			deny(http.StatusInternalServerError, &core.Error{Type: core.ErrAPI, Message: "invalid auth_mode"})
			return
		}

		token, present := auth.ParseBearer(r)
		switch {
		case !present && cfg.AuthMode == config.AuthModeOptional:
			next.ServeHTTP(w, r)
		case !present:
			deny(http.StatusUnauthorized, &core.Error{
				Type:    core.ErrAuthentication,
				Message: "missing bearer token",
				Param:   "Authorization",
			})
		case !auth.Lookup(cfg.APIKeys, token):
			deny(http.StatusUnauthorized, &core.Error{Type: core.ErrAuthentication, Message: "invalid api key"})
		default:
			ctx := auth.WithPrincipal(r.Context(), &auth.Principal{APIKey: token})
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// Recover turns a handler panic into a 500 envelope. Nothing is written if
// the handler already started its response.
func Recover(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw, ok := w.(*statusWriter)
		if !ok {
			sw = &statusWriter{ResponseWriter: w, status: http.StatusOK}
		}
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			reqID, _ := RequestIDFrom(r.Context())
			if logger != nil {
				logger.Error("panic", "request_id", reqID, "panic", v, "stack", string(debug.Stack()))
			}
			if sw.wroteHeader {
				return
			}
			writeJSONError(sw, http.StatusInternalServerError, &core.Error{
				Type:      core.ErrAPI,
				Message:   "internal error",
				RequestID: reqID,
			})
		}()
		next.ServeHTTP(sw, r)
	})
}

// statusWriter remembers the first status and the body size.
type statusWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// AccessLog emits one record per request. Server errors log at error level.
func AccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		level := slog.LevelInfo
		if sw.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		reqID, _ := RequestIDFrom(r.Context())
		logger.LogAttrs(r.Context(), level, "request",
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int("bytes", sw.bytes),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func isProbePath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

func writeJSONError(w http.ResponseWriter, status int, err *core.Error) {
	apierror.Write(w, status, err)
}

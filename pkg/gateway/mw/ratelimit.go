package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-realtime/pkg/core"
	"github.com/vango-go/vai-realtime/pkg/gateway/config"
	"github.com/vango-go/vai-realtime/pkg/gateway/metrics"
	"github.com/vango-go/vai-realtime/pkg/gateway/principal"
	"github.com/vango-go/vai-realtime/pkg/gateway/ratelimit"
)

// RateLimit charges each non-probe request to its principal. Denials are
// 429 with Retry-After; the concurrency permit is held until the handler
// returns.
func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, m *metrics.Metrics, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isProbePath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		who := principal.Resolve(r, cfg)
		dec := limiter.AcquireRequest(who.Key, time.Now())
		if dec.Allowed {
			defer dec.Permit.Release()
			next.ServeHTTP(w, r)
			return
		}

		m.RecordRateLimitHit(string(who.Kind))
		reqID, _ := RequestIDFrom(r.Context())
		e := &core.Error{
			Type:      core.ErrRateLimit,
			Message:   "rate limit exceeded",
			RequestID: reqID,
		}
		if dec.RetryAfter > 0 {
			retry := dec.RetryAfter
			e.RetryAfter = &retry
			w.Header().Set("Retry-After", strconv.Itoa(retry))
		}
		writeJSONError(w, http.StatusTooManyRequests, e)
	})
}

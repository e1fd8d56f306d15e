package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-realtime/pkg/core"
	"github.com/vango-go/vai-realtime/pkg/credential"
	"github.com/vango-go/vai-realtime/pkg/gateway/apierror"
	"github.com/vango-go/vai-realtime/pkg/gateway/auth"
	"github.com/vango-go/vai-realtime/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-realtime/pkg/gateway/metrics"
	"github.com/vango-go/vai-realtime/pkg/gateway/mw"
)

// SessionHandler serves POST /session: one upstream exchange per request,
// the resulting credential handed to exactly this caller.
type SessionHandler struct {
	Broker    credential.Broker
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Lifecycle *lifecycle.Lifecycle
}

// upstreamFailure mirrors the upstream rejection without reinterpretation.
type upstreamFailure struct {
	Error string `json:"error"`
}

func (h SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		logger = logger.With("principal", p)
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrInvalidRequest,
			Message: "method not allowed",
		}, http.StatusMethodNotAllowed)
		return
	}
	if h.Broker == nil {
		writeCoreErrorJSON(w, reqID, core.NewAPIError("credential broker is not configured"), http.StatusInternalServerError)
		return
	}

	end := h.Lifecycle.Begin()
	defer end()

	start := time.Now()
	cred, err := h.Broker.RequestCredential(r.Context())
	elapsed := time.Since(start)
	if err != nil {
		var coreErr *core.Error
		if errors.As(err, &coreErr) && coreErr.Type == core.ErrCredential && coreErr.Status != 0 {
			h.Metrics.RecordExchange(strconv.Itoa(coreErr.Status), elapsed)
			logger.Warn("credential exchange rejected", "request_id", reqID, "status", coreErr.Status)
			writeJSON(w, coreErr.Status, upstreamFailure{Error: coreErr.Body})
			return
		}

		h.Metrics.RecordExchange("error", elapsed)
		logger.Error("credential exchange failed", "request_id", reqID, "error", err)
		ce, status := apierror.FromError(err, reqID)
		if status >= 500 && status != http.StatusGatewayTimeout {
			status = http.StatusBadGateway
		}
		writeCoreErrorJSON(w, reqID, ce, status)
		return
	}

	env, err := credential.Seal(cred)
	if err != nil {
		h.Metrics.RecordExchange("error", elapsed)
		logger.Error("credential could not be sealed", "request_id", reqID, "error", err)
		writeCoreErrorJSON(w, reqID, core.NewCredentialError("credential unavailable", nil), http.StatusBadGateway)
		return
	}

	h.Metrics.RecordExchange("ok", elapsed)
	logger.Info("credential issued", "request_id", reqID, "credential", cred, "duration_ms", elapsed.Milliseconds())
	writeJSON(w, http.StatusOK, env)
}

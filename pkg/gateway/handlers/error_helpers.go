package handlers

import (
	"net/http"

	"github.com/vango-go/vai-realtime/pkg/core"
	"github.com/vango-go/vai-realtime/pkg/gateway/apierror"
)

func writeCoreErrorJSON(w http.ResponseWriter, reqID string, coreErr *core.Error, status int) {
	if coreErr != nil && coreErr.RequestID == "" {
		coreErr.RequestID = reqID
	}
	apierror.Write(w, status, coreErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	apierror.WriteJSON(w, status, v)
}

package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dialcast/dialcast/internal/telephony"
)

// webhookPathPrefix marks requests coming from the telephony provider
// rather than an API caller.
const webhookPathPrefix = "/webhooks/"

// Recoverer returns middleware that recovers from panics, logs the stack
// trace using slog, and returns a 500. API callers get the JSON error
// envelope; provider webhook requests get hangup markup instead, so a
// panicked callback still tears the call down cleanly rather than leaving
// the provider retrying against a broken handler.
// It should be mounted after StructuredLogger so the request ID is available.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				reqID := chimw.GetReqID(r.Context())
				stack := debug.Stack()

				slog.Error("panic recovered",
					"request_id", reqID,
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(stack),
				)

				if strings.HasPrefix(r.URL.Path, webhookPathPrefix) {
					w.Header().Set("Content-Type", "application/xml")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write(telephony.HangupResponse()) //nolint:errcheck
					return
				}

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(authEnvelope{Error: "internal server error"}) //nolint:errcheck
			}
		}()

		next.ServeHTTP(w, r)
	})
}

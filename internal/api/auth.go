package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/kalambet/clawkpit/internal/auth"
)

// SessionCookie carries a human session id in browsers.
const SessionCookie = "session"

type ctxKey int

const callerKey ctxKey = iota

func withCaller(ctx context.Context, c auth.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFrom returns the caller stored by Authenticate.
func CallerFrom(ctx context.Context) (auth.Caller, bool) {
	c, ok := ctx.Value(callerKey).(auth.Caller)
	return c, ok
}

func mustCaller(r *http.Request) auth.Caller {
	c, _ := CallerFrom(r.Context())
	return c
}

// Authenticate resolves the request's credential. A bearer token or
// X-API-Key header is an agent key; a session cookie or X-Session header
// is a signed-in human.
func Authenticate(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := resolveCaller(r, svc)
			if err != nil {
				if errors.Is(err, auth.ErrUnauthenticated) {
					httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing credentials")
					return
				}
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
		})
	}
}

func resolveCaller(r *http.Request, svc *auth.Service) (auth.Caller, error) {
	if key := agentKey(r); key != "" {
		return svc.ResolveAPIKey(r.Context(), key)
	}
	if sid := sessionID(r); sid != "" {
		return svc.ResolveSession(r.Context(), sid)
	}
	return auth.Caller{}, auth.ErrUnauthenticated
}

func agentKey(r *http.Request) string {
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func sessionID(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return strings.TrimSpace(r.Header.Get("X-Session"))
}

// RequireSession rejects callers that did not sign in as a human.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := CallerFrom(r.Context()); !ok || c.Kind != auth.KindSession {
			httpError(w, http.StatusForbidden, "forbidden", "this endpoint requires a signed-in session")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientAddr is the network identity used for rate limiting. Forwarding
// headers are ignored since any client can set them.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

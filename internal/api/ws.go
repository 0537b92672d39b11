package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/websocket"

	"github.com/kalambet/clawkpit/internal/broadcast"
)

// wsHandler upgrades to a notification channel for the caller's board.
func wsHandler(deps AppDeps) http.Handler {
	return websocket.Server{
		Handshake: checkOrigin,
		Handler: func(conn *websocket.Conn) {
			r := conn.Request()
			caller := mustCaller(r)
			ch := broadcast.NewWSChannel(conn)
			deps.Hub.Register(caller.UserID, ch)
			defer deps.Hub.Unregister(caller.UserID, ch)
			ch.Serve(r.Context())
		},
	}
}

// checkOrigin rejects browser upgrades from other sites. Clients that
// send no Origin are not browsers and are let through.
func checkOrigin(cfg *websocket.Config, r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("parsing origin: %w", err)
	}
	if !strings.EqualFold(u.Host, r.Host) {
		return fmt.Errorf("cross-origin upgrade from %s", origin)
	}
	cfg.Origin = u
	return nil
}

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"golang.org/x/net/websocket"
)

const watchDebounce = 300 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the board and reprint it whenever it changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		refresh := func() {
			page, err := fetchItems(ctx, client, itemQuery{})
			if err != nil {
				printError("refreshing: %v", err)
				return
			}
			fmt.Fprintf(os.Stdout, "\n%s\n", faint.Sprint(time.Now().Format("15:04:05")))
			printItems(os.Stdout, page.Items)
		}
		refresh()

		d := newDebouncer(watchDebounce, refresh)
		defer d.stop()
		return watchChanges(ctx, client, newReconnectBackoff(), d.trigger)
	},
}

func newReconnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// watchChanges keeps a websocket open to the server and calls onChange
// for every change event. It reconnects with backoff until ctx ends; the
// delay resets after each successful connect.
func watchChanges(ctx context.Context, c *apiClient, b backoff.BackOff, onChange func()) error {
	for {
		conn, err := dialEvents(c)
		if err == nil {
			b.Reset()
			err = readEvents(ctx, conn, onChange)
		}
		if ctx.Err() != nil {
			return nil
		}

		delay := b.NextBackOff()
		printWarning("change stream: %v; reconnecting in %s", err, delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func eventsURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + "/api/ws"
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + "/api/ws"
	}
	return baseURL + "/api/ws"
}

func dialEvents(c *apiClient) (*websocket.Conn, error) {
	cfg, err := websocket.NewConfig(eventsURL(c.baseURL), c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("building websocket config: %w", err)
	}
	cfg.Header = http.Header{}
	c.authorize(cfg.Header)
	cfg.Dialer = &net.Dialer{Timeout: 10 * time.Second}
	return websocket.DialConfig(cfg)
}

func readEvents(ctx context.Context, conn *websocket.Conn, onChange func()) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		var ev struct {
			Type string `json:"type"`
		}
		if err := websocket.JSON.Receive(conn, &ev); err != nil {
			return err
		}
		onChange()
	}
}

// debouncer runs fn once a burst of triggers has been quiet for d.
type debouncer struct {
	mu    sync.Mutex
	d     time.Duration
	fn    func()
	timer *time.Timer
}

func newDebouncer(d time.Duration, fn func()) *debouncer {
	return &debouncer{d: d, fn: fn}
}

func (b *debouncer) trigger() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.d, b.fn)
}

func (b *debouncer) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
}

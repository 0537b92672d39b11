package broadcast

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/net/websocket"
)

var ErrChannelClosed = errors.New("notification channel closed")

const outboxSize = 8

// WSChannel is a Channel backed by a websocket connection. Events are
// queued and written by a single goroutine.
type WSChannel struct {
	conn *websocket.Conn
	out  chan Event
	done chan struct{}
	once sync.Once
}

func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{
		conn: conn,
		out:  make(chan Event, outboxSize),
		done: make(chan struct{}),
	}
}

func (c *WSChannel) Send(ev Event) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	select {
	case c.out <- ev:
	case <-c.done:
		return ErrChannelClosed
	default:
		// A full outbox already holds unread change events.
	}
	return nil
}

func (c *WSChannel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *WSChannel) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Serve pumps queued events to the peer until the peer goes away or ctx
// is cancelled. Incoming frames are read and discarded.
func (c *WSChannel) Serve(ctx context.Context) {
	defer c.Close()
	go c.writeLoop()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	for {
		var msg string
		if err := websocket.Message.Receive(c.conn, &msg); err != nil {
			return
		}
	}
}

func (c *WSChannel) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.out:
			if err := websocket.JSON.Send(c.conn, ev); err != nil {
				c.Close()
				return
			}
		}
	}
}

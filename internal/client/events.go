package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lottery-engine/internal/api"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	eventsPath    = "/ws/events"
	maxMessageLen = 64 * 1024
)

// EventsURL converts the HTTP base into the event stream URL.
func (c *Client) EventsURL() string {
	switch {
	case strings.HasPrefix(c.base, "https://"):
		return "wss://" + strings.TrimPrefix(c.base, "https://") + eventsPath
	case strings.HasPrefix(c.base, "http://"):
		return "ws://" + strings.TrimPrefix(c.base, "http://") + eventsPath
	}
	return c.base + eventsPath
}

// Subscribe streams engine events into out until ctx is done, reconnecting
// with exponential backoff when the connection drops.
func (c *Client) Subscribe(ctx context.Context, out chan<- api.Event) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		if err := c.subscribeOnce(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Dur("backoff", backoff).Msg("Event stream failed, reconnecting")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (c *Client) subscribeOnce(ctx context.Context, out chan<- api.Event) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.EventsURL(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageLen)

	// Unblock the read loop on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var ev api.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

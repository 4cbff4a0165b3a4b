package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/droverhq/drover/pkg/events"
)

// wsEvent is the wire shape of one pushed browser event
type wsEvent struct {
	Topic   string         `json:"topic"`
	Payload map[string]any `json:"payload,omitempty"`
}

// EventChannel republishes unsolicited browser events (page:navigated,
// session:closed, ...) from the bridge's websocket onto the bus.
type EventChannel struct {
	client *Client
	bus    *events.Bus
}

// NewEventChannel creates an event channel for a client and bus
func NewEventChannel(client *Client, bus *events.Bus) *EventChannel {
	return &EventChannel{client: client, bus: bus}
}

// Run connects and pumps events until the context is cancelled.
// Connection loss reconnects with a flat backoff; the channel is an
// observability aid, not a delivery guarantee.
func (e *EventChannel) Run(ctx context.Context) error {
	for {
		if err := e.pump(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.client.logger.Warn().Err(err).Msg("Bridge event channel lost, reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}

func (e *EventChannel) pump(ctx context.Context) error {
	wsURL := strings.Replace(e.client.baseURL, "http", "ws", 1) + "/api/events"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var evt wsEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			e.client.logger.Debug().Err(err).Msg("Discarding malformed bridge event")
			continue
		}
		if evt.Topic == "" {
			continue
		}
		e.bus.Publish(ctx, events.Event{Topic: "browser:" + evt.Topic, Payload: evt.Payload})
	}
}

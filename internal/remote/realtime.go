package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const heartbeatInterval = 25 * time.Second

// ChangeEvent is one row-level change delivered by the realtime feed.
type ChangeEvent struct {
	Type  string         // INSERT, UPDATE or DELETE
	Table string
	New   map[string]any // New row state; nil for deletes
	Old   map[string]any // Previous row state when the backend sends it
}

// Subscription is a cancellable handle on a realtime channel.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Close tears down the subscription and waits for the read loop to exit.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

// realtimeMessage is the channel-protocol envelope.
type realtimeMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

type changePayload struct {
	Data struct {
		Type      string         `json:"type"`
		Table     string         `json:"table"`
		Record    map[string]any `json:"record"`
		OldRecord map[string]any `json:"old_record"`
	} `json:"data"`
}

// SubscribeToChanges opens a realtime channel for one table, invoking the
// handler for every delivered change. Delivery is best effort: there is no
// replay after a disconnect. Returns nil, nil when the client is
// unavailable.
func (c *Client) SubscribeToChanges(ctx context.Context, table, filter string, handler func(ChangeEvent)) (*Subscription, error) {
	if !c.IsAvailable() {
		return nil, nil
	}

	wsURL := *c.baseURL
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + "/realtime/v1/websocket"
	query := url.Values{}
	query.Set("apikey", c.cfg.APIKey)
	wsURL.RawQuery = query.Encode()

	conn, _, err := websocket.Dial(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("realtime dial: %w", err)
	}

	topic := "realtime:public:" + table
	join := map[string]any{
		"topic": topic,
		"event": "phx_join",
		"payload": map[string]any{
			"config": map[string]any{
				"postgres_changes": []map[string]any{{
					"event":  "*",
					"schema": "public",
					"table":  table,
					"filter": filter,
				}},
			},
		},
		"ref": "1",
	}
	joinData, _ := json.Marshal(join)
	if err := conn.Write(ctx, websocket.MessageText, joinData); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "join failed")
		return nil, fmt.Errorf("realtime join: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go c.heartbeatLoop(subCtx, conn)
	go func() {
		defer close(sub.done)
		defer conn.Close(websocket.StatusNormalClosure, "")
		c.readLoop(subCtx, conn, topic, handler)
	}()

	return sub, nil
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ref := 2
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat := map[string]any{
				"topic":   "phoenix",
				"event":   "heartbeat",
				"payload": map[string]any{},
				"ref":     fmt.Sprintf("%d", ref),
			}
			ref++
			data, _ := json.Marshal(beat)
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, topic string, handler func(ChangeEvent)) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("Realtime subscription closed: %v", err)
			}
			return
		}

		var msg realtimeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Topic != topic || msg.Event != "postgres_changes" {
			continue
		}

		var payload changePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			continue
		}

		handler(ChangeEvent{
			Type:  payload.Data.Type,
			Table: payload.Data.Table,
			New:   payload.Data.Record,
			Old:   payload.Data.OldRecord,
		})
	}
}

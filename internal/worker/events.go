package worker

import (
	"context"
	"encoding/json"
	"log"

	"modelarena/internal/models"
	"modelarena/internal/redis"
)

const eventsChannel = "arena:events"

type EventType string

const (
	EventChunk  EventType = "chunk"
	EventStatus EventType = "status"
)

// Event is one observable step of a candidate's generation. Chunk events
// carry the full cumulative text so far; status events carry the new
// lifecycle state.
type Event struct {
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id"`
	TurnID    string                 `json:"turn_id"`
	ModelID   string                 `json:"model_id"`
	Content   string                 `json:"content,omitempty"`
	Status    models.CandidateStatus `json:"status,omitempty"`
}

// eventMirror republishes candidate events on redis so other processes
// (secondary UIs, monitors) can follow a generation live. Strictly
// best-effort: failures are logged and never slow a stream down.
type eventMirror struct {
	client *redis.Client
}

func newEventMirror(client *redis.Client) *eventMirror {
	return &eventMirror{client: client}
}

func (m *eventMirror) publish(ev Event) {
	if m == nil || m.client == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("event mirror marshal failed: %v", err)
		return
	}
	if err := m.client.Publish(context.Background(), eventsChannel, payload); err != nil {
		log.Printf("event mirror publish failed: %v", err)
	}
}

// SubscribeEvents delivers mirrored events to handler until ctx ends.
// Useful for processes that render a generation they did not start.
func SubscribeEvents(ctx context.Context, client *redis.Client, handler func(Event)) error {
	ch, err := client.Subscribe(ctx, eventsChannel)
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("event mirror decode failed: %v", err)
					continue
				}
				handler(ev)
			}
		}
	}()
	return nil
}

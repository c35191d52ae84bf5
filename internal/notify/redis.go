// Package notify delivers per-recipient lifecycle notifications over redis
// pub/sub. The websocket edge subscribes to each connected client's channel
// and forwards messages; a recipient without a subscriber simply misses the
// message, which is the intended best-effort contract.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"troubledesk/internal/helpdesk/models"
)

// channelPrefix namespaces recipient channels.
const channelPrefix = "troubledesk:notify:"

// RedisNotifier publishes events to one channel per recipient id.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// message is the wire shape pushed to recipients.
type message struct {
	Event   models.Event   `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Publish sends one event to one recipient. No delivery guarantee; the
// caller treats failures as droppable.
func (n *RedisNotifier) Publish(ctx context.Context, recipientID string, event models.Event, payload map[string]any) error {
	body, err := json.Marshal(message{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.client.Publish(ctx, channelPrefix+recipientID, body).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Channel returns the pub/sub channel for a recipient, for the edge that
// subscribes on behalf of connected clients.
func Channel(recipientID string) string {
	return channelPrefix + recipientID
}

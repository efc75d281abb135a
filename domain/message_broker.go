package domain

import (
	"context"
	"time"
)

// MessageBroker defines the interface for message broker operations
type MessageBroker interface {
	// Publish sends a message to a specific topic/channel with a routing key
	Publish(ctx context.Context, topic string, routingKey string, message []byte) error

	// Subscribe listens for messages on a specific topic/channel and routing key
	Subscribe(ctx context.Context, topic string, routingKey string) (<-chan Message, error)

	// Close closes the message broker connection
	Close() error
}

// Message represents a message received from the broker
type Message struct {
	Topic      string
	RoutingKey string
	Payload    []byte
	Timestamp  time.Time
}

// SpeechStateTopic carries SpeechStateMessage payloads, routed by session ID.
const SpeechStateTopic = "speech.state"

// SpeechStateMessage announces one SpeechState transition.
type SpeechStateMessage struct {
	SessionID string      `json:"session_id"`
	From      SpeechState `json:"from"`
	To        SpeechState `json:"to"`
	Trigger   string      `json:"trigger"`
	Timestamp time.Time   `json:"timestamp"`
}

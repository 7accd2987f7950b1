package domain

import (
	"context"
	"time"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (standalone) or NATS (distributed).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `mapstructure:"type"`

	// Channel settings (standalone profile)
	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	// NATS settings (distributed profile)
	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds
}

// Topic names for application lifecycle events.
const (
	TopicApplicationSaved        = "loandesk.application.saved"
	TopicApplicationTransitioned = "loandesk.application.transitioned"
	TopicNotification            = "loandesk.notification"
)

// TransitionEvent is published after a transition has been persisted.
type TransitionEvent struct {
	AppNumber     string    `json:"appNumber"`
	ApplicantName string    `json:"applicantName"`
	Action        Action    `json:"action"`
	Actor         string    `json:"actor"`
	FromStatus    Status    `json:"fromStatus"`
	FromStage     string    `json:"fromStage"`
	ToStatus      Status    `json:"toStatus"`
	ToStage       string    `json:"toStage"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// SavedEvent is published after an application form has been stored.
type SavedEvent struct {
	AppNumber        string           `json:"appNumber"`
	CompletionStatus CompletionStatus `json:"completionStatus"`
	Actor            string           `json:"actor"`
	OccurredAt       time.Time        `json:"occurredAt"`
}

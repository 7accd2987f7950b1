package domain

import "context"

// Notification is a message addressed to one reviewer.
type Notification struct {
	Recipient string `json:"recipient"`
	Email     string `json:"email,omitempty"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Notifier delivers notifications. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

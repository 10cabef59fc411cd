package messaging

import (
	"context"
	"errors"
)

// ErrNotSent marks a failure that happened before the provider saw the
// message, such as an open circuit breaker or an exhausted rate limit wait.
var ErrNotSent = errors.New("message was not handed to the provider")

// Message is a single outbound SMS.
type Message struct {
	To   string // E.164 destination
	From string // Sender identity: a number or an alphanumeric sender ID
	Body string
}

// Receipt is the provider's acknowledgement of an accepted message.
type Receipt struct {
	SID    string
	Status string
}

// Sender defines an interface for handing messages to an SMS provider.
// This keeps the notifier decoupled from the concrete provider SDK.
type Sender interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

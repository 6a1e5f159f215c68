// Package pubsub fans events out to in-process subscribers. The
// supervisor publishes everything it forwards to the UI sink here, and
// the logger republishes formatted entries so the console can tail them.
package pubsub

import (
	"context"
	"time"
)

// EventType tags what a published event carries.
type EventType string

const (
	// WorkerMessage is a message read from the worker, unchanged.
	WorkerMessage EventType = "message"
	// Lifecycle is an agent:spawned, agent:exit or agent:error event.
	Lifecycle EventType = "lifecycle"
	// LogEntry is one formatted log line.
	LogEntry EventType = "log"
)

// Event is one published payload and when it was published.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber is anything that hands out ctx-scoped subscriptions.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Package journal publishes engine lifecycle events to an external sink.
//
// The journal is strictly write-only observability: the engine never reads
// it back, a failed publish never fails the operation that produced it,
// and task state is never restored from it across restarts.
package journal

import (
	"context"
	"time"
)

// Event is one journal record.
type Event struct {
	Topic     string    `json:"topic"`
	Task      string    `json:"task,omitempty"`
	ID        int       `json:"id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Topics published by the engine.
const (
	TopicActivated    = "task.activated"
	TopicRejected     = "task.rejected"
	TopicDeactivated  = "task.deactivated"
	TopicDeadlineMiss = "task.deadline_miss"
	TopicShutdown     = "engine.shutdown"
)

// Publisher is the sink contract. Implementations must be safe for
// concurrent use; executors and the supervisor publish independently.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

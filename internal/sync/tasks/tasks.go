// Package tasks provides the bounded queues that route work between the
// pipeline stages. Each message carries a video primary key only; workers
// re-read the authoritative record at the head of every step, so stale
// messages are harmless.
package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Stage queue names.
const (
	StageDownload = "sync.downloads"
	StageCreate   = "sync.creations"
	StageUpload   = "sync.uploads"
)

// VideoKey is the primary key of a video record.
type VideoKey struct {
	ChannelID string `json:"channelId"`
	VideoID   string `json:"videoId"`
}

// Message is one unit of routed work.
type Message struct {
	ID         uuid.UUID `json:"id"`
	Key        VideoKey  `json:"key"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// NewMessage wraps a video key for routing.
func NewMessage(key VideoKey) Message {
	return Message{
		ID:         uuid.New(),
		Key:        key,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Queue is a bounded stage queue.
type Queue interface {
	// Publish enqueues a message. The in-memory queue blocks while full; the
	// broker-backed queue does not block, and the broker drops the oldest
	// messages once its max length is reached.
	Publish(ctx context.Context, msg Message) error

	// Messages is the consumer side. The channel closes when the queue is
	// closed and drained.
	Messages() <-chan Message

	// Depth reports the number of waiting messages, best-effort.
	Depth() int

	// Close stops the queue. Publishing after Close is an error.
	Close() error
}

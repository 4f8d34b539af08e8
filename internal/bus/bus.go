// Package bus carries one-directional "synthesis requested" events from the
// analysis path to the cascade dispatcher.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Synthesis request sources.
const (
	SourceCascade  = "cascade"
	SourceBackfill = "backfill"
	SourceManual   = "manual"
)

// ErrFull is returned when the in-process bus buffer is saturated.
var ErrFull = errors.New("bus: buffer full")

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = errors.New("bus: closed")

// SynthesisRequest asks for a group journal to be refreshed.
type SynthesisRequest struct {
	RequestID   string    `json:"request_id"`
	GroupID     string    `json:"group_id"`
	ItemCount   int       `json:"item_count"`
	Source      string    `json:"source"`
	RequestedAt time.Time `json:"requested_at"`
}

// Publisher emits synthesis requests.
type Publisher interface {
	Publish(ctx context.Context, req SynthesisRequest) error
}

// Consumer delivers synthesis requests until closed.
type Consumer interface {
	Start(ctx context.Context) error
	Messages() <-chan SynthesisRequest
	Close() error
}

func stamp(req *SynthesisRequest) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
}

// MessageBus is the in-process Publisher and Consumer backed by a buffered channel.
type MessageBus struct {
	ch     chan SynthesisRequest
	closed bool
	mu     sync.RWMutex
}

// NewMessageBus creates an in-process bus holding up to size pending requests.
func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = 100
	}
	return &MessageBus{ch: make(chan SynthesisRequest, size)}
}

// Publish enqueues req without blocking. A saturated buffer returns ErrFull.
func (b *MessageBus) Publish(ctx context.Context, req SynthesisRequest) error {
	stamp(&req)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	select {
	case b.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrFull
	}
}

// Start is a no-op for the in-process bus.
func (b *MessageBus) Start(ctx context.Context) error { return nil }

// Messages returns the request channel.
func (b *MessageBus) Messages() <-chan SynthesisRequest { return b.ch }

// Close stops accepting requests and closes the channel.
func (b *MessageBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	return nil
}

// Size returns the number of pending requests.
func (b *MessageBus) Size() int {
	return len(b.ch)
}

// Package session provides the per-connection outbound queue that bridges
// the game loop to a transport's writer goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cory-johannsen/arena/internal/rpc"
)

// DefaultBufferSize is used when NewOutbox is given a non-positive size.
const DefaultBufferSize = 64

var (
	// ErrClosed is returned when sending to a closed Outbox.
	ErrClosed = errors.New("outbox closed")
	// ErrFull is returned when an Outbox's buffer is full.
	ErrFull = errors.New("outbox buffer full")
)

// Outbox queues frames for one client. Call and Send never block; a slow
// client overflows its own buffer instead of stalling the sender.
//
// Outbox implements rpc.Proxy.
type Outbox struct {
	clientID string
	frames   chan rpc.Envelope
	mu       sync.Mutex
	closed   bool
}

// NewOutbox creates an Outbox for clientID.
//
// Precondition: clientID must be non-empty.
// Postcondition: Returns an Outbox with an open frames channel.
func NewOutbox(clientID string, bufferSize int) *Outbox {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Outbox{
		clientID: clientID,
		frames:   make(chan rpc.Envelope, bufferSize),
	}
}

// ClientID returns the owning client's id.
func (o *Outbox) ClientID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clientID
}

// SetClientID binds the Outbox to the id assigned at connect time.
func (o *Outbox) SetClientID(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clientID = id
}

// Call enqueues a push frame for method.
func (o *Outbox) Call(ctx context.Context, method string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.Send(rpc.PushEnvelope(method, args...))
}

// Send enqueues any frame.
//
// Postcondition: the frame is queued, or an error wrapping ErrClosed or
// ErrFull is returned.
func (o *Outbox) Send(e rpc.Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("client %s: %w", o.clientID, ErrClosed)
	}
	select {
	case o.frames <- e:
		return nil
	default:
		return fmt.Errorf("client %s: %w", o.clientID, ErrFull)
	}
}

// Frames returns the read-only frames channel. The transport's writer
// goroutine drains it; it is closed by Close.
func (o *Outbox) Frames() <-chan rpc.Envelope {
	return o.frames
}

// Close marks the Outbox closed and closes the frames channel.
//
// Postcondition: The frames channel is closed. Further sends return ErrClosed.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.frames)
	}
	return nil
}

// IsClosed reports whether the Outbox has been closed.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

package presence

import (
	"context"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/umrahops/realtime/internal/auth"
)

// Envelope is one server-initiated push: an event name, its payload and the
// server timestamp stamped at send time.
type Envelope struct {
	Event     string
	Payload   any
	Timestamp time.Time
}

// sendQueueSize bounds the per-connection outbound queue. A receiver that
// cannot drain it in time is treated as dead and torn down by the sender.
const sendQueueSize = 64

// Connection is the ephemeral handle for one live persistent link. It is
// owned by the Registry for its lifetime and never persisted.
type Connection struct {
	ID          string
	Identity    auth.Identity
	ConnectedAt time.Time

	send chan Envelope
	done chan struct{}
}

func NewConnection(identity auth.Identity) *Connection {
	return &Connection{
		ID:          gonanoid.Must(),
		Identity:    identity,
		ConnectedAt: time.Now().UTC(),
		send:        make(chan Envelope, sendQueueSize),
		done:        make(chan struct{}),
	}
}

// Push enqueues an envelope without blocking. It reports false when the
// connection is already torn down or the outbound queue is full; the caller
// decides what to do with the laggard. Pushes may race a Deregister: the
// send channel itself is never closed, so a late push is a rejected no-op,
// never a panic.
func (c *Connection) Push(envelope Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- envelope:
		return true
	default:
		return false
	}
}

// Outbox is drained by the connection's write pump.
func (c *Connection) Outbox() <-chan Envelope {
	return c.send
}

// Done is closed when the connection is deregistered; the write pump selects
// on it to terminate.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// close is called exactly once, by the registry, under its write lock.
func (c *Connection) close() {
	close(c.done)
}

type contextKey string

const connectionKey contextKey = "connection"

func WithConnection(ctx context.Context, conn *Connection) context.Context {
	return context.WithValue(ctx, connectionKey, conn)
}

func ConnectionFromContext(ctx context.Context) (*Connection, bool) {
	conn, ok := ctx.Value(connectionKey).(*Connection)

	return conn, ok
}

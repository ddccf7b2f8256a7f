package broadcast

import (
	"sync"
	"time"

	"cellarena.io/internal/protocol"
)

// minQueue leaves room for the join snapshot (two text frames and two records).
const minQueue = 8

// Conn is the write half of a client socket as seen by an Outbox writer.
type Conn interface {
	Write(b []byte) (int, error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Outbox is the bounded outbound queue of one connection. Producers never block:
// a full queue closes the outbox with E_SLOW_CONSUMER. The owning session runs
// the writer (Run), so only that session ever writes to or closes its socket.
type Outbox struct {
	id uint32

	mu     sync.Mutex
	ch     chan []byte
	closed bool
	reason string

	done chan struct{}
}

func NewOutbox(clientID uint32, size int) *Outbox {
	if size < minQueue {
		size = minQueue
	}
	return &Outbox{
		id:   clientID,
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
	}
}

func (o *Outbox) ID() uint32 { return o.id }

// Send enqueues b. It returns false if the outbox is closed or just overflowed.
func (o *Outbox) Send(b []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	select {
	case o.ch <- b:
		return true
	default:
		o.closeLocked(protocol.ErrSlowConsumer)
		return false
	}
}

// Terminate enqueues a final frame (best effort) and closes the outbox.
func (o *Outbox) Terminate(final []byte, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if final != nil {
		select {
		case o.ch <- final:
		default:
		}
	}
	o.closeLocked(reason)
}

// Close closes the outbox; queued frames are still flushed by the writer. Idempotent.
func (o *Outbox) Close(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked(reason)
}

func (o *Outbox) closeLocked(reason string) {
	if o.closed {
		return
	}
	o.closed = true
	o.reason = reason
	close(o.ch)
}

// Reason is the close reason, empty while open.
func (o *Outbox) Reason() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reason
}

func (o *Outbox) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Done is closed once Run has returned.
func (o *Outbox) Done() <-chan struct{} { return o.done }

// Run writes queued frames until the outbox is closed and drained, then closes conn.
// A write error closes conn at once; the remaining frames are discarded.
func (o *Outbox) Run(conn Conn, writeTimeout time.Duration) error {
	defer close(o.done)

	var werr error
	for b := range o.ch {
		if werr != nil {
			continue
		}
		if writeTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		}
		if _, err := conn.Write(b); err != nil {
			werr = err
			o.Close(protocol.ErrConnClosed)
			_ = conn.Close()
		}
	}
	if werr == nil {
		_ = conn.Close()
	}
	return werr
}

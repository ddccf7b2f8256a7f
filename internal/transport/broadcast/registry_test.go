package broadcast

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"cellarena.io/internal/protocol"
)

type memConn struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	fail   bool
}

func (c *memConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return 0, errors.New("broken pipe")
	}
	return c.buf.Write(b)
}

func (c *memConn) SetWriteDeadline(time.Time) error { return nil }

func (c *memConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *memConn) events(t *testing.T) []protocol.Incoming {
	t.Helper()
	c.mu.Lock()
	raw := append([]byte(nil), c.buf.Bytes()...)
	c.mu.Unlock()
	r := protocol.NewReader(bytes.NewReader(raw))
	var out []protocol.Incoming
	for {
		in, err := r.ReadEvent()
		if err != nil {
			if !errors.Is(err, protocol.ErrConnection) {
				t.Fatalf("decode: %v", err)
			}
			return out
		}
		out = append(out, in)
	}
}

// drained closes every outbox, runs its writer to completion and returns the conns.
func drained(t *testing.T, boxes ...*Outbox) []*memConn {
	t.Helper()
	conns := make([]*memConn, len(boxes))
	for i, o := range boxes {
		conns[i] = &memConn{}
		o.Close("test")
		if err := o.Run(conns[i], time.Second); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	return conns
}

func TestDispatch_AsymmetricCodes(t *testing.T) {
	r := NewRegistry(nil, nil)
	a, b := NewOutbox(1, 16), NewOutbox(2, 16)
	r.Register(a)
	r.Register(b)

	r.DispatchAll([]protocol.Event{
		protocol.CellEatenEvent(1, protocol.Cell{ID: 17, X: 5}),
		protocol.PlayerMovedEvent(protocol.Move{ClientID: 1, X: 1, Y: 2, Radius: 35.5}),
		protocol.PlayerEatenEvent(protocol.Eaten{LoserID: 3, WinnerID: 2, WinnerRadius: 70}),
	})

	conns := drained(t, a, b)
	gotA, gotB := conns[0].events(t), conns[1].events(t)

	if len(gotA) != 2 || gotA[0].Code != protocol.CodeCellEatenByCurrentPlayer || gotA[1].Code != protocol.CodePlayerEaten {
		t.Fatalf("actor stream=%+v", gotA)
	}
	if len(gotB) != 3 ||
		gotB[0].Code != protocol.CodeCellEaten ||
		gotB[1].Code != protocol.CodePlayerMoved ||
		gotB[2].Code != protocol.CodePlayerEatenByCurrentPlayer {
		t.Fatalf("observer stream=%+v", gotB)
	}
	if gotB[0].Cell.ID != 17 || gotB[1].Move.Radius != 35.5 {
		t.Fatalf("payload mismatch: %+v", gotB)
	}
}

func TestDispatch_ClosedRecipientDoesNotStopOthers(t *testing.T) {
	r := NewRegistry(nil, nil)
	dead, live := NewOutbox(1, 16), NewOutbox(2, 16)
	r.Register(dead)
	r.Register(live)
	dead.Close(protocol.ErrConnClosed)

	r.Dispatch(protocol.PlayerQuitEvent(9))

	conns := drained(t, live)
	got := conns[0].events(t)
	if len(got) != 1 || got[0].Code != protocol.CodePlayerQuit || got[0].ClientID != 9 {
		t.Fatalf("live stream=%+v", got)
	}
}

func TestOutbox_OverflowMarksSlowConsumer(t *testing.T) {
	o := NewOutbox(1, minQueue)
	for i := 0; i < minQueue; i++ {
		if !o.Send([]byte{1}) {
			t.Fatalf("send %d rejected", i)
		}
	}
	if o.Send([]byte{1}) {
		t.Fatalf("expected overflow")
	}
	if o.Reason() != protocol.ErrSlowConsumer || !o.Closed() {
		t.Fatalf("reason=%q closed=%v", o.Reason(), o.Closed())
	}
	if o.Send([]byte{1}) {
		t.Fatalf("send after close accepted")
	}
}

func TestTerminate_DeliversFinalFrameThenCloses(t *testing.T) {
	r := NewRegistry(nil, nil)
	o := NewOutbox(5, 16)
	r.Register(o)
	o.Send(protocol.TextFrame("hello"))

	if !r.Terminate(5, protocol.GameOverEvent(5), protocol.ErrPlayerEaten) {
		t.Fatalf("Terminate returned false")
	}
	if r.Has(5) {
		t.Fatalf("terminated connection still registered")
	}
	if r.Terminate(5, protocol.GameOverEvent(5), protocol.ErrPlayerEaten) {
		t.Fatalf("second Terminate should report missing")
	}

	c := &memConn{}
	if err := o.Run(c, time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !c.closed {
		t.Fatalf("writer did not close conn")
	}
	rd := protocol.NewReader(bytes.NewReader(c.buf.Bytes()))
	if msg, err := rd.ReadText(); err != nil || msg != "hello" {
		t.Fatalf("first frame=%q err=%v", msg, err)
	}
	in, err := rd.ReadEvent()
	if err != nil || in.Code != protocol.CodeGameOver {
		t.Fatalf("final frame=%+v err=%v", in, err)
	}
	if o.Reason() != protocol.ErrPlayerEaten {
		t.Fatalf("reason=%q", o.Reason())
	}
}

func TestRun_WriteErrorClosesOutbox(t *testing.T) {
	o := NewOutbox(1, 16)
	o.Send([]byte{1, 2, 3})
	o.Send([]byte{4})
	go func() {
		time.Sleep(10 * time.Millisecond)
		o.Close("late")
	}()
	c := &memConn{fail: true}
	if err := o.Run(c, time.Second); err == nil {
		t.Fatalf("expected write error")
	}
	if !c.closed || o.Reason() != protocol.ErrConnClosed {
		t.Fatalf("closed=%v reason=%q", c.closed, o.Reason())
	}
	select {
	case <-o.Done():
	default:
		t.Fatalf("Done not closed after Run")
	}
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []protocol.EventKind
}

func (o *recordingObserver) Observe(ev protocol.Event) {
	o.mu.Lock()
	o.seen = append(o.seen, ev.Kind)
	o.mu.Unlock()
}

func TestSubscribe_ObserverSeesEveryEvent(t *testing.T) {
	r := NewRegistry(nil, nil)
	obs := &recordingObserver{}
	cancel := r.Subscribe(obs)

	// The mover is suppressed for itself but observers still see the event.
	r.Register(NewOutbox(1, 16))
	r.Dispatch(protocol.PlayerMovedEvent(protocol.Move{ClientID: 1}))
	cancel()
	r.Dispatch(protocol.PlayerQuitEvent(1))

	if len(obs.seen) != 1 || obs.seen[0] != protocol.KindPlayerMoved {
		t.Fatalf("observer saw %v", obs.seen)
	}
}

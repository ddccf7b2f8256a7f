package tcp

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"strings"
	"testing"
	"time"

	"cellarena.io/internal/protocol"
	"cellarena.io/internal/sim/tuning"
	"cellarena.io/internal/sim/world"
)

type harness struct {
	addr  string
	world *world.World
	srv   *Server
	stop  func()
}

func startServer(t *testing.T, cfg tuning.Tuning) *harness {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	w := world.New(world.WorldConfig{Tuning: cfg, Seed: 7}, nil, quiet, nil)
	srv := NewServer(w, Config{}, quiet, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	h := &harness{addr: ln.Addr().String(), world: w, srv: srv}
	h.stop = func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("Serve did not return")
		}
	}
	t.Cleanup(func() {
		if h.stop != nil {
			h.stop()
		}
	})
	return h
}

type client struct {
	t       *testing.T
	conn    net.Conn
	r       *protocol.Reader
	id      uint32
	cells   []protocol.Cell
	players []protocol.Player
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn, r: protocol.NewReader(conn)}
}

func (c *client) expectText(want string) {
	c.t.Helper()
	got, err := c.r.ReadText()
	if err != nil || got != want {
		c.t.Fatalf("text=%q err=%v, want %q", got, err, want)
	}
}

// offer answers one username prompt and returns the server's reply.
func (c *client) offer(name string) string {
	c.t.Helper()
	c.expectText(protocol.MsgGetUsername)
	if _, err := c.conn.Write([]byte(name)); err != nil {
		c.t.Fatalf("write username: %v", err)
	}
	reply, err := c.r.ReadText()
	if err != nil {
		c.t.Fatalf("read reply: %v", err)
	}
	return reply
}

func (c *client) join(name string) {
	c.t.Helper()
	if reply := c.offer(name); reply != protocol.MsgConnected {
		c.t.Fatalf("join %q: %q", name, reply)
	}
	c.expectText(protocol.MsgPostCells)
	cells, err := c.r.ReadCells()
	if err != nil {
		c.t.Fatalf("cells: %v", err)
	}
	c.expectText(protocol.MsgPostPlayers)
	players, err := c.r.ReadPlayers()
	if err != nil {
		c.t.Fatalf("players: %v", err)
	}
	c.cells, c.players = cells, players
	for _, p := range players {
		if p.Username == name {
			c.id = p.ClientID
		}
	}
	if c.id == 0 {
		c.t.Fatalf("own player %q missing from snapshot", name)
	}
}

func (c *client) move(dx, dy float32) {
	c.t.Helper()
	if _, err := c.conn.Write(protocol.MovementFrame(protocol.Movement{DX: dx, DY: dy})); err != nil {
		c.t.Fatalf("write movement: %v", err)
	}
}

// until reads events until match returns true.
func (c *client) until(match func(protocol.Incoming) bool) []protocol.Incoming {
	c.t.Helper()
	var seen []protocol.Incoming
	for {
		in, err := c.r.ReadEvent()
		if err != nil {
			c.t.Fatalf("ReadEvent after %d events: %v", len(seen), err)
		}
		seen = append(seen, in)
		if match(in) {
			return seen
		}
	}
}

func (c *client) expectClosed() {
	c.t.Helper()
	for {
		_, err := c.r.ReadEvent()
		if err == nil {
			continue
		}
		if !errors.Is(err, protocol.ErrConnection) {
			c.t.Fatalf("expected close, got %v", err)
		}
		return
	}
}

func TestJoin_CellsRecordMatchesWorld(t *testing.T) {
	h := startServer(t, tuning.Defaults())
	a := dial(t, h.addr)
	a.join("Ann")
	if len(a.cells) != 2000 {
		t.Fatalf("cells=%d", len(a.cells))
	}
	if len(a.players) != 1 || a.players[0].Radius != 35 || a.players[0].X != 0 {
		t.Fatalf("players=%+v", a.players)
	}
}

func TestHandshake_DuplicateThenDistinct(t *testing.T) {
	h := startServer(t, tuning.Defaults())
	a := dial(t, h.addr)
	a.join("Ann")

	b := dial(t, h.addr)
	if reply := b.offer("Ann"); reply != "ERROR Username: Ann is already taken." {
		t.Fatalf("duplicate reply=%q", reply)
	}
	if reply := b.offer("  "); !strings.HasPrefix(reply, "ERROR Username is too short") {
		t.Fatalf("blank reply=%q", reply)
	}
	if reply := b.offer("A$n"); !protocol.IsErrorText(reply) {
		t.Fatalf("charset reply=%q", reply)
	}
	b.join("Bob")
	if len(b.players) != 2 {
		t.Fatalf("Bob sees players=%+v", b.players)
	}

	got := a.until(func(in protocol.Incoming) bool { return in.Code == protocol.CodeNewPlayer })
	if got[len(got)-1].Player.Username != "Bob" {
		t.Fatalf("Ann saw %+v", got)
	}
}

func TestCellEaten_SeenByOtherClient(t *testing.T) {
	h := startServer(t, tuning.Defaults())
	a := dial(t, h.addr)
	a.join("Ann")
	b := dial(t, h.addr)
	b.join("Bob")

	var target protocol.Cell
	for _, c := range a.cells {
		if c.ID == 17 {
			target = c
		}
	}
	// Movement is scaled by 1/(2*radius); radius is 35 at spawn.
	a.move(target.X*70, target.Y*70)

	got := b.until(func(in protocol.Incoming) bool {
		return in.Code == protocol.CodeCellEaten && in.Cell.ID == 17
	})
	ev := got[len(got)-1]
	if ev.Cell.X == target.X && ev.Cell.Y == target.Y {
		t.Fatalf("cell 17 did not move: %+v", ev.Cell)
	}
	mine := a.until(func(in protocol.Incoming) bool {
		return in.Cell.ID == 17 && in.Code == protocol.CodeCellEatenByCurrentPlayer
	})
	if mine[len(mine)-1].Cell != ev.Cell {
		t.Fatalf("actor saw %+v, observer saw %+v", mine[len(mine)-1].Cell, ev.Cell)
	}

	moved := b.until(func(in protocol.Incoming) bool { return in.Code == protocol.CodePlayerMoved })
	if m := moved[len(moved)-1].Move; m.ClientID != a.id || m.Radius <= 35 {
		t.Fatalf("move=%+v", m)
	}
}

func TestSentinel_PlayerQuitExactlyOnce(t *testing.T) {
	h := startServer(t, tuning.Defaults())
	a := dial(t, h.addr)
	a.join("Ann")
	b := dial(t, h.addr)
	b.join("Bob")
	a.until(func(in protocol.Incoming) bool { return in.Code == protocol.CodeNewPlayer })

	a.move(protocol.DisconnectSentinel, 0)
	a.expectClosed()

	// A later join acts as a barrier: any duplicate quit would arrive before it.
	c := dial(t, h.addr)
	c.join("Cid")
	got := b.until(func(in protocol.Incoming) bool {
		return in.Code == protocol.CodeNewPlayer && in.Player.Username == "Cid"
	})
	quits := 0
	for _, in := range got {
		if in.Code == protocol.CodePlayerQuit {
			if in.ClientID != a.id {
				t.Fatalf("quit for %d, want %d", in.ClientID, a.id)
			}
			quits++
		}
	}
	if quits != 1 {
		t.Fatalf("PLAYER_QUIT seen %d times", quits)
	}
	if _, ok := h.world.Player(a.id); ok {
		t.Fatalf("player still in world")
	}
	if h.world.Registry().Has(a.id) {
		t.Fatalf("connection still registered")
	}
	for _, p := range c.players {
		if p.Username == "Ann" {
			t.Fatalf("Ann still in snapshot")
		}
	}
}

func TestMalformedFrame_TreatedAsDisconnect(t *testing.T) {
	h := startServer(t, tuning.Defaults())
	a := dial(t, h.addr)
	a.join("Ann")
	b := dial(t, h.addr)
	b.join("Bob")

	if _, err := a.conn.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = a.conn.(*net.TCPConn).CloseWrite()

	got := b.until(func(in protocol.Incoming) bool { return in.Code == protocol.CodePlayerQuit })
	if got[len(got)-1].ClientID != a.id {
		t.Fatalf("quit=%+v", got[len(got)-1])
	}
}

func TestPeerClose_BroadcastsQuitOnce(t *testing.T) {
	h := startServer(t, tuning.Defaults())
	a := dial(t, h.addr)
	a.join("Ann")
	b := dial(t, h.addr)
	b.join("Bob")
	a.until(func(in protocol.Incoming) bool { return in.Code == protocol.CodeNewPlayer })

	a.move(10, 0)
	if err := a.conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := b.until(func(in protocol.Incoming) bool { return in.Code == protocol.CodePlayerQuit })
	if got[len(got)-1].ClientID != a.id {
		t.Fatalf("quit=%+v", got[len(got)-1])
	}
	// A later join acts as a barrier: any duplicate quit would arrive before it.
	c := dial(t, h.addr)
	c.join("Cid")
	rest := b.until(func(in protocol.Incoming) bool {
		return in.Code == protocol.CodeNewPlayer && in.Player.Username == "Cid"
	})
	for _, in := range rest {
		if in.Code == protocol.CodePlayerQuit {
			t.Fatalf("second PLAYER_QUIT: %+v", in)
		}
	}
	if h.world.Alive(a.id) {
		t.Fatalf("player still alive")
	}
	if h.world.Registry().Has(a.id) {
		t.Fatalf("connection still registered")
	}
}

func TestElimination_LoserGetsGameOver(t *testing.T) {
	cfg := tuning.Defaults()
	cfg.MapSize = 100 // dense enough that the first move eats a lot
	h := startServer(t, cfg)

	a := dial(t, h.addr)
	a.join("Ann")
	b := dial(t, h.addr)
	b.join("Bob")
	a.until(func(in protocol.Incoming) bool { return in.Code == protocol.CodeNewPlayer })

	a.move(0, 0)

	got := a.until(func(in protocol.Incoming) bool { return in.Code == protocol.CodePlayerEatenByCurrentPlayer })
	ev := got[len(got)-1].Eaten
	if ev.LoserID != b.id || ev.WinnerID != a.id || ev.WinnerRadius <= 70 {
		t.Fatalf("eaten=%+v", ev)
	}

	over := b.until(func(in protocol.Incoming) bool { return in.Code == protocol.CodeGameOver })
	for _, in := range over {
		if in.Code == protocol.CodePlayerEaten {
			t.Fatalf("loser got the broadcast meant for others")
		}
	}
	b.expectClosed()
	if h.world.Alive(b.id) || h.world.Registry().Has(b.id) {
		t.Fatalf("loser still present")
	}
}

func TestShutdown_ClosesSessions(t *testing.T) {
	h := startServer(t, tuning.Defaults())
	a := dial(t, h.addr)
	a.join("Ann")
	pending := dial(t, h.addr)
	pending.expectText(protocol.MsgGetUsername)

	h.stop()
	h.stop = nil
	a.expectClosed()
	if _, err := pending.r.ReadText(); !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("handshaking client err=%v", err)
	}
	if h.srv.Sessions() != 0 {
		t.Fatalf("sessions=%d", h.srv.Sessions())
	}
}

func TestAcceptRateLimit(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)
	w := world.New(world.WorldConfig{Tuning: tuning.Defaults(), Seed: 1}, nil, quiet, nil)
	srv := NewServer(w, Config{AcceptRate: 0.001, AcceptBurst: 1}, quiet, nil)
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}
	if !srv.allow(addr) {
		t.Fatalf("first connection rejected")
	}
	if srv.allow(addr) {
		t.Fatalf("burst exceeded but allowed")
	}
	if !srv.allow(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 2), Port: 5000}) {
		t.Fatalf("limits leaked across hosts")
	}
}

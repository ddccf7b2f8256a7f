package tcp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"cellarena.io/internal/protocol"
	"cellarena.io/internal/sim/world"
	"cellarena.io/internal/transport/broadcast"
)

type State int

const (
	StateHandshaking State = iota
	StateInitializing
	StateActive
	StateTerminated
)

func (st State) String() string {
	switch st {
	case StateHandshaking:
		return "handshaking"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(st))
	}
}

const reasonDisconnect = "disconnect"

// session owns conn. Its outbox writer is the only goroutine that writes to or
// closes the socket; the session goroutine is the only one that reads.
type session struct {
	srv   *Server
	world *world.World
	id    uint32
	conn  net.Conn
	out   *broadcast.Outbox
	state State

	username string
	readIdle time.Duration
}

func newSession(s *Server, id uint32, conn net.Conn, out *broadcast.Outbox) *session {
	cfg := s.world.Config().Session
	return &session{
		srv:      s,
		world:    s.world,
		id:       id,
		conn:     conn,
		out:      out,
		readIdle: cfg.ReadIdleTimeout(),
	}
}

func (ss *session) run() {
	m := ss.srv.metrics
	m.SessionStarted()

	writeTimeout := ss.world.Config().Session.WriteTimeout()
	go func() {
		if err := ss.out.Run(ss.conn, writeTimeout); err != nil {
			ss.srv.log.Printf("client=%d write: %v", ss.id, err)
		}
	}()

	reason := ss.serve()
	ss.state = StateTerminated

	ss.out.Close(reason)
	<-ss.out.Done()
	m.SessionEnded(reason)
	ss.srv.log.Printf("client=%d name=%q addr=%s terminated: %s", ss.id, ss.username, ss.conn.RemoteAddr(), reason)
}

// serve drives the state machine and returns the termination reason.
func (ss *session) serve() string {
	ss.state = StateHandshaking
	if err := ss.handshake(); err != nil {
		return ss.classify(err)
	}

	ss.state = StateInitializing
	if err := ss.world.Join(ss.id, ss.out); err != nil {
		// Eaten between registration and join: nobody else could reach this outbox.
		final, _ := protocol.NewFrames(protocol.GameOverEvent(ss.id)).For(ss.id)
		ss.out.Terminate(final, protocol.ErrPlayerEaten)
		return protocol.ErrPlayerEaten
	}
	ss.srv.log.Printf("client=%d name=%q joined", ss.id, ss.username)

	ss.state = StateActive
	return ss.active()
}

func (ss *session) handshake() error {
	for {
		if !ss.out.Send(protocol.TextFrame(protocol.MsgGetUsername)) {
			return io.ErrClosedPipe
		}
		ss.armRead()
		name, err := protocol.ReadUsername(ss.conn)
		if err != nil {
			return err
		}
		if _, err := ss.world.RegisterPlayer(name, ss.id); err != nil {
			var v *protocol.ValidationError
			if !errors.As(err, &v) {
				return err
			}
			ss.srv.metrics.Handshake(v.Code)
			ss.out.Send(protocol.ErrorFrame(v.Reason))
			continue
		}
		ss.username = name
		ss.srv.metrics.Handshake("ok")
		ss.out.Send(protocol.TextFrame(protocol.MsgConnected))
		return nil
	}
}

func (ss *session) active() string {
	r := bufio.NewReaderSize(ss.conn, 4*protocol.MovementFrameSize)
	for {
		ss.armRead()
		mv, err := protocol.ReadMovement(r)
		if err != nil {
			if !ss.world.Alive(ss.id) {
				return protocol.ErrPlayerEaten
			}
			reason := ss.classify(err)
			ss.srv.log.Printf("client=%d read: %v", ss.id, err)
			ss.world.Leave(ss.id, reason)
			return reason
		}
		ss.srv.metrics.Frame()

		if mv.IsDisconnect() {
			ss.world.Leave(ss.id, reasonDisconnect)
			return reasonDisconnect
		}
		out, err := ss.world.Advance(ss.id, mv)
		if err != nil || !out.Alive {
			return protocol.ErrPlayerEaten
		}
	}
}

func (ss *session) armRead() {
	if ss.readIdle > 0 {
		_ = ss.conn.SetReadDeadline(time.Now().Add(ss.readIdle))
	}
}

func (ss *session) classify(err error) string {
	switch {
	case errors.Is(err, protocol.ErrProtocol):
		return protocol.ErrProtoBadFrame
	case ss.out.Reason() != "":
		return ss.out.Reason()
	default:
		return protocol.ErrConnClosed
	}
}

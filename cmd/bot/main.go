package main

import (
	"errors"
	"flag"
	"log"
	"math"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"cellarena.io/internal/protocol"
)

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:9999", "game server address")
		name     = flag.String("name", "bot", "username to request")
		interval = flag.Duration("interval", 100*time.Millisecond, "delay between moves")
		step     = flag.Float64("step", 70, "movement delta magnitude")
		moves    = flag.Int("moves", 0, "quit after this many moves (0: until interrupted)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	r := protocol.NewReader(conn)

	st, err := handshake(conn, r, *name, logger)
	if err != nil {
		logger.Fatalf("handshake: %v", err)
	}

	go func() {
		for {
			in, err := r.ReadEvent()
			if err != nil {
				logger.Printf("stream closed: %v", err)
				os.Exit(0)
			}
			st.apply(logger, in)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for sent := 0; *moves == 0 || sent < *moves; sent++ {
		select {
		case <-stop:
			quit(conn, logger)
			return
		case <-ticker.C:
		}
		if _, err := conn.Write(protocol.MovementFrame(st.steer(float32(*step)))); err != nil {
			logger.Printf("write: %v", err)
			return
		}
	}
	quit(conn, logger)
}

// state is the bot's local view. The server never echoes the bot's own moves,
// so position is dead-reckoned with the same delta/(2*radius) scaling it applies.
type state struct {
	mu     sync.Mutex
	id     uint32
	x, y   float32
	radius float32
	cells  []protocol.Cell
}

func (s *state) apply(logger *log.Logger, in protocol.Incoming) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch in.Code {
	case protocol.CodeCellEaten, protocol.CodeCellEatenByCurrentPlayer:
		if int(in.Cell.ID) < len(s.cells) {
			s.cells[in.Cell.ID] = in.Cell
		}
		if in.Code == protocol.CodeCellEatenByCurrentPlayer {
			s.radius += 0.5
		}
	case protocol.CodePlayerEatenByCurrentPlayer:
		s.radius = in.Eaten.WinnerRadius
		logger.Printf("ate player %d, radius now %.1f", in.Eaten.LoserID, s.radius)
	case protocol.CodeNewPlayer:
		logger.Printf("player joined: %s (%d)", in.Player.Username, in.Player.ClientID)
	case protocol.CodePlayerQuit:
		logger.Printf("player %d quit", in.ClientID)
	case protocol.CodeGameOver:
		logger.Printf("game over (client %d)", s.id)
	}
}

// steer returns a delta of magnitude step toward the nearest cell and advances
// the local position accordingly.
func (s *state) steer(step float32) protocol.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var m protocol.Movement
	best := float32(math.MaxFloat32)
	for _, c := range s.cells {
		dx, dy := c.X-s.x, c.Y-s.y
		if d := dx*dx + dy*dy; d < best {
			best = d
			m = protocol.Movement{DX: dx, DY: dy}
		}
	}
	if n := float32(math.Hypot(float64(m.DX), float64(m.DY))); n > 0 {
		m.DX, m.DY = m.DX/n*step, m.DY/n*step
	} else {
		m.DX = (rand.Float32()*2 - 1) * step
		m.DY = (rand.Float32()*2 - 1) * step
	}
	if s.radius > 0 {
		s.x += m.DX / (2 * s.radius)
		s.y += m.DY / (2 * s.radius)
	}
	return m
}

// handshake keeps offering name (suffixed on rejection) until the server accepts one.
func handshake(conn net.Conn, r *protocol.Reader, name string, logger *log.Logger) (*state, error) {
	candidate := name
	for attempt := 1; ; attempt++ {
		prompt, err := r.ReadText()
		if err != nil {
			return nil, err
		}
		if prompt != protocol.MsgGetUsername {
			logger.Printf("unexpected prompt %q", prompt)
			continue
		}
		if _, err := conn.Write([]byte(candidate)); err != nil {
			return nil, err
		}
		reply, err := r.ReadText()
		if err != nil {
			return nil, err
		}
		if protocol.IsErrorText(reply) {
			logger.Printf("rejected %q: %s", candidate, reply)
			candidate = strings.TrimSpace(name) + "-" + string(rune('a'+attempt%26))
			continue
		}
		break
	}

	if msg, err := r.ReadText(); err != nil || msg != protocol.MsgPostCells {
		return nil, errOr(err, "expected cells")
	}
	cells, err := r.ReadCells()
	if err != nil {
		return nil, err
	}
	if msg, err := r.ReadText(); err != nil || msg != protocol.MsgPostPlayers {
		return nil, errOr(err, "expected players")
	}
	players, err := r.ReadPlayers()
	if err != nil {
		return nil, err
	}
	st := &state{cells: cells}
	for _, p := range players {
		if p.Username == candidate {
			st.id, st.x, st.y, st.radius = p.ClientID, p.X, p.Y, p.Radius
		}
	}
	logger.Printf("joined as %q client_id=%d cells=%d players=%d", candidate, st.id, len(cells), len(players))
	return st, nil
}

func quit(conn net.Conn, logger *log.Logger) {
	_, _ = conn.Write(protocol.MovementFrame(protocol.Movement{DX: protocol.DisconnectSentinel}))
	logger.Printf("sent disconnect")
}

func errOr(err error, msg string) error {
	if err != nil {
		return err
	}
	return errors.New(msg)
}

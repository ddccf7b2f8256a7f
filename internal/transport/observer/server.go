// Package observer serves the loopback-only spectator feed and admin state.
package observer

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cellarena.io/internal/metrics"
	"cellarena.io/internal/observerproto"
	"cellarena.io/internal/protocol"
	"cellarena.io/internal/sim/world"
)

const feedQueue = 4096

type Server struct {
	world   *world.World
	log     *log.Logger
	metrics *metrics.Metrics

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[observer] ", log.LstdFlags)
	}
	return &Server{
		world:   w,
		log:     logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only
		},
	}
}

// StateResponse is served at /admin/v1/state.
type StateResponse struct {
	ProtocolVersion string                 `json:"protocol_version"`
	Stats           world.WorldStats       `json:"stats"`
	Players         []observerproto.Player `json:"players"`
}

func (s *Server) StateHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		players := s.world.Players()
		resp := StateResponse{
			ProtocolVersion: protocol.Version,
			Stats:           s.world.Stats(),
			Players:         make([]observerproto.Player, len(players)),
		}
		for i, p := range players {
			resp.Players[i] = observerproto.FromPlayer(p)
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

// feed is a registry observer with its own bounded queue. A full queue
// disconnects the spectator rather than blocking game sessions.
type feed struct {
	mu     sync.Mutex
	seq    uint64
	out    chan []byte
	closed bool
}

func (f *feed) Observe(ev protocol.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.seq++
	b, err := json.Marshal(observerproto.FromEvent(f.seq, ev))
	if err != nil {
		return
	}
	select {
	case f.out <- b:
	default:
		f.closed = true
		close(f.out)
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.out)
	}
}

func (s *Server) bootstrap() observerproto.BootstrapMsg {
	cfg := s.world.Config()
	cells := s.world.Cells()
	players := s.world.Players()
	msg := observerproto.BootstrapMsg{
		Type:            observerproto.TypeBootstrap,
		ProtocolVersion: observerproto.Version,
		WorldParams: observerproto.WorldParams{
			MapSize:    cfg.MapSize,
			CellCount:  len(cells),
			CellRadius: cfg.CellRadius,
			EatMargin:  cfg.EatMargin,
		},
		Cells:   make([]observerproto.Cell, len(cells)),
		Players: make([]observerproto.Player, len(players)),
	}
	for i, c := range cells {
		msg.Cells[i] = observerproto.FromCell(c)
	}
	for i, p := range players {
		msg.Players[i] = observerproto.FromPlayer(p)
	}
	return msg
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Subscribe before the snapshot: events racing with it are replayed after
		// BOOTSTRAP, and every event carries absolute state.
		f := &feed{out: make(chan []byte, feedQueue)}
		cancel := s.world.Registry().Subscribe(f)
		defer cancel()
		s.metrics.ObserverDelta(1)
		defer s.metrics.ObserverDelta(-1)

		if err := writeJSON(conn, s.bootstrap()); err != nil {
			return
		}

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for b := range f.out {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
			writeErr <- nil
		}()

		// Spectators never send; reading only detects the close.
		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		select {
		case <-readDone:
			cancel()
			f.close()
			<-writeErr
		case err := <-writeErr:
			if err == nil {
				s.log.Printf("observer %s: feed overflow, disconnecting", r.RemoteAddr)
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

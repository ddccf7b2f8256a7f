// Package tcp serves the game protocol: one goroutine-owned session per accepted
// connection, each with its own outbox writer.
package tcp

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cellarena.io/internal/metrics"
	"cellarena.io/internal/protocol"
	"cellarena.io/internal/sim/world"
	"cellarena.io/internal/transport/broadcast"
)

type Config struct {
	Addr string

	// AcceptRate limits new connections per remote IP (per second). Zero disables.
	AcceptRate  float64
	AcceptBurst int
}

type Server struct {
	world   *world.World
	cfg     Config
	log     *log.Logger
	metrics *metrics.Metrics

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	sessMu   sync.Mutex
	sessions map[uint32]*broadcast.Outbox
	wg       sync.WaitGroup
}

func NewServer(w *world.World, cfg Config, logger *log.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[tcp] ", log.LstdFlags)
	}
	if cfg.AcceptBurst <= 0 {
		cfg.AcceptBurst = 1
	}
	return &Server{
		world:    w,
		cfg:      cfg,
		log:      logger,
		metrics:  m,
		limiters: make(map[string]*rate.Limiter),
		sessions: make(map[uint32]*broadcast.Outbox),
	}
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts until ctx is done or ln fails, then shuts every session down and
// waits for them. It returns nil on a ctx-initiated shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Printf("listening on %s", ln.Addr())

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.shutdown()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.log.Printf("accept: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			s.shutdown()
			return err
		}
		tempDelay = 0

		if !s.allow(conn.RemoteAddr()) {
			s.metrics.AcceptLimited()
			_ = conn.Close()
			continue
		}
		s.start(conn)
	}
}

func (s *Server) start(conn net.Conn) {
	id := s.world.NextClientID()
	out := broadcast.NewOutbox(id, s.world.Config().Session.OutboxQueue)

	s.sessMu.Lock()
	s.sessions[id] = out
	s.sessMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.sessMu.Lock()
			delete(s.sessions, id)
			s.sessMu.Unlock()
		}()
		newSession(s, id, conn, out).run()
	}()
}

// Sessions is the number of sessions in any state.
func (s *Server) Sessions() int {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	return len(s.sessions)
}

// shutdown closes every outbox; each writer then closes its own socket, which
// unblocks the reader and lets the session exit through its normal path.
func (s *Server) shutdown() {
	s.sessMu.Lock()
	for _, out := range s.sessions {
		out.Close(protocol.ErrServerShutdown)
	}
	n := len(s.sessions)
	s.sessMu.Unlock()
	if n > 0 {
		s.log.Printf("shutdown: closing %d sessions", n)
	}
	s.wg.Wait()
}

func (s *Server) allow(addr net.Addr) bool {
	if s.cfg.AcceptRate <= 0 {
		return true
	}
	host := addr.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	s.limMu.Lock()
	lim, ok := s.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.cfg.AcceptRate), s.cfg.AcceptBurst)
		s.limiters[host] = lim
	}
	s.limMu.Unlock()
	return lim.Allow()
}

package world

import (
	"errors"
	"log"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	"cellarena.io/internal/metrics"
	"cellarena.io/internal/protocol"
	"cellarena.io/internal/sim/tuning"
	"cellarena.io/internal/transport/broadcast"
)

// ErrNotInWorld is returned for a client id that has no live player.
var ErrNotInWorld = errors.New("player not in world")

type WorldConfig struct {
	Tuning tuning.Tuning
	Seed   int64
}

// World is the authoritative game state shared by all sessions.
//
// Lock order is cellsMu, then playersMu, then the registry's lock. No lock is
// held across socket I/O: sessions only ever enqueue to outboxes.
type World struct {
	cfg tuning.Tuning

	cellsMu deadlock.RWMutex
	cells   []Cell
	mapSize float64

	playersMu deadlock.RWMutex
	players   map[uint32]*Player
	byName    map[string]uint32

	conns *broadcast.Registry

	rngMu sync.Mutex
	rng   *rand.Rand

	nextClientID atomic.Uint32

	log         *log.Logger
	metrics     *metrics.Metrics
	auditLogger AuditLogger
}

func New(cfg WorldConfig, conns *broadcast.Registry, logger *log.Logger, m *metrics.Metrics) *World {
	t := cfg.Tuning
	t.Normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[world] ", log.LstdFlags)
	}
	if conns == nil {
		conns = broadcast.NewRegistry(logger, m)
	}
	w := &World{
		cfg:     t,
		players: make(map[uint32]*Player),
		byName:  make(map[string]uint32),
		conns:   conns,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		log:     logger,
		metrics: m,
	}
	w.Initialize(t.CellCount, t.MapSize)
	return w
}

func (w *World) Config() tuning.Tuning { return w.cfg }

func (w *World) Registry() *broadcast.Registry { return w.conns }

func (w *World) SetAuditLogger(l AuditLogger) { w.auditLogger = l }

// NextClientID hands out monotonically increasing connection ids, starting at 1.
func (w *World) NextClientID() uint32 { return w.nextClientID.Add(1) }

// Initialize (re)populates cellCount cells uniformly over [0,mapSize]^2.
func (w *World) Initialize(cellCount int, mapSize float64) {
	w.cellsMu.Lock()
	defer w.cellsMu.Unlock()
	w.mapSize = mapSize
	w.cells = make([]Cell, cellCount)
	for i := range w.cells {
		x, y, color := w.randomCellValues(mapSize)
		w.cells[i] = Cell{ID: uint32(i), X: x, Y: y, Color: color}
	}
}

// ReuseCell moves cell id to a fresh random position and color in place.
func (w *World) ReuseCell(id uint32) (Cell, bool) {
	w.cellsMu.Lock()
	defer w.cellsMu.Unlock()
	if int(id) >= len(w.cells) {
		return Cell{}, false
	}
	x, y, color := w.randomCellValues(w.mapSize)
	return w.reuseLocked(id, x, y, color), true
}

func (w *World) reuseLocked(id uint32, x, y float64, color uint32) Cell {
	c := &w.cells[id]
	c.X, c.Y, c.Color = x, y, color
	return *c
}

// CellCount is constant after initialization.
func (w *World) CellCount() int {
	w.cellsMu.RLock()
	defer w.cellsMu.RUnlock()
	return len(w.cells)
}

func (w *World) Cell(id uint32) (Cell, bool) {
	w.cellsMu.RLock()
	defer w.cellsMu.RUnlock()
	if int(id) >= len(w.cells) {
		return Cell{}, false
	}
	return w.cells[id], true
}

// Cells returns the wire view of every cell, ordered by id.
func (w *World) Cells() []protocol.Cell {
	w.cellsMu.RLock()
	defer w.cellsMu.RUnlock()
	return w.cellsLocked()
}

func (w *World) cellsLocked() []protocol.Cell {
	out := make([]protocol.Cell, len(w.cells))
	for i, c := range w.cells {
		out[i] = c.wire()
	}
	return out
}

// Players returns the wire view of every live player, ordered by client id.
func (w *World) Players() []protocol.Player {
	w.playersMu.RLock()
	defer w.playersMu.RUnlock()
	return w.playersLocked()
}

func (w *World) playersLocked() []protocol.Player {
	out := make([]protocol.Player, 0, len(w.players))
	for _, p := range w.players {
		out = append(out, p.wire())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

func (w *World) Player(clientID uint32) (protocol.Player, bool) {
	w.playersMu.RLock()
	defer w.playersMu.RUnlock()
	p, ok := w.players[clientID]
	if !ok {
		return protocol.Player{}, false
	}
	return p.wire(), true
}

func (w *World) PlayerCount() int {
	w.playersMu.RLock()
	defer w.playersMu.RUnlock()
	return len(w.players)
}

// WorldStats is a point-in-time summary for admin endpoints.
type WorldStats struct {
	Cells       int `json:"cells"`
	Players     int `json:"players"`
	Connections int `json:"connections"`
}

func (w *World) Stats() WorldStats {
	return WorldStats{
		Cells:       w.CellCount(),
		Players:     w.PlayerCount(),
		Connections: w.conns.Len(),
	}
}

// rngMu is a leaf lock: nothing else is acquired while it is held.
func (w *World) randomCellValues(mapSize float64) (x, y float64, color uint32) {
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	x = w.rng.Float64() * mapSize
	y = w.rng.Float64() * mapSize
	color = w.randomColorLocked()
	return x, y, color
}

func (w *World) randomColor() uint32 {
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	return w.randomColorLocked()
}

func (w *World) randomColorLocked() uint32 {
	return protocol.PackColor(uint8(w.rng.Intn(256)), uint8(w.rng.Intn(256)), uint8(w.rng.Intn(256)))
}

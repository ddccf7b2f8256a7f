package world

import (
	"fmt"

	"cellarena.io/internal/protocol"
	"cellarena.io/internal/transport/broadcast"
)

// RegisterPlayer validates username and creates a live player at the spawn point.
// The player's connection is not registered until Join.
func (w *World) RegisterPlayer(username string, clientID uint32) (protocol.Player, error) {
	if err := w.validateUsername(username); err != nil {
		w.auditReject(clientID, username, err)
		return protocol.Player{}, err
	}

	w.playersMu.Lock()
	if _, taken := w.byName[username]; taken {
		w.playersMu.Unlock()
		err := nameTaken(username)
		w.auditReject(clientID, username, err)
		return protocol.Player{}, err
	}
	if _, dup := w.players[clientID]; dup {
		w.playersMu.Unlock()
		return protocol.Player{}, fmt.Errorf("client id %d already registered", clientID)
	}
	p := &Player{
		ClientID: clientID,
		Username: username,
		X:        w.cfg.PlayerSpawn[0],
		Y:        w.cfg.PlayerSpawn[1],
		Radius:   w.cfg.PlayerSpawnRadius,
		Color:    w.randomColor(),
		alive:    true,
	}
	w.players[clientID] = p
	w.byName[username] = clientID
	out := p.wire()
	w.playersMu.Unlock()
	return out, nil
}

func (w *World) auditReject(clientID uint32, username string, err error) {
	code := ""
	if v, ok := err.(*protocol.ValidationError); ok {
		code = v.Code
	}
	w.audit(AuditEntry{Action: AuditReject, ClientID: clientID, Username: username, Reason: code})
}

// Join enqueues the cells and players snapshot to out and registers it for
// broadcasts in one critical section, so no update between the two is lost.
// Everyone else is then told about the new player.
func (w *World) Join(clientID uint32, out *broadcast.Outbox) error {
	w.cellsMu.RLock()
	w.playersMu.RLock()
	p, ok := w.players[clientID]
	if !ok || !p.alive {
		w.playersMu.RUnlock()
		w.cellsMu.RUnlock()
		return ErrNotInWorld
	}
	self := p.wire()
	out.Send(protocol.TextFrame(protocol.MsgPostCells))
	out.Send(protocol.CellsRecord(w.cellsLocked()))
	out.Send(protocol.TextFrame(protocol.MsgPostPlayers))
	out.Send(protocol.PlayersRecord(w.playersLocked()))
	w.conns.Register(out)
	w.cellsMu.RUnlock()
	// NEW_PLAYER goes out before playersMu is released so it precedes any
	// later event about this player.
	w.conns.Dispatch(protocol.NewPlayerEvent(self))
	w.playersMu.RUnlock()

	w.audit(AuditEntry{Action: AuditJoin, ClientID: clientID, Username: self.Username, Radius: float64(self.Radius)})
	return nil
}

// MovePlayer applies one movement frame. Larger players move slower: the
// delta is scaled by 1/(2*radius).
func (w *World) MovePlayer(clientID uint32, m protocol.Movement) (protocol.Move, error) {
	w.playersMu.Lock()
	defer w.playersMu.Unlock()
	p, ok := w.players[clientID]
	if !ok || !p.alive {
		return protocol.Move{}, ErrNotInWorld
	}
	scale := p.Radius * 2
	p.X += float64(m.DX) / scale
	p.Y += float64(m.DY) / scale
	return p.move(), nil
}

// Advance moves the player, runs collisions for it and broadcasts the results.
// PLAYER_MOVED is only sent while the player is still alive.
func (w *World) Advance(clientID uint32, m protocol.Movement) (Outcome, error) {
	if _, err := w.MovePlayer(clientID, m); err != nil {
		return Outcome{}, err
	}
	out := w.Collide(clientID)
	w.recordOutcome(clientID, out)
	return out, nil
}

// RemovePlayer deletes the player and its connection entry. It reports whether
// the player was still present.
func (w *World) RemovePlayer(clientID uint32) (Player, bool) {
	w.playersMu.Lock()
	defer w.playersMu.Unlock()
	return w.removeLocked(clientID)
}

func (w *World) removeLocked(clientID uint32) (Player, bool) {
	p, ok := w.players[clientID]
	w.conns.Remove(clientID)
	if !ok {
		return Player{}, false
	}
	p.alive = false
	delete(w.players, clientID)
	if w.byName[p.Username] == clientID {
		delete(w.byName, p.Username)
	}
	return *p, true
}

// Leave is the departure path for sentinel, I/O error and malformed frames.
// PLAYER_QUIT goes out at most once, and never for a player already eliminated.
func (w *World) Leave(clientID uint32, reason string) bool {
	w.playersMu.Lock()
	p, ok := w.removeLocked(clientID)
	if ok {
		w.conns.Dispatch(protocol.PlayerQuitEvent(clientID))
	}
	w.playersMu.Unlock()
	if !ok {
		return false
	}
	w.audit(AuditEntry{Action: AuditLeave, ClientID: clientID, Username: p.Username, Radius: p.Radius, Reason: reason})
	return true
}

// Alive reports whether clientID has a live player.
func (w *World) Alive(clientID uint32) bool {
	w.playersMu.RLock()
	defer w.playersMu.RUnlock()
	p, ok := w.players[clientID]
	return ok && p.alive
}

package world

import (
	"sort"

	"cellarena.io/internal/protocol"
)

// Outcome is the result of one collision pass for an acting player. Events
// lists the consumption events in the order they were broadcast.
type Outcome struct {
	Events     []protocol.Event
	CellsEaten int
	Eliminated []Elimination
	Alive      bool
	Actor      protocol.Move
}

type Elimination struct {
	Loser        Player
	WinnerID     uint32
	WinnerRadius float64
}

// Collide resolves cell then player consumption for actorID and broadcasts the
// results. Every qualifying cell and player is handled exactly once per call.
//
// Cell events are enqueued while cellsMu is held and player events (followed by
// the actor's PLAYER_MOVED if it survived) while playersMu is held, so every
// client sees updates to a cell or player in the order they were applied.
func (w *World) Collide(actorID uint32) Outcome {
	w.cellsMu.Lock()
	w.playersMu.Lock()
	defer w.playersMu.Unlock()

	actor, ok := w.players[actorID]
	if !ok || !actor.alive {
		w.cellsMu.Unlock()
		return Outcome{}
	}
	var out Outcome
	w.eatCellsLocked(actor, &out)
	w.conns.DispatchAll(out.Events)
	w.cellsMu.Unlock()

	cellEvents := len(out.Events)
	w.eatPlayersLocked(actor, &out)
	events := append([]protocol.Event(nil), out.Events[cellEvents:]...)
	out.Alive = actor.alive
	if out.Alive {
		out.Actor = actor.move()
		events = append(events, protocol.PlayerMovedEvent(out.Actor))
	}
	w.conns.DispatchAll(events)
	return out
}

// eatCellsLocked requires cellsMu and playersMu. Hits are collected against the
// radius at the start of the pass, then reseeded and applied in one batch.
func (w *World) eatCellsLocked(actor *Player, out *Outcome) {
	reach := w.cfg.CellRadius*w.cfg.CellEatFactor + actor.Radius
	reachSq := reach * reach

	var hits []uint32
	for i := range w.cells {
		c := &w.cells[i]
		if distSq(actor.X, actor.Y, c.X, c.Y) < reachSq {
			hits = append(hits, c.ID)
		}
	}
	if len(hits) == 0 {
		return
	}

	type fresh struct {
		x, y  float64
		color uint32
	}
	next := make([]fresh, len(hits))
	for i := range hits {
		next[i].x, next[i].y, next[i].color = w.randomCellValues(w.mapSize)
	}
	for i, id := range hits {
		c := w.reuseLocked(id, next[i].x, next[i].y, next[i].color)
		actor.Radius += w.cfg.GrowthPerCell
		out.Events = append(out.Events, protocol.CellEatenEvent(actor.ClientID, c.wire()))
	}
	out.CellsEaten = len(hits)
}

// eatPlayersLocked requires playersMu. The loser's session is terminated through
// the registry; its socket is closed by its own writer.
func (w *World) eatPlayersLocked(actor *Player, out *Outcome) {
	ids := make([]uint32, 0, len(w.players))
	for id := range w.players {
		if id != actor.ClientID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		other, ok := w.players[id]
		if !ok || !other.alive {
			continue
		}
		reach := w.cfg.CellRadius*w.cfg.CellEatFactor + actor.Radius
		if distSq(actor.X, actor.Y, other.X, other.Y) >= reach*reach {
			continue
		}
		var winner, loser *Player
		switch {
		case actor.Radius >= other.Radius*w.cfg.EatMargin:
			winner, loser = actor, other
		case other.Radius >= actor.Radius*w.cfg.EatMargin:
			winner, loser = other, actor
		default:
			continue
		}

		winner.Radius += loser.Radius
		loser.alive = false
		delete(w.players, loser.ClientID)
		if w.byName[loser.Username] == loser.ClientID {
			delete(w.byName, loser.Username)
		}
		w.conns.Terminate(loser.ClientID, protocol.GameOverEvent(loser.ClientID), protocol.ErrPlayerEaten)

		out.Events = append(out.Events, protocol.PlayerEatenEvent(protocol.Eaten{
			LoserID:      loser.ClientID,
			WinnerID:     winner.ClientID,
			WinnerRadius: float32(winner.Radius),
		}))
		out.Eliminated = append(out.Eliminated, Elimination{
			Loser:        *loser,
			WinnerID:     winner.ClientID,
			WinnerRadius: winner.Radius,
		})
		// A dead actor has no reach left; the remaining players are untouched.
		if loser == actor {
			return
		}
	}
}

func (w *World) recordOutcome(actorID uint32, out Outcome) {
	if out.CellsEaten > 0 {
		w.metrics.CellsEaten(out.CellsEaten)
	}
	for _, e := range out.Eliminated {
		w.metrics.Elimination()
		w.log.Printf("client=%d (%s) eaten by client=%d radius=%.1f actor=%d",
			e.Loser.ClientID, e.Loser.Username, e.WinnerID, e.WinnerRadius, actorID)
		w.audit(AuditEntry{
			Action:   AuditEliminated,
			ClientID: e.Loser.ClientID,
			Username: e.Loser.Username,
			By:       e.WinnerID,
			Radius:   e.WinnerRadius,
			Reason:   protocol.ErrPlayerEaten,
		})
	}
}

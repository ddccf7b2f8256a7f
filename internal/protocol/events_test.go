package protocol

import (
	"bytes"
	"testing"
)

func TestEventProjection(t *testing.T) {
	const actor, other = 7, 9
	cases := []struct {
		name      string
		ev        Event
		actorCode uint32
		actorOK   bool
		otherCode uint32
	}{
		{"cell eaten", CellEatenEvent(actor, Cell{ID: 17}), CodeCellEatenByCurrentPlayer, true, CodeCellEaten},
		{"player moved", PlayerMovedEvent(Move{ClientID: actor}), 0, false, CodePlayerMoved},
		{"new player", NewPlayerEvent(Player{ClientID: actor, Username: "Ann"}), 0, false, CodeNewPlayer},
		{"player eaten", PlayerEatenEvent(Eaten{LoserID: other + 1, WinnerID: actor}), CodePlayerEatenByCurrentPlayer, true, CodePlayerEaten},
		{"player quit", PlayerQuitEvent(actor), CodePlayerQuit, true, CodePlayerQuit},
	}
	for _, tc := range cases {
		code, ok := tc.ev.CodeFor(actor)
		if ok != tc.actorOK || (ok && code != tc.actorCode) {
			t.Fatalf("%s: actor code=%d ok=%v, want %d/%v", tc.name, code, ok, tc.actorCode, tc.actorOK)
		}
		code, ok = tc.ev.CodeFor(other)
		if !ok || code != tc.otherCode {
			t.Fatalf("%s: observer code=%d ok=%v, want %d", tc.name, code, ok, tc.otherCode)
		}
	}
}

func TestFrames_DecodeForEachRecipient(t *testing.T) {
	f := NewFrames(CellEatenEvent(3, Cell{ID: 17, X: 10, Y: 20, Color: 0x010203}))

	own, ok := f.For(3)
	if !ok {
		t.Fatalf("actor frame suppressed")
	}
	obs, ok := f.For(4)
	if !ok {
		t.Fatalf("observer frame suppressed")
	}

	var buf bytes.Buffer
	buf.Write(own)
	buf.Write(obs)
	r := NewReader(&buf)

	in, err := r.ReadEvent()
	if err != nil || in.Code != CodeCellEatenByCurrentPlayer || in.Cell.ID != 17 {
		t.Fatalf("actor event=%+v err=%v", in, err)
	}
	in, err = r.ReadEvent()
	if err != nil || in.Code != CodeCellEaten || in.Cell.X != 10 || in.Cell.Color != 0x010203 {
		t.Fatalf("observer event=%+v err=%v", in, err)
	}
}

func TestNewPlayerFrame_IsLengthPrefixedRecord(t *testing.T) {
	p := Player{ClientID: 2, Username: "Bob", X: 0, Y: 0, Color: 5, Radius: 35}
	f := NewFrames(NewPlayerEvent(p))
	b, ok := f.For(1)
	if !ok {
		t.Fatalf("suppressed for observer")
	}
	in, err := NewReader(bytes.NewReader(b)).ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if in.Code != CodeNewPlayer || in.Player != p {
		t.Fatalf("event=%+v", in)
	}
}

func TestGameOverFrame_HasNoPayload(t *testing.T) {
	b, ok := NewFrames(GameOverEvent(5)).For(5)
	if !ok || len(b) != 4 || le.Uint32(b) != CodeGameOver {
		t.Fatalf("game over frame=%v ok=%v", b, ok)
	}
}

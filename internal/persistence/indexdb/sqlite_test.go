package indexdb

import (
	"path/filepath"
	"testing"
	"time"

	"cellarena.io/internal/protocol"
	"cellarena.io/internal/sim/tuning"
	"cellarena.io/internal/sim/world"
)

func TestSQLiteIndex_SessionsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "sessions.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := []world.AuditEntry{
		{Time: now, Action: world.AuditJoin, ClientID: 1, Username: "Ann", Radius: 35},
		{Time: now, Action: world.AuditReject, ClientID: 2, Username: "Ann", Reason: protocol.ErrNameTaken},
		{Time: now, Action: world.AuditJoin, ClientID: 2, Username: "Bob", Radius: 35},
		{Time: now, Action: world.AuditEliminated, ClientID: 2, Username: "Bob", By: 1, Radius: 75.5},
		{Time: now, Action: world.AuditLeave, ClientID: 1, Username: "Ann", Radius: 75.5, Reason: "disconnect"},
	}
	for _, e := range entries {
		if err := idx.WriteAudit(e); err != nil {
			t.Fatalf("WriteAudit: %v", err)
		}
	}
	if err := idx.UpsertTuning(tuning.Defaults()); err != nil {
		t.Fatalf("UpsertTuning: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := idx.WriteAudit(entries[0]); err != nil {
		t.Fatalf("WriteAudit after close: %v", err)
	}

	db, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer db.Close()

	joins, err := Recent(db, "joins", "", 10)
	if err != nil || len(joins) != 2 || joins[0].Username != "Bob" {
		t.Fatalf("joins=%+v err=%v", joins, err)
	}
	elims, err := Recent(db, "eliminations", "", 10)
	if err != nil || len(elims) != 1 || elims[0].By != 1 || elims[0].Radius != 75.5 {
		t.Fatalf("eliminations=%+v err=%v", elims, err)
	}
	rejects, err := Recent(db, "rejects", "Ann", 10)
	if err != nil || len(rejects) != 1 || rejects[0].Reason != protocol.ErrNameTaken {
		t.Fatalf("rejects=%+v err=%v", rejects, err)
	}
	leaves, err := Recent(db, "leaves", "Bob", 10)
	if err != nil || len(leaves) != 0 {
		t.Fatalf("Bob leaves=%+v err=%v", leaves, err)
	}
	if _, err := Recent(db, "players", "", 1); err == nil {
		t.Fatalf("unknown kind accepted")
	}

	var digest, raw string
	if err := db.QueryRow(`SELECT digest,json FROM config WHERE name='tuning'`).Scan(&digest, &raw); err != nil {
		t.Fatalf("tuning row: %v", err)
	}
	if len(digest) != 64 || raw == "" {
		t.Fatalf("digest=%q raw=%q", digest, raw)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan world.AuditEntry, 1)}
	s.ch <- world.AuditEntry{Action: world.AuditJoin}

	_ = s.WriteAudit(world.AuditEntry{Action: world.AuditLeave})
	_ = s.WriteAudit(world.AuditEntry{Action: world.AuditLeave})

	st := s.Stats()
	if st.DropAuditTotal != 2 {
		t.Fatalf("DropAuditTotal=%d want=2", st.DropAuditTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}

	var nilIdx *SQLiteIndex
	if err := nilIdx.WriteAudit(world.AuditEntry{}); err != nil {
		t.Fatalf("nil WriteAudit: %v", err)
	}
}

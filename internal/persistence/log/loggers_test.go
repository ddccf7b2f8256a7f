package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cellarena.io/internal/sim/world"
)

func TestAuditLogger_WriteThenRead(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)
	want := []world.AuditEntry{
		{Time: time.Now().UTC(), Action: world.AuditJoin, ClientID: 1, Username: "Ann", Radius: 35},
		{Time: time.Now().UTC(), Action: world.AuditEliminated, ClientID: 2, Username: "Bob", By: 1, Radius: 70},
		{Time: time.Now().UTC(), Action: world.AuditLeave, ClientID: 1, Username: "Ann", Reason: "disconnect"},
	}
	for _, e := range want {
		if err := l.WriteAudit(e); err != nil {
			t.Fatalf("WriteAudit: %v", err)
		}
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var got []world.AuditEntry
	if err := ReadAudit(AuditDir(dir), func(e world.AuditEntry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("ReadAudit: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries", len(got))
	}
	for i := range want {
		if got[i].Action != want[i].Action || got[i].ClientID != want[i].ClientID || got[i].By != want[i].By {
			t.Fatalf("entry %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestAuditFiles_SkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"audit-2026-01-01-00.jsonl.zst", "audit-2026-01-01-01.jsonl.zst", "notes.txt", "events-2026.jsonl.zst"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	files, err := AuditFiles(dir)
	if err != nil {
		t.Fatalf("AuditFiles: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "audit-2026-01-01-00.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}
}

func TestAuditLogger_FilesFollowEntryHour(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)
	base := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.now = func() time.Time { return base.Add(2 * time.Minute) }

	entries := []world.AuditEntry{
		{Time: base, Action: world.AuditJoin, ClientID: 1, Username: "Ann"},
		{Action: world.AuditJoin, ClientID: 2, Username: "Bob"}, // stamped by now: 11:01
		{Time: base, Action: world.AuditLeave, ClientID: 1, Username: "Ann"},
	}
	for _, e := range entries {
		if err := l.WriteAudit(e); err != nil {
			t.Fatalf("WriteAudit: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := AuditFiles(AuditDir(dir))
	if err != nil {
		t.Fatalf("AuditFiles: %v", err)
	}
	if len(files) != 2 ||
		filepath.Base(files[0]) != "audit-2026-03-01-10.jsonl.zst" ||
		filepath.Base(files[1]) != "audit-2026-03-01-11.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}

	// The 10:00 file was reopened for Ann's leave and holds two frames.
	var got []string
	if err := ReadAudit(AuditDir(dir), func(e world.AuditEntry) error {
		got = append(got, e.Username+":"+e.Action)
		return nil
	}); err != nil {
		t.Fatalf("ReadAudit: %v", err)
	}
	want := []string{"Ann:JOIN", "Ann:LEAVE", "Bob:JOIN"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

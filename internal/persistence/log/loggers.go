package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"cellarena.io/internal/sim/world"
)

const hourLayout = "2006-01-02-15"

// AuditLogger appends player lifecycle entries to one zstd-compressed JSONL
// file per UTC hour of the entry's timestamp. Each entry is flushed as it is
// written, so a reader sees everything up to the last completed entry.
//
// Reopening an hour that already has a file appends a new zstd frame; the
// reader decodes concatenated frames.
type AuditLogger struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	hour string
	f    *os.File
	zw   *zstd.Encoder
	enc  *json.Encoder
}

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{dir: AuditDir(dataDir), now: time.Now}
}

func (l *AuditLogger) WriteAudit(e world.AuditEntry) error {
	if e.Time.IsZero() {
		e.Time = l.now()
	}
	hour := e.Time.UTC().Format(hourLayout)

	l.mu.Lock()
	defer l.mu.Unlock()
	if hour != l.hour || l.enc == nil {
		if err := l.openLocked(hour); err != nil {
			return err
		}
	}
	if err := l.enc.Encode(e); err != nil {
		return err
	}
	return l.zw.Flush()
}

func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *AuditLogger) openLocked(hour string) error {
	if err := l.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(auditPath(l.dir, hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f, l.zw, l.enc, l.hour = f, zw, json.NewEncoder(zw), hour
	return nil
}

func (l *AuditLogger) closeLocked() error {
	if l.f == nil {
		return nil
	}
	err := l.zw.Close()
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f, l.zw, l.enc, l.hour = nil, nil, nil, ""
	return err
}

func auditPath(dir, hour string) string {
	return filepath.Join(dir, auditPrefix+"-"+hour+".jsonl.zst")
}

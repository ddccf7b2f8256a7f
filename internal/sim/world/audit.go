package world

import "time"

const (
	AuditJoin       = "JOIN"
	AuditLeave      = "LEAVE"
	AuditEliminated = "ELIMINATED"
	AuditReject     = "REJECT"
)

// AuditEntry records one player lifecycle change.
type AuditEntry struct {
	Time     time.Time `json:"time"`
	Action   string    `json:"action"`
	ClientID uint32    `json:"client_id"`
	Username string    `json:"username,omitempty"`
	By       uint32    `json:"by,omitempty"`
	Radius   float64   `json:"radius,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

type AuditLogger interface {
	WriteAudit(e AuditEntry) error
}

func (w *World) audit(e AuditEntry) {
	if w.auditLogger == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if err := w.auditLogger.WriteAudit(e); err != nil && w.log != nil {
		w.log.Printf("audit %s client=%d: %v", e.Action, e.ClientID, err)
	}
}

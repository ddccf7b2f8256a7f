package indexdb

import (
	"database/sql"
	"fmt"
	"os"
)

// SessionRow is one read-model row. By and Reason are empty for kinds that lack them.
type SessionRow struct {
	Kind     string  `json:"kind"`
	Seq      int64   `json:"seq"`
	At       string  `json:"at"`
	ClientID uint32  `json:"client_id"`
	Username string  `json:"username"`
	By       uint32  `json:"by,omitempty"`
	Radius   float64 `json:"radius,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

var kindQueries = map[string]string{
	"joins":        `SELECT seq,at,client_id,username,0,radius,'' FROM joins`,
	"leaves":       `SELECT seq,at,client_id,username,0,radius,COALESCE(reason,'') FROM leaves`,
	"eliminations": `SELECT seq,at,client_id,username,winner_id,winner_radius,'' FROM eliminations`,
	"rejects":      `SELECT seq,at,client_id,username,0,0,code FROM rejects`,
}

// Kinds lists the queryable session tables.
func Kinds() []string { return []string{"joins", "leaves", "eliminations", "rejects"} }

// OpenReader opens an existing index for queries only.
func OpenReader(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Recent returns up to limit rows of kind, newest first. A non-empty username filters rows.
func Recent(db *sql.DB, kind, username string, limit int) ([]SessionRow, error) {
	base, ok := kindQueries[kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	if limit <= 0 {
		limit = 20
	}
	q := base
	args := []any{}
	if username != "" {
		q += ` WHERE username = ?`
		args = append(args, username)
	}
	q += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var (
			r        SessionRow
			clientID int64
			by       int64
		)
		if err := rows.Scan(&r.Seq, &r.At, &clientID, &r.Username, &by, &r.Radius, &r.Reason); err != nil {
			return nil, err
		}
		r.Kind = kind
		r.ClientID = uint32(clientID)
		r.By = uint32(by)
		out = append(out, r)
	}
	return out, rows.Err()
}

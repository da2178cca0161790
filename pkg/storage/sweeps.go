package storage

import (
	"time"
)

// SweepAudit is one recorded reclamation sweep.
type SweepAudit struct {
	ID           int64
	SessionID    string
	CleanedCount int
	SweptAt      time.Time
}

// RecordSweep stores a reclamation sweep for later review. It satisfies
// reclaim.SweepRecorder.
func (s *Store) RecordSweep(sessionID string, cleaned int, sweptAt time.Time) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`
		INSERT INTO sweep_audits (session_id, cleaned_count, swept_at)
		VALUES (?, ?, ?)
	`, sessionID, cleaned, sweptAt.UTC())
	return err
}

// ListSweeps returns recent sweep audits, newest first.
func (s *Store) ListSweeps(limit int) ([]SweepAudit, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, cleaned_count, swept_at
		FROM sweep_audits
		ORDER BY swept_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []SweepAudit
	for rows.Next() {
		var a SweepAudit
		if err := rows.Scan(&a.ID, &a.SessionID, &a.CleanedCount, &a.SweptAt); err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

package storage

import (
	"database/sql"
	"time"
)

// PresetBinding is a persisted slot-to-model assignment.
type PresetBinding struct {
	Slot      int
	ModelID   string
	UpdatedAt time.Time
}

// SavePresetBinding upserts the binding for a slot.
func (s *Store) SavePresetBinding(slot int, modelID string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`
		INSERT INTO preset_bindings (slot, model_id, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(slot) DO UPDATE SET model_id = excluded.model_id, updated_at = CURRENT_TIMESTAMP
	`, slot, modelID)
	return err
}

// PresetBindings returns all persisted bindings ordered by slot.
func (s *Store) PresetBindings() ([]PresetBinding, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.Query(`
		SELECT slot, model_id, updated_at FROM preset_bindings ORDER BY slot
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bindings []PresetBinding
	for rows.Next() {
		var b PresetBinding
		if err := rows.Scan(&b.Slot, &b.ModelID, &b.UpdatedAt); err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// SaveActiveSlot records which slot is selected.
func (s *Store) SaveActiveSlot(slot int) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`
		INSERT INTO active_slot (id, slot, updated_at)
		VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET slot = excluded.slot, updated_at = CURRENT_TIMESTAMP
	`, slot)
	return err
}

// ActiveSlot returns the persisted selected slot; ok is false when nothing
// has been saved yet.
func (s *Store) ActiveSlot() (int, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, ErrStoreClosed
	}
	var slot int
	err := s.db.QueryRow(`SELECT slot FROM active_slot WHERE id = 1`).Scan(&slot)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return slot, true, nil
}

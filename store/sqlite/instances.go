package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/waqf"
)

// =============================================================================
// APPROVAL INSTANCES (waqf.InstanceStore interface)
// =============================================================================

// SaveInstance upserts the instance snapshot. A stored row with the same or
// a higher version is left alone.
func (s *Store) SaveInstance(ctx context.Context, inst *approval.Instance, def approval.Definition) error {
	instJSON, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	defJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_instances
		(id, subject_id, definition_id, entity_type, status, version, instance_json, definition_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			version = excluded.version,
			instance_json = excluded.instance_json,
			definition_json = excluded.definition_json,
			updated_at = excluded.updated_at
		WHERE excluded.version > approval_instances.version
	`,
		inst.ID,
		inst.SubjectID,
		inst.DefinitionID,
		inst.EntityType,
		string(inst.Status),
		inst.Version,
		string(instJSON),
		string(defJSON),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	return nil
}

// LoadInstances returns every stored instance, by ID.
func (s *Store) LoadInstances(ctx context.Context) ([]waqf.InstanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instance_json, definition_json
		FROM approval_instances
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load instances: %w", err)
	}
	defer rows.Close()

	var out []waqf.InstanceRecord
	for rows.Next() {
		var id, instJSON, defJSON string
		if err := rows.Scan(&id, &instJSON, &defJSON); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		rec := waqf.InstanceRecord{Instance: &approval.Instance{}}
		if err := json.Unmarshal([]byte(instJSON), rec.Instance); err != nil {
			return nil, fmt.Errorf("decode instance %s: %w", id, err)
		}
		if err := json.Unmarshal([]byte(defJSON), &rec.Definition); err != nil {
			return nil, fmt.Errorf("decode definition of %s: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/warp/waqf-engine/audit"
	"github.com/warp/waqf-engine/money"
)

// =============================================================================
// AUDIT LOG (audit.Log interface)
// =============================================================================

const auditColumns = `
	id, instance_id, sequence, event, from_status, to_status, level_order,
	to_level, actor_id, actor_role, ts, reason, subject_id, definition_id,
	entity_type, amount_minor, assigned_role, assigned_actor`

// Append records one entry. Duplicate IDs and sequence gaps are rejected
// inside the same transaction as the insert.
func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var dup int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM audit_entries WHERE id = ?`, e.ID).Scan(&dup); err != nil {
			return fmt.Errorf("failed to check audit entry: %w", err)
		}
		if dup > 0 {
			return fmt.Errorf("%w: %s", audit.ErrDuplicateEntry, e.ID)
		}

		var last int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sequence), 0) FROM audit_entries WHERE instance_id = ?`,
			e.InstanceID).Scan(&last)
		if err != nil {
			return fmt.Errorf("failed to read audit sequence: %w", err)
		}
		if e.Sequence != last+1 {
			return fmt.Errorf("%w: instance %s at %d, got %d", audit.ErrSequenceGap, e.InstanceID, last, e.Sequence)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO audit_entries (`+auditColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			e.ID,
			e.InstanceID,
			e.Sequence,
			string(e.Event),
			e.FromStatus,
			e.ToStatus,
			e.LevelOrder,
			e.ToLevel,
			e.ActorID,
			e.ActorRole,
			formatTime(e.Timestamp),
			e.Reason,
			e.SubjectID,
			e.DefinitionID,
			e.EntityType,
			e.Amount.Minor(),
			e.AssignedRole,
			e.AssignedActor,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: instance %s sequence %d", audit.ErrSequenceGap, e.InstanceID, e.Sequence)
			}
			return fmt.Errorf("failed to append audit entry: %w", err)
		}
		return nil
	})
}

// ForInstance returns the entries of one instance in Sequence order.
func (s *Store) ForInstance(ctx context.Context, instanceID string) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEntries(ctx, `
		SELECT `+auditColumns+`
		FROM audit_entries
		WHERE instance_id = ?
		ORDER BY sequence ASC
	`, instanceID)
}

// Query returns matching entries ordered by (timestamp, id).
func (s *Store) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.InstanceID != "" {
		where = append(where, "instance_id = ?")
		args = append(args, f.InstanceID)
	}
	if f.Event != "" {
		where = append(where, "event = ?")
		args = append(args, string(f.Event))
	}
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, formatTime(f.Until))
	}

	query := `SELECT ` + auditColumns + ` FROM audit_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ts ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEntries(ctx, query, args...)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	out := []audit.Entry{}
	for rows.Next() {
		var (
			e      audit.Entry
			event  string
			ts     string
			amount int64
		)
		err := rows.Scan(&e.ID, &e.InstanceID, &e.Sequence, &event, &e.FromStatus,
			&e.ToStatus, &e.LevelOrder, &e.ToLevel, &e.ActorID, &e.ActorRole, &ts,
			&e.Reason, &e.SubjectID, &e.DefinitionID, &e.EntityType, &amount,
			&e.AssignedRole, &e.AssignedActor)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		e.Event = audit.Event(event)
		e.Amount = money.FromMinor(amount)
		out = append(out, e)
	}
	return out, rows.Err()
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/waqf-engine/distribution"
	"github.com/warp/waqf-engine/money"
	"github.com/warp/waqf-engine/waqf"
)

// =============================================================================
// JOURNAL (waqf.PayoutSink interface)
// =============================================================================

// PostJournal writes the entry and its lines in one transaction. Returns
// false without writing when the plan was already posted.
func (s *Store) PostJournal(ctx context.Context, entry distribution.JournalEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	posted := false
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO journal_entries (plan_id, posted_at) VALUES (?, ?)`,
			entry.PlanID, formatTime(time.Now()))
		if err != nil {
			return fmt.Errorf("failed to post journal: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to post journal: %w", err)
		}
		if n == 0 {
			return nil
		}
		for i, line := range entry.Lines {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO journal_lines (plan_id, line_no, account, beneficiary_id, debit_minor, credit_minor)
				VALUES (?, ?, ?, ?, ?, ?)
			`, entry.PlanID, i+1, line.Account, nullString(string(line.BeneficiaryID)),
				line.Debit.Minor(), line.Credit.Minor())
			if err != nil {
				return fmt.Errorf("failed to post journal line %d: %w", i+1, err)
			}
		}
		posted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return posted, nil
}

// GetJournal returns the posted entry of a plan.
func (s *Store) GetJournal(ctx context.Context, planID string) (distribution.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var postedAt string
	err := s.db.QueryRowContext(ctx, `SELECT posted_at FROM journal_entries WHERE plan_id = ?`, planID).Scan(&postedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return distribution.JournalEntry{}, fmt.Errorf("%w: %s", waqf.ErrJournalNotFound, planID)
	}
	if err != nil {
		return distribution.JournalEntry{}, fmt.Errorf("failed to get journal: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT account, beneficiary_id, debit_minor, credit_minor
		FROM journal_lines
		WHERE plan_id = ?
		ORDER BY line_no ASC
	`, planID)
	if err != nil {
		return distribution.JournalEntry{}, fmt.Errorf("failed to load journal lines: %w", err)
	}
	defer rows.Close()

	entry := distribution.JournalEntry{PlanID: planID}
	for rows.Next() {
		var (
			line          distribution.JournalLine
			bid           sql.NullString
			debit, credit int64
		)
		if err := rows.Scan(&line.Account, &bid, &debit, &credit); err != nil {
			return distribution.JournalEntry{}, fmt.Errorf("failed to scan journal line: %w", err)
		}
		line.BeneficiaryID = distribution.BeneficiaryID(bid.String)
		line.Debit = money.FromMinor(debit)
		line.Credit = money.FromMinor(credit)
		entry.Lines = append(entry.Lines, line)
	}
	return entry, rows.Err()
}

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
// ROSTER (waqf.RosterStore interface)
// =============================================================================

// SaveBeneficiary inserts or replaces a beneficiary.
func (s *Store) SaveBeneficiary(ctx context.Context, b distribution.Beneficiary, registeredAt time.Time) error {
	if b.ID == "" {
		return fmt.Errorf("%w: beneficiary without id", distribution.ErrInvalidRoster)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO beneficiaries
		(id, name, category, heir_type, priority_level, is_active, registered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			heir_type = excluded.heir_type,
			priority_level = excluded.priority_level,
			is_active = excluded.is_active,
			registered_at = excluded.registered_at,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		string(b.ID),
		b.Name,
		string(b.Category),
		nullString(string(b.HeirType)),
		b.PriorityLevel,
		b.IsActive,
		formatTime(registeredAt),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save beneficiary: %w", err)
	}
	return nil
}

// GetBeneficiary returns one beneficiary.
func (s *Store) GetBeneficiary(ctx context.Context, id distribution.BeneficiaryID) (distribution.Beneficiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, heir_type, priority_level, is_active
		FROM beneficiaries WHERE id = ?
	`, string(id))
	b, err := scanBeneficiary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return distribution.Beneficiary{}, fmt.Errorf("%w: %s", waqf.ErrBeneficiaryNotFound, id)
	}
	if err != nil {
		return distribution.Beneficiary{}, fmt.Errorf("failed to get beneficiary: %w", err)
	}
	return b, nil
}

// LoadRoster returns beneficiaries registered on or before asOf, by ID.
func (s *Store) LoadRoster(ctx context.Context, asOf time.Time) ([]distribution.Beneficiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, heir_type, priority_level, is_active
		FROM beneficiaries
		WHERE registered_at <= ?
		ORDER BY id ASC
	`, formatTime(asOf))
	if err != nil {
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}
	defer rows.Close()

	var out []distribution.Beneficiary
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan beneficiary: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBeneficiary(row scanner) (distribution.Beneficiary, error) {
	var (
		b        distribution.Beneficiary
		id, cat  string
		heirType sql.NullString
	)
	if err := row.Scan(&id, &b.Name, &cat, &heirType, &b.PriorityLevel, &b.IsActive); err != nil {
		return distribution.Beneficiary{}, err
	}
	b.ID = distribution.BeneficiaryID(id)
	b.Category = distribution.Category(cat)
	b.HeirType = distribution.HeirType(heirType.String)
	return b, nil
}

// AddInstallment records a loan installment. The beneficiary must exist.
func (s *Store) AddInstallment(ctx context.Context, inst distribution.Installment) error {
	if inst.Amount.IsNegative() {
		return fmt.Errorf("%w: installment %s is negative", distribution.ErrInvalidAmount, inst.LoanID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM beneficiaries WHERE id = ?`, string(inst.BeneficiaryID)).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check beneficiary: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", waqf.ErrBeneficiaryNotFound, inst.BeneficiaryID)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO loan_installments (loan_id, beneficiary_id, amount_minor, due_date, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, inst.LoanID, string(inst.BeneficiaryID), inst.Amount.Minor(), formatTime(inst.DueDate), formatTime(time.Now()))
		if err != nil {
			return fmt.Errorf("failed to add installment: %w", err)
		}
		return nil
	})
}

// LoadActiveLoanInstallments returns installments of the given
// beneficiaries, oldest due date first.
func (s *Store) LoadActiveLoanInstallments(ctx context.Context, ids []distribution.BeneficiaryID) (map[distribution.BeneficiaryID][]distribution.Installment, error) {
	out := make(map[distribution.BeneficiaryID][]distribution.Installment)
	if len(ids) == 0 {
		return out, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT loan_id, beneficiary_id, amount_minor, due_date
		FROM loan_installments
		WHERE beneficiary_id IN (`+placeholders(len(ids))+`)
		ORDER BY due_date ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load installments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			inst  distribution.Installment
			bid   string
			minor int64
			due   string
		)
		if err := rows.Scan(&inst.LoanID, &bid, &minor, &due); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		if inst.DueDate, err = parseTime(due); err != nil {
			return nil, err
		}
		inst.BeneficiaryID = distribution.BeneficiaryID(bid)
		inst.Amount = money.FromMinor(minor)
		out[inst.BeneficiaryID] = append(out[inst.BeneficiaryID], inst)
	}
	return out, rows.Err()
}

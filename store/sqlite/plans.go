package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/waqf-engine/distribution"
	"github.com/warp/waqf-engine/money"
	"github.com/warp/waqf-engine/waqf"
)

// =============================================================================
// PLANS (waqf.PlanStore interface)
// =============================================================================

const planColumns = `
	id, policy_id, as_of, gross_minor, distributable_minor, heir_pool_minor,
	ordinary_pool_minor, deductions_json, allocations_json, arrears_json,
	status, created_at`

// SavePlan writes a new plan. Plans are never rewritten.
func (s *Store) SavePlan(ctx context.Context, plan *distribution.AllocationPlan) error {
	deductions, err := json.Marshal(plan.Deductions)
	if err != nil {
		return fmt.Errorf("marshal deductions: %w", err)
	}
	allocations, err := json.Marshal(plan.Allocations)
	if err != nil {
		return fmt.Errorf("marshal allocations: %w", err)
	}
	arrears, err := json.Marshal(plan.Arrears)
	if err != nil {
		return fmt.Errorf("marshal arrears: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (`+planColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		plan.ID,
		plan.PolicyID,
		formatTime(plan.AsOf),
		plan.GrossRevenue.Minor(),
		plan.DistributableAmount.Minor(),
		plan.HeirPool.Minor(),
		plan.OrdinaryPool.Minor(),
		string(deductions),
		string(allocations),
		string(arrears),
		string(plan.Status),
		formatTime(plan.CreatedAt),
		formatTime(time.Now()),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", waqf.ErrDuplicatePlan, plan.ID)
		}
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// GetPlan returns one plan.
func (s *Store) GetPlan(ctx context.Context, id string) (*distribution.AllocationPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", waqf.ErrPlanNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

// UpdatePlanStatus changes the status column, the only mutable part of a
// plan. A terminal status is never replaced by another one.
func (s *Store) UpdatePlanStatus(ctx context.Context, id string, status distribution.PlanStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE plans SET status = ?, updated_at = ?
		 WHERE id = ? AND (status = ? OR status NOT IN ('approved', 'rejected', 'cancelled'))`,
		string(status), formatTime(time.Now()), id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM plans WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", waqf.ErrPlanNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}
	return fmt.Errorf("%w: %s is %s", waqf.ErrPlanFinalized, id, current)
}

// DiscardDraft deletes a plan still in draft.
func (s *Store) DiscardDraft(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE id = ? AND status = ?`, id, string(distribution.PlanDraft))
	if err != nil {
		return fmt.Errorf("failed to discard plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to discard plan: %w", err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM plans WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", waqf.ErrPlanNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to discard plan: %w", err)
	}
	return fmt.Errorf("%w: %s is %s", waqf.ErrPlanFinalized, id, current)
}

// ListPlans returns plans in insertion order. An empty status matches all.
func (s *Store) ListPlans(ctx context.Context, status distribution.PlanStatus) ([]*distribution.AllocationPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + planColumns + ` FROM plans`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var out []*distribution.AllocationPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPlan(row scanner) (*distribution.AllocationPlan, error) {
	var (
		p                                        distribution.AllocationPlan
		asOf, createdAt, status                  string
		gross, distributable, heirPool, ordinary int64
		deductions, allocations, arrears         string
	)
	err := row.Scan(&p.ID, &p.PolicyID, &asOf, &gross, &distributable, &heirPool,
		&ordinary, &deductions, &allocations, &arrears, &status, &createdAt)
	if err != nil {
		return nil, err
	}

	if p.AsOf, err = parseTime(asOf); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	p.GrossRevenue = money.FromMinor(gross)
	p.DistributableAmount = money.FromMinor(distributable)
	p.HeirPool = money.FromMinor(heirPool)
	p.OrdinaryPool = money.FromMinor(ordinary)
	p.Status = distribution.PlanStatus(status)

	if err := json.Unmarshal([]byte(deductions), &p.Deductions); err != nil {
		return nil, fmt.Errorf("decode deductions of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(allocations), &p.Allocations); err != nil {
		return nil, fmt.Errorf("decode allocations of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(arrears), &p.Arrears); err != nil {
		return nil, fmt.Errorf("decode arrears of %s: %w", p.ID, err)
	}
	return &p, nil
}

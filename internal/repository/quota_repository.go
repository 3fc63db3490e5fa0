package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
)

type QuotaRepositoryInterface interface {
	// Subscriptions
	RemainingAllowance(ctx context.Context, userID int, at time.Time) (int, error)
	ConsumeSlot(ctx context.Context, m *model.JoinedGroup, at time.Time) (int, error)

	// Memberships
	GetMembership(ctx context.Context, userID int, inviteCode string) (*model.JoinedGroup, error)
	DeactivateMembership(ctx context.Context, userID int, inviteCode string) error
	ListActiveMemberships(ctx context.Context, userID int) ([]model.JoinedGroup, error)

	// Left groups
	AppendLeftGroup(ctx context.Context, rec *model.LeftGroup) error
	DeleteLeftGroups(ctx context.Context, userID int, inviteCode string) error
}

type QuotaRepository struct {
	DB *sql.DB
}

const grantingSubscription = `
    user_id=$1 AND is_active AND payment_status='paid' AND start_date <= $2 AND end_date >= $2
`

// ====================== Subscriptions ======================

func (r *QuotaRepository) RemainingAllowance(ctx context.Context, userID int, at time.Time) (int, error) {
	query := `SELECT COALESCE(SUM(add_groups_limit), 0) FROM subscriptions WHERE` + grantingSubscription
	var total int
	if err := r.DB.QueryRowContext(ctx, query, userID, at).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// ConsumeSlot takes one slot from the granting subscription that expires
// first and activates m, in one transaction. The decrement only matches rows
// with a positive allowance, so the balance never goes negative; no match
// means QuotaExhausted. Returns the charged subscription id.
func (r *QuotaRepository) ConsumeSlot(ctx context.Context, m *model.JoinedGroup, at time.Time) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	subID, err := decrementAllowance(ctx, tx, m.UserID, at)
	if err != nil {
		return 0, err
	}
	if err := upsertActiveMembership(ctx, tx, m); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return subID, nil
}

// decrementAllowance waits on a row locked by a concurrent join; the outer
// add_groups_limit > 0 re-checks the row once the lock is released.
func decrementAllowance(ctx context.Context, tx *sql.Tx, userID int, at time.Time) (int, error) {
	query := `
        UPDATE subscriptions SET add_groups_limit = add_groups_limit - 1
        WHERE id = (
            SELECT id FROM subscriptions
            WHERE` + grantingSubscription + ` AND add_groups_limit > 0
            ORDER BY end_date ASC, id ASC
            LIMIT 1
            FOR UPDATE
        ) AND add_groups_limit > 0
        RETURNING id
    `
	var id int
	err := tx.QueryRowContext(ctx, query, userID, at).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, appErrors.NewQuotaExhausted(userID)
		}
		return 0, err
	}
	return id, nil
}

// ====================== Memberships ======================

func (r *QuotaRepository) GetMembership(ctx context.Context, userID int, inviteCode string) (*model.JoinedGroup, error) {
	query := `
        SELECT id, user_id, invite_code, external_group_id, name, is_active, joined_at
        FROM joined_groups
        WHERE user_id=$1 AND invite_code=$2
    `
	var m model.JoinedGroup
	err := r.DB.QueryRowContext(ctx, query, userID, inviteCode).Scan(
		&m.ID, &m.UserID, &m.InviteCode, &m.ExternalGroupID, &m.Name, &m.IsActive, &m.JoinedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *QuotaRepository) DeactivateMembership(ctx context.Context, userID int, inviteCode string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE joined_groups SET is_active=FALSE WHERE user_id=$1 AND invite_code=$2`, userID, inviteCode)
	return err
}

func (r *QuotaRepository) ListActiveMemberships(ctx context.Context, userID int) ([]model.JoinedGroup, error) {
	query := `
        SELECT id, user_id, invite_code, external_group_id, name, is_active, joined_at
        FROM joined_groups
        WHERE user_id=$1 AND is_active
        ORDER BY joined_at DESC
    `
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []model.JoinedGroup{}
	for rows.Next() {
		var m model.JoinedGroup
		if err := rows.Scan(&m.ID, &m.UserID, &m.InviteCode, &m.ExternalGroupID, &m.Name, &m.IsActive, &m.JoinedAt); err != nil {
			return nil, err
		}
		groups = append(groups, m)
	}
	return groups, rows.Err()
}

// upsertActiveMembership inserts the row or flips an existing one back to active.
func upsertActiveMembership(ctx context.Context, tx *sql.Tx, m *model.JoinedGroup) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	m.IsActive = true
	query := `
        INSERT INTO joined_groups (user_id, invite_code, external_group_id, name, is_active, joined_at)
        VALUES ($1, $2, $3, $4, TRUE, $5)
        ON CONFLICT (user_id, invite_code) DO UPDATE
        SET is_active=TRUE,
            external_group_id=COALESCE(NULLIF(EXCLUDED.external_group_id, ''), joined_groups.external_group_id),
            name=COALESCE(NULLIF(EXCLUDED.name, ''), joined_groups.name),
            joined_at=EXCLUDED.joined_at
        RETURNING id
    `
	return tx.QueryRowContext(ctx, query, m.UserID, m.InviteCode, m.ExternalGroupID, m.Name, m.JoinedAt).Scan(&m.ID)
}

// ====================== Left groups ======================

func (r *QuotaRepository) AppendLeftGroup(ctx context.Context, rec *model.LeftGroup) error {
	if rec.LeftAt.IsZero() {
		rec.LeftAt = time.Now().UTC()
	}
	query := `
        INSERT INTO left_groups (user_id, external_group_id, invite_code, name, left_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, rec.UserID, rec.ExternalGroupID, rec.InviteCode, rec.Name, rec.LeftAt).Scan(&rec.ID)
}

func (r *QuotaRepository) DeleteLeftGroups(ctx context.Context, userID int, inviteCode string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM left_groups WHERE user_id=$1 AND invite_code=$2`, userID, inviteCode)
	return err
}

var _ QuotaRepositoryInterface = (*QuotaRepository)(nil)

package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/unclebandit/smsleopard-dispatch/internal/model"
)

// AccountRepositoryInterface resolves the gateway session of a user.
type AccountRepositoryInterface interface {
	GetConnectedAccount(ctx context.Context, userID, platformID int) (*model.ConnectedAccount, error)
}

type AccountRepository struct {
	DB *sql.DB
}

// GetConnectedAccount returns nil, nil when the user has no connected session.
func (r *AccountRepository) GetConnectedAccount(ctx context.Context, userID, platformID int) (*model.ConnectedAccount, error) {
	query := `
        SELECT user_id, platform_id, access_token, external_session_id
        FROM connected_accounts
        WHERE user_id=$1 AND platform_id=$2 AND is_connected
    `
	var a model.ConnectedAccount
	err := r.DB.QueryRowContext(ctx, query, userID, platformID).Scan(&a.UserID, &a.PlatformID, &a.AccessToken, &a.ExternalSessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

var _ AccountRepositoryInterface = (*AccountRepository)(nil)

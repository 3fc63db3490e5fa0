package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
)

type MessageRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Message, error)
	UpdateStatus(ctx context.Context, id int, status string, sentAt *time.Time) error
}

type MessageRepository struct {
	DB *sql.DB
}

func (r *MessageRepository) GetByID(ctx context.Context, id int) (*model.Message, error) {
	query := `
        SELECT id, user_id, platform_id, title, body, targets, attachments, status, created_at, sent_at
        FROM messages WHERE id=$1
    `
	var m model.Message
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.UserID, &m.PlatformID, &m.Title, &m.Body,
		pq.Array(&m.Targets), pq.Array(&m.Attachments), &m.Status, &m.CreatedAt, &m.SentAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewMessageNotFound(id)
		}
		return nil, err
	}
	return &m, nil
}

// UpdateStatus keeps the existing sent_at when sentAt is nil.
func (r *MessageRepository) UpdateStatus(ctx context.Context, id int, status string, sentAt *time.Time) error {
	query := `UPDATE messages SET status=$1, sent_at=COALESCE($2, sent_at) WHERE id=$3`
	_, err := r.DB.ExecContext(ctx, query, status, sentAt, id)
	return err
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)

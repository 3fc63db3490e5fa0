package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/smsleopard-dispatch/internal/model"
)

// DeliveryRepositoryInterface is insert-only; nothing updates or deletes records.
type DeliveryRepositoryInterface interface {
	Append(ctx context.Context, rec *model.DeliveryRecord) error
	DistinctRecipients(ctx context.Context, messageID int) ([]string, error)
	ListByMessage(ctx context.Context, messageID int) ([]model.DeliveryRecord, error)
	ListSentSince(ctx context.Context, userID int, since time.Time) ([]model.DeliveryRecord, error)
}

type DeliveryRepository struct {
	DB *sql.DB
}

func (r *DeliveryRepository) Append(ctx context.Context, rec *model.DeliveryRecord) error {
	if rec.AttemptedAt.IsZero() {
		rec.AttemptedAt = time.Now().UTC()
	}
	query := `
        INSERT INTO delivery_records (message_id, recipient, platform_id, outcome, error, external_id, attempted_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		rec.MessageID, rec.Recipient, rec.PlatformID, rec.Outcome, rec.Error, rec.ExternalID, rec.AttemptedAt,
	).Scan(&rec.ID)
}

// DistinctRecipients returns every recipient ever attempted for the message,
// ordered by its first attempt.
func (r *DeliveryRepository) DistinctRecipients(ctx context.Context, messageID int) ([]string, error) {
	query := `
        SELECT recipient
        FROM delivery_records
        WHERE message_id=$1
        GROUP BY recipient
        ORDER BY MIN(id)
    `
	rows, err := r.DB.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []string{}
	for rows.Next() {
		var rcpt string
		if err := rows.Scan(&rcpt); err != nil {
			return nil, err
		}
		recipients = append(recipients, rcpt)
	}
	return recipients, rows.Err()
}

func (r *DeliveryRepository) ListByMessage(ctx context.Context, messageID int) ([]model.DeliveryRecord, error) {
	query := `
        SELECT id, message_id, recipient, platform_id, outcome, error, external_id, attempted_at
        FROM delivery_records
        WHERE message_id=$1
        ORDER BY id
    `
	return r.list(ctx, query, messageID)
}

// ListSentSince returns sent records of the user's messages attempted at or after since.
func (r *DeliveryRepository) ListSentSince(ctx context.Context, userID int, since time.Time) ([]model.DeliveryRecord, error) {
	query := `
        SELECT d.id, d.message_id, d.recipient, d.platform_id, d.outcome, d.error, d.external_id, d.attempted_at
        FROM delivery_records d
        JOIN messages m ON m.id = d.message_id
        WHERE m.user_id=$1 AND d.outcome='sent' AND d.attempted_at >= $2
        ORDER BY d.attempted_at
    `
	return r.list(ctx, query, userID, since)
}

func (r *DeliveryRepository) list(ctx context.Context, query string, args ...any) ([]model.DeliveryRecord, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []model.DeliveryRecord{}
	for rows.Next() {
		var rec model.DeliveryRecord
		if err := rows.Scan(&rec.ID, &rec.MessageID, &rec.Recipient, &rec.PlatformID,
			&rec.Outcome, &rec.Error, &rec.ExternalID, &rec.AttemptedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

var _ DeliveryRepositoryInterface = (*DeliveryRepository)(nil)

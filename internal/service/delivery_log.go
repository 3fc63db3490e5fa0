package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/logger"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/queue"
	"github.com/unclebandit/smsleopard-dispatch/internal/repository"
)

// DeliveryLog is the append-only writer for delivery attempts. Each Append
// is one insert followed by a best-effort delivery.recorded event.
type DeliveryLog struct {
	Repo  repository.DeliveryRepositoryInterface
	Queue queue.Queue
	Log   *zap.Logger
	Now   func() time.Time
}

func NewDeliveryLog(repo repository.DeliveryRepositoryInterface, q queue.Queue, log *zap.Logger) *DeliveryLog {
	return &DeliveryLog{Repo: repo, Queue: q, Log: logger.OrNop(log), Now: utcNow}
}

// Append stores rec for the user owning its message.
func (l *DeliveryLog) Append(ctx context.Context, userID int, rec *model.DeliveryRecord) error {
	if rec.AttemptedAt.IsZero() {
		rec.AttemptedAt = l.Now()
	}
	if err := l.Repo.Append(ctx, rec); err != nil {
		return fmt.Errorf("append delivery record for message %d: %w", rec.MessageID, err)
	}
	if l.Queue == nil {
		return nil
	}

	ev := queue.DeliveryEvent{
		ID:          uuid.NewString(),
		RecordID:    rec.ID,
		MessageID:   rec.MessageID,
		UserID:      userID,
		Recipient:   rec.Recipient,
		Outcome:     rec.Outcome,
		AttemptedAt: rec.AttemptedAt,
	}
	if err := l.Queue.Publish(queue.TopicDeliveryRecorded, ev); err != nil {
		l.Log.Warn("publish delivery event failed",
			zap.Int("message_id", rec.MessageID), zap.Int64("record_id", rec.ID), zap.Error(err))
	}
	return nil
}

func (l *DeliveryLog) DistinctRecipients(ctx context.Context, messageID int) ([]string, error) {
	return l.Repo.DistinctRecipients(ctx, messageID)
}

// RecipientOutcomes folds the log of one message into one entry per
// recipient, ordered by first attempt.
func (l *DeliveryLog) RecipientOutcomes(ctx context.Context, messageID int) ([]model.RecipientOutcome, error) {
	records, err := l.Repo.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return foldOutcomes(records), nil
}

func foldOutcomes(records []model.DeliveryRecord) []model.RecipientOutcome {
	index := map[string]int{}
	out := []model.RecipientOutcome{}
	for _, rec := range records {
		i, ok := index[rec.Recipient]
		if !ok {
			i = len(out)
			index[rec.Recipient] = i
			out = append(out, model.RecipientOutcome{Recipient: rec.Recipient})
		}
		o := &out[i]
		o.Attempts++
		o.LastAttemptAt = rec.AttemptedAt
		if rec.Outcome == model.OutcomeSent {
			o.Succeeded = true
			if o.FirstSentAt == nil {
				t := rec.AttemptedAt
				o.FirstSentAt = &t
			}
			o.LastError = nil
		} else {
			o.LastError = rec.Error
		}
	}
	return out
}

func utcNow() time.Time { return time.Now().UTC() }

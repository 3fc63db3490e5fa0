package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/logger"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/queue"
)

// StatsInvalidator drops a user's cached stats.
type StatsInvalidator interface {
	Invalidate(ctx context.Context, userID int) error
}

// Worker processes delivery.recorded events
type Worker struct {
	Cache   StatsInvalidator
	Log     *zap.Logger
	Timeout time.Duration
}

// Constructor
func NewWorker(c StatsInvalidator, log *zap.Logger) *Worker {
	return &Worker{Cache: c, Log: logger.OrNop(log), Timeout: 5 * time.Second}
}

// Handle is a queue handler. Undecodable payloads are dropped; a failed
// invalidation is returned so the queue retries it.
func (w *Worker) Handle(payload any) error {
	ev, err := queue.DecodeEvent(payload)
	if err != nil {
		w.Log.Error("dropping malformed delivery event", zap.Error(err))
		return nil
	}
	// Failed attempts don't move any counter.
	if ev.Outcome != model.OutcomeSent {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.Timeout)
	defer cancel()
	if err := w.Cache.Invalidate(ctx, ev.UserID); err != nil {
		return err
	}
	w.Log.Debug("stats invalidated", zap.Int("user_id", ev.UserID), zap.String("event_id", ev.ID))
	return nil
}

package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/gateway"
	"github.com/unclebandit/smsleopard-dispatch/internal/logger"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/repository"
)

// Sender is the part of the gateway client used for fan-out.
type Sender interface {
	Send(ctx context.Context, token string, p gateway.Payload) (*gateway.SendResult, error)
}

// DispatchService pushes one message to its recipients, one at a time.
type DispatchService struct {
	Messages  repository.MessageRepositoryInterface
	Accounts  repository.AccountRepositoryInterface
	Gateway   Sender
	Log       *DeliveryLog
	Humanizer *Humanizer
	Pacer     Pacer
	Logger    *zap.Logger
	Now       func() time.Time
}

// DispatchReport summarises one Send or Resend. Status is the message's
// rolling flag: sent means at least one recipient got through at some point.
type DispatchReport struct {
	MessageID  int    `json:"message_id"`
	Status     string `json:"status"`
	Recipients int    `json:"recipients"`
	Attempts   int    `json:"attempts"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
}

func NewDispatchService(
	messages repository.MessageRepositoryInterface,
	accounts repository.AccountRepositoryInterface,
	gw Sender,
	deliveryLog *DeliveryLog,
	humanizer *Humanizer,
	pacer Pacer,
	log *zap.Logger,
) *DispatchService {
	if pacer == nil {
		pacer = NoPause{}
	}
	return &DispatchService{
		Messages:  messages,
		Accounts:  accounts,
		Gateway:   gw,
		Log:       deliveryLog,
		Humanizer: humanizer,
		Pacer:     pacer,
		Logger:    logger.OrNop(log),
		Now:       utcNow,
	}
}

// Send dispatches the message to recipients, or to its stored targets when
// recipients is empty.
func (s *DispatchService) Send(ctx context.Context, userID, messageID int, recipients []string) (*DispatchReport, error) {
	msg, err := s.loadMessage(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	targets := cleanTargets(recipients)
	if len(targets) == 0 {
		targets = cleanTargets(msg.Targets)
	}
	if len(targets) == 0 {
		return nil, appErrors.NewInvalidRequest("no recipients to send to")
	}
	if err := checkContent(msg); err != nil {
		return nil, err
	}

	account, err := s.resolveAccount(ctx, msg)
	if err != nil {
		return nil, err
	}
	// A message that already went out once is re-evaluated from pending.
	if err := s.resetPending(ctx, msg); err != nil {
		return nil, err
	}
	return s.dispatch(ctx, msg, account, targets)
}

// Resend targets every recipient the message was attempted for before,
// whatever the earlier outcome.
func (s *DispatchService) Resend(ctx context.Context, userID, messageID int) (*DispatchReport, error) {
	msg, err := s.loadMessage(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	targets, err := s.Log.DistinctRecipients(ctx, messageID)
	if err != nil {
		return nil, appErrors.NewOrchestrationFault("load previous recipients", err)
	}
	if len(targets) == 0 {
		return nil, appErrors.NewOrchestrationFault("message has never been sent", nil)
	}
	if err := checkContent(msg); err != nil {
		return nil, err
	}

	account, err := s.resolveAccount(ctx, msg)
	if err != nil {
		return nil, err
	}
	if err := s.resetPending(ctx, msg); err != nil {
		return nil, err
	}
	return s.dispatch(ctx, msg, account, targets)
}

// RecipientOutcomes is the per-recipient view of the message's delivery log.
func (s *DispatchService) RecipientOutcomes(ctx context.Context, userID, messageID int) ([]model.RecipientOutcome, error) {
	if _, err := s.loadMessage(ctx, userID, messageID); err != nil {
		return nil, err
	}
	return s.Log.RecipientOutcomes(ctx, messageID)
}

func (s *DispatchService) loadMessage(ctx context.Context, userID, messageID int) (*model.Message, error) {
	msg, err := s.Messages.GetByID(ctx, messageID)
	if err != nil {
		if appErrors.CodeOf(err) == appErrors.CodeOrchestrationFault {
			return nil, err
		}
		return nil, appErrors.NewOrchestrationFault("load message", err)
	}
	if msg.UserID != userID {
		return nil, appErrors.NewMessageNotFound(messageID)
	}
	return msg, nil
}

func (s *DispatchService) resetPending(ctx context.Context, msg *model.Message) error {
	if msg.Status == model.MessageStatusPending {
		return nil
	}
	if err := s.Messages.UpdateStatus(ctx, msg.ID, model.MessageStatusPending, nil); err != nil {
		return appErrors.NewOrchestrationFault("reset message status", err)
	}
	msg.Status = model.MessageStatusPending
	return nil
}

func hasBody(msg *model.Message) bool { return strings.TrimSpace(msg.Body) != "" }

func checkContent(msg *model.Message) error {
	if !hasBody(msg) && len(msg.Attachments) == 0 {
		return appErrors.NewInvalidRequest("message has neither body nor attachments")
	}
	return nil
}

func (s *DispatchService) resolveAccount(ctx context.Context, msg *model.Message) (*model.ConnectedAccount, error) {
	account, err := s.Accounts.GetConnectedAccount(ctx, msg.UserID, msg.PlatformID)
	if err != nil {
		return nil, appErrors.NewOrchestrationFault("load connected account", err)
	}
	if account == nil {
		return nil, appErrors.NewNoActiveAccount(msg.UserID, msg.PlatformID)
	}
	return account, nil
}

func (s *DispatchService) dispatch(ctx context.Context, msg *model.Message, account *model.ConnectedAccount, targets []string) (*DispatchReport, error) {
	// Writes survive caller cancellation so the log and status match what
	// actually reached the gateway.
	writeCtx := context.WithoutCancel(ctx)
	log := s.Logger.With(zap.Int("message_id", msg.ID), zap.Int("user_id", msg.UserID))

	report := &DispatchReport{MessageID: msg.ID, Recipients: len(targets)}
	status := msg.Status

	var stopErr error
	for i, to := range targets {
		if i > 0 {
			if err := s.Pacer.Pause(ctx); err != nil {
				stopErr = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}

		delivered := false
		for _, p := range s.payloads(msg, to) {
			rec := s.attempt(ctx, log, account.AccessToken, msg, p)
			report.Attempts++
			if err := s.Log.Append(writeCtx, msg.UserID, rec); err != nil {
				log.Error("delivery record not stored", zap.String("recipient", to), zap.Error(err))
			}
			if rec.Outcome != model.OutcomeSent {
				continue
			}
			delivered = true
			if status != model.MessageStatusSent {
				sentAt := rec.AttemptedAt
				if err := s.Messages.UpdateStatus(writeCtx, msg.ID, model.MessageStatusSent, &sentAt); err != nil {
					log.Error("mark message sent", zap.Error(err))
				} else {
					status = model.MessageStatusSent
				}
			}
		}
		if delivered {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	if status == model.MessageStatusPending {
		if err := s.Messages.UpdateStatus(writeCtx, msg.ID, model.MessageStatusFailed, nil); err != nil {
			log.Error("mark message failed", zap.Error(err))
		} else {
			status = model.MessageStatusFailed
		}
	}
	report.Status = status

	log.Info("dispatch finished",
		zap.String("status", status),
		zap.Int("recipients", report.Recipients),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("attempts", report.Attempts))

	return report, stopErr
}

// payloads builds the calls for one recipient. Only the last attachment, or
// the plain text send, carries the body.
func (s *DispatchService) payloads(msg *model.Message, to string) []gateway.Payload {
	if len(msg.Attachments) == 0 {
		if !hasBody(msg) {
			return nil
		}
		return []gateway.Payload{gateway.TextPayload(to, s.Humanizer.Humanize(msg.Body))}
	}

	out := make([]gateway.Payload, 0, len(msg.Attachments))
	last := len(msg.Attachments) - 1
	for i, resource := range msg.Attachments {
		caption := ""
		if i == last && hasBody(msg) {
			caption = s.Humanizer.Humanize(msg.Body)
		}
		out = append(out, gateway.MediaPayload(to, resource, caption))
	}
	return out
}

func (s *DispatchService) attempt(ctx context.Context, log *zap.Logger, token string, msg *model.Message, p gateway.Payload) *model.DeliveryRecord {
	rec := &model.DeliveryRecord{
		MessageID:  msg.ID,
		Recipient:  p.To,
		PlatformID: msg.PlatformID,
		Outcome:    model.OutcomeFailed,
	}

	res, err := s.Gateway.Send(ctx, token, p)
	rec.AttemptedAt = s.Now()
	switch {
	case err != nil:
		e := err.Error()
		rec.Error = &e
		log.Warn("gateway send failed",
			zap.String("recipient", p.To), zap.String("code", string(appErrors.CodeOf(err))), zap.Error(err))
	case res.Accepted:
		rec.Outcome = model.OutcomeSent
		rec.ExternalID = res.ExternalID
	default:
		body := res.RawBody
		rec.Error = &body
		var failure error
		if res.RateLimited {
			failure = appErrors.NewRateLimited("send-message", res.StatusCode, res.RawBody)
		} else {
			failure = appErrors.NewGatewayBusiness("send-message", res.StatusCode, res.RawBody)
		}
		log.Warn("gateway rejected send",
			zap.String("recipient", p.To),
			zap.String("code", string(appErrors.CodeOf(failure))),
			zap.Int("status", res.StatusCode),
			zap.Int("attempts", res.Attempts))
	}
	return rec
}

func cleanTargets(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}


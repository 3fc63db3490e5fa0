package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/lock"
	"github.com/unclebandit/smsleopard-dispatch/internal/logger"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/repository"
)

// QuotaLedger accounts add-group allowance against group memberships.
// Joins and leaves of one user are serialized through Locker; the
// repository's conditional decrement keeps the balance non-negative across
// instances that do not share the lock.
type QuotaLedger struct {
	Repo   repository.QuotaRepositoryInterface
	Locker lock.Locker
	Log    *zap.Logger
	Now    func() time.Time
}

type JoinRequest struct {
	UserID          int
	InviteCode      string
	ExternalGroupID string
	GroupName       string
}

type JoinResult struct {
	Membership *model.JoinedGroup `json:"membership"`
	// Consumed is false when the membership was already active.
	Consumed  bool `json:"consumed"`
	Remaining int  `json:"remaining"`
}

type LeaveRequest struct {
	UserID          int
	InviteCode      string
	ExternalGroupID string
	GroupName       string
}

func NewQuotaLedger(repo repository.QuotaRepositoryInterface, locker lock.Locker, log *zap.Logger) *QuotaLedger {
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &QuotaLedger{Repo: repo, Locker: locker, Log: logger.OrNop(log), Now: utcNow}
}

// Remaining is the sum of allowance over subscriptions granting right now.
func (l *QuotaLedger) Remaining(ctx context.Context, userID int) (int, error) {
	return l.Repo.RemainingAllowance(ctx, userID, l.Now())
}

// Membership returns the (user, invite code) row or nil.
func (l *QuotaLedger) Membership(ctx context.Context, userID int, inviteCode string) (*model.JoinedGroup, error) {
	return l.Repo.GetMembership(ctx, userID, inviteCode)
}

func (l *QuotaLedger) ActiveMemberships(ctx context.Context, userID int) ([]model.JoinedGroup, error) {
	return l.Repo.ListActiveMemberships(ctx, userID)
}

// WithUserLock runs fn while holding userID's quota lock. fn must not call
// Join or Leave, the lock is not reentrant.
func (l *QuotaLedger) WithUserLock(ctx context.Context, userID int, fn func(ctx context.Context) error) error {
	unlock, err := l.Locker.Lock(ctx, strconv.Itoa(userID))
	if err != nil {
		return appErrors.NewOrchestrationFault("acquire quota lock", err)
	}
	defer unlock()
	return fn(ctx)
}

// Join activates the membership and consumes one slot. Re-joining an active
// membership is a no-op and never consumes again.
func (l *QuotaLedger) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	var res *JoinResult
	err := l.WithUserLock(ctx, req.UserID, func(ctx context.Context) error {
		var err error
		res, err = l.join(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// join expects the caller to hold the user's lock.
func (l *QuotaLedger) join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	req.InviteCode = strings.TrimSpace(req.InviteCode)
	if req.InviteCode == "" {
		return nil, appErrors.NewInvalidRequest("invite code is required")
	}

	now := l.Now()
	existing, err := l.Repo.GetMembership(ctx, req.UserID, req.InviteCode)
	if err != nil {
		return nil, err
	}

	res := &JoinResult{}
	if existing != nil && existing.IsActive {
		res.Membership = existing
	} else {
		m := &model.JoinedGroup{
			UserID:          req.UserID,
			InviteCode:      req.InviteCode,
			ExternalGroupID: req.ExternalGroupID,
			Name:            req.GroupName,
			JoinedAt:        now,
		}
		subID, err := l.Repo.ConsumeSlot(ctx, m, now)
		if err != nil {
			return nil, err
		}
		res.Membership = m
		res.Consumed = true
		l.Log.Info("group joined",
			zap.Int("user_id", req.UserID), zap.String("invite_code", req.InviteCode), zap.Int("subscription_id", subID))
	}

	if err := l.Repo.DeleteLeftGroups(ctx, req.UserID, req.InviteCode); err != nil {
		return nil, err
	}

	remaining, err := l.Repo.RemainingAllowance(ctx, req.UserID, now)
	if err != nil {
		return nil, err
	}
	res.Remaining = remaining
	return res, nil
}

// Leave deactivates the membership, if any, and records the departure.
// The consumed slot is not given back.
func (l *QuotaLedger) Leave(ctx context.Context, req LeaveRequest) (*model.LeftGroup, error) {
	req.InviteCode = strings.TrimSpace(req.InviteCode)
	if req.InviteCode == "" {
		return nil, appErrors.NewInvalidRequest("invite code is required")
	}

	var rec *model.LeftGroup
	err := l.WithUserLock(ctx, req.UserID, func(ctx context.Context) error {
		var err error
		rec, err = l.leave(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (l *QuotaLedger) leave(ctx context.Context, req LeaveRequest) (*model.LeftGroup, error) {
	existing, err := l.Repo.GetMembership(ctx, req.UserID, req.InviteCode)
	if err != nil {
		return nil, err
	}
	rec := &model.LeftGroup{
		UserID:          req.UserID,
		ExternalGroupID: req.ExternalGroupID,
		InviteCode:      req.InviteCode,
		Name:            req.GroupName,
		LeftAt:          l.Now(),
	}
	if existing != nil {
		if existing.IsActive {
			if err := l.Repo.DeactivateMembership(ctx, req.UserID, req.InviteCode); err != nil {
				return nil, err
			}
		}
		if rec.Name == "" {
			rec.Name = existing.Name
		}
		if rec.ExternalGroupID == "" {
			rec.ExternalGroupID = existing.ExternalGroupID
		}
	}
	if err := l.Repo.AppendLeftGroup(ctx, rec); err != nil {
		return nil, err
	}
	l.Log.Info("group left", zap.Int("user_id", req.UserID), zap.String("invite_code", req.InviteCode))
	return rec, nil
}

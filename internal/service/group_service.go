package service

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/gateway"
	"github.com/unclebandit/smsleopard-dispatch/internal/logger"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/repository"
)

// GroupGateway is the membership half of the gateway client.
type GroupGateway interface {
	GroupInfo(ctx context.Context, token, code string) (*gateway.GroupInfo, error)
	AcceptInvite(ctx context.Context, token, code string) error
	InviteLink(ctx context.Context, token, jid string) (string, error)
	LeaveGroup(ctx context.Context, token, jid string) error
}

// GroupService runs the operator join/leave flows: gateway first, ledger last.
type GroupService struct {
	Accounts repository.AccountRepositoryInterface
	Gateway  GroupGateway
	Ledger   *QuotaLedger
	Log      *zap.Logger
}

type GroupList struct {
	Groups    []model.JoinedGroup `json:"groups"`
	Remaining int                 `json:"remaining"`
}

func NewGroupService(accounts repository.AccountRepositoryInterface, gw GroupGateway, ledger *QuotaLedger, log *zap.Logger) *GroupService {
	return &GroupService{Accounts: accounts, Gateway: gw, Ledger: ledger, Log: logger.OrNop(log)}
}

// JoinGroup accepts an invite code or a full invite link.
func (s *GroupService) JoinGroup(ctx context.Context, userID, platformID int, invite string) (*JoinResult, error) {
	code := gateway.InviteCodeFromLink(invite)
	if code == "" {
		return nil, appErrors.NewInvalidRequest("invite code is required")
	}

	account, err := s.account(ctx, userID, platformID)
	if err != nil {
		return nil, err
	}

	// The user's quota lock spans the allowance check, the gateway accept and
	// the ledger write so concurrent joins cannot accept past the allowance.
	var res *JoinResult
	err = s.Ledger.WithUserLock(ctx, userID, func(ctx context.Context) error {
		var err error
		res, err = s.joinLocked(ctx, userID, account, code)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *GroupService) joinLocked(ctx context.Context, userID int, account *model.ConnectedAccount, code string) (*JoinResult, error) {
	existing, err := s.Ledger.Membership(ctx, userID, code)
	if err != nil {
		return nil, err
	}
	alreadyActive := existing != nil && existing.IsActive

	if !alreadyActive {
		remaining, err := s.Ledger.Remaining(ctx, userID)
		if err != nil {
			return nil, err
		}
		if remaining <= 0 {
			return nil, appErrors.NewQuotaExhausted(userID)
		}
	}

	info, err := s.Gateway.GroupInfo(ctx, account.AccessToken, code)
	if err != nil {
		return nil, err
	}
	if !alreadyActive {
		if err := s.Gateway.AcceptInvite(ctx, account.AccessToken, code); err != nil {
			return nil, err
		}
	}

	res, err := s.Ledger.join(ctx, JoinRequest{
		UserID:          userID,
		InviteCode:      code,
		ExternalGroupID: info.ID,
		GroupName:       info.Subject,
	})
	if err != nil {
		s.Log.Error("joined on gateway but ledger rejected",
			zap.Int("user_id", userID), zap.String("group_id", info.ID), zap.Error(err))
		return nil, err
	}
	return res, nil
}

// LeaveGroup leaves jid. The membership is found through the group's current
// invite link since rows are keyed by invite code.
func (s *GroupService) LeaveGroup(ctx context.Context, userID, platformID int, jid string) (*model.LeftGroup, error) {
	jid = strings.TrimSpace(jid)
	if jid == "" {
		return nil, appErrors.NewInvalidRequest("group id is required")
	}

	account, err := s.account(ctx, userID, platformID)
	if err != nil {
		return nil, err
	}

	link, err := s.Gateway.InviteLink(ctx, account.AccessToken, jid)
	if err != nil {
		return nil, err
	}
	code := gateway.InviteCodeFromLink(link)

	if strings.TrimSpace(code) == "" {
		return nil, appErrors.NewGatewayBusiness("invite-link code", http.StatusOK, link)
	}

	var rec *model.LeftGroup
	err = s.Ledger.WithUserLock(ctx, userID, func(ctx context.Context) error {
		if err := s.Gateway.LeaveGroup(ctx, account.AccessToken, jid); err != nil {
			return err
		}
		var err error
		rec, err = s.Ledger.leave(ctx, LeaveRequest{UserID: userID, InviteCode: code, ExternalGroupID: jid})
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *GroupService) ListGroups(ctx context.Context, userID int) (*GroupList, error) {
	groups, err := s.Ledger.ActiveMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	remaining, err := s.Ledger.Remaining(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &GroupList{Groups: groups, Remaining: remaining}, nil
}

func (s *GroupService) account(ctx context.Context, userID, platformID int) (*model.ConnectedAccount, error) {
	account, err := s.Accounts.GetConnectedAccount(ctx, userID, platformID)
	if err != nil {
		return nil, appErrors.NewOrchestrationFault("load connected account", err)
	}
	if account == nil {
		return nil, appErrors.NewNoActiveAccount(userID, platformID)
	}
	return account, nil
}

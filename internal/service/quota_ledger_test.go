package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/lock"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/service"
)

var ledgerNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func paidSub(id, userID, limit int) *model.Subscription {
	return &model.Subscription{
		ID:             id,
		UserID:         userID,
		AddGroupsLimit: limit,
		StartDate:      ledgerNow.AddDate(0, -1, 0),
		EndDate:        ledgerNow.AddDate(0, 1, 0),
		IsActive:       true,
		PaymentStatus:  model.PaymentStatusPaid,
	}
}

func newLedger(repo *MockQuotaRepo) *service.QuotaLedger {
	l := service.NewQuotaLedger(repo, lock.NewLocal(), nil)
	l.Now = func() time.Time { return ledgerNow }
	return l
}

func join(l *service.QuotaLedger, code string) (*service.JoinResult, error) {
	return l.Join(context.Background(), service.JoinRequest{UserID: 7, InviteCode: code, ExternalGroupID: code + "@g.us", GroupName: "Group " + code})
}

func TestJoinIsIdempotent(t *testing.T) {
	repo := newQuotaRepo(paidSub(1, 7, 5))
	l := newLedger(repo)

	first, err := join(l, "ABC")
	require.NoError(t, err)
	assert.True(t, first.Consumed)
	assert.Equal(t, 4, first.Remaining)

	second, err := join(l, "ABC")
	require.NoError(t, err)
	assert.False(t, second.Consumed)
	assert.Equal(t, 4, second.Remaining)
	assert.Equal(t, first.Membership.ID, second.Membership.ID)
	assert.Equal(t, 1, repo.memberCount())
}

func TestJoinExhaustedAtZero(t *testing.T) {
	repo := newQuotaRepo(paidSub(1, 7, 0))
	l := newLedger(repo)

	_, err := join(l, "ABC")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrQuotaExhausted))
	assert.Equal(t, 0, repo.memberCount())
}

func TestJoinIgnoresNonGrantingSubscriptions(t *testing.T) {
	unpaid := paidSub(1, 7, 3)
	unpaid.PaymentStatus = "pending"
	expired := paidSub(2, 7, 3)
	expired.EndDate = ledgerNow.Add(-time.Hour)
	inactive := paidSub(3, 7, 3)
	inactive.IsActive = false
	l := newLedger(newQuotaRepo(unpaid, expired, inactive))

	remaining, err := l.Remaining(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	_, err = join(l, "ABC")
	assert.ErrorIs(t, err, appErrors.ErrQuotaExhausted)
}

func TestJoinNeverGoesNegativeSequentially(t *testing.T) {
	repo := newQuotaRepo(paidSub(1, 7, 1), paidSub(2, 7, 1))
	l := newLedger(repo)

	for _, code := range []string{"A", "B"} {
		_, err := join(l, code)
		require.NoError(t, err)
	}
	_, err := join(l, "C")
	assert.ErrorIs(t, err, appErrors.ErrQuotaExhausted)

	remaining, err := l.Remaining(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
	for _, s := range repo.subs {
		assert.GreaterOrEqual(t, s.AddGroupsLimit, 0)
	}
}

func TestJoinConcurrentDifferentCodes(t *testing.T) {
	repo := newQuotaRepo(paidSub(1, 7, 3))
	l := newLedger(repo)

	var (
		wg        sync.WaitGroup
		ok        int32
		exhausted int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := join(l, fmt.Sprintf("code-%d", i))
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, appErrors.ErrQuotaExhausted):
				atomic.AddInt32(&exhausted, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok)
	assert.Equal(t, int32(7), exhausted)
	assert.Equal(t, 0, repo.subs[0].AddGroupsLimit)
}

func TestLeaveThenJoinRestoresMembership(t *testing.T) {
	repo := newQuotaRepo(paidSub(1, 7, 5))
	l := newLedger(repo)
	ctx := context.Background()

	joined, err := join(l, "ABC")
	require.NoError(t, err)

	left, err := l.Leave(ctx, service.LeaveRequest{UserID: 7, InviteCode: "ABC"})
	require.NoError(t, err)
	assert.Equal(t, "Group ABC", left.Name)
	assert.Equal(t, "ABC@g.us", left.ExternalGroupID)
	assert.Equal(t, 1, repo.leftCount())

	m, err := l.Membership(ctx, 7, "ABC")
	require.NoError(t, err)
	assert.False(t, m.IsActive)

	// Leaving does not hand the slot back.
	remaining, err := l.Remaining(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)

	rejoined, err := join(l, "ABC")
	require.NoError(t, err)
	assert.True(t, rejoined.Consumed)
	assert.Equal(t, joined.Membership.ID, rejoined.Membership.ID)
	assert.Equal(t, 3, rejoined.Remaining)
	assert.Equal(t, 1, repo.memberCount())
	assert.Equal(t, 0, repo.leftCount())
}

func TestLeaveUnknownMembershipStillRecorded(t *testing.T) {
	repo := newQuotaRepo(paidSub(1, 7, 5))
	l := newLedger(repo)

	rec, err := l.Leave(context.Background(), service.LeaveRequest{UserID: 7, InviteCode: "ZZZ", ExternalGroupID: "zzz@g.us"})
	require.NoError(t, err)
	assert.Equal(t, ledgerNow, rec.LeftAt)
	assert.Equal(t, 1, repo.leftCount())
	assert.Equal(t, 0, repo.memberCount())
}

func TestJoinKeepsSlotWhenMembershipWriteFails(t *testing.T) {
	repo := newQuotaRepo(paidSub(1, 7, 2))
	repo.upsertErr = errors.New("unique violation")
	l := newLedger(repo)

	_, err := join(l, "ABC")
	require.Error(t, err)
	assert.Equal(t, 2, repo.subs[0].AddGroupsLimit)
	assert.Equal(t, 0, repo.memberCount())
}

func TestWithUserLockSerializesCallers(t *testing.T) {
	l := newLedger(newQuotaRepo())
	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithUserLock(context.Background(), 7, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				if n > atomic.LoadInt32(&peak) {
					atomic.StoreInt32(&peak, n)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestJoinRequiresInviteCode(t *testing.T) {
	l := newLedger(newQuotaRepo(paidSub(1, 7, 2)))
	_, err := join(l, "  ")
	assert.Equal(t, appErrors.CodeInvalidRequest, appErrors.CodeOf(err))
}

package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/gateway"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
)

// ====================== Randomness ======================

// seqRand replays a fixed sequence, wrapping around.
type seqRand struct {
	mu   sync.Mutex
	vals []int64
	i    int
}

func (r *seqRand) next() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.vals) == 0 {
		return 0
	}
	v := r.vals[r.i%len(r.vals)]
	r.i++
	return v
}

func (r *seqRand) Intn(n int) int { return int(r.next()) % n }
func (r *seqRand) Int63n(n int64) int64 { return r.next() % n }

// ====================== Messages ======================

type statusUpdate struct {
	Status string
	SentAt *time.Time
}

type MockMessageRepo struct {
	mu      sync.Mutex
	msgs    map[int]*model.Message
	updates []statusUpdate
	getErr  error
}

func newMessageRepo(msgs ...*model.Message) *MockMessageRepo {
	r := &MockMessageRepo{msgs: map[int]*model.Message{}}
	for _, m := range msgs {
		r.msgs[m.ID] = m
	}
	return r
}

func (m *MockMessageRepo) GetByID(ctx context.Context, id int) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	msg, ok := m.msgs[id]
	if !ok {
		return nil, appErrors.NewMessageNotFound(id)
	}
	cp := *msg
	return &cp, nil
}

func (m *MockMessageRepo) UpdateStatus(ctx context.Context, id int, status string, sentAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, statusUpdate{Status: status, SentAt: sentAt})
	if msg, ok := m.msgs[id]; ok {
		msg.Status = status
		if sentAt != nil {
			msg.SentAt = sentAt
		}
	}
	return nil
}

func (m *MockMessageRepo) status(id int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msgs[id].Status
}

// ====================== Accounts ======================

type MockAccountRepo struct {
	accounts map[int]*model.ConnectedAccount
}

func accountsFor(userIDs ...int) *MockAccountRepo {
	r := &MockAccountRepo{accounts: map[int]*model.ConnectedAccount{}}
	for _, id := range userIDs {
		r.accounts[id] = &model.ConnectedAccount{UserID: id, PlatformID: 1, AccessToken: "tok-user"}
	}
	return r
}

func (m *MockAccountRepo) GetConnectedAccount(ctx context.Context, userID, platformID int) (*model.ConnectedAccount, error) {
	return m.accounts[userID], nil
}

// ====================== Delivery records ======================

type MockDeliveryRepo struct {
	mu      sync.Mutex
	records []model.DeliveryRecord
	owners  map[int]int // message id -> user id
}

func newDeliveryRepo() *MockDeliveryRepo {
	return &MockDeliveryRepo{owners: map[int]int{}}
}

func (m *MockDeliveryRepo) Append(ctx context.Context, rec *model.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.records) + 1)
	m.records = append(m.records, *rec)
	return nil
}

func (m *MockDeliveryRepo) DistinctRecipients(ctx context.Context, messageID int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	out := []string{}
	for _, r := range m.records {
		if r.MessageID == messageID && !seen[r.Recipient] {
			seen[r.Recipient] = true
			out = append(out, r.Recipient)
		}
	}
	return out, nil
}

func (m *MockDeliveryRepo) ListByMessage(ctx context.Context, messageID int) ([]model.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.DeliveryRecord{}
	for _, r := range m.records {
		if r.MessageID == messageID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockDeliveryRepo) ListSentSince(ctx context.Context, userID int, since time.Time) ([]model.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.DeliveryRecord{}
	for _, r := range m.records {
		if m.owners[r.MessageID] == userID && r.Outcome == model.OutcomeSent && !r.AttemptedAt.Before(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptedAt.Before(out[j].AttemptedAt) })
	return out, nil
}

func (m *MockDeliveryRepo) all() []model.DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.DeliveryRecord(nil), m.records...)
}

// ====================== Gateway ======================

type sendCall struct {
	Token   string
	Payload gateway.Payload
}

// MockSender answers from script in order; once exhausted it accepts everything.
type MockSender struct {
	mu     sync.Mutex
	calls  []sendCall
	script []func(p gateway.Payload) (*gateway.SendResult, error)
	// reject, when set, decides per payload instead of script.
	reject func(p gateway.Payload) bool
}

func (m *MockSender) Send(ctx context.Context, token string, p gateway.Payload) (*gateway.SendResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, sendCall{Token: token, Payload: p})
	n := len(m.calls)
	m.mu.Unlock()

	if n <= len(m.script) {
		return m.script[n-1](p)
	}
	if m.reject != nil && m.reject(p) {
		return &gateway.SendResult{StatusCode: 400, RawBody: `{"success":false}`, Attempts: 1}, nil
	}
	id := "wamid-" + p.To
	return &gateway.SendResult{Accepted: true, ExternalID: &id, StatusCode: 200, Attempts: 1}, nil
}

func (m *MockSender) payloads() []gateway.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]gateway.Payload, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Payload
	}
	return out
}

type MockGroupGateway struct {
	mu        sync.Mutex
	info      map[string]gateway.GroupInfo // by invite code
	links     map[string]string            // jid -> invite link
	accepted  []string
	left      []string
	infoCalls int
	infoErr   error
	// onInfo runs inside GroupInfo, outside the mutex.
	onInfo func()
}

func (m *MockGroupGateway) GroupInfo(ctx context.Context, token, code string) (*gateway.GroupInfo, error) {
	m.mu.Lock()
	m.infoCalls++
	m.mu.Unlock()
	if m.onInfo != nil {
		m.onInfo()
	}
	if m.infoErr != nil {
		return nil, m.infoErr
	}
	info, ok := m.info[code]
	if !ok {
		return nil, appErrors.NewGatewayBusiness("group-info", 404, `{"error":"not found"}`)
	}
	return &info, nil
}

func (m *MockGroupGateway) AcceptInvite(ctx context.Context, token, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted = append(m.accepted, code)
	return nil
}

func (m *MockGroupGateway) InviteLink(ctx context.Context, token, jid string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[jid]
	if !ok {
		return "", appErrors.NewGatewayBusiness("invite-link", 404, `{}`)
	}
	return link, nil
}

func (m *MockGroupGateway) LeaveGroup(ctx context.Context, token, jid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left = append(m.left, jid)
	return nil
}

// ====================== Quota ======================

// MockQuotaRepo mirrors the SQL semantics of QuotaRepository in memory.
type MockQuotaRepo struct {
	mu      sync.Mutex
	subs    []*model.Subscription
	members map[string]*model.JoinedGroup
	left    []model.LeftGroup
	nextID  int
	// upsertErr fails the membership write of the next ConsumeSlot.
	upsertErr error
}

func newQuotaRepo(subs ...*model.Subscription) *MockQuotaRepo {
	return &MockQuotaRepo{subs: subs, members: map[string]*model.JoinedGroup{}}
}

func grants(s *model.Subscription, at time.Time) bool {
	return s.IsActive && s.PaymentStatus == model.PaymentStatusPaid &&
		!at.Before(s.StartDate) && !at.After(s.EndDate)
}

func memberKey(userID int, code string) string {
	return fmt.Sprintf("%d|%s", userID, code)
}

func (m *MockQuotaRepo) RemainingAllowance(ctx context.Context, userID int, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, s := range m.subs {
		if s.UserID == userID && grants(s, at) {
			total += s.AddGroupsLimit
		}
	}
	return total, nil
}

// ConsumeSlot charges the granting subscription that expires first and
// activates g. A failed membership write leaves the allowance untouched, as
// the rolled back transaction would.
func (m *MockQuotaRepo) ConsumeSlot(ctx context.Context, g *model.JoinedGroup, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pick *model.Subscription
	for _, s := range m.subs {
		if s.UserID != g.UserID || !grants(s, at) || s.AddGroupsLimit <= 0 {
			continue
		}
		if pick == nil || s.EndDate.Before(pick.EndDate) {
			pick = s
		}
	}
	if pick == nil {
		return 0, appErrors.NewQuotaExhausted(g.UserID)
	}
	if m.upsertErr != nil {
		err := m.upsertErr
		m.upsertErr = nil
		return 0, err
	}
	pick.AddGroupsLimit--

	g.IsActive = true
	k := memberKey(g.UserID, g.InviteCode)
	if cur, ok := m.members[k]; ok {
		cur.IsActive = true
		g.ID = cur.ID
		return pick.ID, nil
	}
	m.nextID++
	g.ID = m.nextID
	cp := *g
	m.members[k] = &cp
	return pick.ID, nil
}

func (m *MockQuotaRepo) GetMembership(ctx context.Context, userID int, code string) (*model.JoinedGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.members[memberKey(userID, code)]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, nil
}

func (m *MockQuotaRepo) DeactivateMembership(ctx context.Context, userID int, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.members[memberKey(userID, code)]; ok {
		g.IsActive = false
	}
	return nil
}

func (m *MockQuotaRepo) ListActiveMemberships(ctx context.Context, userID int) ([]model.JoinedGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.JoinedGroup{}
	for _, g := range m.members {
		if g.UserID == userID && g.IsActive {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockQuotaRepo) AppendLeftGroup(ctx context.Context, rec *model.LeftGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = len(m.left) + 1
	m.left = append(m.left, *rec)
	return nil
}

func (m *MockQuotaRepo) DeleteLeftGroups(ctx context.Context, userID int, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.left[:0]
	for _, l := range m.left {
		if !(l.UserID == userID && l.InviteCode == code) {
			kept = append(kept, l)
		}
	}
	m.left = kept
	return nil
}

func (m *MockQuotaRepo) memberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members)
}

func (m *MockQuotaRepo) leftCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.left)
}

// ====================== Stats cache ======================

type MockStatsCache struct {
	mu          sync.Mutex
	entries     map[int]*model.StatsSummary
	invalidated []int
}

func newStatsCache() *MockStatsCache {
	return &MockStatsCache{entries: map[int]*model.StatsSummary{}}
}

func (m *MockStatsCache) Get(ctx context.Context, userID int) (*model.StatsSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[userID], nil
}

func (m *MockStatsCache) Set(ctx context.Context, userID int, s *model.StatsSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID] = s
	return nil
}

func (m *MockStatsCache) Invalidate(ctx context.Context, userID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	m.invalidated = append(m.invalidated, userID)
	return nil
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
)

type recordingSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slept = append(r.slept, d)
	return ctx.Err()
}

func (r *recordingSleeper) total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum time.Duration
	for _, d := range r.slept {
		sum += d
	}
	return sum
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *recordingSleeper) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	sl := &recordingSleeper{}
	c := NewClient(Config{BaseURL: srv.URL, MaxAttempts: 3, DefaultRetryAfter: 5 * time.Second}, WithSleeper(sl.Sleep))
	return c, sl
}

func TestSendRetriesOnRetryAfterThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c, sl := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"slow down","retry_after":2}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"msgId":"wamid-1"}}`))
	})

	res, err := c.Send(context.Background(), "tok", TextPayload("254700000001", "hi"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	require.NotNil(t, res.ExternalID)
	assert.Equal(t, "wamid-1", *res.ExternalID)
	assert.Equal(t, 3, res.Attempts)
	assert.EqualValues(t, 3, calls.Load())
	assert.GreaterOrEqual(t, sl.total(), 4*time.Second)
}

func TestSendReturnsLastResponseWhenStillRateLimited(t *testing.T) {
	var calls atomic.Int32
	c, sl := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"parameters":{"retry_after":"1"}}`))
	})

	res, err := c.Send(context.Background(), "tok", TextPayload("1", "x"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.True(t, res.RateLimited)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.EqualValues(t, 3, calls.Load())
	// two sleeps between three calls
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sl.slept)
}

func TestSendUnparsableRetryAfterUsesDefault(t *testing.T) {
	var calls atomic.Int32
	c, sl := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"retry_after":"soon"}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"msgId":"m"}}`))
	})

	res, err := c.Send(context.Background(), "tok", TextPayload("1", "x"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, []time.Duration{5 * time.Second}, sl.slept)
}

func TestRetryAfterIsClamped(t *testing.T) {
	c := NewClient(Config{DefaultRetryAfter: 5 * time.Second})
	cases := []struct {
		body string
		want time.Duration
	}{
		{`{"retry_after":3}`, 3 * time.Second},
		{`{"retry_after":1e12}`, MaxRetryAfter},
		{`{"retry_after":"1e300"}`, MaxRetryAfter},
		{`{"retry_after":"NaN"}`, 5 * time.Second},
		{`{"retry_after":-4}`, 5 * time.Second},
	}
	for _, tc := range cases {
		got, limited := c.retryAfter(tc.body)
		assert.True(t, limited, tc.body)
		assert.Equal(t, tc.want, got, tc.body)
	}
}

func TestSendBusinessFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid number"}`))
	})

	res, err := c.Send(context.Background(), "tok", TextPayload("bad", "x"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Nil(t, res.ExternalID)
	assert.Equal(t, `{"message":"invalid number"}`, res.RawBody)
	assert.EqualValues(t, 1, calls.Load())
}

func TestSendSuccessFalseIsNotAccepted(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"session closed"}`))
	})

	res, err := c.Send(context.Background(), "tok", TextPayload("1", "x"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
}

func TestSendSetsHeadersAndBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/send-message", r.URL.Path)
		assert.Equal(t, "Bearer tok-9", r.Header.Get("Authorization"))
		var got map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, map[string]string{"to": "1@g.us", "imageUrl": "a.png", "text": "cap"}, got)
		_, _ = w.Write([]byte(`{"data":{"msgId":"x"}}`))
	})

	_, err := c.Send(context.Background(), "tok-9", MediaPayload("1@g.us", "a.png", "cap"))
	require.NoError(t, err)
}

func TestSendTransportErrorAfterBudget(t *testing.T) {
	sl := &recordingSleeper{}
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", MaxAttempts: 3, Timeout: time.Second}, WithSleeper(sl.Sleep))

	_, err := c.Send(context.Background(), "tok", TextPayload("1", "x"))
	require.Error(t, err)
	assert.Equal(t, appErrors.CodeGatewayTransport, appErrors.CodeOf(err))
	assert.Len(t, sl.slept, 2)
}

func TestSingleShotCallsPropagateStatusAndBody(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"retry_after":1}`))
	})

	err := c.AcceptInvite(context.Background(), "tok", "CODE")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.CodeGatewayBusiness, appErr.Code)
	assert.Equal(t, http.StatusForbidden, appErr.Status)
	assert.Equal(t, `{"retry_after":1}`, appErr.Body)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGroupEndpoints(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/groups/invite/AbC":
			_, _ = w.Write([]byte(`{"data":{"id":"120363@g.us","size":42,"subject":"Deals"}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/groups/invite/accept":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "AbC", body["code"])
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/api/groups/120363@g.us/invite-link":
			_, _ = w.Write([]byte(`{"inviteLink":"https://chat.whatsapp.com/AbC"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/groups/120363@g.us/leave":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	info, err := c.GroupInfo(ctx, "tok", "AbC")
	require.NoError(t, err)
	assert.Equal(t, GroupInfo{ID: "120363@g.us", Size: 42, Subject: "Deals"}, *info)

	require.NoError(t, c.AcceptInvite(ctx, "tok", "AbC"))

	link, err := c.InviteLink(ctx, "tok", "120363@g.us")
	require.NoError(t, err)
	assert.Equal(t, "AbC", InviteCodeFromLink(link))

	require.NoError(t, c.LeaveGroup(ctx, "tok", "120363@g.us"))
}

func TestInviteCodeFromLink(t *testing.T) {
	assert.Equal(t, "XyZ", InviteCodeFromLink("https://chat.whatsapp.com/XyZ"))
	assert.Equal(t, "XyZ", InviteCodeFromLink("https://chat.whatsapp.com/XyZ/"))
	assert.Equal(t, "XyZ", InviteCodeFromLink("XyZ"))
}

func TestSleepContextHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/logger"
)

const maxBodyBytes = 1 << 20

// MaxRetryAfter caps the wait a gateway can ask for between attempts.
const MaxRetryAfter = 10 * time.Minute

// Payload is the body of POST /api/send-message. At most one media field is set.
type Payload struct {
	To          string `json:"to"`
	Text        string `json:"text,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	VideoURL    string `json:"videoUrl,omitempty"`
	DocumentURL string `json:"documentUrl,omitempty"`
}

// TextPayload builds a text-only payload.
func TextPayload(to, text string) Payload {
	return Payload{To: to, Text: text}
}

// MediaPayload puts resource into the field chosen by Classify. An empty
// caption sends the media without text.
func MediaPayload(to, resource, caption string) Payload {
	p := Payload{To: to, Text: caption}
	switch Classify(resource) {
	case KindImage:
		p.ImageURL = resource
	case KindVideo:
		p.VideoURL = resource
	default:
		p.DocumentURL = resource
	}
	return p
}

// SendResult is the last response seen by Send.
type SendResult struct {
	Accepted    bool
	ExternalID  *string
	RawBody     string
	StatusCode  int
	Attempts    int
	RateLimited bool
}

type GroupInfo struct {
	ID      string `json:"id"`
	Size    int    `json:"size"`
	Subject string `json:"subject"`
}

type Config struct {
	BaseURL           string
	Timeout           time.Duration
	MaxAttempts       int
	DefaultRetryAfter time.Duration
	RatePerSec        float64
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }
func WithSleeper(s Sleeper) Option         { return func(c *Client) { c.sleep = s } }
func WithLogger(l *zap.Logger) Option      { return func(c *Client) { c.log = logger.OrNop(l) } }

// Client talks to the messaging gateway. Safe for concurrent use.
type Client struct {
	baseURL           string
	http              *http.Client
	limiter           *rate.Limiter
	maxAttempts       int
	defaultRetryAfter time.Duration
	sleep             Sleeper
	log               *zap.Logger
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = 5 * time.Second
	}
	c := &Client{
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		http:              &http.Client{Timeout: cfg.Timeout},
		maxAttempts:       cfg.MaxAttempts,
		defaultRetryAfter: cfg.DefaultRetryAfter,
		sleep:             SleepContext,
		log:               zap.NewNop(),
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

// Send delivers one payload. A body carrying retry_after makes the client
// sleep that many seconds and try again, up to MaxAttempts calls in total;
// the last response is then returned as-is. Transport failures share the
// same budget and surface as a gateway_transport error once it is spent.
func (c *Client) Send(ctx context.Context, token string, p Payload) (*SendResult, error) {
	const op = "send-message"

	for attempt := 1; ; attempt++ {
		status, body, err := c.do(ctx, http.MethodPost, "/api/send-message", token, p)
		if err != nil {
			if ctx.Err() != nil || attempt >= c.maxAttempts {
				return nil, appErrors.NewTransport(op, err)
			}
			c.log.Warn("gateway transport error, retrying",
				zap.String("to", p.To), zap.Int("attempt", attempt), zap.Error(err))
			if serr := c.sleep(ctx, c.defaultRetryAfter); serr != nil {
				return nil, appErrors.NewTransport(op, serr)
			}
			continue
		}

		res := &SendResult{StatusCode: status, RawBody: body, Attempts: attempt}
		if wait, limited := c.retryAfter(body); limited {
			res.RateLimited = true
			if attempt >= c.maxAttempts {
				c.log.Warn("gateway still rate limited, giving up",
					zap.String("to", p.To), zap.Int("attempts", attempt))
				return res, nil
			}
			c.log.Debug("gateway rate limited",
				zap.String("to", p.To), zap.Int("attempt", attempt), zap.Duration("retry_after", wait))
			if serr := c.sleep(ctx, wait); serr != nil {
				return res, nil
			}
			continue
		}

		var env struct {
			Success *bool `json:"success"`
			Data    struct {
				MsgID string `json:"msgId"`
			} `json:"data"`
		}
		_ = json.Unmarshal([]byte(body), &env)
		res.Accepted = isSuccess(status) && (env.Success == nil || *env.Success)
		if env.Data.MsgID != "" {
			id := env.Data.MsgID
			res.ExternalID = &id
		}
		return res, nil
	}
}

// GroupInfo resolves an invite code to the group it points at.
func (c *Client) GroupInfo(ctx context.Context, token, code string) (*GroupInfo, error) {
	const op = "group-info"
	body, err := c.call(ctx, op, http.MethodGet, "/api/groups/invite/"+url.PathEscape(code), token, nil)
	if err != nil {
		return nil, err
	}
	var env struct {
		Data GroupInfo `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, appErrors.NewGatewayBusiness(op+" decode", http.StatusOK, body)
	}
	return &env.Data, nil
}

func (c *Client) AcceptInvite(ctx context.Context, token, code string) error {
	_, err := c.call(ctx, "accept-invite", http.MethodPost, "/api/groups/invite/accept", token, map[string]string{"code": code})
	return err
}

// InviteLink returns the current invite link of the group jid.
func (c *Client) InviteLink(ctx context.Context, token, jid string) (string, error) {
	const op = "invite-link"
	body, err := c.call(ctx, op, http.MethodGet, "/api/groups/"+url.PathEscape(jid)+"/invite-link", token, nil)
	if err != nil {
		return "", err
	}
	var env struct {
		InviteLink string `json:"inviteLink"`
		Data       struct {
			InviteLink string `json:"inviteLink"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return "", appErrors.NewGatewayBusiness(op+" decode", http.StatusOK, body)
	}
	if env.InviteLink != "" {
		return env.InviteLink, nil
	}
	if env.Data.InviteLink != "" {
		return env.Data.InviteLink, nil
	}
	return "", appErrors.NewGatewayBusiness(op+" empty link", http.StatusOK, body)
}

func (c *Client) LeaveGroup(ctx context.Context, token, jid string) error {
	_, err := c.call(ctx, "leave-group", http.MethodPost, "/api/groups/"+url.PathEscape(jid)+"/leave", token, nil)
	return err
}

// InviteCodeFromLink extracts the code from links like https://chat.whatsapp.com/AbC123.
func InviteCodeFromLink(link string) string {
	link = strings.TrimSpace(link)
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		link = u.Path
	}
	link = strings.TrimRight(link, "/")
	if i := strings.LastIndex(link, "/"); i >= 0 {
		link = link[i+1:]
	}
	return link
}

// call is a single-shot request; non-2xx is returned with status and body verbatim.
func (c *Client) call(ctx context.Context, op, method, path, token string, in any) (string, error) {
	status, body, err := c.do(ctx, method, path, token, in)
	if err != nil {
		return "", appErrors.NewTransport(op, err)
	}
	if !isSuccess(status) {
		return body, appErrors.NewGatewayBusiness(op, status, body)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in any) (int, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, "", err
		}
	}

	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, "", fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(b), nil
}

// retryAfter reports whether body carries a retry_after signal and how long
// to wait. An unparsable value falls back to the default delay; anything
// above MaxRetryAfter is clamped to it.
func (c *Client) retryAfter(body string) (time.Duration, bool) {
	if !strings.Contains(body, "retry_after") {
		return 0, false
	}
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return c.defaultRetryAfter, true
	}
	raw, ok := findKey(v, "retry_after")
	if !ok {
		return 0, false
	}
	secs, ok := toSeconds(raw)
	if !ok || math.IsNaN(secs) || secs < 0 {
		return c.defaultRetryAfter, true
	}
	if secs >= MaxRetryAfter.Seconds() {
		return MaxRetryAfter, true
	}
	return time.Duration(secs * float64(time.Second)), true
}

func findKey(v any, key string) (any, bool) {
	switch x := v.(type) {
	case map[string]any:
		if val, ok := x[key]; ok {
			return val, true
		}
		for _, child := range x {
			if val, ok := findKey(child, key); ok {
				return val, true
			}
		}
	case []any:
		for _, child := range x {
			if val, ok := findKey(child, key); ok {
				return val, true
			}
		}
	}
	return nil, false
}

func toSeconds(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func isSuccess(status int) bool { return status >= 200 && status < 300 }

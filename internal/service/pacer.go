package service

import (
	"context"
	"time"

	"github.com/unclebandit/smsleopard-dispatch/internal/gateway"
)

// Pacer is the pause inserted between two recipients of one dispatch.
type Pacer interface {
	Pause(ctx context.Context) error
}

// WindowPacer sleeps for a duration drawn uniformly from [Min, Max].
type WindowPacer struct {
	Min   time.Duration
	Max   time.Duration
	Rand  Rand
	Sleep gateway.Sleeper
}

func NewWindowPacer(min, max time.Duration, r Rand) *WindowPacer {
	if max < min {
		max = min
	}
	return &WindowPacer{Min: min, Max: max, Rand: r, Sleep: gateway.SleepContext}
}

func (p *WindowPacer) Delay() time.Duration {
	span := int64(p.Max - p.Min)
	if span <= 0 {
		return p.Min
	}
	return p.Min + time.Duration(p.Rand.Int63n(span+1))
}

func (p *WindowPacer) Pause(ctx context.Context) error {
	return p.Sleep(ctx, p.Delay())
}

// NoPause disables pacing.
type NoPause struct{}

func (NoPause) Pause(ctx context.Context) error { return ctx.Err() }

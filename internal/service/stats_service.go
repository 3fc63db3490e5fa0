package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/cache"
	"github.com/unclebandit/smsleopard-dispatch/internal/logger"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/repository"
)

const (
	DefaultPlatformWindowHours = 24
	dailyBuckets               = 7
	// A leading partial week shorter than this is folded into the next one.
	minFirstWeekDays = 4
)

// StatsService counts successful deliveries per user. All bucketing is UTC.
type StatsService struct {
	Deliveries repository.DeliveryRepositoryInterface
	// Cache is optional and only used by Summary.
	Cache cache.StatsCacheInterface
	Log   *zap.Logger
	Now   func() time.Time
}

func NewStatsService(deliveries repository.DeliveryRepositoryInterface, c cache.StatsCacheInterface, log *zap.Logger) *StatsService {
	return &StatsService{Deliveries: deliveries, Cache: c, Log: logger.OrNop(log), Now: utcNow}
}

// Daily returns the trailing seven days, oldest first, today last.
func (s *StatsService) Daily(ctx context.Context, userID int) ([]model.Bucket, error) {
	now := s.Now().UTC()
	recs, err := s.sentSince(ctx, userID, dailyStart(now))
	if err != nil {
		return nil, err
	}
	return dailyCounts(now, recs), nil
}

// Weekly returns the weeks of the current month up to today.
func (s *StatsService) Weekly(ctx context.Context, userID int) ([]model.Bucket, error) {
	now := s.Now().UTC()
	recs, err := s.sentSince(ctx, userID, monthStart(now))
	if err != nil {
		return nil, err
	}
	return weeklyCounts(now, recs), nil
}

// Monthly returns January through December of the current year.
func (s *StatsService) Monthly(ctx context.Context, userID int) ([]model.Bucket, error) {
	now := s.Now().UTC()
	recs, err := s.sentSince(ctx, userID, yearStart(now))
	if err != nil {
		return nil, err
	}
	return monthlyCounts(now, recs), nil
}

// PlatformSplit counts group and individual recipients over the trailing
// window. Non-positive windowHours means the default of 24.
func (s *StatsService) PlatformSplit(ctx context.Context, userID, windowHours int) (model.PlatformSplit, error) {
	if windowHours <= 0 {
		windowHours = DefaultPlatformWindowHours
	}
	now := s.Now().UTC()
	recs, err := s.sentSince(ctx, userID, now.Add(-time.Duration(windowHours)*time.Hour))
	if err != nil {
		return model.PlatformSplit{}, err
	}
	return platformSplit(now, windowHours, recs), nil
}

// Summary bundles every view from a single read, served from the cache when fresh.
func (s *StatsService) Summary(ctx context.Context, userID int) (*model.StatsSummary, error) {
	if s.Cache != nil {
		cached, err := s.Cache.Get(ctx, userID)
		if err != nil {
			s.Log.Warn("stats cache read failed", zap.Int("user_id", userID), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	now := s.Now().UTC()
	since := yearStart(now)
	if d := dailyStart(now); d.Before(since) {
		since = d
	}
	if w := now.Add(-DefaultPlatformWindowHours * time.Hour); w.Before(since) {
		since = w
	}
	recs, err := s.sentSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	summary := &model.StatsSummary{
		Daily:    dailyCounts(now, recs),
		Weekly:   weeklyCounts(now, recs),
		Monthly:  monthlyCounts(now, recs),
		Platform: platformSplit(now, DefaultPlatformWindowHours, recs),
	}
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, userID, summary); err != nil {
			s.Log.Warn("stats cache write failed", zap.Int("user_id", userID), zap.Error(err))
		}
	}
	return summary, nil
}

func (s *StatsService) sentSince(ctx context.Context, userID int, since time.Time) ([]model.DeliveryRecord, error) {
	recs, err := s.Deliveries.ListSentSince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list sent deliveries for user %d: %w", userID, err)
	}
	return recs, nil
}

// ====================== Bucketing ======================

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dailyStart(now time.Time) time.Time { return day(now).AddDate(0, 0, -(dailyBuckets - 1)) }

func monthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func yearStart(now time.Time) time.Time {
	return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
}

func dailyCounts(now time.Time, recs []model.DeliveryRecord) []model.Bucket {
	start := dailyStart(now)
	buckets := make([]model.Bucket, dailyBuckets)
	for i := range buckets {
		buckets[i].Label = start.AddDate(0, 0, i).Format("2006-01-02")
	}
	for _, r := range recs {
		idx := int(day(r.AttemptedAt).Sub(start) / (24 * time.Hour))
		if idx >= 0 && idx < dailyBuckets {
			buckets[idx].Count++
		}
	}
	return buckets
}

type span struct{ from, to time.Time } // [from, to)

// weekSpans splits the 1st of the month through today into weeks ending on
// Saturday.
func weekSpans(now time.Time) []span {
	today := day(now)
	var spans []span
	from := monthStart(now)
	for d := from; !d.After(today); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Equal(today) {
			next := d.AddDate(0, 0, 1)
			spans = append(spans, span{from: from, to: next})
			from = next
		}
	}
	if len(spans) > 1 && spans[0].to.Sub(spans[0].from) < minFirstWeekDays*24*time.Hour {
		spans[1].from = spans[0].from
		spans = spans[1:]
	}
	return spans
}

func weeklyCounts(now time.Time, recs []model.DeliveryRecord) []model.Bucket {
	spans := weekSpans(now)
	buckets := make([]model.Bucket, len(spans))
	for i := range buckets {
		buckets[i].Label = fmt.Sprintf("Week %d", i+1)
	}
	for _, r := range recs {
		t := r.AttemptedAt.UTC()
		for i, sp := range spans {
			if !t.Before(sp.from) && t.Before(sp.to) {
				buckets[i].Count++
				break
			}
		}
	}
	return buckets
}

func monthlyCounts(now time.Time, recs []model.DeliveryRecord) []model.Bucket {
	buckets := make([]model.Bucket, 12)
	for i := range buckets {
		buckets[i].Label = time.Month(i + 1).String()
	}
	for _, r := range recs {
		t := r.AttemptedAt.UTC()
		if t.Year() == now.Year() {
			buckets[t.Month()-1].Count++
		}
	}
	return buckets
}

func platformSplit(now time.Time, windowHours int, recs []model.DeliveryRecord) model.PlatformSplit {
	out := model.PlatformSplit{WindowHours: windowHours}
	since := now.Add(-time.Duration(windowHours) * time.Hour)
	for _, r := range recs {
		if r.AttemptedAt.Before(since) || r.AttemptedAt.After(now) {
			continue
		}
		if model.IsGroupRecipient(r.Recipient) {
			out.Groups++
		} else {
			out.Individuals++
		}
	}
	return out
}

package cache

import (
	"context"
	"sync"
	"time"
)

// ReportCache stores computed reports. Keys are scoped by a generation that
// every committed write bumps, so readers never see a report computed before
// the latest sale or void.
type ReportCache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopReportCache struct{}

func (NoopReportCache) Generation(context.Context) (int64, error) {
	return 0, nil
}

func (NoopReportCache) Get(context.Context, string, any) (bool, error) {
	return false, nil
}

func (NoopReportCache) Set(context.Context, string, any, time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(context.Context) error {
	return nil
}

// Sequence hands out increasing numbers per day key.
type Sequence interface {
	Next(ctx context.Context, day string) (int64, error)
}

// LocalSequence is the in-process fallback used without Redis.
type LocalSequence struct {
	mu      sync.Mutex
	counter map[string]int64
}

func NewLocalSequence() *LocalSequence {
	return &LocalSequence{counter: make(map[string]int64)}
}

func (s *LocalSequence) Next(_ context.Context, day string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter[day]++
	return s.counter[day], nil
}

// Seed raises the day's counter to at least floor, so a restarted process
// continues after numbers already persisted.
func (s *LocalSequence) Seed(_ context.Context, day string, floor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counter[day] < floor {
		s.counter[day] = floor
	}
	return nil
}

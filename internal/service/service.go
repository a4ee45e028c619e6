package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"salesledger/backend/internal/authz"
	"salesledger/backend/internal/cache"
	"salesledger/backend/internal/domain"
	"salesledger/backend/internal/observability"
	"salesledger/backend/internal/store"
)

const (
	defaultMaxAttempts = 3
	retryBackoff       = 25 * time.Millisecond
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// SupervisorVerifier checks the code a supervisor enters to approve a void.
type SupervisorVerifier interface {
	VerifySupervisorCode(code string) bool
}

type Options struct {
	Cache      cache.ReportCache
	Sequence   cache.Sequence
	Supervisor SupervisorVerifier
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	// Location is the business timezone for sale numbers and report days.
	Location       *time.Location
	ReportCacheTTL time.Duration
	// MaxAttempts bounds how often a write transaction runs when it keeps
	// hitting serialization conflicts.
	MaxAttempts int
	Now         func() time.Time
}

type Service struct {
	repo        store.Repository
	cache       cache.ReportCache
	sequence    cache.Sequence
	fallbackSeq *cache.LocalSequence
	supervisor  SupervisorVerifier
	metrics     *observability.Metrics
	logger      *zap.Logger
	loc         *time.Location
	reportTTL   time.Duration
	maxAttempts int
	now         func() time.Time
	reports     singleflight.Group
}

func New(repo store.Repository, opts Options) *Service {
	s := &Service{
		repo:        repo,
		cache:       opts.Cache,
		sequence:    opts.Sequence,
		fallbackSeq: cache.NewLocalSequence(),
		supervisor:  opts.Supervisor,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		loc:         opts.Location,
		reportTTL:   opts.ReportCacheTTL,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Now,
	}
	if s.cache == nil {
		s.cache = cache.NoopReportCache{}
	}
	if s.sequence == nil {
		s.sequence = s.fallbackSeq
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) authorize(ctx context.Context, op authz.Operation) (domain.Actor, error) {
	actor, _ := ActorFromContext(ctx)
	if err := authz.Authorize(actor, op); err != nil {
		return domain.Actor{}, err
	}
	return actor, nil
}

// runTx runs fn in a store transaction and reruns it from scratch when the
// store reports a serialization conflict.
func (s *Service) runTx(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			return err
		}
		if attempt == s.maxAttempts {
			break
		}
		s.metrics.TxRetry(op)
		s.logger.Warn("retrying transaction after conflict",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if waitErr := sleepContext(ctx, time.Duration(attempt)*retryBackoff); waitErr != nil {
			return waitErr
		}
	}
	return fmt.Errorf("%s gave up after %d attempts: %w", op, s.maxAttempts, err)
}

// invalidateReports bumps the report cache generation after a committed
// write. It outlives the request context so a client disconnect can't leave
// stale reports behind.
func (s *Service) invalidateReports(ctx context.Context) {
	if err := s.cache.Invalidate(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("invalidate report cache", zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

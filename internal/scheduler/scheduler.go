package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/clock"
	tokendomain "github.com/smallbiznis/accessportal/internal/enrollmenttoken/domain"
	obsmetrics "github.com/smallbiznis/accessportal/internal/observability/metrics"
	"github.com/smallbiznis/accessportal/internal/ratelimit"
	sessiondomain "github.com/smallbiznis/accessportal/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobSessionExpiry = "session_expiry"
	JobTokenPurge    = "enrollment_token_purge"

	leaseKeyPrefix = "scheduler:lease:"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	SessionSvc sessiondomain.Service
	TokenSvc   tokendomain.Service
	GenID      *snowflake.Node
	Clock      clock.Clock
	Locker     *ratelimit.Locker   `optional:"true"`
	Metrics    *obsmetrics.Metrics `optional:"true"`
	Config     Config              `optional:"true"`
}

// Scheduler runs the periodic maintenance sweeps. With a redis locker each
// job holds a lease so only one replica runs it per tick.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	locker     *ratelimit.Locker
	metrics    *obsmetrics.Metrics
	sessionSvc sessiondomain.Service
	tokenSvc   tokendomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.SessionSvc == nil || p.TokenSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		locker:     p.Locker,
		metrics:    p.Metrics,
		sessionSvc: p.SessionSvc,
		tokenSvc:   p.TokenSvc,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) (int64, error)) error {
	start := s.clock.Now()
	ctx := s.withLogContext(parent)

	if s.locker.Enabled() {
		key := leaseKeyPrefix + name
		token, acquired, err := s.locker.TryLock(ctx, key, s.cfg.LeaseTTL)
		if err != nil {
			s.metrics.RecordJobRun(ctx, name, "error", 0)
			return fmt.Errorf("%s: lease: %w", name, err)
		}
		if !acquired {
			s.metrics.RecordJobRun(ctx, name, "skipped", 0)
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.Background(), key, token); err != nil {
				s.logger(ctx).Warn("scheduler lease release failed", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	run := s.newJobRun(name)
	s.logJobStart(ctx, run)

	processed, err := fn(ctx)
	run.AddProcessed(processed)
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)

	elapsed := s.clock.Now().Sub(start)
	if err == nil {
		s.metrics.RecordJobRun(ctx, name, "success", elapsed)
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.RecordJobRun(ctx, name, "timeout", elapsed)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}

	s.metrics.RecordJobRun(ctx, name, "error", elapsed)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every enabled job a single time and joins their errors.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) (int64, error)
	}{
		{JobSessionExpiry, s.SessionExpiryJob},
		{JobTokenPurge, s.TokenPurgeJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// SessionExpiryJob marks access sessions past their expiry as expired.
func (s *Scheduler) SessionExpiryJob(ctx context.Context) (int64, error) {
	return s.sessionSvc.ExpireStale(ctx)
}

func (s *Scheduler) TokenPurgeJob(ctx context.Context) (int64, error) {
	return s.tokenSvc.PurgeExpired(ctx, s.cfg.TokenRetention)
}

package interactions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wpowiertowski/posse/internal/storage"
	logx "github.com/wpowiertowski/posse/pkg/logx"
)

const (
	defaultInterval     = 15 * time.Minute
	defaultMaxAge       = 30 * 24 * time.Hour
	defaultCycleTimeout = 10 * time.Minute
)

// SchedulerConfig sizes the background sync loop.
type SchedulerConfig struct {
	// Interval is the base tick; posts are considered on every tick but
	// synced per cadence.
	Interval time.Duration
	// MaxAge is the tracking horizon: posts whose newest mapping is older
	// stop syncing for good.
	MaxAge time.Duration
	// CycleTimeout bounds one whole cycle so cycles cannot overlap.
	CycleTimeout time.Duration
}

// Scheduler polls tracked posts on an adaptive cadence: fresh posts sync on
// every cycle, week-old posts on every second, posts up to the tracking
// horizon on every fourth, older posts never again. The cadence counter is
// process-local and resets on restart, which at worst syncs a post one
// cycle early.
type Scheduler struct {
	cfg   SchedulerConfig
	svc   *Service
	store storage.Store
	log   logx.Logger

	mu      sync.Mutex
	running bool
	cycle   uint64
}

func NewScheduler(cfg SchedulerConfig, svc *Service, store storage.Store, log logx.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = defaultCycleTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{cfg: cfg, svc: svc, store: store, log: log}
}

// Run drives the cron trigger until ctx is done. Meant to run under the
// supervisor.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := c.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	c.Start()
	s.log.Info("interaction scheduler started",
		logx.Duration("interval", s.cfg.Interval),
		logx.Duration("max_age", s.cfg.MaxAge))

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	return ctx.Err()
}

// tick runs one cycle. A cycle still in flight when the next trigger fires
// is skipped rather than stacked.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("sync cycle still running, skipping trigger")
		return
	}
	s.running = true
	cycle := s.cycle
	s.cycle++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()
	s.runCycle(ctx, cycle)
}

func (s *Scheduler) runCycle(ctx context.Context, cycle uint64) {
	start := time.Now()
	posts, err := s.store.TrackedPosts(ctx, s.cfg.MaxAge)
	if err != nil {
		s.log.Error("tracked posts query failed", logx.Err(err))
		return
	}

	synced, skipped := 0, 0
	for _, p := range posts {
		if ctx.Err() != nil {
			s.log.Warn("sync cycle cut short",
				logx.Uint64("cycle", cycle), logx.Int("synced", synced))
			return
		}
		if !dueThisCycle(time.Since(p.FirstMappedAt), cycle, s.cfg.MaxAge) {
			skipped++
			continue
		}
		if _, err := s.svc.SyncPost(ctx, p.PostID); err != nil {
			s.log.Warn("post sync failed",
				logx.String("post", p.PostID), logx.Err(err))
			continue
		}
		synced++
	}

	s.log.Info("sync cycle finished",
		logx.Uint64("cycle", cycle),
		logx.Int("tracked", len(posts)),
		logx.Int("synced", synced),
		logx.Int("skipped", skipped),
		logx.Duration("took", time.Since(start)))
}

// dueThisCycle implements the adaptive cadence keyed off the age of the
// post's first mapping: under two days every cycle, under seven days every
// second cycle, then every fourth up to the tracking horizon. The horizon
// must match the TrackedPosts cutoff or a post in between would be tracked
// but never synced.
func dueThisCycle(age time.Duration, cycle uint64, maxAge time.Duration) bool {
	switch {
	case age < 2*24*time.Hour:
		return true
	case age < 7*24*time.Hour:
		return cycle%2 == 0
	case age <= maxAge:
		return cycle%4 == 0
	default:
		return false
	}
}

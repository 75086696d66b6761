package syndicate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wpowiertowski/posse/internal/images"
	"github.com/wpowiertowski/posse/internal/post"
	"github.com/wpowiertowski/posse/internal/social"
	"github.com/wpowiertowski/posse/internal/storage"
	logx "github.com/wpowiertowski/posse/pkg/logx"
)

// Service owns the event queue and the dispatch workers.
type Service struct {
	cfg     Config
	reg     Directory
	store   storage.Store
	cache   *images.Cache
	loader  PostLoader
	events  Events
	log     logx.Logger
	limiter *rate.Limiter
	queue   chan Job
}

func New(cfg Config, reg Directory, store storage.Store, cache *images.Cache, loader PostLoader, events Events, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	var lim *rate.Limiter
	if cfg.SendRatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), cfg.SendRatePerSec)
	}
	return &Service{
		cfg:     cfg,
		reg:     reg,
		store:   store,
		cache:   cache,
		loader:  loader,
		events:  events,
		log:     log,
		limiter: lim,
		queue:   make(chan Job, cfg.QueueSize),
	}
}

// Enqueue appends a job to the event queue, blocking up to the configured
// timeout when the queue is full. Order of accepted jobs is preserved.
func (s *Service) Enqueue(ctx context.Context, job Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	select {
	case s.queue <- job:
		s.log.Debug("job enqueued",
			logx.String("job", job.ID),
			logx.String("post", job.Post.ID),
			logx.Bool("catch_up", job.CatchUp),
			logx.Int("depth", len(s.queue)))
		return nil
	default:
	}

	t := time.NewTimer(s.cfg.EnqueueTimeout)
	defer t.Stop()
	select {
	case s.queue <- job:
		return nil
	case <-t.C:
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth reports the number of jobs waiting. Used by health reporting
// and tests.
func (s *Service) QueueDepth() int { return len(s.queue) }

// Run is the single queue consumer; it preserves FIFO order across jobs and
// fans each job out to the worker pool. Meant to run under the supervisor
// until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	sem := make(chan struct{}, s.cfg.Workers)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-s.queue:
			s.process(ctx, job, sem)
		}
	}
}

// process dispatches one job to every selected account, waits for all of
// them, then releases the job's cached images. One slow or failing account
// never blocks the others past their own timeout.
func (s *Service) process(ctx context.Context, job Job, sem chan struct{}) {
	start := time.Now()

	accounts := job.Accounts
	if accounts == nil {
		accounts = s.reg.Matching(job.Post.TagSlugs())
	}
	if len(accounts) == 0 {
		s.log.Info("no matching accounts, skipping",
			logx.String("job", job.ID), logx.String("post", job.Post.ID))
		return
	}

	media := s.cache.Materialize(ctx, job.Post.Images)

	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for _, acct := range accounts {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			s.cache.Evict(media)
			return
		}
		wg.Add(1)
		go func(acct social.Account) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.dispatch(ctx, job, acct, media); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(acct)
	}
	wg.Wait()
	s.cache.Evict(media)

	fields := []logx.Field{
		logx.String("job", job.ID),
		logx.String("post", job.Post.ID),
		logx.Int("accounts", len(accounts)),
		logx.Int("failed", failed),
		logx.Duration("took", time.Since(start)),
	}
	if failed > 0 {
		s.log.Warn("dispatch finished with failures", fields...)
	} else {
		s.log.Info("dispatch finished", fields...)
	}
}

// dispatch publishes one post to one account: plan the message sequence,
// publish it (continuations threaded under the first message), record the
// mapping once the first message lands.
func (s *Service) dispatch(ctx context.Context, job Job, acct social.Account, media []social.Media) error {
	client, ok := s.reg.Client(acct)
	if !ok {
		s.log.Warn("no client for account",
			logx.String("platform", acct.Platform), logx.String("account", acct.Name))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	defer cancel()

	msgs := social.Plan(job.Post, acct, media)

	var first *social.Result
	for i, msg := range msgs {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return s.fail(job, acct, err)
			}
		}
		var replyTo *social.Result
		if i > 0 {
			replyTo = first
		}
		res, err := client.Publish(ctx, msg, replyTo)
		if err != nil {
			if i > 0 {
				// The remote post exists and is mapped; losing a
				// continuation is logged but not fatal.
				s.log.Warn("split continuation failed",
					logx.String("job", job.ID),
					logx.String("post", job.Post.ID),
					logx.String("platform", acct.Platform),
					logx.String("account", acct.Name),
					logx.Int("part", i+1),
					logx.Err(err))
				return nil
			}
			return s.fail(job, acct, err)
		}
		if i == 0 {
			first = res
			if err := s.recordMapping(ctx, job.Post, acct, res); err != nil {
				s.log.Error("mapping upsert failed",
					logx.String("post", job.Post.ID),
					logx.String("platform", acct.Platform),
					logx.String("account", acct.Name),
					logx.Err(err))
			}
		}
	}

	s.log.Info("post dispatched",
		logx.String("job", job.ID),
		logx.String("post", job.Post.ID),
		logx.String("platform", acct.Platform),
		logx.String("account", acct.Name),
		logx.String("url", first.RemoteURL),
		logx.Int("messages", len(msgs)))
	if s.events != nil {
		s.events.Dispatched(job.Post, acct, first.RemoteURL)
	}
	return nil
}

func (s *Service) fail(job Job, acct social.Account, err error) error {
	s.log.Error("dispatch failed",
		logx.String("job", job.ID),
		logx.String("post", job.Post.ID),
		logx.String("platform", acct.Platform),
		logx.String("account", acct.Name),
		logx.Err(err))
	if s.events != nil {
		s.events.DispatchFailed(job.Post, acct, social.Sanitize(err))
	}
	return err
}

func (s *Service) recordMapping(ctx context.Context, p *post.Inbound, acct social.Account, res *social.Result) error {
	return s.store.UpsertMapping(ctx, storage.Mapping{
		PostID:    p.ID,
		Platform:  acct.Platform,
		Account:   acct.Name,
		RemoteID:  res.RemoteID,
		RemoteURL: res.RemoteURL,
		CreatedAt: time.Now(),
	})
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "github.com/wpowiertowski/posse/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const defaultEndpoint = "https://api.pushover.net/1/messages.json"

// Config sizes the notifier. Zero values fall back to defaults.
type Config struct {
	Enabled         bool
	Endpoint        string
	Token           string
	User            string
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Notification is one message for the push channel.
type Notification struct {
	Title    string
	Message  string
	Priority int
	URL      string
	URLTitle string
}

type job struct {
	n Notification
	// dedupKey is computed at enqueue time for cheap per-worker processing.
	dedupKey string
}

// Service is the async notification pipeline. Safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	http    *http.Client
	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	workerWG  sync.WaitGroup
	queue     chan job
	stopDone  chan struct{} // non-nil while stopping

	// In-memory dedup cache: key -> suppress until.
	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log,
		http:  &http.Client{Timeout: 10 * time.Second},
		dedup: map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent; a disabled notifier never starts workers and every
// Notify call becomes a cheap no-op error.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled {
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true

	q := s.queue
	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			s.workerLoop(ctx, q)
		}()
	}
	s.log.Info("notifier started",
		logx.Int("workers", s.cfg.Workers),
		logx.Int("queue", s.cfg.QueueSize))
}

// Stop blocks new notifies and drains the queue best-effort until ctx
// expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		s.workerWG.Wait()
		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Notify queues a notification. Full queue and suppressed duplicates are not
// errors worth failing a dispatch over; callers treat every return as
// advisory.
func (s *Service) Notify(n Notification) error {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	maxEntries := s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(n)
	if window > 0 && !s.dedupAllow(key, window, maxEntries) {
		return nil
	}

	select {
	case q <- job{n: n, dedupKey: key}:
		return nil
	default:
		s.log.Warn("notification dropped, queue full", logx.String("title", n.Title))
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		err := s.send(ctx, cfg, j.n)
		if err == nil {
			return
		}
		lastErr = err
		s.log.Debug("notification send failed",
			logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}
	if lastErr != nil {
		s.log.Warn("notification gave up",
			logx.String("title", j.n.Title), logx.Err(lastErr))
	}
}

func (s *Service) send(ctx context.Context, cfg Config, n Notification) error {
	form := url.Values{}
	form.Set("token", cfg.Token)
	form.Set("user", cfg.User)
	form.Set("title", n.Title)
	form.Set("message", n.Message)
	form.Set("priority", strconv.Itoa(n.Priority))
	if n.URL != "" {
		form.Set("url", n.URL)
		if n.URLTitle != "" {
			form.Set("url_title", n.URLTitle)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("push endpoint: http=%d", resp.StatusCode)
	}
	return nil
}

// dedupAllow reports whether the key may be sent now and records it.
func (s *Service) dedupAllow(key string, window time.Duration, maxEntries int) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	if len(s.dedup) >= maxEntries {
		// Cheap pruning: drop expired entries; if still full, reset.
		for k, until := range s.dedup {
			if now.After(until) {
				delete(s.dedup, k)
			}
		}
		if len(s.dedup) >= maxEntries {
			s.dedup = map[string]time.Time{}
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

func dedupKey(n Notification) string {
	h := fnv.New64a()
	h.Write([]byte(n.Title))
	h.Write([]byte{0})
	h.Write([]byte(n.Message))
	return strconv.FormatUint(h.Sum64(), 16)
}

func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase << (attempt - 1)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

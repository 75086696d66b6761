package syndicate

import (
	"context"
	"errors"
	"time"

	"github.com/wpowiertowski/posse/internal/post"
	"github.com/wpowiertowski/posse/internal/social"
)

// ErrQueueFull is returned when the event queue stays full past the enqueue
// timeout. The webhook surfaces it as backpressure; the CMS retries on its
// own schedule.
var ErrQueueFull = errors.New("syndicate: event queue full")

const (
	defaultQueueSize       = 100
	defaultEnqueueTimeout  = 5 * time.Second
	defaultWorkers         = 10
	defaultDispatchTimeout = 30 * time.Second
)

// Config sizes the pipeline. Zero values fall back to defaults.
type Config struct {
	QueueSize       int
	EnqueueTimeout  time.Duration
	Workers         int
	DispatchTimeout time.Duration
	// SendRatePerSec throttles outgoing publishes across all workers.
	// Zero disables the throttle.
	SendRatePerSec int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = defaultEnqueueTimeout
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = defaultDispatchTimeout
	}
	return c
}

// Job is one queued dispatch request.
type Job struct {
	ID   string
	Post *post.Inbound
	// Accounts pins the dispatch set. Nil means "every configured account
	// whose filters match", which is the normal webhook path; catch-up jobs
	// carry the reduced set explicitly.
	Accounts   []social.Account
	CatchUp    bool
	EnqueuedAt time.Time
}

// Events receives dispatch outcomes. Implementations must not block; the
// notifier queues internally. A nil Events drops them.
type Events interface {
	Dispatched(p *post.Inbound, acct social.Account, remoteURL string)
	DispatchFailed(p *post.Inbound, acct social.Account, reason string)
}

// PostLoader fetches canonical post data for catch-up dispatches.
type PostLoader interface {
	PostByID(ctx context.Context, id string) (*post.Inbound, error)
}

// Directory resolves configured accounts and their clients. *social.Registry
// implements it.
type Directory interface {
	Matching(slugs []string) []social.Account
	Client(a social.Account) (social.Client, bool)
}

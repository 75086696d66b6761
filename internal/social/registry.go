package social

import (
	"context"
	"time"

	"github.com/wpowiertowski/posse/internal/config"
	logx "github.com/wpowiertowski/posse/pkg/logx"
)

// Registry is the immutable account-to-client map built once at startup.
// Config reloads that change accounts take effect on the next restart; the
// in-flight pipeline always sees a consistent set.
type Registry struct {
	accounts []Account
	clients  map[string]Client
	log      logx.Logger
}

// BuildRegistry constructs clients for every configured account. It fails
// hard on unreadable credential files so a misconfigured account is caught
// at startup, not on first dispatch.
func BuildRegistry(cfg *config.Config, log logx.Logger) (*Registry, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{clients: make(map[string]Client), log: log}

	for _, ac := range cfg.Accounts.Mastodon {
		c, err := NewMastodon(ac)
		if err != nil {
			return nil, err
		}
		r.add(accountFrom(PlatformMastodon, ac.AccountBase), c)
	}
	for _, ac := range cfg.Accounts.Bluesky {
		c, err := NewBluesky(ac)
		if err != nil {
			return nil, err
		}
		r.add(accountFrom(PlatformBluesky, ac.AccountBase), c)
	}
	for _, ac := range cfg.Accounts.Telegram {
		c, err := NewTelegram(ac)
		if err != nil {
			return nil, err
		}
		r.add(accountFrom(PlatformTelegram, ac.AccountBase), c)
	}

	log.Info("account registry built", logx.Int("accounts", len(r.accounts)))
	return r, nil
}

func accountFrom(platform string, b config.AccountBase) Account {
	return Account{
		Platform: platform,
		Name:     b.Name,
		Filter:   Filter{Include: b.IncludeTags, Exclude: b.ExcludeTags},
		Limit:    b.LengthLimit,
		Split:    b.SplitImages,
	}
}

func (r *Registry) add(a Account, c Client) {
	r.accounts = append(r.accounts, a)
	r.clients[a.Key()] = c
}

// Accounts returns every configured account in declaration order.
func (r *Registry) Accounts() []Account {
	out := make([]Account, len(r.accounts))
	copy(out, r.accounts)
	return out
}

// Matching returns the accounts whose filters admit a post with the given
// tag slugs.
func (r *Registry) Matching(slugs []string) []Account {
	var out []Account
	for _, a := range r.accounts {
		if a.Filter.Matches(slugs) {
			out = append(out, a)
		}
	}
	return out
}

// Client resolves the live client for an account. The second return is false
// for accounts that are mapped in storage but no longer configured.
func (r *Registry) Client(a Account) (Client, bool) {
	c, ok := r.clients[a.Key()]
	return c, ok
}

// Lookup resolves a client by platform and account name.
func (r *Registry) Lookup(platform, name string) (Client, bool) {
	return r.Client(Account{Platform: platform, Name: name})
}

// VerifyAll runs a credential check against every account and logs the
// outcome. Failures are reported, not fatal: a dead token on one account
// must not keep the relay from serving the others.
func (r *Registry) VerifyAll(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	for _, a := range r.accounts {
		c := r.clients[a.Key()]
		vctx, cancel := context.WithTimeout(ctx, timeout)
		err := c.Verify(vctx)
		cancel()
		if err != nil {
			r.log.Error("credential check failed",
				logx.String("platform", a.Platform),
				logx.String("account", a.Name),
				logx.String("reason", Sanitize(err)),
				logx.Err(err))
			continue
		}
		r.log.Info("credentials verified",
			logx.String("platform", a.Platform),
			logx.String("account", a.Name))
	}
}

package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks structural constraints (validate tags) plus the semantic
// rules the tags can't express: parseable durations and unique account names
// per platform. It is wired into the manager's Watch validator hook so a bad
// edit never replaces a good running config.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	type durField struct {
		path string
		raw  string
	}
	durations := []durField{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.idle_timeout", c.Server.IdleTimeout},
		{"origin.timeout", c.Origin.Timeout},
		{"syndicate.enqueue_timeout", c.Syndicate.EnqueueTimeout},
		{"syndicate.dispatch_timeout", c.Syndicate.DispatchTimeout},
		{"images.fetch_timeout", c.Images.FetchTimeout},
		{"images.describe_timeout", c.Images.DescribeTimeout},
		{"interactions.interval", c.Interactions.Interval},
		{"interactions.max_age", c.Interactions.MaxAge},
		{"interactions.cycle_timeout", c.Interactions.CycleTimeout},
		{"interactions.fetch_timeout", c.Interactions.FetchTimeout},
		{"security.ip_window", c.Security.IPWindow},
		{"security.global_window", c.Security.GlobalWindow},
		{"security.cooldown_window", c.Security.CooldownWindow},
	}
	if c.Storage != nil {
		durations = append(durations, durField{"storage.busy_timeout", c.Storage.BusyTimeout})
	}
	if c.Notify != nil {
		durations = append(durations,
			durField{"notify.retry_base", c.Notify.RetryBase},
			durField{"notify.retry_max_delay", c.Notify.RetryMaxDelay},
			durField{"notify.dedup_window", c.Notify.DedupWindow},
		)
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	seen := map[string]string{}
	addAccount := func(platform, name string) error {
		key := platform + "/" + strings.ToLower(strings.TrimSpace(name))
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("accounts.%s: duplicate account name %q (also %q)", platform, name, prev)
		}
		seen[key] = name
		return nil
	}
	for _, a := range c.Accounts.Mastodon {
		if err := addAccount("mastodon", a.Name); err != nil {
			return err
		}
	}
	for _, a := range c.Accounts.Bluesky {
		if err := addAccount("bluesky", a.Name); err != nil {
			return err
		}
	}
	for _, a := range c.Accounts.Telegram {
		if err := addAccount("telegram", a.Name); err != nil {
			return err
		}
	}

	return nil
}

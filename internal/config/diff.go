package config

import (
	"reflect"
	"sort"
	"strings"

	logx "github.com/wpowiertowski/posse/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets or
// credential file contents). Used on hot reload to log what actually moved.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Server
	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
		)
	}

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Origin (never log the key file contents; path changes are fine)
	if !reflect.DeepEqual(oldCfg.Origin, newCfg.Origin) {
		changed = append(changed, "origin")
		attrs = append(attrs,
			logx.String("origin.site_url", strings.TrimSpace(newCfg.Origin.SiteURL)),
			logx.Bool("origin.key_set", strings.TrimSpace(newCfg.Origin.KeyFile) != ""),
		)
	}

	// Accounts: summarize counts only; details at debug elsewhere.
	if !reflect.DeepEqual(oldCfg.Accounts, newCfg.Accounts) {
		changed = append(changed, "accounts")
		attrs = append(attrs,
			logx.Int("accounts.mastodon", len(newCfg.Accounts.Mastodon)),
			logx.Int("accounts.bluesky", len(newCfg.Accounts.Bluesky)),
			logx.Int("accounts.telegram", len(newCfg.Accounts.Telegram)),
		)
	}

	// Syndicate (fan-out pipeline)
	if !reflect.DeepEqual(oldCfg.Syndicate, newCfg.Syndicate) {
		changed = append(changed, "syndicate")
		attrs = append(attrs,
			logx.Int("syndicate.queue_size", newCfg.Syndicate.QueueSize),
			logx.Int("syndicate.workers", newCfg.Syndicate.Workers),
			logx.String("syndicate.dispatch_timeout", strings.TrimSpace(newCfg.Syndicate.DispatchTimeout)),
		)
	}

	// Images
	if !reflect.DeepEqual(oldCfg.Images, newCfg.Images) {
		changed = append(changed, "images")
		attrs = append(attrs,
			logx.Int("images.max_per_post", newCfg.Images.MaxPerPost),
			logx.Bool("images.describe_set", strings.TrimSpace(newCfg.Images.DescribeURL) != ""),
		)
	}

	// Interactions (poll-back loop)
	if !reflect.DeepEqual(oldCfg.Interactions, newCfg.Interactions) {
		changed = append(changed, "interactions")
		attrs = append(attrs,
			logx.Bool("interactions.enabled", newCfg.Interactions.Enabled),
			logx.String("interactions.interval", strings.TrimSpace(newCfg.Interactions.Interval)),
			logx.String("interactions.max_age", strings.TrimSpace(newCfg.Interactions.MaxAge)),
		)
	}

	// Security (never log the token file path's contents; report presence only)
	if !reflect.DeepEqual(oldCfg.Security, newCfg.Security) {
		changed = append(changed, "security")
		attrs = append(attrs,
			logx.Bool("security.token_set", strings.TrimSpace(newCfg.Security.TokenFile) != ""),
			logx.Int("security.ip_rate", newCfg.Security.IPRate),
			logx.Int("security.global_rate", newCfg.Security.GlobalRate),
			logx.Int("security.cooldown_cache_size", newCfg.Security.CooldownCacheSize),
		)
	}

	// Storage (nil means in-memory defaults)
	oldS := derefStorage(oldCfg.Storage)
	newS := derefStorage(newCfg.Storage)
	if (oldCfg.Storage != nil) != (newCfg.Storage != nil) || !reflect.DeepEqual(oldS, newS) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newS.BusyTimeout)),
		)
	}

	// Notify (nil means disabled)
	oldN := derefNotify(oldCfg.Notify)
	newN := derefNotify(newCfg.Notify)
	if (oldCfg.Notify != nil) != (newCfg.Notify != nil) || !reflect.DeepEqual(oldN, newN) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", newN.Enabled),
			logx.Int("notify.workers", newN.Workers),
			logx.Int("notify.queue_size", newN.QueueSize),
			logx.Int("notify.rate_per_sec", newN.RatePerSec),
		)
	}

	// Debug (pprof listener)
	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.pprof_enabled", newCfg.Debug.PprofEnabled),
			logx.String("debug.pprof_addr", strings.TrimSpace(newCfg.Debug.PprofAddr)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefNotify(n *NotifyConfig) NotifyConfig {
	if n == nil {
		return NotifyConfig{}
	}
	return *n
}

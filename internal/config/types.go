package config

// Config is the full relay configuration, decoded strictly from YAML or JSON
// (unknown keys are rejected so typos surface at load time).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Credentials are never inlined; each section references a secret file that
// is read when the owning component is built.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Origin   OriginConfig   `json:"origin"`
	Accounts AccountsConfig `json:"accounts"`

	Syndicate    SyndicateConfig    `json:"syndicate"`
	Images       ImagesConfig       `json:"images"`
	Interactions InteractionsConfig `json:"interactions"`
	Security     SecurityConfig     `json:"security"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Notify  *NotifyConfig  `json:"notify,omitempty"`

	Debug DebugConfig `json:"debug,omitempty"`
}

// DebugConfig controls the optional pprof listener. It binds loopback-only
// unless allow_remote is set.
type DebugConfig struct {
	PprofEnabled bool   `json:"pprof_enabled,omitempty"`
	PprofAddr    string `json:"pprof_addr,omitempty"` // default "127.0.0.1:6060"
	AllowRemote  bool   `json:"allow_remote,omitempty"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `json:"addr" validate:"required"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// OriginConfig points at the content origin (the CMS that sends webhooks).
//
// SiteURL anchors same-origin image checks and the content read API used by
// catch-up dispatches. KeyFile holds the content API key.
type OriginConfig struct {
	SiteURL string `json:"site_url" validate:"required,url"`
	KeyFile string `json:"key_file,omitempty"`
	Timeout string `json:"timeout,omitempty"` // default "10s"
}

// AccountsConfig groups destination accounts by platform. The set is closed:
// each platform has its own variant with its platform-specific knobs.
type AccountsConfig struct {
	Mastodon []MastodonAccount `json:"mastodon,omitempty" validate:"dive"`
	Bluesky  []BlueskyAccount  `json:"bluesky,omitempty" validate:"dive"`
	Telegram []TelegramAccount `json:"telegram,omitempty" validate:"dive"`
}

// AccountBase carries the per-account knobs shared by every platform.
//
// Filtering: an empty include and exclude list matches every post; a
// non-empty include list needs at least one tag in common; an exclude hit
// drops the account regardless of include.
type AccountBase struct {
	Name            string   `json:"name" validate:"required"`
	CredentialsFile string   `json:"credentials_file" validate:"required"`
	IncludeTags     []string `json:"include_tags,omitempty"`
	ExcludeTags     []string `json:"exclude_tags,omitempty"`

	// LengthLimit caps the formatted message; 0 means unlimited.
	LengthLimit int `json:"length_limit,omitempty" validate:"gte=0"`

	// SplitImages posts multi-image posts as a reply-threaded sequence,
	// one image per post.
	SplitImages bool `json:"split_images,omitempty"`
}

type MastodonAccount struct {
	AccountBase
	InstanceURL string `json:"instance_url" validate:"required,url"`
}

type BlueskyAccount struct {
	AccountBase
	// ServiceURL defaults to https://bsky.social when omitted.
	ServiceURL string `json:"service_url,omitempty" validate:"omitempty,url"`
}

type TelegramAccount struct {
	AccountBase
	// ChatID is the target channel/group (e.g. "@mychannel" or a numeric id).
	ChatID string `json:"chat_id" validate:"required"`
}

// SyndicateConfig controls the fan-out pipeline.
//
// Defaults (when fields are omitted/zero):
//   - queue_size: 100
//   - enqueue_timeout: "5s"
//   - workers: 10
//   - dispatch_timeout: "30s"
//   - send_rate_per_sec: 0 (unthrottled)
type SyndicateConfig struct {
	QueueSize      int    `json:"queue_size,omitempty" validate:"gte=0"`
	EnqueueTimeout string `json:"enqueue_timeout,omitempty"`
	Workers        int    `json:"workers,omitempty" validate:"gte=0"`

	// DispatchTimeout bounds a single per-account dispatch task.
	DispatchTimeout string `json:"dispatch_timeout,omitempty"`

	// SendRatePerSec throttles outbound platform calls across the pool.
	SendRatePerSec int `json:"send_rate_per_sec,omitempty" validate:"gte=0"`
}

// ImagesConfig controls image selection, the content-addressed cache, and the
// optional alt-text describer.
type ImagesConfig struct {
	CacheDir   string `json:"cache_dir,omitempty"` // default: os temp dir
	MaxPerPost int    `json:"max_per_post,omitempty" validate:"gte=0"`

	FetchTimeout string `json:"fetch_timeout,omitempty"` // default "20s"

	// DescribeURL, when set, points at an alt-text description service.
	// Failures degrade to an empty description.
	DescribeURL     string `json:"describe_url,omitempty" validate:"omitempty,url"`
	DescribeTimeout string `json:"describe_timeout,omitempty"` // default "15s"
}

// InteractionsConfig controls the engagement poll-back loop.
//
// Defaults (when fields are omitted/zero):
//   - interval: "15m"
//   - max_age: "720h" (30 days; older posts stop being polled)
//   - cycle_timeout: "10m"
//   - fetch_timeout: "15s"
//   - reply_preview_limit: 5
type InteractionsConfig struct {
	Enabled bool `json:"enabled"`

	Interval     string `json:"interval,omitempty"`
	MaxAge       string `json:"max_age,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
	FetchTimeout string `json:"fetch_timeout,omitempty"`

	ReplyPreviewLimit int `json:"reply_preview_limit,omitempty" validate:"gte=0"`
}

// SecurityConfig controls the read API's abuse controls.
//
// Defaults (when fields are omitted/zero):
//   - ip_rate: 60 per "1m" window
//   - global_rate: 50 per "1m" window
//   - cooldown_window: "5m"
//   - cooldown_cache_size: 1000
type SecurityConfig struct {
	// TokenFile holds the shared secret for the manual sync trigger.
	// When empty, the trigger requires no token.
	TokenFile string `json:"token_file,omitempty"`

	IPRate   int    `json:"ip_rate,omitempty" validate:"gte=0"`
	IPWindow string `json:"ip_window,omitempty"`

	GlobalRate   int    `json:"global_rate,omitempty" validate:"gte=0"`
	GlobalWindow string `json:"global_window,omitempty"`

	CooldownWindow    string `json:"cooldown_window,omitempty"`
	CooldownCacheSize int    `json:"cooldown_cache_size,omitempty" validate:"gte=0"`

	// ReferrerAllow, when non-empty, gates snapshot reads by Referer host.
	ReferrerAllow []string `json:"referrer_allow,omitempty"`
}

// StorageConfig controls the mapping/snapshot store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./posse.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=sqlite memory"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifyConfig controls the async notification pipeline (Pushover-style).
//
// If the whole section is omitted, notifications are disabled.
type NotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint,omitempty" validate:"omitempty,url"`
	TokenFile string `json:"token_file,omitempty"`
	UserFile  string `json:"user_file,omitempty"`

	Workers         int    `json:"workers,omitempty" validate:"gte=0"`
	QueueSize       int    `json:"queue_size,omitempty" validate:"gte=0"`
	RatePerSec      int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
	RetryMax        int    `json:"retry_max,omitempty" validate:"gte=0"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty" validate:"gte=0"`
}

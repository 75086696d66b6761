// Package app is the composition root: it maps the file config onto every
// service, owns the supervisor, and sequences startup and shutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/wpowiertowski/posse/internal/config"
	"github.com/wpowiertowski/posse/internal/httpapi"
	"github.com/wpowiertowski/posse/internal/images"
	"github.com/wpowiertowski/posse/internal/interactions"
	"github.com/wpowiertowski/posse/internal/notify"
	"github.com/wpowiertowski/posse/internal/observability/pprof"
	"github.com/wpowiertowski/posse/internal/origin"
	"github.com/wpowiertowski/posse/internal/runtime/supervisor"
	"github.com/wpowiertowski/posse/internal/social"
	"github.com/wpowiertowski/posse/internal/storage"
	"github.com/wpowiertowski/posse/internal/syndicate"
	logx "github.com/wpowiertowski/posse/pkg/logx"
)

// App owns every long-lived component of the relay.
type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store    storage.Store
	registry *social.Registry
	cache    *images.Cache
	origin   *origin.Client
	notif    *notify.Service

	pipeline  *syndicate.Service
	syncSvc   *interactions.Service
	scheduler *interactions.Scheduler
	httpSrv   *httpapi.Server
	profiling *pprof.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
	}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

// build maps the parsed config onto concrete services. Called once; only
// logging follows a hot reload, everything else takes effect on restart.
func (a *App) build(cfg *config.Config) error {
	log := a.log

	storeCfg := storage.Config{Driver: "sqlite", Path: "./posse.db"}
	if cfg.Storage != nil {
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
		if err != nil {
			return err
		}
		storeCfg = storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}
		if storeCfg.Driver == "" {
			storeCfg.Driver = "sqlite"
		}
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	reg, err := social.BuildRegistry(cfg, log.With(logx.String("comp", "social")))
	if err != nil {
		return fmt.Errorf("build accounts: %w", err)
	}
	a.registry = reg

	originClient, err := origin.New(cfg.Origin, log.With(logx.String("comp", "origin")))
	if err != nil {
		return fmt.Errorf("origin client: %w", err)
	}
	a.origin = originClient

	fetchTimeout, err := config.ParseDurationOrDefault("images.fetch_timeout", cfg.Images.FetchTimeout, 20*time.Second)
	if err != nil {
		return err
	}
	var describer *images.Describer
	if cfg.Images.DescribeURL != "" {
		describeTimeout, err := config.ParseDurationOrDefault("images.describe_timeout", cfg.Images.DescribeTimeout, 15*time.Second)
		if err != nil {
			return err
		}
		describer = images.NewDescriber(cfg.Images.DescribeURL, describeTimeout,
			log.With(logx.String("comp", "images")))
	}
	cache, err := images.NewCache(images.Options{
		Dir:          cfg.Images.CacheDir,
		MaxPerPost:   cfg.Images.MaxPerPost,
		FetchTimeout: fetchTimeout,
		Describer:    describer,
	}, log.With(logx.String("comp", "images")))
	if err != nil {
		return fmt.Errorf("image cache: %w", err)
	}
	a.cache = cache

	notifCfg, err := notifyConfig(cfg.Notify)
	if err != nil {
		return err
	}
	a.notif = notify.New(notifCfg, log.With(logx.String("comp", "notify")))

	enqueueTimeout, err := config.ParseDurationOrDefault("syndicate.enqueue_timeout", cfg.Syndicate.EnqueueTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	dispatchTimeout, err := config.ParseDurationOrDefault("syndicate.dispatch_timeout", cfg.Syndicate.DispatchTimeout, 30*time.Second)
	if err != nil {
		return err
	}
	a.pipeline = syndicate.New(syndicate.Config{
		QueueSize:       cfg.Syndicate.QueueSize,
		EnqueueTimeout:  enqueueTimeout,
		Workers:         cfg.Syndicate.Workers,
		DispatchTimeout: dispatchTimeout,
		SendRatePerSec:  cfg.Syndicate.SendRatePerSec,
	}, reg, store, cache, originClient, a.notif,
		log.With(logx.String("comp", "syndicate")))

	syncFetch, err := config.ParseDurationOrDefault("interactions.fetch_timeout", cfg.Interactions.FetchTimeout, 15*time.Second)
	if err != nil {
		return err
	}
	a.syncSvc = interactions.NewService(reg, store, syncFetch,
		cfg.Interactions.ReplyPreviewLimit,
		log.With(logx.String("comp", "interactions")))

	if cfg.Interactions.Enabled {
		interval, err := config.ParseDurationOrDefault("interactions.interval", cfg.Interactions.Interval, 15*time.Minute)
		if err != nil {
			return err
		}
		maxAge, err := config.ParseDurationOrDefault("interactions.max_age", cfg.Interactions.MaxAge, 30*24*time.Hour)
		if err != nil {
			return err
		}
		cycleTimeout, err := config.ParseDurationOrDefault("interactions.cycle_timeout", cfg.Interactions.CycleTimeout, 10*time.Minute)
		if err != nil {
			return err
		}
		a.scheduler = interactions.NewScheduler(interactions.SchedulerConfig{
			Interval:     interval,
			MaxAge:       maxAge,
			CycleTimeout: cycleTimeout,
		}, a.syncSvc, store, log.With(logx.String("comp", "interactions")))
	}

	srv, err := httpapi.New(cfg.Server, cfg.Security, a.pipeline, a.syncSvc, a.notif,
		log.With(logx.String("comp", "http")))
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	a.httpSrv = srv

	a.profiling = pprof.New(pprof.Config{
		Enabled:     cfg.Debug.PprofEnabled,
		Addr:        cfg.Debug.PprofAddr,
		AllowRemote: cfg.Debug.AllowRemote,
	}, log.With(logx.String("comp", "pprof")))
	return nil
}

func notifyConfig(nc *config.NotifyConfig) (notify.Config, error) {
	if nc == nil || !nc.Enabled {
		return notify.Config{}, nil
	}
	token, err := readSecret(nc.TokenFile)
	if err != nil {
		return notify.Config{}, fmt.Errorf("notify.token_file: %w", err)
	}
	user, err := readSecret(nc.UserFile)
	if err != nil {
		return notify.Config{}, fmt.Errorf("notify.user_file: %w", err)
	}
	retryBase, err := config.ParseDurationOrDefault("notify.retry_base", nc.RetryBase, 0)
	if err != nil {
		return notify.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("notify.retry_max_delay", nc.RetryMaxDelay, 0)
	if err != nil {
		return notify.Config{}, err
	}
	dedupWindow, err := config.ParseDurationOrDefault("notify.dedup_window", nc.DedupWindow, 0)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Enabled:         true,
		Endpoint:        nc.Endpoint,
		Token:           token,
		User:            user,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: nc.DedupMaxEntries,
	}, nil
}

func readSecret(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("secret file path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return s, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	a.notif.Start(a.sup.Context())

	// The consumer and the scheduler self-heal on transient failures; the
	// listener retries a bounded number of times (a dead bind is fatal, the
	// relay is useless without its webhook intake).
	a.sup.GoRestart("syndicate.run", func(c context.Context) error {
		return a.pipeline.Run(c)
	})
	if a.scheduler != nil {
		a.sup.GoRestart("interactions.schedule", func(c context.Context) error {
			return a.scheduler.Run(c)
		})
	}
	a.sup.GoRestart("http.serve", func(c context.Context) error {
		return a.httpSrv.Run(c)
	},
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
		supervisor.WithMaxRestarts(5),
		supervisor.WithFatalOnFinalError(true))
	if a.profiling.Enabled() {
		a.sup.GoRestart("pprof.serve", func(c context.Context) error {
			return a.profiling.Run(c)
		}, supervisor.WithMaxRestarts(3))
	}

	// Startup credential check. Failures are logged, never fatal: a platform
	// being down must not keep the webhook intake offline.
	a.sup.Go0("social.verify", func(c context.Context) {
		a.registry.VerifyAll(c, 15*time.Second)
	})

	// Hot reload fan-out. Only logging follows a reload live; the rest is
	// surfaced in the change summary so the operator knows a restart is due.
	a.sup.GoRestart0("config.reload", func(c context.Context) {
		// Subscribe inside the loop body so a restart gets a live channel.
		sub := a.cfgm.Subscribe(8)
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg

				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})

				if len(sections) == 0 {
					a.log.Info("config reloaded (no changes)")
					continue
				}
				a.log.Info("config reloaded",
					append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
				if restartOnly(sections) {
					a.log.Warn("changed sections take effect on restart",
						logx.String("sections", strings.Join(sections, ",")))
				}
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("relay started")
	return nil
}

// restartOnly reports whether any changed section is one the app cannot
// apply live.
func restartOnly(sections []string) bool {
	for _, s := range sections {
		if s != "logging" {
			return true
		}
	}
	return false
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	// Cancel the run context first so loops start unwinding, then drain the
	// pieces that hold queued work or open resources.
	a.sup.Cancel()

	notifCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a.notif.Stop(notifCtx)
	cancel()

	waitCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := a.sup.Stop(waitCtx)
	cancel()

	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

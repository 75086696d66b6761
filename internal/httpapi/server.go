package httpapi

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/wpowiertowski/posse/internal/config"
	"github.com/wpowiertowski/posse/internal/interactions"
	"github.com/wpowiertowski/posse/internal/post"
	"github.com/wpowiertowski/posse/internal/syndicate"
	logx "github.com/wpowiertowski/posse/pkg/logx"
)

// Pipeline is the dispatch side the handlers need.
type Pipeline interface {
	Enqueue(ctx context.Context, job syndicate.Job) error
	CatchUp(ctx context.Context, postID string) (int, error)
}

// Interactions is the engagement side the handlers need.
type Interactions interface {
	SyncPost(ctx context.Context, postID string) (*interactions.Snapshot, error)
	Stored(ctx context.Context, postID string) (*interactions.Snapshot, bool, error)
}

// Receiver observes accepted webhook posts. Optional.
type Receiver interface {
	PostReceived(p *post.Inbound)
}

// Server wires the chi router over the pipeline and the sync service.
type Server struct {
	cfg      config.ServerConfig
	pipeline Pipeline
	sync     Interactions
	recv     Receiver
	log      logx.Logger

	token         []byte
	referrerAllow []string
	ipRate        int
	ipWindow      time.Duration
	global *rate.Limiter

	// cooldownMu serializes the check-and-record pair on the cooldown cache
	// so concurrent triggers for one id cannot both pass.
	cooldownMu   sync.Mutex
	cooldown     *lru.Cache[string, time.Time]
	cooldownSpan time.Duration

	httpSrv *http.Server
}

func New(cfg config.ServerConfig, sec config.SecurityConfig, pipeline Pipeline, sync Interactions, recv Receiver, log logx.Logger) (*Server, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	var token []byte
	if sec.TokenFile != "" {
		b, err := os.ReadFile(sec.TokenFile)
		if err != nil {
			return nil, err
		}
		token = []byte(strings.TrimSpace(string(b)))
	}

	ipWindow, err := config.ParseDurationOrDefault("security.ip_window", sec.IPWindow, time.Minute)
	if err != nil {
		return nil, err
	}
	globalWindow, err := config.ParseDurationOrDefault("security.global_window", sec.GlobalWindow, time.Minute)
	if err != nil {
		return nil, err
	}
	cooldownSpan, err := config.ParseDurationOrDefault("security.cooldown_window", sec.CooldownWindow, 5*time.Minute)
	if err != nil {
		return nil, err
	}

	ipRate := sec.IPRate
	if ipRate <= 0 {
		ipRate = 60
	}
	globalRate := sec.GlobalRate
	if globalRate <= 0 {
		globalRate = 50
	}
	cacheSize := sec.CooldownCacheSize
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	cooldown, err := lru.New[string, time.Time](cacheSize)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:           cfg,
		pipeline:      pipeline,
		sync:          sync,
		recv:          recv,
		log:           log,
		token:         token,
		referrerAllow: sec.ReferrerAllow,
		ipRate:        ipRate,
		ipWindow:      ipWindow,
		global:        rate.NewLimiter(rate.Limit(float64(globalRate)/globalWindow.Seconds()), globalRate),
		cooldown:      cooldown,
		cooldownSpan:  cooldownSpan,
	}
	return s, nil
}

// Handler builds the router. Exposed separately from Run for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeaders)

	r.Post("/webhook/publish", s.handlePublish)
	r.Post("/webhook/publish/catch-up", s.handleCatchUp)

	r.Route("/api/interactions/{postID}", func(r chi.Router) {
		r.Get("/", s.handleGetInteractions)
		// Check order is deliberate: token, then per-IP window, then the
		// global cap and per-post cooldown inside the handler.
		r.With(s.requireToken, httprate.LimitByIP(s.ipRate, s.ipWindow)).
			Post("/sync", s.handleTriggerSync)
	})

	r.Get("/health", s.handleHealth)
	return r
}

// Run serves until ctx is done, then shuts down gracefully. Meant to run
// under the supervisor.
func (s *Server) Run(ctx context.Context) error {
	read, err := config.ParseDurationOrDefault("server.read_timeout", s.cfg.ReadTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	write, err := config.ParseDurationOrDefault("server.write_timeout", s.cfg.WriteTimeout, 30*time.Second)
	if err != nil {
		return err
	}
	idle, err := config.ParseDurationOrDefault("server.idle_timeout", s.cfg.IdleTimeout, 120*time.Second)
	if err != nil {
		return err
	}

	s.httpSrv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

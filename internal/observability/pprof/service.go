// Package pprof serves the runtime profiling endpoints on a separate
// listener so they never share a port with the public API.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"time"

	logx "github.com/wpowiertowski/posse/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string // default "127.0.0.1:6060"

	// AllowRemote permits binding to a non-loopback address. Off by default;
	// the profiles can leak internals and carry no auth of their own.
	AllowRemote bool
}

type Service struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6060"
	}
	return &Service{cfg: cfg, log: log}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Run serves until ctx is done. Meant to run under the supervisor.
func (s *Service) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}
	if !s.cfg.AllowRemote {
		host, _, err := net.SplitHostPort(s.cfg.Addr)
		if err != nil {
			return fmt.Errorf("pprof addr %q: %w", s.cfg.Addr, err)
		}
		ip := net.ParseIP(host)
		if host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			return fmt.Errorf("pprof addr %q is not loopback; set allow_remote to override", s.cfg.Addr)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)

	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("pprof listening", logx.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/Seednode/dungeonhonor/internal/auth"
	"github.com/Seednode/dungeonhonor/internal/store"
	"github.com/Seednode/dungeonhonor/internal/workflow"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

// byteSize formats n using SI units, e.g. 1.5 kB.
func byteSize(n int) string {
	const unit = 1000
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	value, suffix := float64(n)/unit, 0
	for value >= unit && suffix < len(sizeSuffixes)-1 {
		value /= unit
		suffix++
	}

	return fmt.Sprintf("%.1f %cB", value, sizeSuffixes[suffix])
}

const sizeSuffixes = "kMGTPE"

func serveVersion(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("dungeonhonor v" + releaseVersion + "\n"))
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Version page (%s) to %s in %s",
			byteSize(written),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// redirectURL is where the identity provider sends users back to. An
// explicit --battlenet-redirect-url wins; otherwise it is derived from the
// listen address.
func redirectURL(cfg *Config) string {
	if cfg.redirectURL != "" {
		return cfg.redirectURL
	}

	host := cfg.bind
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	return cfg.scheme() + "://" + net.JoinHostPort(host, strconv.Itoa(cfg.port)) + cfg.prefix + "/auth/callback"
}

// server holds everything a running instance owns besides the listener
// and the store itself.
type server struct {
	mux      *httprouter.Router
	backend  store.Store
	tasks    *workflow.Tasks
	visitors *visitorManager
	auth     *auth.Provider
	metrics  *metrics
	live     *liveManager
	errs     chan error
}

// newServer wires every route on top of st. st stays owned by the caller.
func newServer(cfg *Config, st store.Store) (*server, error) {
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	s := &server{
		mux:     httprouter.New(),
		metrics: newMetrics(),
		tasks:   workflow.NewTasks(cfg.logger),
		errs:    make(chan error, 64),
	}

	instrumented := &instrumentedStore{Store: st, m: s.metrics}
	s.live = newLiveManager(instrumented, s.metrics, cfg.logger)
	s.backend = &notifyingStore{Store: instrumented, live: s.live}

	s.visitors = newVisitorManager(cfg.sessionTimeout, s.backend, s.tasks, cfg.logger)

	if cfg.authEnabled() {
		cookiePath := cfg.prefix
		if cookiePath == "" {
			cookiePath = "/"
		}

		provider, err := auth.New(auth.Config{
			ClientID:       cfg.clientID,
			ClientSecret:   cfg.clientSecret,
			Issuer:         cfg.issuer,
			RedirectURL:    redirectURL(cfg),
			SessionTimeout: cfg.sessionTimeout,
			CookiePath:     cookiePath,
			Secure:         cfg.scheme() == "https",
		}, cfg.logger)
		if err != nil {
			s.visitors.Close()

			return nil, err
		}
		s.auth = provider
	}

	pg, err := newPages(cfg, s.visitors, s.auth, s.errs)
	if err != nil {
		s.close(context.Background())

		return nil, err
	}

	s.mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		cfg.logger.Error("panic while serving request", zap.String("path", r.URL.Path), zap.Any("panic", i))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		_, _ = io.WriteString(w, newPage(cfg.prefix, "Server Error", "An error has occurred. Please try again."))
	}

	pg.register(s.mux)

	registerAPI(cfg, s.backend, s.mux, s.errs)

	s.mux.GET(cfg.prefix+"/report/ws", serveLive(cfg, s.live))

	if s.auth != nil {
		registerAuth(cfg, s.auth, s.mux)
	}

	s.mux.GET(cfg.prefix+"/assets/*asset", serveAssets(cfg, s.errs))

	s.mux.GET(cfg.prefix+"/favicons/*favicon", serveFavicons(cfg, s.errs))

	s.mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, st, s.errs))

	s.mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg, s.errs))

	s.mux.GET(cfg.prefix+"/version", serveVersion(cfg, s.errs))

	if cfg.metrics {
		registerMetricsHandler(cfg, s.metrics, s.mux)
	}

	if cfg.profile {
		registerProfileHandlers(cfg, s.mux)
	}

	return s, nil
}

func registerAuth(cfg *Config, p *auth.Provider, mux *httprouter.Router) {
	mux.HandlerFunc(http.MethodGet, cfg.prefix+"/auth/login", p.Login)
	mux.HandlerFunc(http.MethodGet, cfg.prefix+"/auth/callback", p.Callback)
	mux.HandlerFunc(http.MethodGet, cfg.prefix+"/auth/logout", p.Logout)
	mux.HandlerFunc(http.MethodGet, cfg.prefix+"/auth/session", p.SessionInfo)
}

// drainErrors logs write errors reported by handlers until ctx is done.
func (s *server) drainErrors(ctx context.Context, logger *zap.Logger) {
	for {
		select {
		case err := <-s.errs:
			logger.Debug("response write failed", zap.Error(err))
		case <-ctx.Done():
			return
		}
	}
}

// close waits for in-flight background writes, bounded by ctx, then stops
// the reapers.
func (s *server) close(ctx context.Context) error {
	err := s.tasks.WaitContext(ctx)

	s.visitors.Close()
	if s.auth != nil {
		s.auth.Close()
	}

	return err
}

func ServePage(ctx context.Context, cfg *Config, args []string) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	logf(cfg, "START: dungeonhonor v%s", releaseVersion)

	openCtx, cancelOpen := context.WithTimeout(ctx, timeout)
	st, err := store.Open(openCtx, cfg.store, cfg.logger)
	cancelOpen()
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			cfg.logger.Warn("closing store", zap.Error(err))
		}
	}()

	s, err := newServer(cfg, st)
	if err != nil {
		return err
	}

	go s.drainErrors(ctx, cfg.logger)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           s.mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	go func() {
		var err error
		logf(cfg, "SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			cfg.logger.Error("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if err := s.close(shutdownCtx); err != nil {
		cfg.logger.Warn("background writes still running at shutdown", zap.Error(err))
	}

	logf(cfg, "STOP: dungeonhonor v%s", releaseVersion)

	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/emaalouf/HIS-sub006/internal/config"
	"github.com/emaalouf/HIS-sub006/internal/domain/catalog"
	"github.com/emaalouf/HIS-sub006/internal/domain/identity"
	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/db"
	"github.com/emaalouf/HIS-sub006/internal/platform/middleware"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/refcheck"
	"github.com/emaalouf/HIS-sub006/internal/platform/resource"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
	"github.com/emaalouf/HIS-sub006/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "his-server",
		Short: "Hospital information system API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(schemaCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the route policy table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := catalog.New(nil)
			if err := cat.Validate(); err != nil {
				return err
			}
			printRoutes(cmd.OutOrStdout(), cat.Policies())
			return nil
		},
	}
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the DDL of every table",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("dialect")
			dialect, ok := store.DialectByName(name)
			if !ok {
				return fmt.Errorf("unknown dialect %q", name)
			}
			for _, stmt := range store.DDL(dialect, catalog.New(nil).Descriptors()...) {
				fmt.Fprintln(cmd.OutOrStdout(), stmt+";")
			}
			return nil
		},
	}
	cmd.Flags().String("dialect", "postgres", "SQL dialect: postgres or sqlite")
	return cmd
}

func printRoutes(w io.Writer, table auth.PolicyTable) {
	rows := append(auth.PolicyTable(nil), table...)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Path != rows[j].Path {
			return rows[i].Path < rows[j].Path
		}
		return rows[i].Method < rows[j].Method
	})
	for _, p := range rows {
		roles := "any authenticated"
		if len(p.Roles) > 0 {
			names := make([]string, len(p.Roles))
			for i, r := range p.Roles {
				names[i] = string(r)
			}
			roles = strings.Join(names, ",")
		}
		fmt.Fprintf(w, "%-7s %-55s %s\n", p.Method, p.Path, roles)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).Level(cfg.Level()).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(cfg.Level()).With().Timestamp().Logger()
	}
	return logger
}

// backend is an opened store with what the server needs around it.
type backend struct {
	store  store.Store
	health db.Pinger
	opts   []resource.Option
	close  func()
}

func openBackend(ctx context.Context, cfg *config.Config, descriptors []*query.Descriptor) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, err
		}
		pg := store.NewPG(pool)
		if err := pg.Bootstrap(ctx, descriptors...); err != nil {
			pool.Close()
			return nil, err
		}
		tx := resource.WithTx(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		})
		return &backend{store: pg, health: pool, opts: []resource.Option{tx}, close: pool.Close}, nil
	case config.DriverSQLite:
		s, err := store.OpenSQLite(ctx, cfg.SQLitePath, descriptors...)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, health: s, close: func() { _ = s.Close() }}, nil
	case config.DriverMemory:
		m := store.NewMemory()
		m.Register(descriptors...)
		return &backend{store: m, health: m, close: func() {}}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func newProvider(ctx context.Context, cfg *config.Config, st store.Store, revoked *auth.RevocationList) (auth.IdentityProvider, error) {
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthJWTSecret != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthJWTSecret)
	}
	verifiable := len(jwtCfg.SigningKey) > 0 || jwtCfg.JWKSURL != "" || jwtCfg.Issuer != ""

	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		if !verifiable {
			return auth.DevProvider{}, nil
		}
		next, err := auth.NewJWTProvider(ctx, jwtCfg, identity.NewUserStore(st), revoked)
		if err != nil {
			return nil, err
		}
		return auth.DevProvider{Next: next}, nil
	}
	p, err := auth.NewJWTProvider(ctx, jwtCfg, identity.NewUserStore(st), revoked)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// server holds the wired dependencies of one HTTP server.
type server struct {
	cfg      *config.Config
	logger   zerolog.Logger
	catalog  *catalog.Catalog
	backend  *backend
	gate     *auth.Gate
	metrics  *telemetry.Metrics
	revoked  *auth.RevocationList
	services []*resource.Service
}

func newServer(cfg *config.Config, logger zerolog.Logger, cat *catalog.Catalog, be *backend, provider auth.IdentityProvider, revoked *auth.RevocationList) *server {
	s := &server{
		cfg:     cfg,
		logger:  logger,
		catalog: cat,
		backend: be,
		gate:    auth.NewGate(provider),
		revoked: revoked,
	}
	refs := refcheck.New(be.store)
	opts := append([]resource.Option(nil), be.opts...)
	if cfg.MetricsEnabled {
		s.metrics = telemetry.New()
		refs.Observe = s.metrics.ObserveReference
		opts = append(opts, resource.WithObserver(s.metrics))
	}
	s.services = cat.Services(be.store, refs, opts...)
	return s
}

func (s *server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(s.logger)

	e.Use(middleware.Recovery(s.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(s.logger))
	e.Use(middleware.SecurityHeaders(s.cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: s.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.RequestTimeout(s.cfg.RequestTimeout))
	if s.metrics != nil {
		e.Use(s.metrics.Middleware())
		e.GET("/metrics", s.metrics.Handler())
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(s.backend.health, s.cfg.StoreDriver))

	rl := middleware.DefaultRateLimitConfig()
	if s.cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = s.cfg.RateLimitRPS
	}
	if s.cfg.RateLimitBurst > 0 {
		rl.Burst = s.cfg.RateLimitBurst
	}
	// The limiter runs before the gate so failed authentication is throttled
	// too; callers are keyed by client IP.
	api := e.Group(resource.APIPrefix, middleware.RateLimit(rl), s.gate.Middleware())
	s.catalog.RegisterRoutes(api, s.services)
	s.catalog.OpenAPI(version, "http://localhost:"+s.cfg.Port).RegisterRoutes(api)
	auth.RegisterRevocationRoutes(api, s.revoked)
	return e
}

func runServer(cfg *config.Config) error {
	logger := newLogger(cfg)
	ctx := logger.WithContext(context.Background())

	if err := catalog.New(nil).Validate(); err != nil {
		return err
	}
	be, err := openBackend(ctx, cfg, catalog.New(nil).Descriptors())
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
		return err
	}
	defer be.close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("store ready")
	cat := catalog.New(be.store)

	revoked := auth.NewRevocationList()
	revoked.Start(time.Minute)
	defer revoked.Close()

	provider, err := newProvider(ctx, cfg, be.store, revoked)
	if err != nil {
		logger.Error().Err(err).Msg("failed to configure authentication")
		return err
	}
	logger.Info().Str("auth_mode", cfg.ResolvedAuthMode()).Msg("authentication configured")

	e := newServer(cfg, logger, cat, be, provider, revoked).router()

	srvErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-srvErr:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

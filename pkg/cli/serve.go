package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/peek/internal/demo"
	"github.com/getmockd/peek/pkg/cacheinst"
	"github.com/getmockd/peek/pkg/config"
	"github.com/getmockd/peek/pkg/inspector"
	"github.com/getmockd/peek/pkg/logging"
	"github.com/getmockd/peek/pkg/persist"
	"github.com/getmockd/peek/pkg/wsinst"
)

const shutdownTimeout = 10 * time.Second

// serveFlags holds the serve command's flag values.
type serveFlags struct {
	addr       string
	configFile string
	redis      string
	postgres   string
	token      string
	basePath   string
	logLevel   string
	logFormat  string
}

func newServeCmd() *cobra.Command {
	cmd, _ := buildServeCmd()
	return cmd
}

// buildServeCmd returns the serve command and the flag values it binds.
func buildServeCmd() (*cobra.Command, *serveFlags) {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo application with the inspector mounted",
		Example: `  # Start with defaults on :8080, dashboard at http://localhost:8080/__peek
  peek serve

  # Use Redis for the demo cache and Postgres for persistence
  peek serve --redis redis://localhost:6379/0 --postgres postgres://localhost/peek?sslmode=disable

  # Require a token on the inspector API
  peek serve --token s3cret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := resolveOptions(cmd, f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&f.addr, "addr", config.DefaultAddr, "Listen address")
	cmd.Flags().StringVarP(&f.configFile, "config", "c", "", "Path to a YAML configuration file")
	cmd.Flags().StringVar(&f.redis, "redis", "", "Redis URL for the demo cache (default: in-memory)")
	cmd.Flags().StringVar(&f.postgres, "postgres", "", "Postgres DSN for record persistence (default: in-memory)")
	cmd.Flags().StringVar(&f.token, "token", "", "Token required on inspector routes")
	cmd.Flags().StringVar(&f.basePath, "base-path", "", "Inspector route prefix (default /__peek)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&f.logFormat, "log-format", config.DefaultLogFormat, "Log format (text, json)")
	return cmd, f
}

// resolveOptions layers defaults, the config file, PEEK_* variables and
// explicitly set flags, in that order.
func resolveOptions(cmd *cobra.Command, f *serveFlags) (*config.Options, error) {
	opts, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}
	if invalid := opts.ApplyEnv(); len(invalid) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: ignoring invalid environment values: %v\n", invalid)
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		opts.Addr = f.addr
	}
	if flags.Changed("redis") {
		opts.Redis = f.redis
	}
	if flags.Changed("postgres") {
		opts.Postgres = f.postgres
	}
	if flags.Changed("token") {
		opts.Token = f.token
	}
	if flags.Changed("base-path") {
		opts.BasePath = f.basePath
	}
	if flags.Changed("log-level") {
		opts.Log.Level = f.logLevel
	}
	if flags.Changed("log-format") {
		opts.Log.Format = f.logFormat
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func runServe(ctx context.Context, opts *config.Options, cmd *cobra.Command) error {
	logCfg := opts.LoggingConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logger := logging.New(logCfg)

	backend, closeBackend, err := openPersistence(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	in, err := inspector.New(opts,
		inspector.WithLogger(logger),
		inspector.WithPersistence(backend),
	)
	if err != nil {
		return err
	}
	defer in.Close()

	cache, closeCache := openCache(ctx, opts, in, logger)
	defer closeCache()

	app := demo.New(cache, in.Recorder(), logger)
	installed := wsinst.Defer(ctx, opts.WSSetupDelay,
		func() (*wsinst.Bus, bool) { return app.Events(), app.Events() != nil },
		func(bus *wsinst.Bus) {
			connID := in.Recorder().Connect("", "", "events")
			app.SetEmitter(in.Recorder().InstrumentEmitter(bus, connID))
		},
		logger,
	)
	go func() {
		if <-installed {
			logger.Debug("event bus instrumented")
		}
	}()
	go in.Run(ctx)

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           in.Wrap(app.Router()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", opts.Addr, "dashboard", opts.BasePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openPersistence returns the Postgres backend when a DSN is configured
// and an in-memory one otherwise.
func openPersistence(ctx context.Context, opts *config.Options, logger *slog.Logger) (persist.Backend, func(), error) {
	if opts.Postgres == "" {
		return persist.NewMemory(opts.PersistTTL), func() {}, nil
	}
	pg, err := persist.OpenPostgres(ctx, opts.Postgres, persist.PostgresOptions{TTL: opts.PersistTTL})
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	logger.Info("persistence enabled", "backend", "postgres")
	return pg, func() { _ = pg.Close() }, nil
}

// openCache connects the demo cache. A Redis client gets the capture hook;
// the in-memory cache is wrapped instead. An unreachable Redis falls back
// to memory.
func openCache(ctx context.Context, opts *config.Options, in *inspector.Inspector, logger *slog.Logger) (cacheinst.CacheClient, func()) {
	if opts.Redis != "" {
		client, err := cacheinst.NewRedisClient(ctx, opts.Redis)
		if err == nil {
			in.SetCacheClient(client)
			logger.Info("cache enabled", "backend", "redis")
			return cacheinst.NewRedisCache(client), func() { _ = client.Close() }
		}
		logger.Warn("redis unavailable, using in-memory cache", "error", err)
	}
	return in.InstrumentCache(cacheinst.NewMemoryCache()), func() {}
}

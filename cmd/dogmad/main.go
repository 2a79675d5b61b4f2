// Command dogmad runs the Central Dogma engine behind the v1 HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	v1 "github.com/dogmahq/dogma/api/v1"
	"github.com/dogmahq/dogma/internal/applier"
	"github.com/dogmahq/dogma/internal/objectstore/encrypted"
	objectstorepg "github.com/dogmahq/dogma/internal/objectstore/postgres"
	"github.com/dogmahq/dogma/internal/resultcache"
	"github.com/dogmahq/dogma/internal/revindex"
	"github.com/dogmahq/dogma/internal/watch"
	"github.com/dogmahq/dogma/pkg/ctxlock"
	"github.com/dogmahq/dogma/registry"
	toolkitlog "github.com/dogmahq/dogma/toolkit/log"
)

// Config holds dogmad's runtime settings. Every field is flag- and
// env-configurable, env taking precedence when both are given a non-default
// value by the caller: flags are parsed first and then overridden by any
// matching DOGMAD_* variable that's set.
type Config struct {
	HTTPListenAddr  string
	ConnString      string
	LogLevel        string
	Migrations      bool
	Encrypt         bool
	ApplierMaxCost  int64
	ResultCacheCost int64
}

func parseConfig() Config {
	conf := Config{}
	flag.StringVar(&conf.HTTPListenAddr, "http-listen-addr", "0.0.0.0:8080", "address the HTTP API listens on")
	flag.StringVar(&conf.ConnString, "conn-string", "host=localhost port=5432 user=dogma dbname=dogma sslmode=disable", "Postgres connection string")
	flag.StringVar(&conf.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.BoolVar(&conf.Migrations, "migrations", true, "run schema migrations on startup")
	flag.BoolVar(&conf.Encrypt, "encrypt", false, "encrypt object store content at rest with a generated, in-memory key")
	flag.Int64Var(&conf.ApplierMaxCost, "applier-max-cost", 64<<20, "token-cost budget for the in-flight command applier")
	flag.Int64Var(&conf.ResultCacheCost, "result-cache-cost", 64<<20, "byte budget for the query result cache")
	flag.Parse()

	if v, ok := os.LookupEnv("DOGMAD_HTTP_LISTEN_ADDR"); ok {
		conf.HTTPListenAddr = v
	}
	if v, ok := os.LookupEnv("DOGMAD_CONN_STRING"); ok {
		conf.ConnString = v
	}
	if v, ok := os.LookupEnv("DOGMAD_LOG_LEVEL"); ok {
		conf.LogLevel = v
	}
	if v, ok := os.LookupEnv("DOGMAD_MIGRATIONS"); ok {
		conf.Migrations = v != "false" && v != "0"
	}
	if v, ok := os.LookupEnv("DOGMAD_ENCRYPT"); ok {
		conf.Encrypt = v != "false" && v != "0"
	}
	if v, ok := os.LookupEnv("DOGMAD_APPLIER_MAX_COST"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			conf.ApplierMaxCost = n
		}
	}
	if v, ok := os.LookupEnv("DOGMAD_RESULT_CACHE_COST"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			conf.ResultCacheCost = n
		}
	}
	return conf
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err == nil {
		return l
	}
	return slog.LevelInfo
}

func main() {
	conf := parseConfig()

	handler := toolkitlog.WrapHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(conf.LogLevel)}))
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, logger); err != nil {
		logger.Error("dogmad exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, conf Config, logger *slog.Logger) error {
	if conf.Migrations {
		logger.Info("running schema migrations")
		if err := objectstorepg.Migrate(conf.ConnString); err != nil {
			return fmt.Errorf("object store migration: %w", err)
		}
		if err := revindex.Migrate(conf.ConnString); err != nil {
			return fmt.Errorf("revision index migration: %w", err)
		}
		if err := registry.Migrate(conf.ConnString); err != nil {
			return fmt.Errorf("registry migration: %w", err)
		}
	}

	pool, err := objectstorepg.Connect(ctx, conf.ConnString, "dogmad")
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	locker, err := buildLocker(ctx, pool)
	if err != nil {
		return fmt.Errorf("build lock: %w", err)
	}
	defer locker.Close(context.Background())

	var keys registry.KeyManager
	if conf.Encrypt {
		keys, err = encrypted.NewStaticKeyManager()
		if err != nil {
			return fmt.Errorf("build key manager: %w", err)
		}
		logger.Warn("object store encryption enabled with an in-memory generated key; keys do not survive a restart")
	}

	watcher := watch.NewManager()
	defer watcher.Close()

	resultCache, err := resultcache.New(conf.ResultCacheCost)
	if err != nil {
		return fmt.Errorf("build result cache: %w", err)
	}

	reg := registry.New(registry.Config{
		Pool:        pool,
		Lock:        locker,
		Keys:        keys,
		Notifier:    watcher,
		Invalidator: resultCache,
	})

	app, err := applier.New(conf.ApplierMaxCost)
	if err != nil {
		return fmt.Errorf("build command applier: %w", err)
	}
	defer app.Close()

	api := v1.NewHandler("/api/v1", reg, watcher, app)

	srv := &http.Server{
		Addr:    conf.HTTPListenAddr,
		Handler: api,
		BaseContext: func(_ net.Listener) context.Context {
			return toolkitlog.With(ctx, "component", "dogmad")
		},
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", conf.HTTPListenAddr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
		// Close the watch manager before asking the server to drain: a
		// parked long-poll request only returns once its subscription
		// resolves, and Shutdown would otherwise wait on it forever.
		watcher.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// buildLocker prefers the real Postgres advisory-lock-backed ctxlock.Locker;
// it only fails if the pool can't validate its connection, which Connect
// already would have caught, so this is here for the error path more than
// any expected failure.
func buildLocker(ctx context.Context, pool *pgxpool.Pool) (*ctxlock.Locker, error) {
	return ctxlock.New(ctx, pool)
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	conf "github.com/bartek5186/catalogsync/internal/config"
	"github.com/bartek5186/catalogsync/internal/db"
	logs "github.com/bartek5186/catalogsync/internal/logs"
	"github.com/bartek5186/catalogsync/internal/metrics"
	"github.com/bartek5186/catalogsync/internal/telemetry"
)

// overridable with -ldflags "-X 'main.ver=1.0.1'"
var ver = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	appDir := mustAppDataDir("catalogsync")

	cfgPath := configPath(appDir)
	cfg, firstRun, err := conf.LoadOrCreate(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	logPath := filepath.Join(appDir, "app.log")
	log, logFile, err := logs.New(logPath, cfg.LogConsole, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logs:", err)
		return 1
	}
	defer logFile.Close()
	if firstRun {
		log.Info().Str("path", cfgPath).Msg("default config written")
	}

	dbh, err := openDB(appDir, cfg.Database)
	if err != nil {
		log.Error().Err(err).Msg("DB open error")
		return 1
	}
	defer dbh.Close()
	if err := dbh.Migrate(); err != nil {
		log.Error().Err(err).Msg("DB migrate error")
		return 1
	}
	log.Info().Str("driver", dbh.Driver).Msg("DB ready")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Telemetry != nil {
		shutdown, err := telemetry.Setup(ctx, *cfg.Telemetry)
		if err != nil {
			log.Error().Err(err).Msg("telemetry setup failed")
			return 1
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("telemetry shutdown")
			}
		}()
	}

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(log, cfg.MetricsAddr)
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	a := newApp(log, cfg, dbh, newLimiter(cfg.Square.RateLimitPerSecond))
	a.paths = map[string]string{
		"logs":     logPath,
		"config":   cfgPath,
		"database": dbh.Path,
	}

	// one-shot: catalogsync <command> [args]
	if len(os.Args) > 1 {
		out, err := a.exec(ctx, os.Args[1:])
		printJSON(out)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		return 0
	}

	fmt.Println("catalogsync CLI", ver)
	fmt.Println("Commands:", usage)
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return 0
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		switch strings.ToLower(args[0]) {
		case "quit", "exit":
			return 0
		}

		out, err := a.exec(ctx, args)
		if errors.Is(err, errUsage) {
			fmt.Println(err)
			continue
		}
		if out != nil {
			printJSON(out)
		}
		if err != nil {
			fmt.Println("error:", err)
		}
		if ctx.Err() != nil {
			return 0
		}
	}
}

func configPath(appDir string) string {
	for _, name := range []string{"config.yaml", "config.yml"} {
		p := filepath.Join(appDir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(appDir, "config.json")
}

func openDB(appDir string, cfg conf.DatabaseConfig) (*db.Handle, error) {
	if cfg.DSN == "" {
		if cfg.Driver == db.DriverSQLitePure {
			return db.Open(db.DriverSQLitePure, filepath.Join(appDir, "catalogsync.db"))
		}
		return db.OpenAt(appDir)
	}
	return db.Open(cfg.Driver, cfg.DSN)
}

// newLimiter allows short bursts up to one second worth of requests.
func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func serveMetrics(log zerolog.Logger, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics listener stopped")
		}
	}()
	return srv
}

func mustAppDataDir(name string) string {
	if p := os.Getenv("CATALOGSYNC_HOME"); p != "" {
		_ = os.MkdirAll(p, 0o755)
		return p
	}
	base, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	p := filepath.Join(base, name)
	_ = os.MkdirAll(p, 0o755)
	return p
}

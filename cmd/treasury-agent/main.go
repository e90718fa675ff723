package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/autowealth/treasury-agent/internal/agent"
	"github.com/autowealth/treasury-agent/internal/auditlog"
	"github.com/autowealth/treasury-agent/internal/backend"
	"github.com/autowealth/treasury-agent/internal/config"
	"github.com/autowealth/treasury-agent/internal/httpapi"
	"github.com/autowealth/treasury-agent/internal/policy"
	"github.com/autowealth/treasury-agent/internal/store"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runCmd(os.Args[2:])
	case "version":
		fmt.Printf("treasury-agent %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `treasury-agent

Usage:
  treasury-agent run [flags]
  treasury-agent version

Commands:
  run         Run the conversational treasury agent HTTP service.
  version     Print build information.

`)
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "treasury-agent.yaml", "Config file path")
	_ = fs.Parse(args)

	cfg, err := config.Load(filepath.Clean(*cfgPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("failed to open store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	var audit *auditlog.Store
	if strings.TrimSpace(cfg.AuditDir) != "" {
		audit, err = auditlog.New(auditlog.Options{Logger: log, Dir: cfg.AuditDir})
		if err != nil {
			log.Error("failed to open audit log", "dir", cfg.AuditDir, "error", err)
			os.Exit(1)
		}
	}

	be, err := backend.New(backend.Options{
		Logger:  log,
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout(),
	})
	if err != nil {
		log.Error("failed to init backend client", "error", err)
		os.Exit(1)
	}

	var observer policy.Observer
	if audit != nil {
		observer = audit
	}
	validator := policy.NewValidator(policy.ValidatorOptions{
		Logger:   log,
		Store:    st,
		Observer: observer,
	})

	registry := agent.NewRegistry(agent.RegistryOptions{
		Logger:    log,
		Backend:   be,
		Store:     st,
		Validator: validator,
		Audit:     audit,
	})

	provider, err := agent.NewGeminiProvider(ctx, cfg.GoogleAIAPIKey)
	if err != nil {
		log.Error("failed to init gemini client", "error", err)
		os.Exit(1)
	}
	if provider == nil {
		log.Warn("GOOGLE_AI_API_KEY not set; model-backed endpoints will return errors")
	}

	svc, err := agent.NewService(agent.ServiceOptions{
		Logger:       log,
		Provider:     provider,
		Store:        st,
		Registry:     registry,
		DefaultModel: cfg.Model,
		MaxToolSteps: cfg.MaxToolSteps,
	})
	if err != nil {
		log.Error("failed to init agent service", "error", err)
		os.Exit(1)
	}

	handler, err := httpapi.New(httpapi.Options{
		Logger:       log,
		Service:      svc,
		Store:        st,
		DefaultModel: cfg.Model,
	})
	if err != nil {
		log.Error("failed to init http handler", "error", err)
		os.Exit(1)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	if len(cfg.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		}))
	}
	handler.Register(e)

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info("treasury-agent listening", "addr", addr, "model", cfg.Model, "backend_url", cfg.BackendURL)
	if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(format string, level string) (*slog.Logger, error) {
	var h slog.Handler

	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		h = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	return slog.New(h), nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	mozlog "github.com/mozilla-services/go-mozlogrus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/realtime-relay/relay/internal/admin"
	"github.com/realtime-relay/relay/internal/config"
	"github.com/realtime-relay/relay/internal/metrics"
	"github.com/realtime-relay/relay/internal/monitor"
	"github.com/realtime-relay/relay/internal/realtime"
	"github.com/realtime-relay/relay/internal/session"
	"github.com/realtime-relay/relay/internal/ws"
)

type options struct {
	configPath string
	host       string
	port       int
	adminAddr  string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "WebSocket relay for the OpenAI realtime API",
		Long:          "Accepts browser WebSocket connections and pairs each one with an authenticated upstream realtime session.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file (optional)")
	flags.StringVar(&opts.host, "host", "", "bind address for browser connections")
	flags.IntVarP(&opts.port, "port", "p", 0, "port for browser connections")
	flags.StringVar(&opts.adminAddr, "admin-addr", "", "listen address for /metrics, /sessions and /healthz")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newProbeCmd())
	return cmd
}

// loadConfig applies, in rising precedence, defaults, the config file, the
// environment (.env included) and command-line flags.
func loadConfig(cmd *cobra.Command, opts options) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = opts.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("admin-addr") {
		cfg.Admin.Addr = opts.adminAddr
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) (*log.Logger, error) {
	logger := log.New()

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	case "mozlog":
		logger.SetFormatter(&mozlog.MozLogFormatter{
			LoggerName: "realtime-relay",
		})
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	return logger, nil
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	registry := session.NewRegistry()
	health := monitor.NewHealth(cfg.Admin.FailureThreshold)
	collector := metrics.NewCollector()

	server := ws.NewServer(cfg.Server, registry,
		realtime.NewDialer(cfg.Upstream, logger),
		ws.WithRecorder(collector),
		ws.WithHealth(health),
		ws.WithLogger(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	if cfg.Admin.Addr != "" {
		adm := admin.NewServer(registry, health, collector.Handler(), logger)
		g.Go(func() error {
			return adm.ListenAndServe(gctx, cfg.Admin.Addr)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Relay stopped")
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("relay: %v", err)
	}
}

// Command astm-capture runs the Responder-side capture service: it listens
// for analyzer TCP connections, drives an E1381 session on each, and appends
// every assembled message to a capture file.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/labwire/go-astm/capture"
	"github.com/labwire/go-astm/e1381"
	"github.com/labwire/go-astm/internal/cliconfig"
	"github.com/labwire/go-astm/logger"
)

var exampleUsage = `  astm-capture --listen :5000 --capture /var/log/astm/analyzer.astm
  astm-capture --config /etc/astm-capture/config.toml --metrics-addr :9090
  astm-capture --listen :5000 --reply query_ack.astm --debug`

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}

	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()

	var cfgPath string

	root := &cobra.Command{
		Use:     "astm-capture",
		Short:   "Capture ASTM E1381 analyzer transmissions to a file",
		Example: exampleUsage,
		Version: getVersion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			return run(cmd.Context(), cfg)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: ~/.astm-capture/config.toml)")
	root.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP address to listen on for analyzer connections")
	root.Flags().StringVar(&cfg.CaptureFile, "capture", cfg.CaptureFile, "append captured messages to this file (default: stdout)")
	root.Flags().StringVar(&cfg.ReplyFile, "reply", cfg.ReplyFile, "send this logical message back after each complete capture")
	root.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "expose Prometheus metrics on this address (default: disabled)")
	root.Flags().DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "per-read deadline within a session")
	root.Flags().DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "close a session after this long with no traffic")
	root.Flags().IntVar(&cfg.MaxFrameLength, "max-frame-length", cfg.MaxFrameLength, "reject frames longer than this many bytes")
	root.Flags().IntVar(&cfg.SendRetryLimit, "retry", cfg.SendRetryLimit, "retransmissions per NAKed reply frame (0 treats NAK as fatal)")
	root.Flags().BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("astm-capture failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg cliconfig.Config) error {
	if cfg.Debug {
		logger.SetLevel(logger.DebugLevel)
	}

	log := logger.GetLogger()

	sink, err := buildSink(cfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	opts := []capture.Option{
		capture.WithSink(sink),
		capture.WithLogger(log),
		capture.WithSessionOptions(
			e1381.WithReadTimeout(cfg.ReadTimeout),
			e1381.WithIdleTimeout(cfg.IdleTimeout),
			e1381.WithMaxFrameLength(cfg.MaxFrameLength),
			e1381.WithSendRetryLimit(cfg.SendRetryLimit),
		),
	}

	if cfg.ReplyFile != "" {
		reply, err := os.ReadFile(cfg.ReplyFile)
		if err != nil {
			return fmt.Errorf("read reply file: %w", err)
		}

		opts = append(opts, capture.WithReply(
			func(string, *e1381.AssembledMessage) []byte { return reply }))
	}

	var reg *prometheus.Registry
	if cfg.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, capture.WithMetricsRegistry(reg))
	}

	srv, err := capture.NewServer(cfg.ListenAddr, opts...)
	if err != nil {
		return err
	}

	if reg != nil {
		go serveMetrics(log, cfg.MetricsAddr, reg)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, capture.ErrServerClosed) {
			return err
		}

		return nil
	}

	if err := srv.Close(); err != nil {
		return err
	}

	if err := <-errCh; err != nil && !errors.Is(err, capture.ErrServerClosed) {
		return err
	}

	return nil
}

func buildSink(cfg cliconfig.Config) (capture.Sink, error) {
	if cfg.CaptureFile == "" {
		return capture.NewWriterSink(os.Stdout), nil
	}

	sink, err := capture.NewFileSink(cfg.CaptureFile)
	if err != nil {
		return nil, err
	}

	return sink, nil
}

func serveMetrics(log logger.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("metrics server listening", "address", addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server failed", "error", err)
	}
}

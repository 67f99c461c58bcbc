// Package main provides the tessera command.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jobrunner/tessera/internal/app"
	"github.com/jobrunner/tessera/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tessera",
	Short: "Raster imagery engine for GeoPackage tile pyramids",
	Long: `Tessera catalogs the tile sets of GeoPackage archives, keeps the
datasets and pyramid levels that fit a map view ready to draw, and stitches
polygon captures into georeferenced PNG or TIFF images.

Archives are read from a local directory, AWS S3 or Azure blob storage.
Running tessera without a subcommand starts the server.`,
	SilenceUsage: true,
	RunE:         runServer,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API",
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "tessera %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n  built:  %s\n", commit, buildDate)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		config.Defaults()
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		}
	})

	global := rootCmd.PersistentFlags()
	global.StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	global.String("log-level", "info", "debug, info, warn or error")
	global.String("log-format", "json", "json or text")
	global.String("storage-type", "local", "archive storage: local, s3 or azure")
	global.String("storage-path", "./data", "local archive directory")
	global.String("catalog", "./data/catalog.db", "dataset catalog database")
	bindFlags(global, map[string]string{
		"log-level":    "logging.level",
		"log-format":   "logging.format",
		"storage-type": "storage.type",
		"storage-path": "storage.local_path",
		"catalog":      "catalog.path",
	})

	// The root command serves too, so it shares the serve flags.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		addServeFlags(cmd.Flags())
	}
	bindFlags(serveCmd.Flags(), serveFlagKeys)

	rootCmd.AddCommand(serveCmd, versionCmd, captureCmd, datasetsCmd)
}

var serveFlagKeys = map[string]string{
	"host":            "server.host",
	"port":            "server.port",
	"cors":            "server.cors.allowed_origins",
	"tls":             "tls.enabled",
	"tls-domains":     "tls.domains",
	"tls-email":       "tls.email",
	"sync-interval":   "sync.interval",
	"selection-limit": "imagery.selection_limit",
}

func addServeFlags(fs *pflag.FlagSet) {
	fs.String("host", "0.0.0.0", "listen host")
	fs.Int("port", 8080, "listen port")
	fs.StringSlice("cors", nil, "allowed CORS origins, e.g. https://example.com,*.example.org")
	fs.Bool("tls", false, "serve HTTPS with ACME certificates")
	fs.StringSlice("tls-domains", nil, "certificate domains")
	fs.String("tls-email", "", "ACME account email")
	fs.Duration("sync-interval", 0, "storage sync period, 0 disables")
	fs.Int("selection-limit", 0, "datasets drawn per view, 0 means unlimited")
}

func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		_ = viper.BindPFlag(key, fs.Lookup(name))
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	// Flags given on the root command take precedence over serve's copies.
	if !cmd.HasParent() {
		bindFlags(cmd.Flags(), serveFlagKeys)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(os.Stdout, cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting tessera",
		"version", version,
		"address", cfg.Server.Address(),
		"storage_type", cfg.Storage.Type,
		"catalog", cfg.Catalog.Path,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	failed := make(chan error, 1)
	go func() {
		if err := a.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-failed:
		logger.Error("server failed", "error", err)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		return err
	}

	logger.Info("stopped")
	return nil
}

// loadOffline builds the application for a one-shot command. Listeners,
// watching and periodic sync are off; archives in storage are cataloged
// before it returns.
func loadOffline(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg.Metrics.Enabled = false
	cfg.TLS.Enabled = false
	cfg.Sync.Watch = false
	cfg.Sync.Interval = 0

	// stdout carries the command's output
	logger := newLogger(os.Stderr, cfg.Logging)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	if err := a.Registry.LoadAll(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("loading archives: %w", err)
	}
	return a, nil
}

func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/quicksettings/internal/api"
	"github.com/kalambet/quicksettings/internal/config"
	"github.com/kalambet/quicksettings/internal/eventloop"
	"github.com/kalambet/quicksettings/internal/host"
	"github.com/kalambet/quicksettings/internal/observer"
	"github.com/kalambet/quicksettings/internal/retention"
	"github.com/kalambet/quicksettings/internal/settings"
	"github.com/kalambet/quicksettings/internal/storage"
	"github.com/kalambet/quicksettings/internal/tray"
)

const shutdownTimeout = 5 * time.Second

var serveMCP bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the qsettings daemon (foreground)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(serveMCP)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show qsettings daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "also serve MCP tools over stdio")
}

func setupLogging(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

func newLauncher(cfg config.Config, logger *slog.Logger) host.ActivityLauncher {
	if cfg.Host.ActivityURL != "" {
		return host.NewWebhookLauncher(cfg.Host.ActivityURL)
	}
	return host.LogLauncher{Logger: logger}
}

// seedDefaults writes the defaults file into the store. Keys already set are
// kept unless SeedOverwrite is on.
func seedDefaults(ctx context.Context, svc *settings.Service, cfg config.Config, logger *slog.Logger) error {
	path := cfg.DefaultsPath()
	defaults, err := settings.LoadDefaultsFile(path)
	if err != nil {
		return fmt.Errorf("loading defaults %s: %w", path, err)
	}
	if len(defaults) == 0 {
		return nil
	}
	written, err := svc.Seed(ctx, defaults, cfg.Settings.SeedOverwrite)
	if err != nil {
		return fmt.Errorf("seeding defaults: %w", err)
	}
	logger.Info("seeded defaults", "file", path, "keys", len(defaults), "written", len(written))
	return nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "qsettings version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	svc := settings.NewService(
		settings.NewSQLiteBackend(store),
		settings.WithReadOnly(cfg.Settings.ReadOnly...),
		settings.WithLogger(logger),
	)
	defer svc.Close()

	if err := seedDefaults(ctx, svc, cfg, logger); err != nil {
		return err
	}

	loop := eventloop.New()
	obs := observer.New(svc, loop, observer.WithLogger(logger))
	tr := tray.New(tray.Deps{
		Observer:  obs,
		Scheduler: loop,
		Launcher:  newLauncher(cfg, logger),
		Cameras:   host.LEDCameras{Dir: cfg.Host.LEDsDir},
		Logger:    logger,
	}, tray.Options{
		DefaultItems: cfg.Tray.Items,
		Columns:      cfg.Tray.Columns,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := loop.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("event loop: %w", err)
		}
		return nil
	})

	if err := tr.Render(gctx); err != nil {
		stop()
		g.Wait()
		return fmt.Errorf("rendering tray: %w", err)
	}

	pruner := retention.NewWorker(store, cfg.Storage.HistoryKeep, 0)
	g.Go(func() error {
		pruner.Run(gctx)
		return nil
	})

	handler := api.NewHandler(api.Deps{
		Settings: svc,
		Observer: obs,
		Tray:     tr,
		History:  store,
		Token:    cfg.Server.Token,
		Logger:   logger,
	})
	if cfg.Server.Token == "" {
		logger.Warn("no API token configured, HTTP API is unauthenticated", "env", "QSETTINGS_API_TOKEN")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		// Streams end when the daemon stops.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "qsettings listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{Observer: obs, Tray: tr}, version))
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		logger.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	c, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := c.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if err == nil && resp.StatusCode == http.StatusOK {
		var snap tray.Snapshot
		if r, err := c.get(ctx, "/tray"); err == nil && decodeJSON(r, &snap) == nil {
			printStatus("Tray", "%d buttons in %d rows", len(snap.Buttons), snap.Rows)
		}
	}

	if cfg.Server.Token == "" {
		printStatus("Auth", "disabled")
	} else {
		printStatus("Auth", "bearer token")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Defaults", "%s", cfg.DefaultsPath())
	return nil
}

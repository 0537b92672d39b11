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
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/clawkpit/internal/agentcontent"
	"github.com/kalambet/clawkpit/internal/api"
	"github.com/kalambet/clawkpit/internal/auth"
	"github.com/kalambet/clawkpit/internal/board"
	"github.com/kalambet/clawkpit/internal/broadcast"
	"github.com/kalambet/clawkpit/internal/config"
	"github.com/kalambet/clawkpit/internal/pairing"
	"github.com/kalambet/clawkpit/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the clawkpit server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running clawkpit server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show clawkpit server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "clawkpit.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func listenAddr(cfg config.Config) string {
	return net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "clawkpit version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	addr := listenAddr(cfg)
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get("http://" + addr + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on %s", addr)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	authSvc := auth.NewService(store)
	hub := broadcast.NewHub(cfg.Broadcast.Shards)

	var relay *broadcast.RedisRelay
	if cfg.Broadcast.RedisURL != "" {
		relay, err = broadcast.NewRedisRelay(cfg.Broadcast.RedisURL, hub)
		if err != nil {
			return err
		}
		defer relay.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = relay.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("connecting to broadcast relay: %w", err)
		}
		hub.SetRelay(relay)
		slog.Info("broadcast relay enabled")
	}

	boardSvc := board.NewService(store, hub)
	ingestor := agentcontent.NewIngestor(store, boardSvc, hub)
	pairingSvc := pairing.NewService(store, authSvc, pairing.Config{
		CodeTTL:       cfg.Pairing.CodeTTL,
		ConfirmLimit:  cfg.Pairing.ConfirmLimit,
		ConfirmWindow: cfg.Pairing.ConfirmWindow,
		PollInterval:  cfg.Pairing.PollInterval,
	})
	janitor := pairing.NewJanitor(pairingSvc, 0).WithSessions(authSvc)

	deps := api.AppDeps{
		Auth:    authSvc,
		Board:   boardSvc,
		Content: ingestor,
		Pairing: pairingSvc,
		Hub:     hub,
	}
	if cfg.MCP.Enabled {
		deps.MCP = api.NewMCPHandler(api.NewMCPServer(api.MCPDeps{Board: boardSvc, Content: ingestor}, version))
		slog.Info("MCP server enabled", "path", "/mcp")
	}

	g, gctx := errgroup.WithContext(ctx)

	// Websocket connections are hijacked, so Shutdown does not wait for
	// them; they close when the base context ends.
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewAppHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return gctx
		},
	}

	g.Go(func() error {
		slog.Info("clawkpit listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		janitor.Run(gctx)
		return nil
	})
	if relay != nil {
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("broadcast relay: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("clawkpit is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop clawkpit (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to clawkpit (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    strings.TrimRight(cfg.Client.BaseURL, "/"),
		token:      cfg.Client.Token,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}

	running := false
	if resp, err := client.get(ctx, "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running at %s", client.baseURL)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	switch {
	case client.token == "":
		printStatus("Device", "not paired (run `clawkpit device login`)")
	case running:
		if me, err := fetchMe(ctx, client); err != nil {
			printStatus("Device", "credential rejected: %v", err)
		} else {
			printStatus("Device", "paired as %s", me.User.Email)
			if page, err := fetchItems(ctx, client, itemQuery{PageSize: 1}); err == nil {
				printStatus("Active items", "%d", page.Total)
			}
		}
	default:
		printStatus("Device", "paired")
	}

	if cfg.Broadcast.RedisURL != "" {
		printStatus("Relay", "redis")
	}
	printStatus("MCP", "%t", cfg.MCP.Enabled)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

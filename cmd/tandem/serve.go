package main

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

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/aretw0/tandem"
	redisadapter "github.com/aretw0/tandem/pkg/adapters/redis"
	"github.com/aretw0/tandem/pkg/presence"
	"github.com/aretw0/tandem/pkg/transport/ws"
)

var (
	serveListen      string
	serveFormat      string
	serveRedis       string
	serveRedisPrefix string
	servePresenceTTL time.Duration
	serveReadOnly    bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sync engine over websocket sessions and a REST API",
	Long: `Serve starts a collaboration server on top of the archive in the current
directory (or the nearest archive root above it). Clients join documents over
websocket at /ws/{document}?user={id}; one-shot operations are available under
/api. Document states are flushed back to the archive on shutdown.

With --redis, engine events are also forwarded to Redis pub/sub so other
processes can follow the same documents.`,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fatal("Failed to get CWD", err)
		}

		// Fall back to the CWD so a first run works in an empty directory.
		root, err := tandem.FindArchiveRoot(cwd)
		if err != nil {
			root = cwd
		}

		cfg, err := loadServeConfig(root)
		if err != nil {
			fatal("Failed to load config", err)
		}
		applyServeConfig(cmd, cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine, err := tandem.New(root,
			tandem.WithLogger(slog.Default()),
			tandem.WithFormat(serveFormat),
			tandem.WithReadOnly(serveReadOnly),
		)
		if err != nil {
			fatal("Failed to start engine", err)
		}

		server, err := ws.NewServer(ws.Config{
			Engine:   engine,
			Presence: presence.NewTracker(servePresenceTTL),
			Logger:   slog.Default(),
		})
		if err != nil {
			fatal("Failed to build server", err)
		}
		if err := server.Start(ctx); err != nil {
			fatal("Failed to start server", err)
		}

		var redisClient *goredis.Client
		if serveRedis != "" {
			redisClient = goredis.NewClient(&goredis.Options{Addr: serveRedis})
			publisher, err := redisadapter.NewPublisher(redisadapter.Config{
				Client:        redisClient,
				ChannelPrefix: serveRedisPrefix,
				Logger:        slog.Default(),
			})
			if err != nil {
				fatal("Failed to build redis publisher", err)
			}
			if err := tandem.Forward(ctx, engine, publisher, "**", tandem.WithLogger(slog.Default())); err != nil {
				fatal("Failed to forward events to redis", err)
			}
			slog.Info("forwarding engine events to redis", "addr", serveRedis)
		}

		httpServer := &http.Server{
			Addr:    serveListen,
			Handler: server,
		}

		go func() {
			slog.Info("tandem serving", "addr", serveListen, "archive", root)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fatal("Server failed", err)
			}
		}()

		<-ctx.Done()
		stop()
		fmt.Println("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Stop accepting sessions first, then flush live documents.
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
		if err := engine.Close(shutdownCtx); err != nil {
			slog.Error("engine close failed", "error", err)
		}
		if redisClient != nil {
			redisClient.Close()
		}
		fmt.Println("Archive flushed.")
	},
}

// applyServeConfig fills in flag values from tandem.yaml where the user did
// not set the flag explicitly.
func applyServeConfig(cmd *cobra.Command, cfg serveConfig) {
	flags := cmd.Flags()
	if cfg.Listen != "" && !flags.Changed("listen") {
		serveListen = cfg.Listen
	}
	if cfg.Format != "" && !flags.Changed("format") {
		serveFormat = cfg.Format
	}
	if cfg.Redis != "" && !flags.Changed("redis") {
		serveRedis = cfg.Redis
	}
	if cfg.RedisPrefix != "" && !flags.Changed("redis-prefix") {
		serveRedisPrefix = cfg.RedisPrefix
	}
	if cfg.PresenceTTL > 0 && !flags.Changed("presence-ttl") {
		servePresenceTTL = time.Duration(cfg.PresenceTTL)
	}
	if cfg.ReadOnly && !flags.Changed("read-only") {
		serveReadOnly = true
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", ":8080", "Address to listen on")
	serveCmd.Flags().StringVar(&serveFormat, "format", "json", "Archive serialization format (json, yaml, markdown)")
	serveCmd.Flags().StringVar(&serveRedis, "redis", "", "Redis address for cross-process event fan-out")
	serveCmd.Flags().StringVar(&serveRedisPrefix, "redis-prefix", "", "Redis channel prefix (defaults to tandem:events:)")
	serveCmd.Flags().DurationVar(&servePresenceTTL, "presence-ttl", presence.DefaultTTL, "How long a silent user stays listed as active")
	serveCmd.Flags().BoolVar(&serveReadOnly, "read-only", false, "Reject archive writes; documents stay editable in memory")
}

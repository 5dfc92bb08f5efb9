// Command pipelined runs the content pipeline daemon: the HTTP API, the job
// queue workers, and the audit coordinator, over a SQLite store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apexmarketing/contentpipeline/pipeline/audit"
	"github.com/apexmarketing/contentpipeline/pipeline/capability"
	"github.com/apexmarketing/contentpipeline/pipeline/completion"
	"github.com/apexmarketing/contentpipeline/pipeline/config"
	"github.com/apexmarketing/contentpipeline/pipeline/events"
	"github.com/apexmarketing/contentpipeline/pipeline/logging"
	"github.com/apexmarketing/contentpipeline/pipeline/notify"
	"github.com/apexmarketing/contentpipeline/pipeline/observability"
	"github.com/apexmarketing/contentpipeline/pipeline/queue"
	"github.com/apexmarketing/contentpipeline/pipeline/server"
	"github.com/apexmarketing/contentpipeline/pipeline/service"
	"github.com/apexmarketing/contentpipeline/pipeline/stages"
	"github.com/apexmarketing/contentpipeline/pipeline/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipelined",
		Short: "Content pipeline daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}

	cmd.Flags().String("listen", ":8080", "HTTP listen address")
	cmd.Flags().String("db", "pipeline.db", "SQLite database path")
	cmd.Flags().String("api-key", "", "completion API key")
	cmd.Flags().String("log-level", "INFO", "log level (DEBUG, INFO, WARN, ERROR)")
	cmd.Flags().Int("workers", 4, "queue worker count")
	cmd.Flags().String("otlp-endpoint", "", "OTLP trace collector endpoint (disabled when empty)")
	cmd.Flags().String("telegram-token", "", "Telegram bot token for notifications")
	cmd.Flags().String("telegram-chat", "", "Telegram chat id for notifications")

	viper.SetEnvPrefix("PIPELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, flag := range []string{"listen", "db", "api-key", "log-level", "workers", "otlp-endpoint", "telegram-token", "telegram-chat"} {
		_ = viper.BindPFlag(flag, cmd.Flags().Lookup(flag))
	}
	return cmd
}

func run(ctx context.Context) error {
	settings := config.DefaultSettings()
	settings.LogLevel = viper.GetString("log-level")
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	logger, err := logging.NewZapLogger(settings.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	apiKey := viper.GetString("api-key")
	if apiKey == "" {
		return errors.New("completion API key required (--api-key or PIPELINE_API_KEY)")
	}

	if endpoint := viper.GetString("otlp-endpoint"); endpoint != "" {
		shutdown, err := observability.InitTracer("contentpipeline", endpoint)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	db, err := store.OpenSQLite(viper.GetString("db"))
	if err != nil {
		return err
	}
	defer db.Close()

	completer := completion.NewRetryingService(
		completion.NewAnthropicClient(apiKey),
		settings.CompletionMaxAttempts,
		time.Duration(settings.CompletionBackoffMS)*time.Millisecond,
		logger,
	)

	registry, err := capability.NewRegistry(completer, settings, logger)
	if err != nil {
		return fmt.Errorf("init agent registry: %w", err)
	}

	bus := events.NewBus(logger)
	if token := viper.GetString("telegram-token"); token != "" {
		notifier := notify.NewTelegram(token, viper.GetString("telegram-chat"), logger)
		defer notifier.Attach(bus)()
	}

	st := stages.New(db, registry, settings, bus, logger)
	coordinator := audit.NewCoordinator(db, db, registry, settings, bus, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q := queue.NewInProcess(viper.GetInt("workers"), settings.QueueMaxAttempts,
		time.Duration(settings.CompletionBackoffMS)*time.Millisecond, logger)
	pipeline := service.New(db, st, coordinator, q, settings, logger)
	q.Start(ctx)
	defer q.Stop()

	srv := &http.Server{
		Addr:              viper.GetString("listen"),
		Handler:           server.New(pipeline, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	bus.Flush()
	return nil
}

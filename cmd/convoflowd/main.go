package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"github.com/hrygo/convoflow/internal/config"
	"github.com/hrygo/convoflow/internal/demo"
	"github.com/hrygo/convoflow/internal/version"
	"github.com/hrygo/convoflow/pkg/bot"
	"github.com/hrygo/convoflow/pkg/metrics"
	"github.com/hrygo/convoflow/pkg/persistence"
	"github.com/hrygo/convoflow/pkg/registry"
	"github.com/hrygo/convoflow/pkg/transport"
	"github.com/hrygo/convoflow/pkg/transport/telegram"
)

var rootCmd = &cobra.Command{
	Use:   "convoflowd",
	Short: `A reference host for convoflow, a multi-step conversational bot framework.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		// Flags and CONVOFLOW_*-prefixed env vars are both bound through
		// viper (see init, below); cfg.FromEnv is the library-level
		// loader for callers who embed convoflow without cobra/viper.
		cfg := &config.Config{
			Mode:             viper.GetString("mode"),
			Driver:           viper.GetString("driver"),
			DSN:              viper.GetString("dsn"),
			Data:             viper.GetString("data"),
			BotToken:         viper.GetString("bot-token"),
			BotSlug:          viper.GetString("bot-slug"),
			BotInitialPageID: viper.GetString("bot-initial-page"),
			MetricsEnabled:   viper.GetBool("metrics-enabled"),
			MetricsAddr:      viper.GetString("metrics-addr"),
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		db, err := sql.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return fmt.Errorf("open database (driver=%s): %w", cfg.Driver, err)
		}
		defer db.Close()

		sqlDB := persistence.NewSQLDatabase(db)
		if err := sqlDB.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}

		reg := prometheus.NewRegistry()
		collectors := metrics.NewCollectors(reg)

		botRegistry := registry.New(func(token string) (transport.Client, error) {
			return telegram.New(telegram.Config{BotToken: token})
		})

		_, err = botRegistry.RegisterBot(bot.Options{
			Slug:          cfg.BotSlug,
			Token:         cfg.BotToken,
			InitialPageID: cfg.BotInitialPageID,
			Pages:         demo.Pages(),
			Keyboards:     demo.Keyboards(),
			Database:      sqlDB,
			Metrics:       collectors,
		})
		if err != nil {
			return fmt.Errorf("register bot: %w", err)
		}

		var metricsServer *http.Server
		if cfg.MetricsEnabled {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler(reg))
			metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
			go func() {
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.Error("metrics server failed", "error", err)
				}
			}()
		}

		printGreetings(cfg)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, terminationSignals...)
		<-sigCh

		slog.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		botRegistry.Shutdown(shutdownCtx)
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		return nil
	},
}

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("driver", "sqlite")

	rootCmd.PersistentFlags().String("mode", "demo", `mode of the daemon, can be "prod", "dev", or "demo"`)
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")
	rootCmd.PersistentFlags().String("bot-token", "", "telegram bot token")
	rootCmd.PersistentFlags().String("bot-slug", "default", "identifier for the registered bot")
	rootCmd.PersistentFlags().String("bot-initial-page", "", "id of the page new chats land on")
	rootCmd.PersistentFlags().Bool("metrics-enabled", true, "serve Prometheus metrics")
	rootCmd.PersistentFlags().String("metrics-addr", ":9090", "address the metrics server listens on")

	for _, name := range []string{"mode", "data", "driver", "dsn", "bot-token", "bot-slug", "bot-initial-page", "metrics-enabled", "metrics-addr"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("convoflow")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

const shutdownTimeout = 10 * time.Second

func printGreetings(cfg *config.Config) {
	fmt.Printf("convoflowd %s started successfully!\n", version.GetCurrentVersion(cfg.Mode))
	fmt.Printf("Mode: %s\n", cfg.Mode)
	fmt.Printf("Data directory: %s\n", cfg.Data)
	fmt.Printf("Database driver: %s\n", cfg.Driver)
	if cfg.MetricsEnabled {
		fmt.Printf("Metrics: http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Println("\nListening for Telegram updates. Ctrl+C to stop.")
}

func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("convoflowd exited with error", "error", err)
		os.Exit(1)
	}
}

// services/price-relay/cmd/price-relay/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YaganovValera/crypto-relay/common/logger"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/app"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/auth"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/config"
)

var (
	cfgFile string
	envFile string
)

func main() {
	root := &cobra.Command{
		Use:           "price-relay",
		Short:         "Crypto price WebSocket relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "path to .env file")
	root.AddCommand(tokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "price-relay: %v\n", err)
		os.Exit(1)
	}
}

func serve() error {
	// 1. Загрузить конфиг
	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	// 2. Инициализация логгера
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logger init error: %w", err)
	}
	defer log.Sync()

	if cfg.Logging.DevMode {
		cfg.Print()
	}

	// 3. Контекст с отменой по сигналам
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("starting service",
		zap.String("service.name", cfg.ServiceName),
		zap.String("service.version", cfg.ServiceVersion),
	)

	// 4. Запуск основного приложения
	if err := app.Run(ctx, cfg, log); err != nil {
		log.Error("application exited with error", zap.Error(err))
		return err
	}

	log.Info("shutdown complete")
	return nil
}

// tokenCmd выпускает токен на секрете из конфига (для локальной отладки клиентов).
func tokenCmd() *cobra.Command {
	var (
		ttl   time.Duration
		roles []string
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a client JWT signed with auth.secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile, envFile)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if cfg.Auth.Secret == "" {
				return fmt.Errorf("auth.secret is not configured")
			}
			tok, err := auth.Issue(cfg.Auth, args[0], ttl, roles...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "roles claim (repeatable)")
	return cmd
}

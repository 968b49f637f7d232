package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatrelay/internal/app"
	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/config"
	applog "github.com/vovakirdan/chatrelay/internal/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "chatrelay",
		Short:         "Authenticated chat relay with a persistent message journal",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(newServeCmd(&configPath), newIdentityCmd(&configPath), newVersionCmd())
	return root
}

// loadConfig resolves configuration and builds the logger it asks for.
func loadConfig(cmd *cobra.Command, configPath string) (*config.Config, *zerolog.Logger, error) {
	bootstrap := applog.New("info", "console")
	cfg, path, err := config.Load(bootstrap, configPath, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger := applog.New(cfg.Log.Level, cfg.Log.Format)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return &cfg, logger, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and live channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Str("version", version).Msg("starting chatrelay")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("addr", ":8080", "HTTP listen address")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.String("storage", "sqlite", "storage driver (memory, sqlite, badger)")
	flags.String("sqlite-path", "chatrelay.db", "sqlite database path")
	flags.String("badger-dir", "data/badger", "badger data directory")
	flags.String("seed-file", "", "YAML file with identities to provision into an empty store")
	flags.Duration("token-ttl", time.Hour, "session token lifetime")
	flags.Bool("auth-required", true, "require bearer tokens on chat REST routes")
	flags.Int("outbound-queue", 32, "per-connection outbound queue size")
	return cmd
}

func newIdentityCmd(configPath *string) *cobra.Command {
	identity := &cobra.Command{
		Use:   "identity",
		Short: "Manage identities",
	}

	var (
		username    string
		password    string
		displayName string
		avatar      string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Provision an identity with credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cfg.Storage, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			svc, err := app.NewAuthService(cfg.Auth, st, logger)
			if err != nil {
				return err
			}
			created, err := svc.Provision(context.Background(), username, password, auth.Profile{
				DisplayName: displayName,
				AvatarURI:   avatar,
			})
			if err != nil {
				return fmt.Errorf("provision %s: %w", username, err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), created.ID)
			return nil
		},
	}
	add.Flags().StringVar(&username, "username", "", "login handle")
	add.Flags().StringVar(&password, "password", "", "secret (at least 6 characters)")
	add.Flags().StringVar(&displayName, "display-name", "", "display name, defaults to the username")
	add.Flags().StringVar(&avatar, "avatar", "", "avatar URI")
	add.Flags().String("storage", "sqlite", "storage driver (sqlite, badger)")
	add.Flags().String("sqlite-path", "chatrelay.db", "sqlite database path")
	add.Flags().String("badger-dir", "data/badger", "badger data directory")
	_ = add.MarkFlagRequired("username")
	_ = add.MarkFlagRequired("password")

	identity.AddCommand(add)
	return identity
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

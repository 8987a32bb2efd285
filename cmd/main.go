package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"

	"github.com/Slipstreamm/openguard/internal/bootstrap"
	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/database"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:  "openguard",
		Usage: "Discord moderation engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the JSON config file",
				Value:   "config.json",
				EnvVars: []string{"OPENGUARD_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "database-driver",
				Usage: "sqlite or pgx",
			},
			&cli.StringFlag{
				Name:  "database-url",
				Usage: "database DSN, overrides the config file",
			},
			&cli.StringFlag{
				Name:  "redis-url",
				Usage: "redis URL for the shared idempotency store",
			},
			&cli.StringFlag{
				Name:  "bind",
				Usage: "address for the configuration API, empty disables it",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn, error or critical",
			},
		},
		Commands: []*cli.Command{runCmd, migrateCmd, configCmd},
	}
	return app.Run(args)
}

// loadConfig layers the file, the environment and then CLI flags.
func loadConfig(cctx *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(cctx.String("config"))
	if err != nil {
		return nil, err
	}
	if v := cctx.String("database-driver"); v != "" {
		cfg.Database.Driver = v
	}
	if v := cctx.String("database-url"); v != "" {
		cfg.Database.DSN = v
	}
	if v := cctx.String("redis-url"); v != "" {
		cfg.Redis.URL = v
	}
	if cctx.IsSet("bind") {
		cfg.API.Bind = cctx.String("bind")
	}
	if v := cctx.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	return cfg, cfg.Validate()
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "connect to the gateway and moderate",
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		if cfg.Bot.Token == "" {
			return fmt.Errorf("no bot token: set DISCORD_TOKEN or bot.token")
		}

		ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		b := bootstrap.New(cfg)
		if err := b.Initialize(ctx); err != nil {
			bootstrap.Shutdown(b.Components)
			return err
		}
		return b.Run(ctx)
	},
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "apply database migrations and exit",
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		db, err := database.Open(cctx.Context, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}
		slog.Info("migrations applied", "driver", db.Driver())
		return nil
	},
}

var configCmd = &cli.Command{
	Name:  "config",
	Usage: "print the effective configuration",
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		redacted := *cfg
		redacted.Bot.Token = redact(cfg.Bot.Token)
		redacted.API.Token = redact(cfg.API.Token)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(&redacted)
	},
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

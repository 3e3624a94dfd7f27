package main

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/params"

	droplets "github.com/wjorgensen/StreamDroplets"
	"github.com/wjorgensen/StreamDroplets/api"
	"github.com/wjorgensen/StreamDroplets/common/cliapp"
	oplog "github.com/wjorgensen/StreamDroplets/common/log"
	"github.com/wjorgensen/StreamDroplets/common/opio"
	"github.com/wjorgensen/StreamDroplets/config"
	"github.com/wjorgensen/StreamDroplets/database"
	flag2 "github.com/wjorgensen/StreamDroplets/flag"
)

func runIndexer(ctx *cli.Context, shutdown context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	log := oplog.NewLogger(oplog.AppOut(ctx), oplog.ReadCLIConfig(ctx)).New("role", "droplets")
	oplog.SetGlobalLogHandler(log.Handler())
	log.Info("running indexer...")

	cfg, err := config.LoadConfig(log, ctx)
	if err != nil {
		log.Error("failed to load config", "err", err)
		return nil, err
	}

	return droplets.NewDroplets(ctx.Context, log, &cfg, shutdown)
}

func runApi(ctx *cli.Context, _ context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	log := oplog.NewLogger(oplog.AppOut(ctx), oplog.ReadCLIConfig(ctx)).New("role", "api")
	oplog.SetGlobalLogHandler(log.Handler())
	log.Info("running api...")
	cfg, err := config.LoadConfig(log, ctx)
	if err != nil {
		log.Error("failed to load config", "err", err)
		return nil, err
	}
	return api.NewApi(ctx.Context, log, &cfg)
}

func runMigrations(ctx *cli.Context) error {
	ctx.Context = opio.CancelOnInterrupt(ctx.Context)
	log := oplog.NewLogger(oplog.AppOut(ctx), oplog.ReadCLIConfig(ctx)).New("role", "migrations")
	oplog.SetGlobalLogHandler(log.Handler())
	log.Info("running migrations...")
	cfg, err := config.NewConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "err", err)
		return err
	}
	db, err := database.NewDB(ctx.Context, log, cfg.DB)
	if err != nil {
		log.Error("failed to connect to database", "err", err)
		return err
	}
	defer db.Close()
	return db.ExecuteSQLMigration(cfg.Migrations)
}

func newCli(GitCommit string, GitDate string) *cli.App {
	flags := oplog.CLIFlags("DROPLETS")
	flags = append(flags, flag2.Flags...)
	return &cli.App{
		Version:              params.VersionWithCommit(GitCommit, GitDate),
		Description:          "A daily multi-chain vault share ledger with integration position tracking and a query api",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:        "api",
				Flags:       flags,
				Description: "Runs the api service",
				Action:      cliapp.LifecycleCmd(runApi),
			},
			{
				Name:        "index",
				Flags:       flags,
				Description: "Runs the indexing service",
				Action:      cliapp.LifecycleCmd(runIndexer),
			},
			{
				Name:        "migrate",
				Flags:       flags,
				Description: "Runs the database migrations",
				Action:      runMigrations,
			},
			{
				Name:        "version",
				Description: "print version",
				Action: func(ctx *cli.Context) error {
					cli.ShowVersion(ctx)
					return nil
				},
			},
		},
	}
}

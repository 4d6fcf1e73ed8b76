package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/internal/database"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/server"
	"github.com/customeros/mailsync/services"
)

func main() {
	app := &cli.App{
		Name:  "mailsync",
		Usage: "mailbox sync and search service",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Run database migrations",
				Action: migrate,
			},
			{
				Name:   "server",
				Usage:  "Start the application server",
				Action: serve,
			},
			{
				Name:  "sync",
				Usage: "Sync the most recently linked account of a user once",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user-id", Usage: "owner of the account", Required: true},
					&cli.BoolFlag{Name: "full", Usage: "discard the cursor and resync from scratch"},
				},
				Action: syncOnce,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup() (*config.Config, *gorm.DB, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("config initialization failed: %w", err)
	}

	mailsyncDB, err := database.InitMailsyncDatabase(cfg.MailsyncDatabaseConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("mailsync database initialization failed: %w", err)
	}
	return cfg, mailsyncDB, nil
}

func migrate(_ *cli.Context) error {
	cfg, mailsyncDB, err := setup()
	if err != nil {
		return err
	}

	if err := repository.MigrateMailsyncDB(cfg.MailsyncDatabaseConfig, mailsyncDB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("Database migration completed successfully")
	return nil
}

func serve(_ *cli.Context) error {
	cfg, mailsyncDB, err := setup()
	if err != nil {
		return err
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Mailsync starting up...")

	srv, err := server.NewServer(cfg, mailsyncDB)
	if err != nil {
		return fmt.Errorf("server setup failed: %w", err)
	}

	if err := srv.Run(); err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}

	log.Println("Shutdown complete")
	return nil
}

func syncOnce(c *cli.Context) error {
	cfg, mailsyncDB, err := setup()
	if err != nil {
		return err
	}
	// the one-shot command never talks to the broker
	cfg.AppConfig.RabbitMQURL = ""

	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	repos := repository.InitRepositories(mailsyncDB)
	svcs, err := services.InitServices(cfg, appLogger, repos)
	if err != nil {
		return err
	}
	defer svcs.Close()

	ctx := context.Background()
	account, err := repos.AccountRepository.GetLatestForUser(ctx, c.String("user-id"))
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("no account linked for user %s", c.String("user-id"))
	}

	run := svcs.SyncEngine.Sync
	if c.Bool("full") {
		run = svcs.SyncEngine.Resync
	}
	result, err := run(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("sync of account %s failed: %w", account.ID, err)
	}

	log.Printf("Synced account %s (%s): %d upserted, %d deleted, token %s",
		account.ID, result.Kind, result.MessagesUpserted, result.MessagesDeleted, result.DeltaToken)
	return nil
}

package commands

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/junctive/contexd/config"
	"github.com/junctive/contexd/db"
	"github.com/junctive/contexd/errors"
	"github.com/junctive/contexd/logger"
	"github.com/junctive/contexd/notify"
	"github.com/junctive/contexd/server"
	"github.com/junctive/contexd/store"
	"github.com/junctive/contexd/subs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the context server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServer(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer(cfg *config.Config) error {
	conn, repo, err := openRepository(cfg.Database)
	if err != nil {
		return err
	}
	if conn != nil {
		defer conn.Close()
	}

	entities, err := store.NewEntityStore(repo)
	if err != nil {
		return err
	}

	var subStore *subs.Store
	if conn != nil {
		subStore = subs.NewStore(conn)
	} else {
		memConn, err := openMemoryDB()
		if err != nil {
			return err
		}
		defer memConn.Close()
		subStore = subs.NewStore(memConn)
	}

	notifier, err := notify.NewEngine(subStore, notify.Config{
		Workers:     cfg.Notify.Workers,
		Timeout:     cfg.Notify.Timeout(),
		MaxFailures: cfg.Notify.MaxFailures,
	})
	if err != nil {
		return err
	}
	events := entities.Subscribe(cfg.Notify.QueueSize)
	notifier.Start(events)

	srv := server.New(cfg.Server, entities, notifier)

	// Notification tuning reloads live; server and database settings
	// are picked up on restart
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
			notifier.Reconfigure(notify.Config{
				Timeout:     next.Notify.Timeout(),
				MaxFailures: next.Notify.MaxFailures,
			})
			logger.Infow("Config reloaded", "path", configPath)
		})
		if err != nil {
			logger.Warnw("Config watcher unavailable", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Infow("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorw("Server shutdown failed", "error", err)
	}

	entities.Close()
	notifier.Stop()
	return nil
}

// openRepository opens the configured SQLite database and runs
// migrations. An empty path selects in-memory-only entity storage.
func openRepository(cfg config.DatabaseConfig) (*sql.DB, store.Repository, error) {
	if cfg.Path == "" {
		return nil, store.NopRepository{}, nil
	}

	conn, err := db.Open(cfg.Path, logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open database %s", cfg.Path)
	}
	if err := db.Migrate(conn, logger.Logger); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, store.NewSQLRepository(conn), nil
}

func openMemoryDB() (*sql.DB, error) {
	conn, err := db.Open(":memory:", logger.Logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn, logger.Logger); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

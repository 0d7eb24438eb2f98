// Package cli implements the carekeeper command-line interface on top of
// the sync engine.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/carekeeper/internal/client"
	"github.com/dmitrijs2005/carekeeper/internal/client/api"
	"github.com/dmitrijs2005/carekeeper/internal/client/config"
	"github.com/dmitrijs2005/carekeeper/internal/client/sync"
	"github.com/dmitrijs2005/carekeeper/internal/flagx"
	"github.com/dmitrijs2005/carekeeper/internal/logging"
)

// App bundles everything a command needs: configuration, the local
// database, the API client and the sync machinery built on top of them.
type App struct {
	Cfg     *config.Config
	DB      *sql.DB
	API     api.Client
	Watcher *sync.Watcher
	Manager *sync.Manager
	Store   *sync.Store
	Log     logging.Logger
}

// NewApp opens the local database, migrates it and wires the sync stack.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	var log logging.Logger
	if cfg.LogFile != "" {
		log = logging.NewFile(cfg.LogFile)
	} else {
		log = logging.NewDefault()
	}

	db, _, err := client.InitDatabase(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}

	apiClient := api.NewHTTPClient(cfg.ServerEndpointAddr)
	watcher := sync.NewWatcher(apiClient, log)
	manager := sync.NewManager(db, apiClient, watcher, log, sync.Options{
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
		BatchLimit:  cfg.BatchLimit,
	})

	return &App{
		Cfg:     cfg,
		DB:      db,
		API:     apiClient,
		Watcher: watcher,
		Manager: manager,
		Store:   sync.NewStore(db),
		Log:     log,
	}, nil
}

// Close releases the app's resources.
func (a *App) Close() {
	_ = a.API.Close()
	_ = a.DB.Close()
}

// NewRootCmd assembles the command tree.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "carekeeper",
		Short:         "Offline-first client for clinic records",
		Long:          "carekeeper keeps local clinic records (insurance cards, outcome measures, invoices, protocol assignments) in sync with the backend, queuing changes while offline.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newSyncCmd(app),
		newPendingCmd(app),
		newRetryCmd(app),
		newDiscardCmd(app),
		newResolveCmd(app),
		newStatusCmd(app),
		newWatchCmd(app),
	)
	return root
}

// Execute loads configuration, builds the app and runs the command tree.
// Config flags are parsed by the config package and stripped before cobra
// sees the arguments.
func Execute() int {
	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer app.Close()

	root := NewRootCmd(app)
	root.SetArgs(flagx.ExcludeArgs(os.Args[1:], config.FlagNames()))

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

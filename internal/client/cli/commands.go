package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/carekeeper/internal/client/entity"
	"github.com/dmitrijs2005/carekeeper/internal/client/models"
	"github.com/dmitrijs2005/carekeeper/internal/client/sync"
)

func scopeFromFlag(patientID string) map[string]string {
	if patientID == "" {
		return nil
	}
	return map[string]string{"patient_id": patientID}
}

// findEntry locates the pending queue entry for a record id.
func findEntry(ctx context.Context, app *App, entityID string) (*models.QueueEntry, error) {
	entries, err := app.Manager.Pending(ctx)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.EntityID == entityID {
			return entry, nil
		}
	}
	return nil, fmt.Errorf("no pending change for record %s", entityID)
}

func printResult(cmd *cobra.Command, res *models.SyncResult) {
	cmd.Printf("synced: %d, failed: %d, conflicts: %d\n", res.Synced, res.Failed, res.Conflicts)
	for _, msg := range res.Errors {
		cmd.Printf("  error: %s\n", msg)
	}
}

func newSyncCmd(app *App) *cobra.Command {
	var patientID, entityType string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push queued changes and pull server updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scope := scopeFromFlag(patientID)

			var res *models.SyncResult
			if entityType != "" {
				e, err := app.Manager.Engine(entityType)
				if err != nil {
					return err
				}
				res, err = e.Sync(ctx, scope)
				if err != nil {
					return err
				}
			} else {
				res = app.Manager.SyncAll(ctx, scope)
			}

			printResult(cmd, res)
			if !res.Success {
				return fmt.Errorf("sync incomplete")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&patientID, "patient", "", "limit the pull to one patient")
	cmd.Flags().StringVar(&entityType, "entity", "", "sync a single entity type (e.g. invoices)")
	return cmd
}

func newPendingCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List changes waiting to be sent",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := app.Manager.Pending(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				cmd.Println("nothing pending")
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("#%d %s %s %s attempts=%d", e.ID, e.EntityType, e.Action, e.EntityID, e.Attempts)
				if e.LastError != "" {
					line += " last_error=" + strconv.Quote(e.LastError)
				}
				cmd.Println(line)
			}
			return nil
		},
	}
}

func newRetryCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <queue-id>",
		Short: "Re-enable automatic retries for a stalled change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid queue id %q", args[0])
			}

			entries, err := app.Manager.Pending(ctx)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				if entry.ID != id {
					continue
				}
				e, err := app.Manager.EngineFor(entry)
				if err != nil {
					return err
				}
				if err := e.Retry(ctx, id); err != nil {
					return err
				}
				cmd.Printf("entry #%d will be retried on the next sync\n", id)
				return nil
			}
			return fmt.Errorf("no queue entry #%d", id)
		},
	}
}

func newDiscardCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <record-id>",
		Short: "Drop a pending change and restore the server copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			entry, err := findEntry(ctx, app, args[0])
			if err != nil {
				return err
			}
			e, err := app.Manager.EngineFor(entry)
			if err != nil {
				return err
			}
			if err := e.Discard(ctx, args[0]); err != nil {
				return err
			}
			cmd.Printf("discarded pending %s for %s\n", entry.Action, args[0])
			return nil
		},
	}
}

func newResolveCmd(app *App) *cobra.Command {
	var keep string

	cmd := &cobra.Command{
		Use:   "resolve <record-id>",
		Short: "Settle a conflicted change by keeping one side",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			choice := sync.Choice(keep)
			if choice != sync.ChoiceServerWins && choice != sync.ChoiceClientWins {
				return fmt.Errorf("--keep must be %q or %q", sync.ChoiceServerWins, sync.ChoiceClientWins)
			}

			entry, err := findEntry(ctx, app, args[0])
			if err != nil {
				return err
			}
			e, err := app.Manager.EngineFor(entry)
			if err != nil {
				return err
			}
			if err := e.Resolve(ctx, args[0], choice); err != nil {
				return err
			}
			cmd.Printf("resolved %s keeping the %s copy\n", args[0], keep)
			return nil
		},
	}

	cmd.Flags().StringVar(&keep, "keep", "", "which side wins: server or client")
	_ = cmd.MarkFlagRequired("keep")
	return cmd
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, pending count and last sync times",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if app.Watcher.Check(ctx) {
				cmd.Println("server: online")
			} else {
				cmd.Println("server: offline")
			}

			n, err := app.Manager.PendingCount(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("pending changes: %d\n", n)

			for _, desc := range entity.All() {
				e, err := app.Manager.Engine(desc.Type)
				if err != nil {
					return err
				}
				ts, err := e.LastSync(ctx)
				if err != nil {
					return err
				}
				if ts == nil {
					cmd.Printf("%s: never synced\n", desc.Type)
				} else {
					cmd.Printf("%s: last synced %s\n", desc.Type, ts.Local().Format(time.RFC1123))
				}
			}

			entries, err := app.Manager.Pending(ctx)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if e.LastError == "" {
					continue
				}
				cmd.Printf("stalled: #%d %s %s after %d attempts: %s\n",
					e.ID, e.Action, e.EntityID, e.Attempts, e.LastError)
			}

			for _, desc := range entity.All() {
				e, err := app.Manager.Engine(desc.Type)
				if err != nil {
					return err
				}
				for _, le := range e.ErrorLog() {
					cmd.Printf("recent: %s %s %s attempt %d: %s\n",
						le.Time.Local().Format(time.TimeOnly), le.Action, le.EntityID, le.Attempt, le.Message)
				}
			}
			return nil
		},
	}
}

func newWatchCmd(app *App) *cobra.Command {
	var patientID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep syncing periodically until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go app.Watcher.Run(ctx, app.Cfg.OnlineCheckInterval)
			go app.Manager.RunPeriodic(ctx, app.Cfg.SyncInterval, scopeFromFlag(patientID))

			cmd.Printf("syncing every %s, press Ctrl+C to stop\n", app.Cfg.SyncInterval)
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&patientID, "patient", "", "limit pulls to one patient")
	return cmd
}

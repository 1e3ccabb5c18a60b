package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/spf13/cobra"

	"github.com/quorumhq/quorum/config"
	"github.com/quorumhq/quorum/internal/store"
)

// retentionCMD prunes idle conversation sessions, either once or on a
// cron schedule. Retention lives here rather than in the memory core so
// operators control it independently of the API server.
func retentionCMD() *cobra.Command {
	var cfgPath string
	var once bool

	var retention = &cobra.Command{
		Use:   "retention",
		Short: "Prune idle conversation sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			logger := log.New(log.Writer(), "[RETENTION] ", log.LstdFlags)

			maxIdle := cfg.Memory.Retention.MaxIdle
			if maxIdle <= 0 {
				return fmt.Errorf("memory.retention.max_idle must be positive")
			}

			ctx := context.Background()
			st, err := store.New(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			defer st.DB.Close()

			prune := func() {
				cutoff := time.Now().Add(-maxIdle)
				n, err := st.PruneIdleSessions(ctx, cutoff)
				if err != nil {
					logger.Printf("prune failed: %v", err)
					return
				}
				logger.Printf("pruned %d sessions idle since %s", n, cutoff.Format(time.RFC3339))
			}

			if once {
				prune()
				return nil
			}

			expr, err := cronexpr.Parse(cfg.Memory.Retention.CronSpec)
			if err != nil {
				return fmt.Errorf("invalid memory.retention.cron_spec %q: %w", cfg.Memory.Retention.CronSpec, err)
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			for {
				next := expr.Next(time.Now())
				logger.Printf("next prune at %s", next.Format(time.RFC3339))
				select {
				case <-time.After(time.Until(next)):
					prune()
				case <-stop:
					logger.Printf("shutting down")
					return nil
				}
			}
		},
	}
	retention.Flags().BoolVar(&once, "once", false, "prune once and exit")
	retention.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return retention
}

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/piflash/piflash/pkg/db"
	"github.com/piflash/piflash/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	cleanupAll       bool
	cleanupRun       string
	cleanupFinished  bool
	cleanupOlderThan time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune install history",
	Long: `Remove install records:
  --all                 Remove every finished record
  --run <run-id>        Remove a single record
  --finished            Remove completed and failed records
  --older-than <dur>    Remove finished records older than the duration (e.g. 720h)

Records of an install still in flight are never removed.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Remove all finished records")
	cleanupCmd.Flags().StringVar(&cleanupRun, "run", "", "Remove a specific run by ID")
	cleanupCmd.Flags().BoolVar(&cleanupFinished, "finished", false, "Remove completed and failed records")
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "Remove finished records older than this")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx := context.Background()

	switch {
	case cleanupRun != "":
		return cleanupSpecificRun(ctx, repo, cleanupRun)
	case cleanupAll, cleanupFinished:
		n, err := repo.DeleteFinished(ctx)
		if err != nil {
			return errors.Wrap(err, "cleanup failed")
		}
		fmt.Printf("🧹 Removed %d finished installs\n", n)
		return nil
	case cleanupOlderThan > 0:
		n, err := repo.DeleteOlderThan(ctx, cleanupOlderThan)
		if err != nil {
			return errors.Wrap(err, "cleanup failed")
		}
		fmt.Printf("🧹 Removed %d installs older than %s\n", n, cleanupOlderThan)
		return nil
	default:
		return fmt.Errorf("must specify --all, --run, --finished, or --older-than")
	}
}

func cleanupSpecificRun(ctx context.Context, repo *db.Repository, runID string) error {
	inst, err := repo.GetByRunID(ctx, runID)
	if err != nil {
		return errors.Wrap(err, "lookup failed")
	}
	if inst == nil {
		return fmt.Errorf("install not found: %s", runID)
	}
	if !inst.Finished() {
		return fmt.Errorf("install %s is still %s", runID, inst.Status)
	}

	if err := repo.Delete(ctx, runID); err != nil {
		return errors.Wrap(err, "cleanup failed")
	}

	fmt.Printf("✅ Removed: %s\n", runID)
	return nil
}

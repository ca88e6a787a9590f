package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trobanga/geochain/internal/models"
)

// lockCmd represents the lock command group
var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect and clear mapset locks",
	Long: `Inspect and clear the locks that give a job exclusive write access to a mapset.

Available subcommands:
  status  - Show which job holds the lock of a mapset
  release - Clear the lock of a mapset (after a worker crash)`,
}

var lockStatusCmd = &cobra.Command{
	Use:   "status <location> <mapset>",
	Short: "Show the holder of a mapset lock",
	Args:  cobra.ExactArgs(2),
	RunE:  runLockStatus,
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release <location> <mapset>",
	Short: "Clear a mapset lock",
	Long: `Clear the lock of a mapset unconditionally.

Only use this when the job holding the lock is known to be gone, for example
after a worker was killed. Releasing a free lock is not an error.

Example:
  geochain lock release nc_spm_08 user1`,
	Args: cobra.ExactArgs(2),
	RunE: runLockRelease,
}

func init() {
	rootCmd.AddCommand(lockCmd)
	lockCmd.AddCommand(lockStatusCmd)
	lockCmd.AddCommand(lockReleaseCmd)
}

func runLockStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	ws := models.WorkspaceID{Location: args[0], Mapset: args[1]}
	if rt.locks.IsProtected(ws.Mapset) {
		fmt.Printf("%s is protected and never locked\n", ws)
		return nil
	}

	holder, found, err := rt.locks.Holder(ctx, ws)
	if err != nil {
		return err
	}
	if !found {
		fmt.Printf("%s is not locked\n", ws)
		return nil
	}
	fmt.Printf("%s is locked by %s\n", ws, holder)
	return nil
}

func runLockRelease(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	ws := models.WorkspaceID{Location: args[0], Mapset: args[1]}
	if err := rt.locks.Release(ctx, ws); err != nil {
		return err
	}
	rt.logger.Info("Workspace lock released manually", "workspace", ws.String())
	fmt.Printf("Lock of %s released\n", ws)
	return nil
}

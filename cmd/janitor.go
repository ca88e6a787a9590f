package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/services"
)

var janitorOnce bool

// janitorCmd represents the janitor command
var janitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Remove orphaned ephemeral workspaces",
	Long: `Periodically remove ephemeral workspace directories left behind by
crashed workers. Directories older than janitor.max_age below tmp_dir are
removed on the janitor.schedule cron schedule until interrupted.

Examples:
  geochain janitor
  geochain janitor --once`,
	Args: cobra.NoArgs,
	RunE: runJanitor,
}

func init() {
	rootCmd.AddCommand(janitorCmd)
	janitorCmd.Flags().BoolVar(&janitorOnce, "once", false, "sweep once and exit")
}

func runJanitor(cmd *cobra.Command, args []string) error {
	config, logger, err := loadConfig()
	if err != nil {
		return err
	}

	janitor := services.NewJanitor(config.TmpDir, config.Janitor.MaxAge, logger)

	if janitorOnce {
		var removed []string
		err := lib.LogOperation(logger, "janitor sweep", func() error {
			var err error
			removed, err = janitor.RunOnce()
			return err
		})
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d orphaned workspaces\n", len(removed))
		return nil
	}

	if err := janitor.Start(config.Janitor.Schedule); err != nil {
		return err
	}
	defer janitor.Stop()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs
	return nil
}

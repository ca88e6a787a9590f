/*
Copyright © 2025 Geochain Contributors

Geochain runs geoprocessing chains in ephemeral workspaces.
*/
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/services"
)

var (
	// Global flags
	cfgFile   string
	verbose   bool
	logFormat string

	// Configuration layers shared by all commands
	cfgViper = services.NewViper()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "geochain",
	Short: "Geochain - asynchronous geoprocessing job engine",
	Long: `Geochain executes process chains of GRASS GIS modules against an isolated,
ephemeral copy of a mapset and exports the results to a storage backend.

Each job:
  - locks its target mapset so no two jobs write it at the same time
  - runs every step in order, stopping at the first failing module
  - exports raster layers as GeoTIFF and vector layers as zipped archives
  - merges new layers back into the target mapset on success

Termination is cooperative: a request is observed between steps.

Example:
  geochain run chain.json --location nc_spm_08 --mapset user1
  geochain job status resource_id-<uuid>
  geochain job terminate <user> resource_id-<uuid>`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
}

// printError prints the user message of categorised errors
func printError(err error) {
	var geoErr *lib.GeoError
	if errors.As(err, &geoErr) {
		fmt.Fprint(os.Stderr, geoErr.UserMessage())
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

func init() {
	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./geochain.yaml, ~/.config/geochain/geochain.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (overrides log.format)")

	_ = cfgViper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	// Add version template
	rootCmd.SetVersionTemplate("Geochain version {{.Version}}\n")
}

// Package main is the docctl CLI: it runs the transformation pipeline on
// local files and can serve the HTTP surface locally.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Lllllllleong/doctransform/internal/config"
	"github.com/Lllllllleong/doctransform/internal/services"
)

// version is set at build time via ldflags.
var version = "dev"

// v holds settings from the environment, the config file and flags.
var v = config.New()

var rootCmd = &cobra.Command{
	Use:   "docctl",
	Short: "Run document transformations from the command line",
	Long: `docctl runs the document transformation pipeline on local files.

Local operations (merge, split, rotate-pdf, watermark, ...) run in process.
Conversions between office formats and PDF go to the configured backend,
set with DOCTRANSFORM_CONVERSION_BACKEND or conversion.backend in
doctransform.yaml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			level = slog.LevelInfo
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./doctransform.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log pipeline progress to stderr")
	rootCmd.PersistentFlags().Int("max-concurrency", 0, "bound on concurrent in-process work")
	_ = v.BindPFlag("max_concurrency", rootCmd.PersistentFlags().Lookup("max-concurrency"))
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
}

// loadRuntime builds the pipeline from the merged settings. An unset flag
// falls back to the environment, then the file, then the default.
func loadRuntime(cmd *cobra.Command, settings *viper.Viper) (*services.Runtime, error) {
	cfg, err := config.Load(settings)
	if err != nil {
		return nil, err
	}
	return services.NewRuntime(cmd.Context(), cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "docctl:", err)
		os.Exit(1)
	}
}

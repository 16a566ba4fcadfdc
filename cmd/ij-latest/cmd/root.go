package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/ij-latest/internal/config"
	"github.com/oshokin/ij-latest/internal/logger"
	"github.com/oshokin/ij-latest/internal/service/refresher"
	"github.com/oshokin/ij-latest/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// outputPath overrides the published archive location.
	outputPath string
	// manifestPath enables the release manifest at this location.
	manifestPath string
	// archiverKind overrides the unpack/pack implementation used by repack.
	archiverKind string
	// logLevel is the minimum level of printed log entries.
	logLevel string

	// rootCmd builds the distributable archive.
	rootCmd = &cobra.Command{
		Use:   "ij-latest [repack|patch]",
		Short: "Build an ImageJ release archive with the latest ij.jar",
		Long: "Download the latest ImageJ release archive, replace the embedded ij.jar with the upgrade build " +
			"and publish the result as " + config.DefaultOutputPath + ".\n\n" +
			"repack unpacks the archive, overwrites the jar and packs it again; " +
			"patch replaces the jar inside the archive directly.",
		Args:              cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs:         []string{config.ModeRepack, config.ModePatch},
		PersistentPreRunE: setupLogging,
		SilenceUsage:      true,
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := newOptions()
			if len(args) > 0 {
				options.Mode = args[0]
			}

			return refresher.Run(ctx, options)
		},
	}

	// resolveCmd prints the latest release without downloading it.
	resolveCmd = &cobra.Command{
		Use:   "resolve",
		Short: "Print the latest version and its archive URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			rel, err := refresher.Resolve(ctx, newOptions())
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", rel.Version, rel.ArchiveURL)

			return err
		},
	}
)

// Execute runs the ij-latest CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newOptions collects the flag overrides.
func newOptions() *refresher.Options {
	return &refresher.Options{
		ConfigPath:   configPath,
		OutputPath:   outputPath,
		ManifestPath: manifestPath,
		Archiver:     archiverKind,
	}
}

// setupLogging applies the --log-level flag to the global logger.
func setupLogging(_ *cobra.Command, _ []string) error {
	level, ok := logger.ParseLogLevel(logLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", logLevel)
	}

	logger.SetLevel(level)

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to configuration file (default "+config.DefaultConfigFilename+" if present)")
	flags.StringVarP(&outputPath, "output", "o", "", "path of the published archive (default "+config.DefaultOutputPath+")")
	flags.StringVarP(&manifestPath, "manifest", "m", "", "write a release manifest to this path")
	flags.StringVar(&archiverKind, "archiver", "", "repack archiver: command (unzip/zip) or native")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	rootCmd.AddCommand(resolveCmd)
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/oshokin/gitrs-bundler/internal/archive"
	"github.com/oshokin/gitrs-bundler/internal/config"
	"github.com/oshokin/gitrs-bundler/internal/logger"
	"github.com/oshokin/gitrs-bundler/internal/service/bundler"
	"github.com/oshokin/gitrs-bundler/internal/version"
)

var (
	// configPath to the optional settings YAML file.
	configPath string
	// target to package for, defaults to the TARGET environment variable.
	target string
	// format overrides the packaging format of the target.
	format string
	// workDir holds gitrs_server and receives the build tree and the artifact.
	workDir string
	// logLevel sets the verbosity of the global logger.
	logLevel string
	// noProgress disables the download progress bar.
	noProgress bool

	// rootCmd downloads, verifies, assembles and packages one release.
	rootCmd = &cobra.Command{
		Use:           "gitrs-bundler",
		Short:         "Bundle the git server binary with a verified dugite-native vendor tree",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}

			logger.SetLevel(level)

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &bundler.Options{
				ConfigPath: configPath,
				Target:     config.Target(target),
				WorkDir:    workDir,
				Progress:   progressOutput(cmd.ErrOrStderr()),
			}

			if format != "" {
				parsed, err := archive.ParseFormat(format)
				if err != nil {
					return err
				}

				options.Format = parsed
			}

			path, err := bundler.Run(ctx, options)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)

			return nil
		},
	}
)

// Execute runs the gitrs-bundler CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.ErrorKV(context.Background(), "Command failed", "error", err)
		os.Exit(1)
	}
}

// progressOutput returns w when progress is enabled and stderr is a terminal.
func progressOutput(w io.Writer) io.Writer {
	if noProgress {
		return nil
	}

	if f, ok := w.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}

	return w
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&target, "target", "t", string(config.TargetFromEnv()),
		"target to package for (defaults to $"+config.TargetEnv+")")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"path to settings file (defaults to "+config.DefaultSettingsFilename+" when present)")
	rootCmd.Flags().StringVarP(&format, "format", "f", "",
		fmt.Sprintf("packaging format, one of %v (defaults to the target format)", archive.Formats()))
	rootCmd.Flags().StringVarP(&workDir, "work-dir", "w", "", "directory holding gitrs_server (defaults to the current directory)")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the download progress bar")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	rootCmd.AddCommand(targetsCmd, checkTagCmd)
}

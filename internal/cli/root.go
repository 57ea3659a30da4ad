// Package cli provides the command-line interface for run-uploader.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seqlab/run-uploader/internal/config"
	"github.com/seqlab/run-uploader/internal/logging"
	"github.com/seqlab/run-uploader/internal/version"
)

var (
	// Global flags
	cfgFile   string
	serverURL string
	logFile   string
	verbose   bool

	// Global logger
	logger *logging.Logger

	// Configuration loaded by the root command before any subcommand runs
	appConfig *config.Config

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "run-uploader",
		Short: "Upload sequencing runs to a sample management service",
		Long: `run-uploader ` + version.Version + ` - Built: ` + version.BuildTime + `

Finds sequencing run directories written by the instrument, validates their
sample sheet and sequence files, and uploads them sample by sample. An
interrupted upload resumes where it stopped.

Commands:
  discover  - List the uploadable runs under a directory
  validate  - Check a run offline, and optionally against the server
  upload    - Upload one or more runs
  watch     - Upload runs as the instrument finishes them
  status    - Show the local upload state of runs
  config    - Manage the configuration file`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			appConfig = cfg
			logger = logging.NewLogger(logging.Options{
				File:    cfg.Logging.File,
				Verbose: cfg.Logging.Verbose,
			})
			logger.Debug().Str("config", configPath()).Msg("Configuration loaded")
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server-url", "", "Server API base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, stopping after the current sample...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.ExecuteContext(rootContext)

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newDiscoverCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// configPath returns the --config value or the default location.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	path, err := config.DefaultConfigPath()
	if err != nil {
		return "uploader.conf"
	}
	return path
}

// loadConfig reads the configuration file and applies the global flags.
// A missing file yields the defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath(), err)
	}
	return cfg, nil
}

// applyFlags lets command-line flags override file values.
func applyFlags(cfg *config.Config) {
	if serverURL != "" {
		cfg.Server.BaseURL = strings.TrimRight(serverURL, "/")
	}
	if logFile != "" {
		cfg.Logging.File = logFile
	}
	if verbose {
		cfg.Logging.Verbose = true
	}
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetConfig returns the configuration loaded for this invocation.
func GetConfig() *config.Config {
	if appConfig == nil {
		appConfig = config.NewConfig()
	}
	return appConfig
}

// GetContext returns the global CLI context. It is cancelled when the user
// presses Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

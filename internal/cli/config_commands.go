package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/seqlab/run-uploader/internal/config"
	"github.com/seqlab/run-uploader/internal/constants"
	"github.com/seqlab/run-uploader/internal/logging"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage run-uploader configuration",
		Long: `Configuration management commands for run-uploader.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  test  - Test the server connection and credentials
  path  - Show configuration file path`,
		// Replaces the root hook: config commands must work on a broken file.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = logging.NewLogger(logging.Options{Verbose: verbose})
			return nil
		},
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for run-uploader.

The configuration is saved to ~/.config/run-uploader/uploader.conf
(%APPDATA%\run-uploader\uploader.conf on Windows) with 0600 permissions.

Values already in the file are offered as defaults. Use --force to
overwrite an existing file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			current, err := config.Load(path)
			if err != nil {
				current = config.NewConfig()
			}
			cfg, err := promptConfig(newPrompter(cmd.InOrStdin(), out), current)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return err
			}

			GetLogger().Info().Str("path", path).Msg("Configuration saved")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "✓ Configuration saved to: %s\n", path)
			fmt.Fprintln(out, "Test your configuration with: run-uploader config test")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// promptConfig asks for every setting, offering the values of cur.
func promptConfig(p *prompter, cur *config.Config) (*config.Config, error) {
	cfg := *cur
	var err error

	fmt.Fprintln(p.out, "Server")
	fmt.Fprintln(p.out, "------")
	if cfg.Server.BaseURL, err = p.required("API base URL", cur.Server.BaseURL); err != nil {
		return nil, err
	}
	if cfg.Server.ClientID, err = p.required("Client ID", cur.Server.ClientID); err != nil {
		return nil, err
	}
	cfg.Server.ClientSecret = p.secret("Client secret", cur.Server.ClientSecret)
	if cfg.Server.Username, err = p.required("Username", cur.Server.Username); err != nil {
		return nil, err
	}
	cfg.Server.Password = p.secret("Password", cur.Server.Password)

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Uploader (press Enter for defaults)")
	fmt.Fprintln(p.out, "-----------------------------------")
	cfg.Uploader.WatchDirectory = p.text("Watch directory", cur.Uploader.WatchDirectory)
	cfg.Uploader.PollIntervalSeconds = p.number("Poll interval in seconds", cur.Uploader.PollIntervalSeconds)
	cfg.Uploader.MaxConcurrentRuns = p.number("Runs uploaded at once", cur.Uploader.MaxConcurrentRuns)

	fmt.Fprintln(p.out)
	if p.yes("Configure proxy?", cur.Proxy.Mode != "" && cur.Proxy.Mode != config.ProxyModeNone) {
		fmt.Fprintln(p.out, "Proxy modes: no-proxy, system, basic, ntlm")
		cfg.Proxy.Mode = p.text("Proxy mode", orDefault(cur.Proxy.Mode, config.ProxyModeSystem))
		if cfg.Proxy.Mode == config.ProxyModeBasic || cfg.Proxy.Mode == config.ProxyModeNTLM {
			cfg.Proxy.Host = p.text("Proxy host", cur.Proxy.Host)
			cfg.Proxy.Port = p.number("Proxy port", orDefaultInt(cur.Proxy.Port, 8080))
			cfg.Proxy.User = p.text("Proxy user", cur.Proxy.User)
			cfg.Proxy.Password = p.secret("Proxy password", cur.Proxy.Password)
		}
		cfg.Proxy.NoProxy = p.text("Bypass list (comma-separated)", cur.Proxy.NoProxy)
	} else {
		cfg.Proxy.Mode = config.ProxyModeNone
	}
	return &cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the configuration after applying command-line flags
(--server-url, --log-file, --verbose). Secrets are masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			applyFlags(cfg)
			writeConfig(cmd.OutOrStdout(), cfg.Redacted())

			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration file: %s\n", path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "  (file does not exist - using defaults)")
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "  Warning: %v\n", err)
			}
			return nil
		},
	}
	return cmd
}

func writeConfig(w io.Writer, cfg *config.Config) {
	notSet := func(s string) string {
		if s == "" {
			return "<not set>"
		}
		return s
	}

	fmt.Fprintln(w, "Current Configuration")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Server:")
	fmt.Fprintf(w, "  Base URL:      %s\n", notSet(cfg.Server.BaseURL))
	fmt.Fprintf(w, "  Client ID:     %s\n", notSet(cfg.Server.ClientID))
	fmt.Fprintf(w, "  Client Secret: %s\n", notSet(cfg.Server.ClientSecret))
	fmt.Fprintf(w, "  Username:      %s\n", notSet(cfg.Server.Username))
	fmt.Fprintf(w, "  Password:      %s\n", notSet(cfg.Server.Password))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Uploader:")
	fmt.Fprintf(w, "  Watch Directory:  %s\n", notSet(cfg.Uploader.WatchDirectory))
	fmt.Fprintf(w, "  Poll Interval:    %s\n", cfg.PollInterval())
	fmt.Fprintf(w, "  Sample Sheet:     %s\n", cfg.Uploader.SheetName)
	fmt.Fprintf(w, "  Sequence Subdir:  %s\n", cfg.Uploader.SequenceSubdir)
	fmt.Fprintf(w, "  Concurrent Runs:  %d\n", cfg.Uploader.MaxConcurrentRuns)
	fmt.Fprintf(w, "  File Notify:      %t\n", cfg.Uploader.UseFsnotify)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Proxy:")
	fmt.Fprintf(w, "  Mode: %s\n", cfg.Proxy.Mode)
	if cfg.Proxy.Host != "" {
		fmt.Fprintf(w, "  Host: %s\n", cfg.Proxy.Host)
		fmt.Fprintf(w, "  Port: %d\n", cfg.Proxy.Port)
		fmt.Fprintf(w, "  User: %s\n", notSet(cfg.Proxy.User))
		fmt.Fprintf(w, "  Password: %s\n", notSet(cfg.Proxy.Password))
	}
	if cfg.Proxy.NoProxy != "" {
		fmt.Fprintf(w, "  Bypass: %s\n", cfg.Proxy.NoProxy)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Logging:")
	fmt.Fprintf(w, "  File:    %s\n", notSet(cfg.Logging.File))
	fmt.Fprintf(w, "  Verbose: %t\n", cfg.Logging.Verbose)
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test the server connection and credentials",
		Long: `Authenticate against the configured server and list the projects the
account can see.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			applyFlags(cfg)

			fmt.Fprintln(out, "Testing Server Connection")
			fmt.Fprintln(out, "=========================")
			fmt.Fprintf(out, "Server: %s\n\n", cfg.Server.BaseURL)

			ctx, cancel := context.WithTimeout(GetContext(), constants.APIConnectionTestTimeout)
			defer cancel()

			client, err := getAPIClient(ctx, cfg)
			if err != nil {
				fmt.Fprintln(out, "✗ Connection FAILED")
				fmt.Fprintf(out, "  Error: %v\n", err)
				return fmt.Errorf("connection test failed")
			}
			projects, err := client.ListProjects(ctx)
			if err != nil {
				fmt.Fprintln(out, "✗ Authenticated, but listing projects FAILED")
				fmt.Fprintf(out, "  Error: %v\n", err)
				return fmt.Errorf("connection test failed")
			}

			GetLogger().Info().Int("projects", len(projects)).Msg("Connection test successful")
			fmt.Fprintln(out, "✓ Connection SUCCESSFUL")
			fmt.Fprintf(out, "  Projects visible: %d\n", len(projects))
			return nil
		},
	}
	return cmd
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := configPath()
			if cfgFile == "" {
				fmt.Fprintln(out, "Default configuration path:")
			} else {
				fmt.Fprintln(out, "Configuration path (from --config flag):")
			}
			fmt.Fprintf(out, "  %s\n\n", path)

			if info, err := os.Stat(path); err == nil {
				fmt.Fprintln(out, "Status: ✓ File exists")
				fmt.Fprintf(out, "Size:   %d bytes\n", info.Size())
				fmt.Fprintf(out, "Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(out, "Status: File does not exist")
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Create a configuration file with: run-uploader config init")
			}
			return nil
		},
	}
	return cmd
}

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/embedlink/embedlink/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage embedlink configuration",
		Long: `Configuration management commands for embedlink.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for embedlink.

The configuration is saved to ~/.config/embedlink/config.ini unless
--config is given. Use --force to overwrite an existing file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg, err := runConfigWizard(cmd.InOrStdin(), out)
			if err != nil {
				return err
			}
			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			GetLogger().Info().Str("path", path).Msg("Configuration saved")
			fmt.Fprintf(out, "\n✓ Configuration saved to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")

	return cmd
}

// runConfigWizard asks for the common settings and returns a validated
// configuration built on the defaults.
func runConfigWizard(in io.Reader, out io.Writer) (*config.Config, error) {
	p := newPrompter(in, out)
	cfg := config.NewConfig()

	fmt.Fprintln(out, "embedlink Configuration Setup")
	fmt.Fprintln(out, "=============================")
	fmt.Fprintln(out)

	cfg.APIBaseURL = p.String("Service base URL", "http://localhost:5000")
	cfg.RetryMax = p.Int("Retries for status and image requests", cfg.RetryMax)

	fmt.Fprintln(out)
	if p.Confirm("Configure proxy?") {
		cfg.ProxyMode = p.Choice("Proxy mode", []string{"no-proxy", "system", "basic", "ntlm"}, "system")
		if cfg.ProxyMode == "basic" || cfg.ProxyMode == "ntlm" {
			cfg.ProxyHost = p.String("Proxy host", "")
			cfg.ProxyPort = p.Int("Proxy port", 8080)
			cfg.ProxyUser = p.String("Proxy user", "")
		}
		cfg.NoProxy = p.String("Hosts that bypass the proxy", "localhost,127.0.0.1")
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration.

Sources, lowest to highest precedence:
  1. Defaults
  2. Configuration file (~/.config/embedlink/config.ini)
  3. .env file and EMBEDLINK_* environment variables
  4. Command-line flags (--api-url)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			path, _ := configPath()
			printConfig(cmd.OutOrStdout(), cfg, path)
			return nil
		},
	}

	return cmd
}

func printConfig(out io.Writer, cfg *config.Config, path string) {
	fmt.Fprintln(out, "Current Configuration")
	fmt.Fprintln(out, "=====================")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Remote:")
	if cfg.HasRemote() {
		fmt.Fprintf(out, "  API Base URL:    %s\n", cfg.APIBaseURL)
	} else {
		fmt.Fprintln(out, "  API Base URL:    <not set>")
	}
	fmt.Fprintf(out, "  Request Timeout: %s\n", cfg.RequestTimeout)
	fmt.Fprintf(out, "  Retry Max:       %d\n", cfg.RetryMax)
	fmt.Fprintf(out, "  Rate Limit:      %g/s (burst %g)\n", cfg.RateLimit, cfg.RateBurst)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Proxy:")
	fmt.Fprintf(out, "  Mode: %s\n", cfg.ProxyMode)
	if cfg.ProxyHost != "" {
		fmt.Fprintf(out, "  Host: %s:%d\n", cfg.ProxyHost, cfg.ProxyPort)
	}
	if cfg.ProxyUser != "" {
		fmt.Fprintf(out, "  User: %s\n", cfg.ProxyUser)
	}
	if cfg.ProxyPassword != "" {
		fmt.Fprintln(out, "  Password: <set>")
	}
	if cfg.NoProxy != "" {
		fmt.Fprintf(out, "  Bypass: %s\n", cfg.NoProxy)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Client:")
	fmt.Fprintf(out, "  Poll Interval:         %s\n", cfg.PollInterval)
	fmt.Fprintf(out, "  Poll Timeout:          %s\n", cfg.PollTimeout)
	fmt.Fprintf(out, "  Max Poll Failures:     %d\n", cfg.MaxPollFailures)
	fmt.Fprintf(out, "  Metrics Interval:      %s\n", cfg.MetricsInterval)
	fmt.Fprintf(out, "  Notification Lifetime: %s\n", cfg.NotificationLifetime)
	fmt.Fprintf(out, "  Log Level:             %s\n", cfg.LogLevel)
	fmt.Fprintf(out, "  Console Address:       %s\n", cfg.ConsoleAddr)
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Configuration file: %s\n", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(out, "  (file does not exist - using defaults)")
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, path)

			if info, err := os.Stat(path); err == nil {
				fmt.Fprintf(out, "Status:   ✓ File exists (%d bytes, modified %s)\n",
					info.Size(), info.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(out, "Status:   File does not exist")
				fmt.Fprintln(out, "Create a configuration file with: embedlink config init")
			}
			return nil
		},
	}

	return cmd
}

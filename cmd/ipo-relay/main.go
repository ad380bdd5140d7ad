package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/al-bashkir/ipo-result-relay/internal/config"
	"github.com/al-bashkir/ipo-result-relay/internal/daemon"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitConfig  = 3
)

var rootCmd = &cobra.Command{
	Use:   "ipo-relay",
	Short: "IPO allotment result relay",
	Long: `HTTP relay in front of the public IPO allotment result site.

The relay fetches captchas on behalf of its clients, runs bulk result
checks for many BOIDs in one request and caches single lookups.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay HTTP server",
	Long: `Start the relay.

The server:
  - Serves the company list and the JSON API under /ipo
  - Holds one upstream captcha session shared by all clients
  - Caches single-account results
  - Applies a global fixed-window rate limit

Configuration comes from the optional --config file and the environment
(PORT, IPO_RELAY_*).`,
	RunE: runServe,
}

// overrideExitCode is set by check-config so main() can call os.Exit()
// after cobra finishes. -1 means "use default".
var overrideExitCode = -1

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display version, commit hash, and build date.`,
	Run:   runVersion,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration",
	Long: `Load and validate the configuration without starting the relay.

Exit codes:
  0 = Configuration is valid
  3 = Configuration error`,
	RunE: runCheckConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to configuration file (optional; environment is always applied)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text) - overrides config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}

	if overrideExitCode >= 0 {
		os.Exit(overrideExitCode)
	}
}

// loadConfig loads the configuration and applies the log flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

// runServe starts the relay
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	config.SetupLogging(&cfg.Log, os.Stderr)

	slog.Info("starting IPO result relay",
		"version", version,
		"commit", commit,
		"build_date", buildDate,
		"config", configFile,
	)
	slog.Debug("effective configuration", "config", cfg.Redact())

	d, err := daemon.New(cfg)
	if err != nil {
		slog.Error("failed to create daemon", "error", err)
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	return d.Run()
}

// runVersion displays version information
func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("ipo-relay version %s\n", version)
	fmt.Printf("  Commit:     %s\n", commit)
	fmt.Printf("  Build date: %s\n", buildDate)
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

// runCheckConfig validates the configuration
func runCheckConfig(cmd *cobra.Command, args []string) error {
	source := configFile
	if source == "" {
		source = "(defaults + environment)"
	}
	fmt.Printf("Checking configuration: %s\n\n", source)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed:\n")
		fmt.Fprintf(os.Stderr, "   %v\n", err)
		overrideExitCode = ExitConfig
		return nil
	}

	fmt.Println("Configuration is valid")
	fmt.Println()
	fmt.Println("Configuration summary:")
	fmt.Printf("  HTTP Listen:     %s\n", cfg.Listen.HTTP)
	fmt.Printf("  Upstream:        %s\n", cfg.Upstream.BaseURL)
	fmt.Printf("  Protocol:        %s\n", cfg.Upstream.Protocol)
	fmt.Printf("  Timeout:         %v\n", cfg.UpstreamTimeout())
	fmt.Printf("  Cache TTL:       %v\n", cfg.CacheTTL())
	fmt.Printf("  Rate Limit:      %d per %v\n", cfg.RateLimit.Max, cfg.RateLimitWindow())
	fmt.Printf("  Companies File:  %s\n", cfg.Companies.File)
	fmt.Printf("  Log Level:       %s\n", cfg.Log.Level)
	fmt.Printf("  Log Format:      %s\n", cfg.Log.Format)

	if cfg.Stats.RedisAddr != "" {
		fmt.Printf("  Stats Redis:     %s\n", cfg.Stats.RedisAddr)
	} else {
		fmt.Println("  Stats Redis:     [NOT SET] (in-memory)")
	}
	if cfg.Telemetry.Endpoint != "" {
		fmt.Printf("  OTLP Endpoint:   %s\n", cfg.Telemetry.Endpoint)
	}

	fmt.Println("\nReady to start relay")

	return nil
}

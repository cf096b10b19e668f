package di

import (
	"flag"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-policy/internal/config"
	"github.com/mikey/mail-policy/internal/core"
	"github.com/mikey/mail-policy/internal/logging"
)

// CLIFlags contains all command line flags for the CLI application
type CLIFlags struct {
	// Input flags
	InputFile  string
	Check      string
	ConfigFile string

	// Overrides
	Store   string
	NoCache bool

	// Output flags
	Verbose bool
	JSONLog bool
}

// ParseFlags parses command line flags and returns a CLIFlags struct
func ParseFlags() *CLIFlags {
	flags := &CLIFlags{}

	flag.StringVar(&flags.InputFile, "file", "", "Input request file (use stdin if not specified)")
	flag.StringVar(&flags.Check, "check", "", "Run only the named check")
	flag.StringVar(&flags.ConfigFile, "config", "", "Path to config file")

	flag.StringVar(&flags.Store, "store", "", "Override the persistent store type (memory, sqlite, mysql, postgres)")
	flag.BoolVar(&flags.NoCache, "no-cache", false, "Disable the fingerprint cache")

	flag.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")

	flag.Parse()
	return flags
}

// BuildCLIContainer creates and configures a dependency injection container for the CLI application
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		cfg, err := config.Load(flags.ConfigFile)
		if err != nil {
			return nil, err
		}
		applyFlags(cfg, flags)
		if used := cfg.GetViper().ConfigFileUsed(); used != "" {
			logger.Info("Loaded configuration from file", zap.String("file", used))
		}
		return cfg, nil
	}); err != nil {
		return nil, err
	}

	// No metrics for one-shot runs
	if err := container.Provide(func() core.Recorder { return nil }); err != nil {
		return nil, err
	}

	if err := provideChecks(container); err != nil {
		return nil, err
	}

	return container, nil
}

// applyFlags overrides configuration values from command line flags
func applyFlags(cfg *config.Config, flags *CLIFlags) {
	if flags.Store != "" {
		cfg.Set("store.type", flags.Store)
	}
	if flags.NoCache {
		cfg.Set("cache.enabled", false)
	}
}

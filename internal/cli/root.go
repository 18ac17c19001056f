// Package cli implements the detour command.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pboyd/detour/config"
	"github.com/pboyd/detour/diag"
)

// settings are the values a command runs with, read from the config file and
// overridden by flags.
type settings struct {
	logger      zerolog.Logger
	symbolLimit int
	diagQueue   int
	configFile  *config.File
}

type globalFlags struct {
	logLevel   string
	pretty     bool
	configPath string
}

// NewRootCmd builds the detour command tree.
func NewRootCmd() *cobra.Command {
	var (
		flags globalFlags
		s     settings
	)

	cmd := &cobra.Command{
		Use:   "detour",
		Short: "Inspect the patchable functions of Go binaries",
		Long: `Inspect Go binaries the way the detour engine sees them.

Lists the functions and methods in an ELF symbol table, runs the detour
resolver against them, and disassembles single symbols.

Examples:
  # List methods of a type
  detour symbols ./server --filter '(*Handler)'

  # Check that a descriptor resolves to exactly one symbol
  detour resolve ./server Handler ServeHTTP --pointer

  # Disassemble one function
  detour disasm ./server main.main`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadSettings(cmd, flags)
			if err != nil {
				return err
			}
			s = loaded
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&flags.pretty, "pretty", false, "Human-readable log output")
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", defaultConfigPath(), "Config file, empty for none")

	cmd.AddCommand(newSymbolsCmd(&s))
	cmd.AddCommand(newResolveCmd(&s))
	cmd.AddCommand(newDisasmCmd(&s))
	cmd.AddCommand(newConfigCmd(&s))

	return cmd
}

// Execute runs the detour command.
func Execute() error {
	return NewRootCmd().Execute()
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "detour", "config.yaml")
}

func loadSettings(cmd *cobra.Command, flags globalFlags) (settings, error) {
	// Config warnings are logged before the final level is known.
	bootLogger := diag.NewLogger(diag.LogConfig{Level: flags.logLevel, Pretty: flags.pretty, Output: cmd.ErrOrStderr()})
	f, err := config.Open(flags.configPath, config.WithLogger(bootLogger))
	if err != nil {
		return settings{}, err
	}

	level, err := config.Bind(f, "Log", "Level", "warn", "Minimum level of log messages",
		config.OneOf("debug", "info", "warn", "error"))
	if err != nil {
		return settings{}, err
	}
	pretty, err := config.Bind(f, "Log", "Pretty", false, "Human-readable log output")
	if err != nil {
		return settings{}, err
	}
	limit, err := config.Bind(f, "Symbols", "Limit", 0, "Maximum number of symbols listed, 0 for no limit",
		config.Range(0, 1<<20))
	if err != nil {
		return settings{}, err
	}
	queue, err := config.Bind(f, "Diagnostics", "QueueSize", 1024, "Events buffered before diagnostics are dropped",
		config.Range(1, 1<<16))
	if err != nil {
		return settings{}, err
	}
	// Invalid values have already been reset and logged.
	_ = f.Validate()

	if cmd.Flags().Changed("log-level") {
		if err := level.Set(flags.logLevel); err != nil {
			return settings{}, fmt.Errorf("invalid --log-level: %w", err)
		}
	}
	if cmd.Flags().Changed("pretty") {
		_ = pretty.Set(flags.pretty)
	}

	return settings{
		logger: diag.NewLogger(diag.LogConfig{
			Level:  level.Value(),
			Pretty: pretty.Value(),
			Output: cmd.ErrOrStderr(),
		}),
		symbolLimit: limit.Value(),
		diagQueue:   queue.Value(),
		configFile:  f,
	}, nil
}

package commands

import (
	"github.com/spf13/cobra"
	"github.com/zeu5/traffic-rl-signal/config"
)

var (
	configPath string
	seed       uint64
	logLevel   string
	logFormat  string
)

func GetRootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           "traffic-signal",
		Short:         "Adaptive traffic signal controller learning with tabular Q-learning",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCommand.PersistentFlags().StringVarP(&configPath, "config", "c", "traffic.yaml", "Configuration file (YAML or JSON)")
	rootCommand.PersistentFlags().Uint64Var(&seed, "seed", 0, "Seed for exploration and the simulator, 0 keeps the configured seed")
	rootCommand.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCommand.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	// adding the subcommands here
	rootCommand.AddCommand(RunCommand())
	rootCommand.AddCommand(SimulateCommand())
	rootCommand.AddCommand(TableCommand())
	return rootCommand
}

// loadConfig resolves the configuration and applies the persistent flags
// on top of it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if seed != 0 {
		cfg.Learning.Seed = seed
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

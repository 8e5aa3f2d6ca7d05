package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"servingd/internal/config"
	"servingd/internal/registry"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "servingd",
		Short:         "Batched model serving daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultConfig := os.Getenv("SERVINGD_CONFIG")
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "Path to config file (.yaml, .json or .toml; defaults SERVINGD_CONFIG)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: json|console (overrides config)")

	root.AddCommand(newServeCmd(opts), newCheckConfigCmd(opts), newScanCmd(opts))
	return root
}

// loadConfig reads the config file if one is given, then applies flag
// overrides and defaults and validates the result.
func (o *rootOptions) loadConfig() (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// newLogger builds the process logger from the log settings in cfg.
func newLogger(cfg config.Config, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log_level: %w", err)
	}
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "servingd").Logger(), nil
}

func newCheckConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "check-config",
		Short:   "Validate the config and print it with defaults applied",
		Example: "  servingd check-config --config servingd.yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			b, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}

func newScanCmd(opts *rootOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:     "scan",
		Short:   "List the model versions found under a models directory",
		Example: "  servingd scan --models-dir /srv/models",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				dir = cfg.ModelsDir
			}
			if dir == "" {
				return fmt.Errorf("no models directory: pass --models-dir or set models_dir")
			}
			models, err := registry.LoadDir(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range models {
				fmt.Fprintf(out, "%s\t%s\t%v\n", m.Name, m.Path, m.Versions)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "models-dir", "", "Directory laid out as <model>/<version>/")
	return cmd
}

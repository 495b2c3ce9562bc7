package helpers

import (
	"context"
	"errors"
	"fmt"

	"github.com/compozy/policychat/pkg/config"
	"github.com/compozy/policychat/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ContextWithConfig stores the loaded configuration on ctx.
func ContextWithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, ConfigKey, cfg)
}

// ConfigFromContext returns the configuration stored by ContextWithConfig, or nil.
func ConfigFromContext(ctx context.Context) *config.Config {
	if ctx == nil {
		return nil
	}
	cfg, ok := ctx.Value(ConfigKey).(*config.Config)
	if !ok {
		return nil
	}
	return cfg
}

// RequireConfig is ConfigFromContext that fails when no configuration was loaded.
func RequireConfig(ctx context.Context) (*config.Config, error) {
	cfg := ConfigFromContext(ctx)
	if cfg == nil {
		return nil, errors.New("configuration missing from context")
	}
	return cfg, nil
}

// LoadConfig layers defaults, the YAML file, the environment (after .env) and changed CLI flags.
func LoadConfig(cmd *cobra.Command) (*config.Config, config.Service, error) {
	envFile, err := cmd.Flags().GetString(FlagEnvFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get %s flag: %w", FlagEnvFile, err)
	}
	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return nil, nil, err
		}
	}
	configFile, err := cmd.Flags().GetString(FlagConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get %s flag: %w", FlagConfig, err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc := config.NewService()
	cfg, err := svc.Load(ctx, config.NewYAMLProvider(configFile), config.NewCLIProvider(ChangedConfigFlags(cmd)))
	if err != nil {
		return nil, nil, err
	}
	return cfg, svc, nil
}

// ChangedConfigFlags collects explicitly set flags that override configuration values.
func ChangedConfigFlags(cmd *cobra.Command) map[string]any {
	flags := make(map[string]any)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if !config.IsConfigFlag(f.Name) {
			return
		}
		flags[f.Name] = flagValue(cmd.Flags(), f)
	})
	return flags
}

func flagValue(set *pflag.FlagSet, f *pflag.Flag) any {
	switch f.Value.Type() {
	case "int":
		if v, err := set.GetInt(f.Name); err == nil {
			return v
		}
	case "bool":
		if v, err := set.GetBool(f.Name); err == nil {
			return v
		}
	}
	return f.Value.String()
}

// SetupLogger installs the process logger on the command context.
// The level comes from runtime.log_level, which --log-level overrides through the CLI source.
func SetupLogger(cmd *cobra.Command, cfg *config.Config) (logger.Logger, error) {
	_, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return nil, err
	}
	level := cfg.Runtime.LogLevel
	if level == "" {
		level = string(logger.InfoLevel)
	}
	log := logger.SetupLogger(level, logJSON, logSource)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logger.ContextWithLogger(ctx, log))
	return log, nil
}

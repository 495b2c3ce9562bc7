package cli

import (
	"github.com/compozy/policychat/cli/cmd/ingest"
	"github.com/compozy/policychat/cli/cmd/serve"
	"github.com/compozy/policychat/cli/helpers"
	"github.com/compozy/policychat/pkg/version"
	"github.com/spf13/cobra"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "policychat",
		Short:         "Answer company policy questions from indexed PDF documents",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.String(helpers.FlagConfig, helpers.DefaultConfigFile, "Path to the YAML configuration file")
	flags.String(helpers.FlagEnvFile, helpers.DefaultEnvFile, "Path to a .env file loaded before reading the environment")
	flags.String(helpers.FlagLogLevel, "info", "Log level (debug, info, warn, error)")
	flags.Bool(helpers.FlagLogJSON, false, "Emit logs as JSON")
	flags.Bool(helpers.FlagLogSource, false, "Include source locations in logs")
	flags.String(helpers.FlagIndex, "", "Vector index name")
	flags.String(helpers.FlagVectorDB, "", "Vector database provider (pgvector, qdrant, redis, filesystem, memory)")

	root.AddCommand(
		serve.NewServeCommand(),
		ingest.NewIngestCommand(),
		ConfigCmd(),
	)
	return root
}

// SetupGlobalConfig loads configuration, installs the logger and stores both on the command context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	cfg, _, err := helpers.LoadConfig(cmd)
	if err != nil {
		return err
	}
	if _, err := helpers.SetupLogger(cmd, cfg); err != nil {
		return err
	}
	cmd.SetContext(helpers.ContextWithConfig(cmd.Context(), cfg))
	return nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/compozy/policychat/cli/helpers"
	"github.com/compozy/policychat/pkg/config"
	"github.com/spf13/cobra"
)

// ConfigCmd returns the config command
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration inspection and validation",
		// Loading happens inside each subcommand so validation errors can be reported.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	}
	cmd.AddCommand(
		configShowCmd(),
		configValidateCmd(),
	)
	return cmd
}

// configShowCmd shows the current configuration with source information
func configShowCmd() *cobra.Command {
	var (
		format      string
		showSources bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration values and their sources",
		Long: `Display the effective configuration. Secrets are redacted.
With --sources, each value is annotated with the layer (cli, yaml, env or default) that set it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, svc, err := helpers.LoadConfig(cmd)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return formatConfigOutput(cmd.OutOrStdout(), cfg, svc, format, showSources)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format (json, table)")
	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Show configuration sources")
	return cmd
}

// configValidateCmd validates the layered configuration
func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file, environment and flags",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, _, err := helpers.LoadConfig(cmd); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}
}

type configEntry struct {
	Key    string            `json:"key"`
	Value  string            `json:"value"`
	Source config.SourceType `json:"source,omitempty"`
}

func formatConfigOutput(w io.Writer, cfg *config.Config, svc config.Service, format string, showSources bool) error {
	entries := flattenConfig("", reflect.ValueOf(cfg).Elem())
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	for i := range entries {
		if showSources {
			entries[i].Source = svc.GetSource(entries[i].Key)
		}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, e := range entries {
			if showSources {
				fmt.Fprintf(tw, "%s\t%s\t(%s)\n", e.Key, e.Value, e.Source)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\n", e.Key, e.Value)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// flattenConfig walks koanf-tagged fields into dotted keys.
// SensitiveString values render through their redacting String method.
func flattenConfig(prefix string, val reflect.Value) []configEntry {
	var out []configEntry
	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("koanf")
		if !field.IsExported() || tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := val.Field(i)
		if fv.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			out = append(out, flattenConfig(key, fv)...)
			continue
		}
		out = append(out, configEntry{Key: key, Value: fmt.Sprint(fv.Interface())})
	}
	return out
}

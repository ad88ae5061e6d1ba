package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/simonyos/Z-NOTE/internal/config"
	"github.com/simonyos/Z-NOTE/internal/theme"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage znote configuration",
	Long: `Manage znote configuration including API keys and defaults.

Examples:
  znote config                          # Show current config
  znote config set openai <key>         # Set OpenAI API key
  znote config set provider anthropic   # Set default provider
  znote config set embed-backend openai # Embed with OpenAI instead of Ollama
  znote config delete openai            # Remove OpenAI API key`,
	Run: func(cmd *cobra.Command, args []string) {
		showConfig(cmd)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Available keys:
  openai         - OpenAI API key
  anthropic      - Anthropic API key
  custom         - API key for the OpenAI-compatible endpoint
  custom_url     - OpenAI-compatible base URL (default: https://openrouter.ai/api/v1)
  ollama_url     - Ollama server (default: http://localhost:11434)
  provider       - Default provider (openai, anthropic, ollama, custom)
  model          - Default model
  temperature    - Sampling temperature, 0 to 2
  embed_backend  - Embedding backend (ollama, openai)
  embed_model    - Embedding model
  embed_url      - Embedding endpoint
  nats_url       - NATS server for the remote embedding worker
  image_model    - Image model (default: dall-e-3)
  image_url      - Image endpoint`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), theme.Current.Success.Render(fmt.Sprintf("Set %s successfully.", args[0])))
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := strings.ReplaceAll(strings.ToLower(args[0]), "-", "_")
		keys := config.ListKeys()

		for _, k := range []string{key, key + "_api_key", "default_" + key} {
			if val, ok := keys[k]; ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", k, val)
				return
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is not set\n", args[0])
	},
}

var configDeleteCmd = &cobra.Command{
	Use:     "delete <key>",
	Aliases: []string{"remove", "unset"},
	Short:   "Delete a configuration value",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.DeleteKey(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", args[0])
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.ConfigPath())
	},
}

func showConfig(cmd *cobra.Command) {
	s := theme.Current
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n\n", s.Title.Render("Configuration file:"), config.ConfigPath())

	keys := config.ListKeys()
	if len(keys) == 0 {
		fmt.Fprintln(out, "No configuration set.")
		fmt.Fprintln(out, s.Muted.Render("\nUse 'znote config set <key> <value>' to configure."))
		return
	}

	for _, k := range config.SortedKeys(keys) {
		fmt.Fprintf(out, "  %s: %s\n", s.Key.Render(k), keys[k])
	}
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configDeleteCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

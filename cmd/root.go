package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simonyos/Z-NOTE/internal/logging"
	"github.com/simonyos/Z-NOTE/internal/theme"
)

var (
	providerFlag string
	modelFlag    string
	verboseFlag  bool
	themeFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "znote",
	Short: "Z-Note AI assistant: chat, embeddings and images",
	Long: `Z-Note's AI core from the command line. Chat streams replies from
one of several providers, embed computes vectors on a local or remote worker,
and image generates pictures with automatic retries.

Supported providers:
  openai     - OpenAI API (requires OPENAI_API_KEY, default)
  anthropic  - Anthropic API (requires ANTHROPIC_API_KEY)
  ollama     - Local Ollama server (no key)
  custom     - Any OpenAI-compatible endpoint (ZNOTE_CUSTOM_URL, ZNOTE_CUSTOM_API_KEY)`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return theme.Use(themeFlag)
	},
	Args: cobra.ArbitraryArgs,
	RunE: runChat,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the logger for a command run
func newLogger() *zap.Logger {
	return logging.New(verboseFlag)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&providerFlag, "provider", "p", "", "LLM provider (openai, anthropic, ollama, custom)")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "Model to use (provider-specific)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&themeFlag, "theme", "", "Output theme (default, tokyonight)")
	addChatFlags(rootCmd)
}

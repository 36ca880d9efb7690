// Package commands implements the CLI commands for spanlabel.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "spanlabel",
	Short: "Hybrid span extraction from free-form text",
	Long: `Spanlabel extracts labeled spans (substring, role, confidence) from
free-form text. A deterministic fast path handles cheap cases; anything it
cannot cover confidently goes to an LLM oracle, with offset-exact
validation and a single-shot repair round for malformed output.

Examples:
  # Label a prompt from a file
  spanlabel label -f prompt.txt

  # Label text directly, using OpenRouter with a specific model
  spanlabel label -t "slow motion close-up of a woman dancing at night" \
      -p openrouter -m anthropic/claude-sonnet

  # Pipe from stdin, YAML output, repair enabled
  cat prompt.txt | spanlabel label --enable-repair --format yaml`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.spanlabel.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".spanlabel")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SPANLABEL")
	viper.AutomaticEnv()

	// Also check common API key env vars
	_ = viper.BindEnv("api_key", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "OPENROUTER_API_KEY")

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// logInfo prints an info message to stderr (unless quiet mode).
func logInfo(format string, args ...any) {
	if !viper.GetBool("quiet") {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

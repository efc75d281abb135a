// Command voice-client talks to the chat relay from a terminal: typed lines
// stand in for the microphone and an animated face stands in for the avatar.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"

	"github.com/waqar741/EchoAI/utils/config"
	"github.com/waqar741/EchoAI/utils/log"
)

var (
	cfg config.ClientConfig

	streaming bool
	maxTokens int
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "voice-client",
	Short: "Voice assistant client for the chat relay",
	Long: `voice-client connects to the chat relay and runs the voice loop:
capture an utterance, ask the relay, speak the reply while the avatar animates.

Environment Variables:
  RELAY_URL        - relay base URL (default http://127.0.0.1:8000)
  RELAY_API_KEY    - key sent as X-API-Key
  AVATAR_MANIFEST  - YAML manifest of looping avatar assets
  AVATAR_ASSET     - asset to loop while speaking (default: manifest default)
  AVATAR_FPS       - avatar frame rate (default 12)
  CLIENT_LOG_FILE  - log destination (default voice-client.log)`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) { log.Sync() },
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&streaming, "stream", true, "use the streaming endpoint")
	rootCmd.PersistentFlags().IntVar(&maxTokens, "max-tokens", 0, "reply length limit (0 uses the relay default)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(transcribeCmd)
}

func setup(*cobra.Command, []string) error {
	_ = gotenv.Load()
	cfg = config.LoadClient()
	if verbose {
		cfg.Debug = true
	}

	logger, err := log.NewFileLogger(cfg.LogFile, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	log.SetLogger(logger)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/waqar741/EchoAI/adapters/speech"
	"github.com/waqar741/EchoAI/adapters/tts"
	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/usecase"
)

var (
	languageCode string
	replyToo     bool
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file.wav>",
	Short: "Recognize a LINEAR16 WAV file with Google Cloud Speech",
	Long: `transcribe streams a recording through Google Cloud Speech as if it
were spoken into the microphone, printing interim and final transcripts.
With --reply the final transcript is sent to the relay and the answer spoken.`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscribe,
}

func init() {
	transcribeCmd.Flags().StringVar(&languageCode, "language", "en-US", "BCP-47 language of the recording")
	transcribeCmd.Flags().BoolVar(&replyToo, "reply", false, "send the transcript to the relay and speak the reply")
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, err := speech.NewGoogleSpeech(ctx, speech.GoogleSpeechConfig{LanguageCode: languageCode})
	if err != nil {
		return err
	}
	defer g.Close()

	s, err := newSession(cfg, g.FileRecognizer(args[0]), tts.NewConsoleSynthesizer(nil))
	if err != nil {
		return err
	}
	defer s.close()

	out := cmd.OutOrStdout()
	s.machine.OnChange(func(msg domain.SpeechStateMessage) {
		fmt.Fprintf(out, "[%s -> %s]\n", msg.From, msg.To)
	})
	s.voice.OnPartial = func(text string) {
		fmt.Fprintf(out, "... %s\n", text)
	}
	if err := s.start(ctx); err != nil {
		return err
	}

	text, err := s.voice.Listen(ctx)
	if err != nil {
		return err
	}
	if text == "" {
		fmt.Fprintln(out, "no speech recognized")
		return nil
	}
	fmt.Fprintf(out, "you: %s\n", text)
	if !replyToo {
		return nil
	}

	fmt.Fprint(out, "assistant: ")
	_, err = s.reply(ctx, text, func(delta string) { fmt.Fprint(out, delta) })
	fmt.Fprintln(out)
	if usecase.IsCancelled(err) {
		return nil
	}
	return err
}

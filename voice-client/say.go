package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/adapters/tts"
	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/usecase"
	"github.com/waqar741/EchoAI/utils/log"
)

var (
	useGoogleTTS bool
	wavOut       string
	voiceName    string
)

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Send one utterance, print the reply and speak it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSay,
}

func init() {
	sayCmd.Flags().BoolVar(&useGoogleTTS, "google", false, "synthesize with Google Cloud Text-to-Speech")
	sayCmd.Flags().StringVar(&wavOut, "wav", "", "write the synthesized reply to this WAV file (with --google)")
	sayCmd.Flags().StringVar(&voiceName, "voice", "", "Google voice name, e.g. en-US-Neural2-F")
}

func newSynthesizer(ctx context.Context) (domain.Synthesizer, func(), error) {
	if !useGoogleTTS {
		return tts.NewConsoleSynthesizer(nil), func() {}, nil
	}

	g, err := tts.NewGoogleTTS(ctx, tts.GoogleTTSConfig{
		VoiceName: voiceName,
		OnAudio: func(wav []byte) {
			if wavOut == "" {
				return
			}
			if err := os.WriteFile(wavOut, wav, 0o644); err != nil {
				log.Error("Failed to write WAV", zap.Error(err), zap.String("path", wavOut))
			}
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return g, func() { _ = g.Close() }, nil
}

func runSay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	synth, closeSynth, err := newSynthesizer(ctx)
	if err != nil {
		return err
	}
	defer closeSynth()

	s, err := newSession(cfg, nil, synth)
	if err != nil {
		return err
	}
	defer s.close()

	out := cmd.OutOrStdout()
	s.avatar.OnRestart = func(mark time.Duration, loop int) {
		fmt.Fprintf(out, "\n[avatar] loop %d restarted at %s", loop, mark)
	}
	s.machine.OnChange(func(msg domain.SpeechStateMessage) {
		log.Info("Speech state changed",
			zap.String("from", string(msg.From)), zap.String("to", string(msg.To)), zap.String("trigger", msg.Trigger))
	})
	if err := s.start(ctx); err != nil {
		return err
	}

	transcript := strings.Join(args, " ")
	fmt.Fprintf(out, "you: %s\nassistant: ", transcript)
	_, err = s.reply(ctx, transcript, func(delta string) {
		fmt.Fprint(out, delta)
	})
	fmt.Fprintln(out)

	if err != nil {
		if usecase.IsCancelled(err) {
			return nil
		}
		return err
	}

	// the avatar learns about the end of speech through the broker
	for i := 0; i < 100; i++ {
		if _, speaking := s.avatar.LoopState(); !speaking {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	loop := s.avatar.LastLoop()
	fmt.Fprintf(out, "[avatar] spoke with %d loop restart(s)\n", loop.LoopCount)
	return nil
}

package tts

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/adapters/audio"
	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/utils/log"
)

type GoogleTTSConfig struct {
	LanguageCode string
	VoiceName    string
	SampleRate   int
	// OnAudio, when set, receives the WAV of every synthesized utterance.
	OnAudio func(wav []byte)
}

type GoogleTTS struct {
	client *texttospeech.Client
	cfg    GoogleTTSConfig
	clock  clock.Clock
}

func NewGoogleTTS(ctx context.Context, cfg GoogleTTSConfig) (*GoogleTTS, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating Google tts client: %w", err)
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	return &GoogleTTS{
		client: client,
		cfg:    cfg,
		clock:  clock.New(),
	}, nil
}

func (g *GoogleTTS) Close() error {
	return g.client.Close()
}

// Synthesize returns text as a LINEAR16 WAV file.
func (g *GoogleTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	req := texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{
				Text: text,
			},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: g.cfg.LanguageCode,
			Name:         g.cfg.VoiceName,
			SsmlGender:   texttospeechpb.SsmlVoiceGender_NEUTRAL,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
			SampleRateHertz: int32(g.cfg.SampleRate),
		},
	}
	resp, err := g.client.SynthesizeSpeech(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("synthesizing speech: %w", err)
	}

	return resp.GetAudioContent(), nil
}

// Speak synthesizes text and runs its timeline for the exact length of the
// returned audio.
func (g *GoogleTTS) Speak(ctx context.Context, text string) (<-chan domain.SynthesisEvent, error) {
	wav, err := g.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	format, pcm, err := audio.ParseWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("decoding synthesized audio: %w", err)
	}
	d := format.Duration(len(pcm))
	log.WithCtx(ctx).Debug("Synthesized utterance", zap.Duration("duration", d), zap.Int("bytes", len(wav)))

	if g.cfg.OnAudio != nil {
		g.cfg.OnAudio(wav)
	}

	out := make(chan domain.SynthesisEvent)
	go play(ctx, g.clock, text, d, out)
	return out, nil
}

package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/adapters/audio"
	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/utils/log"
)

const chunkDuration = 100 // milliseconds of audio per streaming request

type GoogleSpeechConfig struct {
	LanguageCode string
}

type GoogleSpeech struct {
	client *speech.Client
	cfg    GoogleSpeechConfig
}

func NewGoogleSpeech(ctx context.Context, cfg GoogleSpeechConfig) (*GoogleSpeech, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating Google speech client: %w", err)
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	return &GoogleSpeech{
		client: client,
		cfg:    cfg,
	}, nil
}

func (g *GoogleSpeech) Close() error {
	return g.client.Close()
}

// FileRecognizer returns a recognizer that streams the LINEAR16 WAV file at
// path to Google Speech as if it were live microphone input.
func (g *GoogleSpeech) FileRecognizer(path string) domain.Recognizer {
	return &fileRecognizer{speech: g, path: path}
}

type fileRecognizer struct {
	speech *GoogleSpeech
	path   string
}

func (r *fileRecognizer) Start(ctx context.Context) (<-chan domain.RecognitionEvent, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	format, pcm, err := audio.ParseWAV(raw)
	if err != nil {
		return nil, err
	}
	if format.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported sample size %d bits, need LINEAR16", format.BitsPerSample)
	}

	stream, err := r.speech.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating streaming client: %w", err)
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:            int32(format.SampleRate),
					AudioChannelCount:          int32(format.Channels),
					LanguageCode:               r.speech.cfg.LanguageCode,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: true,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sending streaming config: %w", err)
	}

	out := make(chan domain.RecognitionEvent)
	go sendAudio(ctx, stream, pcm, format)
	go receive(ctx, stream, out)
	return out, nil
}

// recognizeStream is the part of speechpb.Speech_StreamingRecognizeClient
// the recognizer uses.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

func sendAudio(ctx context.Context, stream recognizeStream, pcm []byte, format audio.Format) {
	chunk := format.BytesPerSecond() * chunkDuration / 1000
	if chunk <= 0 {
		chunk = 3200
	}
	for len(pcm) > 0 && ctx.Err() == nil {
		n := min(chunk, len(pcm))
		if err := stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: pcm[:n]},
		}); err != nil {
			log.WithCtx(ctx).Debug("Stopped sending audio", zap.Error(err))
			break
		}
		pcm = pcm[n:]
	}
	if err := stream.CloseSend(); err != nil {
		log.WithCtx(ctx).Debug("Failed to close audio stream", zap.Error(err))
	}
}

// receive turns recognition responses into events. Only the first final
// result is reported; capture ends with it.
func receive(ctx context.Context, stream recognizeStream, out chan<- domain.RecognitionEvent) {
	defer close(out)

	emit := func(ev domain.RecognitionEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			emit(domain.RecognitionEvent{Kind: domain.RecognitionEnd})
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				emit(domain.RecognitionEvent{Kind: domain.RecognitionError, Err: err})
			}
			return
		}
		if st := resp.GetError(); st != nil {
			emit(domain.RecognitionEvent{Kind: domain.RecognitionError, Err: fmt.Errorf("recognition failed: %s", st.GetMessage())})
			return
		}

		for _, result := range resp.GetResults() {
			alts := result.GetAlternatives()
			if len(alts) == 0 {
				continue
			}
			kind := domain.RecognitionPartial
			if result.GetIsFinal() {
				kind = domain.RecognitionFinal
			}
			if !emit(domain.RecognitionEvent{Kind: kind, Transcript: alts[0].GetTranscript()}) {
				return
			}
			if kind == domain.RecognitionFinal {
				return
			}
		}
	}
}

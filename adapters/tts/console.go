package tts

import (
	"context"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/waqar741/EchoAI/domain"
)

const (
	wordsPerMinute = 165
	minUtterance   = 500 * time.Millisecond
)

// EstimateDuration guesses how long text takes to say at a conversational
// pace.
func EstimateDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	d := time.Duration(words) * time.Minute / wordsPerMinute
	return max(d, minUtterance)
}

// ConsoleSynthesizer "speaks" without audio output: it only runs the
// utterance timeline, with the duration estimated from the text.
type ConsoleSynthesizer struct {
	clock clock.Clock
}

func NewConsoleSynthesizer(clk clock.Clock) *ConsoleSynthesizer {
	if clk == nil {
		clk = clock.New()
	}
	return &ConsoleSynthesizer{clock: clk}
}

func (s *ConsoleSynthesizer) Speak(ctx context.Context, text string) (<-chan domain.SynthesisEvent, error) {
	out := make(chan domain.SynthesisEvent)
	go play(ctx, s.clock, text, EstimateDuration(text), out)
	return out, nil
}

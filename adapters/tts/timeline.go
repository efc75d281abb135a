package tts

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/benbjohnson/clock"

	"github.com/waqar741/EchoAI/domain"
)

// wordStarts returns the byte offset of every word in text.
func wordStarts(text string) []int {
	var starts []int
	inWord := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space && !inWord {
			starts = append(starts, i)
		}
		inWord = !space
	}
	return starts
}

// play emits the lifecycle of one utterance lasting d: started, a boundary
// at each word spread over d in proportion to its offset, then ended. It
// closes out when done or when ctx ends, in which case no end event is sent.
func play(ctx context.Context, clk clock.Clock, text string, d time.Duration, out chan<- domain.SynthesisEvent) {
	defer close(out)

	emit := func(ev domain.SynthesisEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	wait := func(until time.Time) bool {
		if wait := until.Sub(clk.Now()); wait > 0 {
			timer := clk.Timer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	start := clk.Now()
	if !emit(domain.SynthesisEvent{Kind: domain.SynthesisStarted, Duration: d}) {
		return
	}

	n := len(strings.TrimRightFunc(text, unicode.IsSpace))
	for _, offset := range wordStarts(text) {
		at := start
		if n > 0 {
			at = start.Add(time.Duration(int64(d) * int64(offset) / int64(n)))
		}
		if !wait(at) || !emit(domain.SynthesisEvent{Kind: domain.SynthesisBoundary, CharIndex: offset}) {
			return
		}
	}

	if !wait(start.Add(d)) {
		return
	}
	emit(domain.SynthesisEvent{Kind: domain.SynthesisEnded})
}

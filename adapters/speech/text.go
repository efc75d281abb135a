package speech

import (
	"context"
	"strings"
	"sync"

	"github.com/waqar741/EchoAI/domain"
)

const maxPartials = 16

// TextRecognizer stands in for a microphone: typed lines become transcripts.
// Each word of a submitted line is reported as a partial result before the
// whole line arrives as the final one.
type TextRecognizer struct {
	mu      sync.Mutex
	current chan domain.RecognitionEvent
}

func NewTextRecognizer() *TextRecognizer {
	return &TextRecognizer{}
}

func (r *TextRecognizer) Start(ctx context.Context) (<-chan domain.RecognitionEvent, error) {
	ch := make(chan domain.RecognitionEvent, 64)

	r.mu.Lock()
	if r.current != nil {
		close(r.current)
	}
	r.current = ch
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.current == ch {
			close(ch)
			r.current = nil
		}
	}()
	return ch, nil
}

// Submit delivers text to the active capture. It reports false when no
// capture is running.
func (r *TextRecognizer) Submit(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return false
	}

	text = strings.TrimSpace(text)
	if text == "" {
		r.send(domain.RecognitionEvent{Kind: domain.RecognitionEnd})
		return true
	}
	words := strings.Fields(text)
	for i := max(1, len(words)-maxPartials); i < len(words); i++ {
		r.send(domain.RecognitionEvent{Kind: domain.RecognitionPartial, Transcript: strings.Join(words[:i], " ")})
	}
	r.send(domain.RecognitionEvent{Kind: domain.RecognitionFinal, Transcript: text})
	return true
}

func (r *TextRecognizer) send(ev domain.RecognitionEvent) {
	select {
	case r.current <- ev:
	default:
	}
}

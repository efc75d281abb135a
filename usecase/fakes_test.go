package usecase

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/waqar741/EchoAI/domain"
)

// fakeLlm replays fixed fragments and records every request it receives.
type fakeLlm struct {
	mu        sync.Mutex
	fragments []string
	openErr   error
	midErr    error // returned after all fragments instead of io.EOF
	requests  []domain.CompletionRequest
}

func (f *fakeLlm) Model() string { return "fake-model" }
func (f *fakeLlm) Close() error  { return nil }

func (f *fakeLlm) Stream(_ context.Context, req domain.CompletionRequest) (domain.DeltaStream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &sliceStream{items: append([]string(nil), f.fragments...), end: f.midErr}, nil
}

func (f *fakeLlm) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type sliceStream struct {
	items  []string
	end    error
	closed bool
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.items) == 0 {
		if s.end != nil {
			return "", s.end
		}
		return "", io.EOF
	}
	d := s.items[0]
	s.items = s.items[1:]
	return d, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

func ptr[T any](v T) *T { return &v }

// fakeRecognizer forwards events the test pushes into feed until the
// capture context ends.
type fakeRecognizer struct {
	feed     chan domain.RecognitionEvent
	startErr error
	started  chan struct{}
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{
		feed:    make(chan domain.RecognitionEvent),
		started: make(chan struct{}, 16),
	}
}

func (r *fakeRecognizer) Start(ctx context.Context) (<-chan domain.RecognitionEvent, error) {
	if r.startErr != nil {
		return nil, r.startErr
	}
	out := make(chan domain.RecognitionEvent)
	go func() {
		defer close(out)
		for {
			select {
			case ev := <-r.feed:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	r.started <- struct{}{}
	return out, nil
}

// fakeSynthesizer emits started, one boundary per word and ended. With hold
// set it stops after started and waits for cancellation.
type fakeSynthesizer struct {
	mu       sync.Mutex
	hold     bool
	failWith error
	spoken   []string
	started  chan struct{}
}

func newFakeSynthesizer() *fakeSynthesizer {
	return &fakeSynthesizer{started: make(chan struct{}, 16)}
}

func (s *fakeSynthesizer) Speak(ctx context.Context, text string) (<-chan domain.SynthesisEvent, error) {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	hold, failWith := s.hold, s.failWith
	s.mu.Unlock()

	out := make(chan domain.SynthesisEvent)
	go func() {
		defer close(out)
		send := func(ev domain.SynthesisEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !send(domain.SynthesisEvent{Kind: domain.SynthesisStarted, Duration: time.Second}) {
			return
		}
		s.started <- struct{}{}
		if hold {
			<-ctx.Done()
			return
		}
		if failWith != nil {
			send(domain.SynthesisEvent{Kind: domain.SynthesisFailed, Err: failWith})
			return
		}
		if !send(domain.SynthesisEvent{Kind: domain.SynthesisBoundary}) {
			return
		}
		send(domain.SynthesisEvent{Kind: domain.SynthesisEnded})
	}()
	return out, nil
}

func (s *fakeSynthesizer) setHold(hold bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = hold
}

// stateRecorder collects every transition a machine announces.
type stateRecorder struct {
	mu   sync.Mutex
	msgs []domain.SpeechStateMessage
}

func (r *stateRecorder) listen(msg domain.SpeechStateMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *stateRecorder) states() []domain.SpeechState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SpeechState, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.To)
	}
	return out
}

// fakeRelay answers with fixed fragments and records every request.
type fakeRelay struct {
	mu        sync.Mutex
	fragments []string
	err       error
	block     chan struct{}
	entered   chan struct{}
	requests  []domain.ChatRequest
}

func (f *fakeRelay) record(req domain.ChatRequest) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
}

func (f *fakeRelay) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	var text string
	err := f.ChatStream(ctx, req, func(d string) { text += d })
	if err != nil {
		return domain.ChatResponse{}, err
	}
	return domain.ChatResponse{Response: text, Model: "fake-model"}, nil
}

func (f *fakeRelay) ChatStream(ctx context.Context, req domain.ChatRequest, onDelta func(string)) error {
	f.record(req)
	for i, d := range f.fragments {
		if i == 1 && f.block != nil {
			select {
			case <-f.block:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		onDelta(d)
	}
	return f.err
}

func (f *fakeRelay) lastRequest() domain.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

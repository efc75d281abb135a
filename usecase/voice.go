package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/utils/log"
)

// Trigger is an event that may move the speech state machine.
type Trigger string

const (
	StartCapture      Trigger = "start_capture"
	PartialResult     Trigger = "partial_result"
	FinalResult       Trigger = "final_result"
	CaptureEnd        Trigger = "capture_end"
	CaptureError      Trigger = "capture_error"
	Cancel            Trigger = "cancel"
	SynthesisStart    Trigger = "synthesis_start"
	SynthesisBoundary Trigger = "synthesis_boundary"
	SynthesisEnd      Trigger = "synthesis_end"
	SynthesisError    Trigger = "synthesis_error"
	ResponseFailed    Trigger = "response_failed"
	Reset             Trigger = "reset"
)

type transitionKey struct {
	from    domain.SpeechState
	trigger Trigger
}

const anyState domain.SpeechState = "*"

// transitions lists every accepted (state, trigger) pair. Entries keyed by
// anyState apply when no exact entry exists. Triggers that arrive late for
// an operation that has already finished are accepted as no-ops.
var transitions = map[transitionKey]domain.SpeechState{
	{domain.StateIdle, StartCapture}:      domain.StateListening,
	{domain.StateListening, StartCapture}: domain.StateListening,
	{domain.StateThinking, StartCapture}:  domain.StateListening,
	{domain.StateSpeaking, StartCapture}:  domain.StateListening,

	{domain.StateListening, PartialResult}: domain.StateListening,
	{domain.StateListening, FinalResult}:   domain.StateThinking,
	{domain.StateListening, CaptureEnd}:    domain.StateIdle,
	{domain.StateListening, CaptureError}:  domain.StateIdle,
	{anyState, CaptureEnd}:                 anyState,
	{anyState, CaptureError}:               anyState,

	{domain.StateIdle, SynthesisStart}:        domain.StateSpeaking,
	{domain.StateThinking, SynthesisStart}:    domain.StateSpeaking,
	{domain.StateSpeaking, SynthesisStart}:    domain.StateSpeaking,
	{domain.StateSpeaking, SynthesisBoundary}: domain.StateSpeaking,
	{domain.StateSpeaking, SynthesisEnd}:      domain.StateIdle,
	{domain.StateSpeaking, SynthesisError}:    domain.StateIdle,
	{domain.StateThinking, SynthesisError}:    domain.StateIdle,
	{anyState, SynthesisEnd}:                  anyState,
	{anyState, SynthesisError}:                anyState,
	{domain.StateThinking, ResponseFailed}:    domain.StateIdle,
	{anyState, ResponseFailed}:                anyState,
	{anyState, Cancel}:                        domain.StateIdle,
	{anyState, Reset}:                         domain.StateIdle,
}

// StateListener observes state changes. Listeners run synchronously in
// transition order and must not call back into the machine.
type StateListener func(msg domain.SpeechStateMessage)

// SpeechMachine owns the single SpeechState of a session. listening and
// speaking are distinct states, so they can never hold at the same time.
type SpeechMachine struct {
	sessionID string
	now       func() time.Time

	mu        sync.Mutex
	state     domain.SpeechState
	listeners []StateListener
}

func NewSpeechMachine(sessionID string) *SpeechMachine {
	return &SpeechMachine{
		sessionID: sessionID,
		now:       time.Now,
		state:     domain.StateIdle,
	}
}

func (m *SpeechMachine) SessionID() string { return m.sessionID }

func (m *SpeechMachine) State() domain.SpeechState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnChange registers l for every future state change.
func (m *SpeechMachine) OnChange(l StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Fire applies trigger. An unknown pair returns ErrInvalidTransition and
// leaves the state unchanged. Listeners only hear about real changes, plus
// a new utterance starting while one is already speaking.
func (m *SpeechMachine) Fire(trigger Trigger) (domain.SpeechState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	to, ok := transitions[transitionKey{from, trigger}]
	if !ok {
		to, ok = transitions[transitionKey{anyState, trigger}]
	}
	if !ok {
		return from, fmt.Errorf("%w: %s in state %s", domain.ErrInvalidTransition, trigger, from)
	}
	if to == anyState {
		to = from
	}
	if to == from && trigger != SynthesisStart {
		return from, nil
	}

	m.state = to
	msg := domain.SpeechStateMessage{
		SessionID: m.sessionID,
		From:      from,
		To:        to,
		Trigger:   string(trigger),
		Timestamp: m.now(),
	}
	for _, l := range m.listeners {
		l(msg)
	}
	return to, nil
}

// PublishStates forwards every state change of m to broker, routed by the
// session ID.
func PublishStates(m *SpeechMachine, broker domain.MessageBroker) {
	m.OnChange(func(msg domain.SpeechStateMessage) {
		payload, err := sonic.Marshal(msg)
		if err != nil {
			log.Error("Failed to encode speech state", zap.Error(err))
			return
		}
		if err := broker.Publish(context.Background(), domain.SpeechStateTopic, msg.SessionID, payload); err != nil {
			log.Warn("Failed to publish speech state", zap.Error(err), zap.String("to", string(msg.To)))
		}
	})
}

// VoiceController drives a SpeechMachine from recognition and synthesis
// engines. At most one capture and one utterance are active; starting a new
// one cancels its predecessor, and events from a cancelled one are ignored.
type VoiceController struct {
	machine     *SpeechMachine
	recognizer  domain.Recognizer
	synthesizer domain.Synthesizer

	// OnPartial, when set, receives interim transcripts.
	OnPartial func(text string)

	mu            sync.Mutex
	captureGen    uint64
	captureCancel context.CancelFunc
	speakGen      uint64
	speakCancel   context.CancelFunc
}

func NewVoiceController(machine *SpeechMachine, recognizer domain.Recognizer, synthesizer domain.Synthesizer) *VoiceController {
	return &VoiceController{
		machine:     machine,
		recognizer:  recognizer,
		synthesizer: synthesizer,
	}
}

func (v *VoiceController) Machine() *SpeechMachine { return v.machine }

func (v *VoiceController) fire(ctx context.Context, trigger Trigger) {
	if _, err := v.machine.Fire(trigger); err != nil {
		log.WithCtx(ctx).Debug("Ignored speech trigger", zap.Error(err))
	}
}

func (v *VoiceController) currentCapture(gen uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.captureGen == gen
}

func (v *VoiceController) currentSpeech(gen uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.speakGen == gen
}

// Listen captures one utterance and returns its final transcript. An
// utterance still being spoken is cut off first. Listen returns an empty
// transcript when capture ends without speech, and context.Canceled when a
// newer capture or Cancel superseded it.
func (v *VoiceController) Listen(ctx context.Context) (string, error) {
	v.mu.Lock()
	if v.captureCancel != nil {
		v.captureCancel()
	}
	if v.speakCancel != nil {
		v.speakCancel()
		v.speakCancel = nil
		v.speakGen++
	}
	v.captureGen++
	gen := v.captureGen
	ctx, cancel := context.WithCancel(ctx)
	v.captureCancel = cancel
	v.mu.Unlock()
	defer cancel()

	v.fire(ctx, StartCapture)

	events, err := v.recognizer.Start(ctx)
	if err != nil {
		if v.currentCapture(gen) {
			v.fire(ctx, CaptureError)
		}
		return "", fmt.Errorf("%w: %w", domain.ErrSpeechCapture, err)
	}

	for ev := range events {
		if !v.currentCapture(gen) {
			continue
		}
		switch ev.Kind {
		case domain.RecognitionPartial:
			v.fire(ctx, PartialResult)
			if v.OnPartial != nil {
				v.OnPartial(ev.Transcript)
			}
		case domain.RecognitionFinal:
			v.fire(ctx, FinalResult)
			v.finishCapture(gen)
			return ev.Transcript, nil
		case domain.RecognitionEnd:
			v.fire(ctx, CaptureEnd)
			v.finishCapture(gen)
			return "", nil
		case domain.RecognitionError:
			v.fire(ctx, CaptureError)
			v.finishCapture(gen)
			return "", fmt.Errorf("%w: %w", domain.ErrSpeechCapture, ev.Err)
		}
	}

	if !v.currentCapture(gen) || ctx.Err() != nil {
		return "", context.Canceled
	}
	v.fire(ctx, CaptureEnd)
	v.finishCapture(gen)
	return "", nil
}

func (v *VoiceController) finishCapture(gen uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.captureGen == gen && v.captureCancel != nil {
		v.captureCancel()
		v.captureCancel = nil
	}
}

// Speak plays text and blocks until the utterance ends. A prior utterance
// and any running capture are cancelled; the interrupted call returns
// context.Canceled.
func (v *VoiceController) Speak(ctx context.Context, text string) error {
	v.mu.Lock()
	if v.speakCancel != nil {
		v.speakCancel()
	}
	stoppedCapture := v.captureCancel != nil
	if stoppedCapture {
		v.captureCancel()
		v.captureCancel = nil
		v.captureGen++
	}
	v.speakGen++
	gen := v.speakGen
	ctx, cancel := context.WithCancel(ctx)
	v.speakCancel = cancel
	v.mu.Unlock()
	defer cancel()

	if stoppedCapture {
		v.fire(ctx, CaptureEnd)
	}

	events, err := v.synthesizer.Speak(ctx, text)
	if err != nil {
		if v.currentSpeech(gen) {
			v.fire(ctx, SynthesisError)
		}
		return fmt.Errorf("%w: %w", domain.ErrSynthesis, err)
	}

	for ev := range events {
		if !v.currentSpeech(gen) {
			continue
		}
		switch ev.Kind {
		case domain.SynthesisStarted:
			log.WithCtx(ctx).Debug("Utterance started", zap.Duration("estimated", ev.Duration))
			v.fire(ctx, SynthesisStart)
		case domain.SynthesisBoundary:
			v.fire(ctx, SynthesisBoundary)
		case domain.SynthesisEnded:
			v.fire(ctx, SynthesisEnd)
			return nil
		case domain.SynthesisFailed:
			v.fire(ctx, SynthesisError)
			return fmt.Errorf("%w: %w", domain.ErrSynthesis, ev.Err)
		}
	}

	if !v.currentSpeech(gen) || ctx.Err() != nil {
		return context.Canceled
	}
	// The engine closed without an end event.
	v.fire(ctx, SynthesisEnd)
	return nil
}

// Cancel stops capture and synthesis and returns the machine to idle.
func (v *VoiceController) Cancel() {
	v.mu.Lock()
	if v.captureCancel != nil {
		v.captureCancel()
		v.captureCancel = nil
	}
	if v.speakCancel != nil {
		v.speakCancel()
		v.speakCancel = nil
	}
	v.captureGen++
	v.speakGen++
	v.mu.Unlock()

	v.fire(context.Background(), Cancel)
}

// IsCancelled reports whether err came from a superseded operation rather
// than an engine failure.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

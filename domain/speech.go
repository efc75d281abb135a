package domain

import (
	"context"
	"time"
)

// SpeechState is the single authoritative voice state of a session.
type SpeechState string

const (
	StateIdle      SpeechState = "idle"
	StateListening SpeechState = "listening"
	StateThinking  SpeechState = "thinking"
	StateSpeaking  SpeechState = "speaking"
)

type RecognitionEventKind int

const (
	RecognitionPartial RecognitionEventKind = iota
	RecognitionFinal
	RecognitionEnd
	RecognitionError
)

type RecognitionEvent struct {
	Kind       RecognitionEventKind
	Transcript string
	Err        error
}

// Recognizer is a speech-to-text engine. Cancelling ctx stops capture; the
// returned channel is closed afterwards.
type Recognizer interface {
	Start(ctx context.Context) (<-chan RecognitionEvent, error)
}

type SynthesisEventKind int

const (
	SynthesisStarted SynthesisEventKind = iota
	SynthesisBoundary
	SynthesisEnded
	SynthesisFailed
)

type SynthesisEvent struct {
	Kind SynthesisEventKind
	// Duration is the estimated length of the utterance, set on SynthesisStarted.
	Duration time.Duration
	// CharIndex is the offset of the word reached, set on SynthesisBoundary.
	CharIndex int
	Err       error
}

// Synthesizer is a text-to-speech engine. Cancelling ctx interrupts the
// utterance; the returned channel is closed afterwards.
type Synthesizer interface {
	Speak(ctx context.Context, text string) (<-chan SynthesisEvent, error)
}

// AvatarLoopState tracks the looping asset during one speaking period.
type AvatarLoopState struct {
	StartedAt               time.Time
	ExpectedAssetDurationMs int64
	LoopCount               int
}

type MouthShape string

const (
	MouthClosed MouthShape = "closed"
	MouthHalf   MouthShape = "half"
	MouthOpen   MouthShape = "open"
	MouthWide   MouthShape = "wide"
	MouthRound  MouthShape = "round"
)

// AvatarFrame is what the renderer asks the canvas to draw.
type AvatarFrame struct {
	State   SpeechState
	Mouth   MouthShape
	Asset   string
	Loop    int
	Elapsed time.Duration
}

// Canvas is the drawing surface of the avatar.
type Canvas interface {
	Draw(frame AvatarFrame)
	// RestartAsset rewinds the looping asset to its first frame.
	RestartAsset(asset string)
}

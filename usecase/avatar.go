package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/utils/log"
)

const mouthStep = 120 * time.Millisecond

var mouthCycle = []domain.MouthShape{
	domain.MouthHalf,
	domain.MouthOpen,
	domain.MouthWide,
	domain.MouthOpen,
	domain.MouthRound,
	domain.MouthHalf,
	domain.MouthClosed,
}

type AvatarConfig struct {
	// Asset is the looping image shown while speaking. Empty selects the
	// procedural mouth animation.
	Asset string
	// AssetDuration is the length of one loop of Asset. It is configured by
	// hand; zero lets the asset play without forced restarts.
	AssetDuration time.Duration
	FPS           int
}

// AvatarRenderer turns SpeechState changes into canvas frames. While
// speaking with a looping asset it restarts the asset every AssetDuration,
// measured from the moment speaking began.
type AvatarRenderer struct {
	canvas domain.Canvas
	clock  clock.Clock
	cfg    AvatarConfig

	// OnRestart, when set, is called for every loop restart with the mark
	// at which it happened.
	OnRestart func(mark time.Duration, loop int)

	mu       sync.Mutex
	state    domain.SpeechState
	loop     *domain.AvatarLoopState
	lastLoop domain.AvatarLoopState
}

func NewAvatarRenderer(canvas domain.Canvas, cfg AvatarConfig, clk clock.Clock) *AvatarRenderer {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 12
	}
	return &AvatarRenderer{
		canvas: canvas,
		clock:  clk,
		cfg:    cfg,
		state:  domain.StateIdle,
	}
}

// SetState applies a state change that happened at at.
func (a *AvatarRenderer) SetState(state domain.SpeechState, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setState(state, at)
}

// Apply applies one published state change. A new utterance that starts
// while already speaking ends the running loop and begins a fresh one.
func (a *AvatarRenderer) Apply(msg domain.SpeechStateMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if msg.To != domain.StateSpeaking || a.state != domain.StateSpeaking || msg.Trigger != string(SynthesisStart) {
		a.setState(msg.To, msg.Timestamp)
		return
	}
	a.stopLoop(msg.Timestamp)
	a.startLoop(msg.Timestamp)
	a.canvas.Draw(a.frame(msg.Timestamp))
}

func (a *AvatarRenderer) setState(state domain.SpeechState, at time.Time) {
	if state == a.state {
		return
	}
	if a.state == domain.StateSpeaking {
		a.stopLoop(at)
	}
	a.state = state
	if state == domain.StateSpeaking {
		a.startLoop(at)
	}
	a.canvas.Draw(a.frame(at))
}

func (a *AvatarRenderer) startLoop(at time.Time) {
	a.loop = &domain.AvatarLoopState{
		StartedAt:               at,
		ExpectedAssetDurationMs: a.cfg.AssetDuration.Milliseconds(),
	}
	if a.cfg.Asset != "" {
		a.canvas.RestartAsset(a.cfg.Asset)
	}
}

// stopLoop finishes the running cycle before dropping the loop state.
func (a *AvatarRenderer) stopLoop(at time.Time) {
	if a.loop == nil {
		return
	}
	a.advance(at)
	a.lastLoop = *a.loop
	a.loop = nil
	log.Debug("Avatar stopped speaking",
		zap.Int("loops", a.lastLoop.LoopCount),
		zap.Duration("spoke", at.Sub(a.lastLoop.StartedAt)))
}

// Tick advances the loop timer to now and draws one frame. The same
// sequence of SetState and Tick calls always yields the same frames.
func (a *AvatarRenderer) Tick(now time.Time) domain.AvatarFrame {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.loop != nil {
		a.advance(now)
	}
	f := a.frame(now)
	a.canvas.Draw(f)
	return f
}

// advance restarts the asset once for every loop boundary crossed since the
// last call. Reaching a boundary exactly counts as crossing it.
func (a *AvatarRenderer) advance(now time.Time) {
	d := time.Duration(a.loop.ExpectedAssetDurationMs) * time.Millisecond
	if a.cfg.Asset == "" || d <= 0 {
		return
	}
	elapsed := now.Sub(a.loop.StartedAt)
	for elapsed >= time.Duration(a.loop.LoopCount+1)*d {
		a.loop.LoopCount++
		mark := time.Duration(a.loop.LoopCount) * d
		a.canvas.RestartAsset(a.cfg.Asset)
		log.Debug("Avatar loop restarted",
			zap.String("asset", a.cfg.Asset),
			zap.Duration("mark", mark),
			zap.Int("loop", a.loop.LoopCount))
		if a.OnRestart != nil {
			a.OnRestart(mark, a.loop.LoopCount)
		}
	}
}

func (a *AvatarRenderer) frame(now time.Time) domain.AvatarFrame {
	if a.state != domain.StateSpeaking || a.loop == nil {
		return domain.AvatarFrame{State: a.state, Mouth: domain.MouthClosed}
	}
	elapsed := now.Sub(a.loop.StartedAt)
	f := domain.AvatarFrame{
		State:   a.state,
		Asset:   a.cfg.Asset,
		Loop:    a.loop.LoopCount,
		Elapsed: elapsed,
		Mouth:   domain.MouthOpen,
	}
	if a.cfg.Asset == "" {
		f.Mouth = mouthCycle[int(elapsed/mouthStep)%len(mouthCycle)]
	}
	return f
}

// LoopState returns the loop state of the current speaking period.
func (a *AvatarRenderer) LoopState() (domain.AvatarLoopState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loop == nil {
		return domain.AvatarLoopState{}, false
	}
	return *a.loop, true
}

// LastLoop returns the final loop state of the last finished speaking
// period.
func (a *AvatarRenderer) LastLoop() domain.AvatarLoopState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastLoop
}

// Follow applies SpeechStateMessage payloads from msgs until ctx ends or
// msgs is closed.
func (a *AvatarRenderer) Follow(ctx context.Context, msgs <-chan domain.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			var msg domain.SpeechStateMessage
			if err := sonic.Unmarshal(m.Payload, &msg); err != nil {
				log.WithCtx(ctx).Warn("Dropped malformed speech state", zap.Error(err))
				continue
			}
			a.Apply(msg)
		}
	}
}

// Run ticks at the configured frame rate until ctx ends.
func (a *AvatarRenderer) Run(ctx context.Context) {
	ticker := a.clock.Ticker(time.Second / time.Duration(a.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.Tick(now)
		}
	}
}

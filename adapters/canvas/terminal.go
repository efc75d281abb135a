// Package canvas draws the avatar in a terminal.
package canvas

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/waqar741/EchoAI/adapters/assets"
	"github.com/waqar741/EchoAI/domain"
)

var (
	Teal     = lipgloss.Color("#0d7377")
	Amber    = lipgloss.Color("#f2a541")
	OffWhite = lipgloss.Color("#f8f7f4")
	Gray     = lipgloss.Color("#777777")

	FaceStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Teal).
			Padding(0, 2).
			Align(lipgloss.Center)

	SpeakingFaceStyle = FaceStyle.BorderForeground(Amber)

	CaptionStyle = lipgloss.NewStyle().
			Foreground(Gray).
			Italic(true)
)

var mouths = map[domain.MouthShape]string{
	domain.MouthClosed: "───",
	domain.MouthHalf:   "─o─",
	domain.MouthOpen:   " O ",
	domain.MouthWide:   "[_]",
	domain.MouthRound:  " o ",
}

var eyes = map[domain.SpeechState]string{
	domain.StateIdle:      "-   -",
	domain.StateListening: "O   O",
	domain.StateThinking:  "o   ¬",
	domain.StateSpeaking:  "^   ^",
}

// Terminal is a domain.Canvas that keeps the last drawn frame and renders it
// as text on demand. Assets with frames in the manifest play those frames;
// other assets fall back to the mouth shapes.
type Terminal struct {
	manifest *assets.Manifest

	mu       sync.Mutex
	frame    domain.AvatarFrame
	restarts int
}

// NewTerminal builds a canvas. manifest may be nil.
func NewTerminal(manifest *assets.Manifest) *Terminal {
	return &Terminal{
		manifest: manifest,
		frame:    domain.AvatarFrame{State: domain.StateIdle, Mouth: domain.MouthClosed},
	}
}

func (t *Terminal) Draw(frame domain.AvatarFrame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frame = frame
}

func (t *Terminal) RestartAsset(string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.restarts++
}

// Restarts is the number of asset restarts seen so far.
func (t *Terminal) Restarts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.restarts
}

func (t *Terminal) Frame() domain.AvatarFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frame
}

// assetFrame picks the frame for the position of elapsed within one loop of
// the asset, so each frame gets an equal share of the asset's duration.
func (t *Terminal) assetFrame(name string, elapsed time.Duration) (string, bool) {
	if t.manifest == nil || name == "" {
		return "", false
	}
	a, ok := t.manifest.Lookup(name)
	if !ok || len(a.Frames) == 0 {
		return "", false
	}
	d := a.Duration()
	if d <= 0 || elapsed < 0 {
		return a.Frames[0], true
	}
	pos := elapsed % d
	i := int(pos * time.Duration(len(a.Frames)) / d)
	return a.Frames[i], true
}

// View renders the face and a caption line.
func (t *Terminal) View() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := t.frame
	mouth := mouths[f.Mouth]
	if art, ok := t.assetFrame(f.Asset, f.Elapsed); ok && f.State == domain.StateSpeaking {
		mouth = art
	}
	face := strings.Join([]string{eyes[f.State], "", mouth}, "\n")

	style := FaceStyle
	if f.State == domain.StateSpeaking {
		style = SpeakingFaceStyle
	}

	caption := string(f.State)
	if f.State == domain.StateSpeaking && f.Asset != "" {
		caption = fmt.Sprintf("%s · loop %d", f.State, f.Loop)
	}
	return lipgloss.JoinVertical(lipgloss.Center, style.Render(face), CaptionStyle.Render(caption))
}

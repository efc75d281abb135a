// Package assets loads the avatar asset manifest.
//
// Looping assets carry a hand-configured duration: the renderer restarts an
// asset every DurationMs while speaking, and nothing probes the media file
// to find its real length.
package assets

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Asset is one looping avatar animation.
type Asset struct {
	Name       string `yaml:"name"`
	Path       string `yaml:"path"`
	DurationMs int64  `yaml:"duration_ms"`
	// Frames are text renditions shown by terminal canvases, played evenly
	// across one loop.
	Frames []string `yaml:"frames"`
}

func (a Asset) Duration() time.Duration {
	return time.Duration(a.DurationMs) * time.Millisecond
}

type Manifest struct {
	Default string  `yaml:"default"`
	Assets  []Asset `yaml:"assets"`
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset manifest %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse asset manifest %s: %w", path, err)
	}
	return m, nil
}

func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that asset names are unique, durations positive and the
// default asset exists.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Assets))
	for i, a := range m.Assets {
		if a.Name == "" {
			return fmt.Errorf("assets[%d]: name is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("assets[%d]: duplicate name %q", i, a.Name)
		}
		seen[a.Name] = true
		if a.DurationMs <= 0 {
			return fmt.Errorf("asset %q: duration_ms must be positive", a.Name)
		}
	}
	if m.Default != "" && !seen[m.Default] {
		return fmt.Errorf("default asset %q is not defined", m.Default)
	}
	return nil
}

// Lookup returns the named asset, or the default one when name is empty.
func (m *Manifest) Lookup(name string) (Asset, bool) {
	if name == "" {
		name = m.Default
	}
	for _, a := range m.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

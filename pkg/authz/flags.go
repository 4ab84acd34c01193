package authz

import (
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode represents the global enforcement mode.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeShadow   Mode = "shadow"
	ModeEnforce  Mode = "enforce"
)

// FlagProvider supplies the current enforcement mode.
type FlagProvider interface {
	Mode() Mode
}

type staticFlagProvider struct {
	mode Mode
}

func (s staticFlagProvider) Mode() Mode {
	return s.mode
}

// StaticFlags pins the enforcement mode, ignoring any flag file.
func StaticFlags(mode Mode) FlagProvider {
	return staticFlagProvider{mode: sanitizeMode(mode)}
}

// FileFlagProvider reads the mode from a YAML file (`mode: enforce`). The
// file is re-read only when its modification time changes; an unreadable
// file keeps the last known mode.
type FileFlagProvider struct {
	path     string
	fallback Mode

	mu       sync.Mutex
	lastMode Mode
	modTime  time.Time
}

func NewFileFlagProvider(path string, fallback Mode) FlagProvider {
	return &FileFlagProvider{
		path:     path,
		fallback: sanitizeMode(fallback),
	}
}

func (p *FileFlagProvider) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastMode == "" {
		p.lastMode = p.fallback
	}
	info, err := os.Stat(p.path)
	if err != nil {
		return p.lastMode
	}
	if info.ModTime().Equal(p.modTime) {
		return p.lastMode
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return p.lastMode
	}
	var cfg struct {
		Mode string `yaml:"mode"`
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return p.fallback
	}
	p.modTime = info.ModTime()
	p.lastMode = sanitizeMode(Mode(cfg.Mode))
	return p.lastMode
}

func sanitizeMode(mode Mode) Mode {
	switch strings.ToLower(strings.TrimSpace(string(mode))) {
	case string(ModeDisabled):
		return ModeDisabled
	case string(ModeEnforce):
		return ModeEnforce
	default:
		return ModeShadow
	}
}

// Package manifest handles tern.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/tern/vm"
)

// FileName is the manifest file looked up in a project directory.
const FileName = "tern.toml"

// DefaultAddr is the evaluation server's listen address when none is set.
const DefaultAddr = "localhost:7411"

// Manifest represents a tern.toml project configuration.
type Manifest struct {
	Project Project      `toml:"project"`
	Source  Source       `toml:"source"`
	VM      VMConfig     `toml:"vm"`
	Cache   CacheConfig  `toml:"cache"`
	Server  ServerConfig `toml:"server"`

	// Dir is the directory containing the tern.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures the script run when no file is given.
type Source struct {
	Entry string `toml:"entry"`
}

// VMConfig sizes the virtual machine.
type VMConfig struct {
	MaxFrames        int  `toml:"max-frames"`
	StackSize        int  `toml:"stack-size"`
	InstructionLimit int  `toml:"instruction-limit"`
	Trace            bool `toml:"trace"`
}

// CacheConfig controls the compiled-image cache. Enabled is a pointer so
// an absent key keeps the default.
type CacheConfig struct {
	Enabled *bool  `toml:"enabled"`
	Path    string `toml:"path"`
}

// ServerConfig configures tern serve.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Default returns the configuration used when no tern.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

// Load parses a tern.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.VM.MaxFrames < 0 || m.VM.StackSize < 0 || m.VM.InstructionLimit < 0 {
		return nil, fmt.Errorf("%s: vm sizes must not be negative", path)
	}
	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a tern.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) applyDefaults() {
	if m.VM.MaxFrames == 0 {
		m.VM.MaxFrames = vm.DefaultMaxFrames
	}
	if m.Cache.Enabled == nil {
		on := true
		m.Cache.Enabled = &on
	}
	if m.Server.Addr == "" {
		m.Server.Addr = DefaultAddr
	}
}

// EntryPath returns the absolute path of the entry script, or "" if none
// is configured.
func (m *Manifest) EntryPath() string {
	if m.Source.Entry == "" {
		return ""
	}
	if filepath.IsAbs(m.Source.Entry) {
		return m.Source.Entry
	}
	return filepath.Join(m.Dir, m.Source.Entry)
}

// CacheEnabled reports whether compiled images should be cached.
func (m *Manifest) CacheEnabled() bool {
	return m.Cache.Enabled == nil || *m.Cache.Enabled
}

// CachePath returns the configured cache database path relative to the
// project, or "" to use the per-user default.
func (m *Manifest) CachePath() string {
	if m.Cache.Path == "" || filepath.IsAbs(m.Cache.Path) {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}

// VMOptions converts the [vm] section into VM options.
func (m *Manifest) VMOptions() []vm.Option {
	var opts []vm.Option
	if m.VM.MaxFrames > 0 {
		opts = append(opts, vm.WithMaxFrames(m.VM.MaxFrames))
	}
	if m.VM.StackSize > 0 {
		opts = append(opts, vm.WithStackSize(m.VM.StackSize))
	}
	if m.VM.InstructionLimit > 0 {
		opts = append(opts, vm.WithInstructionLimit(m.VM.InstructionLimit))
	}
	if m.VM.Trace {
		opts = append(opts, vm.WithTrace(true))
	}
	return opts
}

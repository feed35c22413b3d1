// Package manifest handles graft.toml extension configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "graft.toml"

// ErrInvalid reports a manifest that parsed but cannot be used.
var ErrInvalid = errors.New("invalid manifest")

// Manifest represents a graft.toml extension configuration.
type Manifest struct {
	Extension  Extension  `toml:"extension"`
	Allocator  Allocator  `toml:"allocator"`
	Activation Activation `toml:"activation"`
	Log        Log        `toml:"log"`

	// Dir is the directory containing the graft.toml file (set at load time).
	Dir string `toml:"-"`
}

// Extension contains the contributed variant's metadata.
type Extension struct {
	Name         string            `toml:"name"`
	DisplayName  string            `toml:"display-name"`
	Description  string            `toml:"description"`
	HostVersions []string          `toml:"host-versions"`
	Params       map[string]string `toml:"params"`
}

// Allocator configures extension id allocation.
type Allocator struct {
	MaxProbes int   `toml:"max-probes"`
	Upper     int64 `toml:"upper"`
}

// Activation configures how patches are applied.
type Activation struct {
	Strict             bool     `toml:"strict"`
	RevertOnDeactivate bool     `toml:"revert-on-deactivate"`
	Targets            []string `toml:"targets"`
}

// Log configures the commonlog backend.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the manifest used when no graft.toml exists.
func Default() *Manifest {
	return &Manifest{
		Allocator:  Allocator{MaxProbes: 64},
		Activation: Activation{Strict: true},
	}
}

// Parse decodes manifest text over the defaults.
func Parse(data []byte) (*Manifest, error) {
	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %s", ErrInvalid, undecoded[0])
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks field ranges.
func (m *Manifest) Validate() error {
	if m.Extension.Name == "" {
		return fmt.Errorf("%w: extension.name is required", ErrInvalid)
	}
	if m.Allocator.MaxProbes < 0 {
		return fmt.Errorf("%w: allocator.max-probes must not be negative", ErrInvalid)
	}
	if m.Allocator.Upper < 0 {
		return fmt.Errorf("%w: allocator.upper must not be negative", ErrInvalid)
	}
	return nil
}

// Load parses a graft.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Extension.DisplayName == "" {
		m.Extension.DisplayName = m.Extension.Name
	}
	if m.Log.File != "" && !filepath.IsAbs(m.Log.File) {
		m.Log.File = filepath.Join(m.Dir, m.Log.File)
	}

	return m, nil
}

// FindAndLoad walks up from startDir to find a graft.toml file,
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

// Enabled reports whether the named patch target should be applied. An
// empty target list enables everything.
func (m *Manifest) Enabled(target string) bool {
	return len(m.Activation.Targets) == 0 || slices.Contains(m.Activation.Targets, target)
}

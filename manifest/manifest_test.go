package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadManifest(t *testing.T) {
	// Create a temporary directory with a graft.toml
	dir := t.TempDir()
	tomlContent := `
[extension]
name = "scavenger"
display-name = "Scavenger"
description = "Salvages broken siblings"
host-versions = ["sim-1.4", "sim-1.5"]

[extension.params]
break-factor = "5"
cost = "35"

[allocator]
max-probes = 16
upper = 4096

[activation]
strict = false
revert-on-deactivate = true
targets = ["factory", "loot"]

[log]
verbosity = 2
file = "graft.log"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Extension.Name != "scavenger" {
		t.Errorf("extension name = %q, want scavenger", m.Extension.Name)
	}
	if m.Extension.DisplayName != "Scavenger" {
		t.Errorf("display name = %q, want Scavenger", m.Extension.DisplayName)
	}
	if len(m.Extension.HostVersions) != 2 {
		t.Errorf("host versions count = %d, want 2", len(m.Extension.HostVersions))
	}
	if m.Extension.Params["cost"] != "35" {
		t.Errorf("cost param = %q, want 35", m.Extension.Params["cost"])
	}
	if m.Allocator.MaxProbes != 16 || m.Allocator.Upper != 4096 {
		t.Errorf("allocator = %+v, want {16 4096}", m.Allocator)
	}
	if m.Activation.Strict {
		t.Error("strict = true, want false")
	}
	if !m.Activation.RevertOnDeactivate {
		t.Error("revert-on-deactivate = false, want true")
	}
	if !m.Enabled("loot") || m.Enabled("chooser") {
		t.Errorf("targets = %v, want loot enabled and chooser disabled", m.Activation.Targets)
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("log verbosity = %d, want 2", m.Log.Verbosity)
	}
	if want := filepath.Join(m.Dir, "graft.log"); m.Log.File != want {
		t.Errorf("log file = %q, want %q", m.Log.File, want)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[extension]
name = "minimal"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Extension.DisplayName != "minimal" {
		t.Errorf("display name = %q, want minimal", m.Extension.DisplayName)
	}
	if !m.Activation.Strict {
		t.Error("strict = false, want true by default")
	}
	if m.Allocator.MaxProbes != 64 {
		t.Errorf("max probes = %d, want 64", m.Allocator.MaxProbes)
	}
	if !m.Enabled("anything") {
		t.Error("empty target list should enable every target")
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"missing name", "[extension]\ndescription = \"x\"\n"},
		{"unknown key", "[extension]\nname = \"x\"\nflavour = \"y\"\n"},
		{"negative probes", "[extension]\nname = \"x\"\n[allocator]\nmax-probes = -1\n"},
		{"negative upper", "[extension]\nname = \"x\"\n[allocator]\nupper = -5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.text))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Parse error = %v, want ErrInvalid", err)
			}
		})
	}

	if _, err := Parse([]byte("[extension\n")); err == nil {
		t.Error("Parse accepted malformed toml")
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	root := t.TempDir()
	sub := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	tomlContent := `
[extension]
name = "found"
`
	if err := os.WriteFile(filepath.Join(root, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(sub)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Extension.Name != "found" {
		t.Errorf("extension name = %q, want found", m.Extension.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no graft.toml exists")
	}
}

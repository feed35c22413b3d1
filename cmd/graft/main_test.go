package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/graft/host/sim"
	"github.com/chazu/graft/pkg/il"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"-C", t.TempDir()}, args...))
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestApplyReportsEveryTarget(t *testing.T) {
	out := execute(t, "apply")
	for _, spec := range []string{
		"scavenger-factory", "scavenger-break", "scavenger-damage",
		"scavenger-mission-end", "scavenger-loot", "scavenger-chooser",
	} {
		assert.Contains(t, out, spec)
	}
}

func TestDisasm(t *testing.T) {
	out := execute(t, "disasm", sim.GetLootCount)
	assert.Contains(t, out, "; === "+sim.GetLootCount+" ===")
	assert.NotContains(t, out, "Accumulate")

	out = execute(t, "disasm", "--patched", sim.GetLootCount)
	assert.Contains(t, out, "Accumulate")
}

func TestDumpRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exit.cbor")
	execute(t, "dump", "--patched", "-o", path, sim.BeginExit)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	s, err := il.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, sim.BeginExit, s.Name)

	out := execute(t, "disasm", "--file", path)
	assert.Contains(t, out, "NotifyAggregate")
}

func TestAllocate(t *testing.T) {
	out := execute(t, "allocate", "-n", "3")
	assert.Contains(t, out, "reserved")
	assert.Contains(t, out, "scavenger#3")
}

func TestDemo(t *testing.T) {
	save := filepath.Join(t.TempDir(), "demo.db")
	out := execute(t, "demo", "-m", "3", "--save", save, "--metrics")
	assert.Contains(t, out, "collected")
	assert.Contains(t, out, "Scavenger")
	assert.Contains(t, out, "graft_patch_applied_total")
	assert.FileExists(t, save)
}

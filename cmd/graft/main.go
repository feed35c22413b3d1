// graft CLI - inspect host routines and run extensions against the
// simulated host.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	"github.com/chazu/graft/extension"
	"github.com/chazu/graft/host/sim"
	"github.com/chazu/graft/manifest"
	"github.com/chazu/graft/pkg/enumext"
	"github.com/chazu/graft/scavenger"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("graft.cli")

// --- Global flags ---
var (
	verbosity   int
	logFile     string
	manifestDir string
	seed        uint64
	gameMode    int64
	loaded      *manifest.Manifest
)

var rootCmd = &cobra.Command{
	Use:   "graft",
	Short: "Patch host routines and hook extension variants into them",
	Long: `graft applies declarative patch specs to a host's instruction streams,
allocates an enumeration id for the extension's new variant and routes the
injected call sites to the extension's handlers.

The built-in host is a small drone simulation; the built-in extension is
the Scavenger upgrade.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Log verbosity (repeat for more)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log", "", "Log file (default stderr)")
	rootCmd.PersistentFlags().StringVarP(&manifestDir, "dir", "C", ".", "Directory to search for graft.toml")
	rootCmd.PersistentFlags().Uint64Var(&seed, "seed", 1, "Simulation random seed")
	rootCmd.PersistentFlags().Int64Var(&gameMode, "game-mode", sim.GameModeNormal, "Simulation game mode")

	rootCmd.AddCommand(disasmCmd, dumpCmd, applyCmd, allocateCmd, demoCmd)
}

// setup loads the manifest and configures logging. Flags win over the
// manifest's [log] table.
func setup(cmd *cobra.Command, args []string) error {
	m, err := manifest.FindAndLoad(manifestDir)
	if err != nil {
		return err
	}
	if m == nil {
		m = scavenger.Manifest()
	}
	loaded = m

	v, path := m.Log.Verbosity, m.Log.File
	if cmd.Flags().Changed("verbose") {
		v = verbosity
	}
	if logFile != "" {
		path = logFile
	}
	if path == "" {
		commonlog.Configure(v, nil)
	} else {
		commonlog.Configure(v, &path)
	}
	log.Debugf("manifest %s (dir %q)", m.Extension.Name, m.Dir)
	return nil
}

// session is one simulated world with the Scavenger loaded.
type session struct {
	world *sim.World
	ext   *extension.Extension
}

func newSession(activate bool) (*session, error) {
	w := sim.New(sim.Config{Seed: seed, GameMode: gameMode})
	ext, err := scavenger.New(w).Extension(loaded, enumext.NewClaims())
	if err != nil {
		return nil, err
	}
	if _, err := ext.Load(); err != nil {
		return nil, err
	}
	if activate {
		if err := ext.Activate(); err != nil {
			return nil, err
		}
	}
	return &session{world: w, ext: ext}, nil
}

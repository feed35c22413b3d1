package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/graft/host/sim"
	"github.com/chazu/graft/pkg/il"
)

var (
	disasmPatched bool
	disasmFile    string
	dumpOutput    string
	dumpPatched   bool
)

var routineNames = []string{
	sim.CreateUpgradeInstance,
	sim.BeginExit,
	sim.GetLootCount,
	sim.RandomlyChooseUpgrades,
}

var disasmCmd = &cobra.Command{
	Use:   "disasm [routine...]",
	Short: "Print host routines, pristine or patched",
	Long: `Print the instruction listing of host routines. With no routine names
every routine is printed. --file reads a stream written by "graft dump".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if disasmFile != "" {
			data, err := os.ReadFile(disasmFile)
			if err != nil {
				return err
			}
			s, err := il.Unmarshal(data)
			if err != nil {
				return fmt.Errorf("%s: %w", disasmFile, err)
			}
			fmt.Fprint(cmd.OutOrStdout(), s.Disassemble())
			return nil
		}

		streams, err := routines(args, disasmPatched)
		if err != nil {
			return err
		}
		for i, s := range streams {
			if i > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			fmt.Fprint(cmd.OutOrStdout(), s.Disassemble())
		}
		return nil
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump <routine>",
	Short: "Write a host routine as CBOR",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		streams, err := routines(args, dumpPatched)
		if err != nil {
			return err
		}
		data, err := il.Marshal(streams[0])
		if err != nil {
			return err
		}
		if dumpOutput == "" || dumpOutput == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(dumpOutput, data, 0644); err != nil {
			return err
		}
		log.Infof("wrote %s (%d bytes)", dumpOutput, len(data))
		return nil
	},
}

func init() {
	disasmCmd.Flags().BoolVarP(&disasmPatched, "patched", "p", false, "Activate the extension first")
	disasmCmd.Flags().StringVarP(&disasmFile, "file", "f", "", "Disassemble a CBOR stream file")
	dumpCmd.Flags().StringVarP(&dumpOutput, "output", "o", "", "Output file (default stdout)")
	dumpCmd.Flags().BoolVarP(&dumpPatched, "patched", "p", false, "Activate the extension first")
}

// routines fetches the named routines, or all of them.
func routines(names []string, patched bool) ([]*il.Stream, error) {
	s, err := newSession(patched)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		names = routineNames
	}
	out := make([]*il.Stream, 0, len(names))
	for _, name := range names {
		r, err := s.world.Routine(name)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

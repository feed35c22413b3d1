package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/chazu/graft/host/sim"
	"github.com/chazu/graft/pkg/enumext"
	"github.com/chazu/graft/scavenger"
)

var (
	applyShow     bool
	allocateCount int
	demoMissions  int
	demoSave      string
	demoMetrics   bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Activate the extension and report every patch applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(true)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s active as variant %d (%s)\n\n", s.ext.Name(), s.ext.ID(), s.world.Enum.String(s.ext.ID()))

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ROUTINE\tSPEC\tMATCHES\tINSERTED\tANCHORS")
		touched := make(map[string]bool)
		var order []string
		for _, r := range s.ext.Reports() {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%v\n", r.Routine, r.Spec, r.Matches, r.Inserted, r.Anchors)
			if !touched[r.Routine] {
				touched[r.Routine] = true
				order = append(order, r.Routine)
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if applyShow {
			for _, name := range order {
				r, err := s.world.Routine(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\n%s", r.Disassemble())
			}
		}
		return nil
	},
}

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Draw extension ids above the host's reserved range",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := sim.New(sim.Config{Seed: seed})
		reserved := w.Enum.Host().Reserved()
		a := &enumext.Allocator{
			MaxProbes: loaded.Allocator.MaxProbes,
			Upper:     loaded.Allocator.Upper,
			Claims:    enumext.NewClaims(),
		}

		known := w.Enum.Known()
		for i := range allocateCount {
			id, err := a.Allocate(reserved, known)
			if err != nil {
				return err
			}
			a.Claims.Label(id, fmt.Sprintf("%s#%d", loaded.Extension.Name, i+1))
			known = append(known, id)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "reserved %s\n", reserved)
		for _, id := range a.Claims.IDs() {
			owner, _ := a.Claims.Owner(id)
			fmt.Fprintf(out, "%d\t%s\n", id, owner)
		}
		return nil
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Fly missions with a Scavenger-equipped drone",
	Long: `Equip a drone with a Scavenger, a Gatherer and a Motion upgrade, end
the given number of missions and report wear, salvage and missions
credited after each.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(true)
		if err != nil {
			return err
		}
		w := s.world
		id := s.ext.ID()

		d := w.AddDrone("alpha")
		for slot, t := range []int64{id, sim.Gatherer, sim.Motion} {
			up, err := w.CreateUpgrade(t)
			if err != nil {
				return err
			}
			if err := w.Equip(d, slot, up); err != nil {
				return err
			}
		}
		scav := d.Upgrades[0]
		state, ok := scav.State.(*scavenger.Upgrade)
		if !ok {
			return fmt.Errorf("%s slot 0 has no scavenger state", d)
		}

		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MISSION\tUPGRADE\tWEAR\tBROKEN\tMISSIONS\tSALVAGE")
		for m := 1; m <= demoMissions; m++ {
			if err := w.BeginExit(); err != nil {
				return err
			}
			for _, up := range d.Upgrades {
				if up == nil {
					continue
				}
				salvage := "-"
				if up == scav {
					salvage = fmt.Sprint(state.Loot())
				}
				fmt.Fprintf(tw, "%d\t%s\t%.0f\t%t\t%d\t%s\n",
					m, w.Enum.String(up.Type()), up.BreakProbability(), up.Broken(), up.Missions(), salvage)
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		loot, err := w.LootCount(d, true)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\ncollected %d scrap from %s\n", loot, d)

		if demoSave != "" {
			f, err := sim.OpenSave(demoSave)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := f.Save(context.Background(), w); err != nil {
				return err
			}
			fmt.Fprintf(out, "saved to %s\n", demoSave)
		}

		if demoMetrics {
			return printMetrics(out)
		}
		return nil
	},
}

func init() {
	applyCmd.Flags().BoolVarP(&applyShow, "show", "s", false, "Print the patched routines")
	allocateCmd.Flags().IntVarP(&allocateCount, "count", "n", 1, "Number of ids to allocate")
	demoCmd.Flags().IntVarP(&demoMissions, "missions", "m", 5, "Missions to fly")
	demoCmd.Flags().StringVar(&demoSave, "save", "", "Save the world to this SQLite file afterwards")
	demoCmd.Flags().BoolVar(&demoMetrics, "metrics", false, "Print graft counters afterwards")
}

// printMetrics writes every graft_ counter sample.
func printMetrics(out io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "graft_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			lines = append(lines, fmt.Sprintf("%s{%s} %g", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	fmt.Fprintln(out)
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
	return nil
}

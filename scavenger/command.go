package scavenger

// Command describes the upgrade in the host's command list and help
// manual.
type Command struct {
	Name    string
	Summary string
	Details []string
}

// Definition returns the Scavenger command.
func Definition() Command {
	return Command{
		Name:    Name,
		Summary: "salvages scrap from failing upgrades",
		Details: []string{
			"No command to execute - applies automatically when installed on a drone",
			"",
			"Recovers scrap as other drone upgrades deteriorate",
			"Scavenger will deteriorate an equal amount in return",
			"The amount of scrap salvaged increases as upgrades get closer to failure",
		},
	}
}

// HelpLines renders the help manual entry. Undiscovered upgrades are
// hidden unless the manual is in simple mode.
func (c Command) HelpLines(discovered, simple bool) []string {
	if !discovered && !simple {
		return nil
	}
	lines := make([]string, 0, len(c.Details)+1)
	lines = append(lines, c.Name+" - "+c.Summary)
	for _, d := range c.Details {
		if d == "" {
			lines = append(lines, "")
			continue
		}
		lines = append(lines, "\t\t"+d)
	}
	return lines
}

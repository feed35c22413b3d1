package il

import (
	"fmt"
	"slices"
	"strings"
)

// Disassemble returns a human-readable listing for the stream.
func (s *Stream) Disassemble() string {
	return s.DisassembleWithName(s.Name)
}

// DisassembleWithName returns a listing with a name header.
func (s *Stream) DisassembleWithName(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	table := s.LabelTable()
	sb.WriteString(fmt.Sprintf("; %d instructions, %d labels\n", len(s.Code), len(table)))
	sb.WriteString("\n")

	for i, in := range s.Code {
		sb.WriteString(fmt.Sprintf("%04X  %-10s %s\n", i, labelColumn(in.Labels), in.String()))
	}
	return sb.String()
}

func labelColumn(labels []Label) string {
	if len(labels) == 0 {
		return ""
	}
	sorted := slices.Clone(labels)
	slices.Sort(sorted)
	parts := make([]string, len(sorted))
	for i, l := range sorted {
		parts[i] = l.String()
	}
	return strings.Join(parts, ",") + ":"
}

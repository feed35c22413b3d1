package patch

import (
	"errors"
	"fmt"
	"slices"

	"github.com/tliron/commonlog"

	"github.com/chazu/graft/pkg/il"
	"github.com/chazu/graft/pkg/pattern"
)

var log = commonlog.GetLogger("graft.patch")

// Report describes one successful application.
type Report struct {
	Routine  string
	Spec     string
	Matches  int
	Inserted int   // instructions added, net of replaced ones
	Anchors  []int // anchor indices in the input stream
}

// Apply matches spec against s and returns a patched copy. s itself is
// never modified. On any error the returned stream is s.
//
// Matches are applied back to front so that earlier anchor indices stay
// valid. The output is validated for label integrity before it is
// returned.
func Apply(s *il.Stream, spec *Spec) (*il.Stream, *Report, error) {
	if err := s.Validate(); err != nil {
		return s, nil, fmt.Errorf("patch %s: input: %w", spec.name, err)
	}

	matches := pattern.Scan(s, spec.pattern)
	if len(matches) == 0 {
		notFoundTotal.WithLabelValues(spec.name).Inc()
		log.Warningf("patch %s: pattern %s not found in %s", spec.name, spec.pattern.Name(), s.Name)
		return s, nil, &PatternNotFoundError{Spec: spec.name, Pattern: spec.pattern.Name(), Routine: s.Name}
	}
	if spec.policy == FirstMatch {
		matches = matches[:1]
	}

	anchors := make([]int, 0, len(matches))
	kept := make([]pattern.Match, 0, len(matches))
	for _, m := range matches {
		a := m.Position(spec.anchor)
		if slices.Contains(anchors, a) {
			continue
		}
		anchors = append(anchors, a)
		kept = append(kept, m)
	}

	out := s.Clone()
	inserted := 0
	for i := len(kept) - 1; i >= 0; i-- {
		n, err := spec.splice(out, kept[i], anchors[i])
		if err != nil {
			rejectedTotal.WithLabelValues(reason(err)).Inc()
			return s, nil, err
		}
		inserted += n
	}

	if err := out.Validate(); err != nil {
		rejectedTotal.WithLabelValues(reason(err)).Inc()
		log.Criticalf("patch %s broke %s: %s", spec.name, s.Name, err)
		return s, nil, fmt.Errorf("patch %s: %w", spec.name, err)
	}

	appliedTotal.WithLabelValues(spec.name).Inc()
	insertedTotal.WithLabelValues(s.Name).Add(float64(inserted))
	log.Debugf("patch %s applied to %s at %v (%+d instructions)", spec.name, s.Name, anchors, inserted)

	return out, &Report{
		Routine:  s.Name,
		Spec:     spec.name,
		Matches:  len(kept),
		Inserted: inserted,
		Anchors:  anchors,
	}, nil
}

// ApplyAll applies specs in order, each to the output of the previous one.
// It stops at the first error and returns s unchanged.
func ApplyAll(s *il.Stream, specs ...*Spec) (*il.Stream, []*Report, error) {
	cur := s
	reports := make([]*Report, 0, len(specs))
	for _, spec := range specs {
		next, r, err := Apply(cur, spec)
		if err != nil {
			return s, nil, err
		}
		cur = next
		reports = append(reports, r)
	}
	return cur, reports, nil
}

// splice inserts one instantiated fragment into out at anchor a and returns
// the change in instruction count.
func (s *Spec) splice(out *il.Stream, m pattern.Match, a int) (int, error) {
	var skip il.Label
	if s.guard != nil {
		skip = out.DefineLabel()
	}

	frag, err := s.instantiate(m, skip)
	if err != nil {
		return 0, err
	}
	if err := s.checkStack(frag); err != nil {
		return 0, err
	}

	anchor := out.Code[a]
	switch s.position {
	case Before:
		if s.labels == MoveLabels {
			frag[0].Labels = anchor.Labels
			anchor.Labels = nil
		}
		if s.guard != nil {
			anchor.Labels = append(anchor.Labels, skip)
		}
		out.Code = slices.Insert(out.Code, a, frag...)
		return len(frag), nil

	case After:
		if s.guard != nil {
			if a+1 >= len(out.Code) {
				return 0, fmt.Errorf("%w %s: guard needs an instruction after the anchor", ErrInvalidSpec, s.name)
			}
			out.Code[a+1].Labels = append(out.Code[a+1].Labels, skip)
		}
		out.Code = slices.Insert(out.Code, a+1, frag...)
		return len(frag), nil

	default: // Replace
		frag[0].Labels = append(anchor.Labels, frag[0].Labels...)
		out.Code = slices.Replace(out.Code, a, a+1, frag...)
		return len(frag) - 1, nil
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrStackDiscipline):
		return "stack"
	case errors.Is(err, ErrLabelIntegrity):
		return "labels"
	case errors.Is(err, ErrInvalidSpec):
		return "spec"
	default:
		return "other"
	}
}

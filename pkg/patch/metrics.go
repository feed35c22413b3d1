package patch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// appliedTotal counts successful applications by spec
	appliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graft_patch_applied_total",
		Help: "Patch specs applied successfully, by spec",
	}, []string{"spec"})

	// notFoundTotal counts specs whose pattern did not occur
	notFoundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graft_patch_pattern_not_found_total",
		Help: "Patch specs whose trigger pattern was not found, by spec",
	}, []string{"spec"})

	// insertedTotal counts instructions added to host routines
	insertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graft_patch_instructions_inserted_total",
		Help: "Instructions inserted into host routines, by routine",
	}, []string{"routine"})

	// rejectedTotal counts applications refused after matching
	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graft_patch_rejected_total",
		Help: "Patch applications rejected after matching, by reason",
	}, []string{"reason"})
)

// Package metrics registers the router's Prometheus collectors. They are
// served by the metrics router at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "leadrouter"

var (
	ProposalsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proposals_created_total",
		Help:      "Routing proposals created by commit runs.",
	}, []string{"tenant"})

	ProposalsRescored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proposals_rescored_total",
		Help:      "Pending proposals updated in place after a data change.",
	}, []string{"tenant"})

	ProposalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proposal_transitions_total",
		Help:      "Lifecycle transitions by target status.",
	}, []string{"tenant", "status"})

	ProposalOverrides = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proposal_overrides_total",
		Help:      "Proposals reassigned by a manager.",
	}, []string{"tenant"})

	LeadsUnmatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leads_unmatched_total",
		Help:      "Leads with no eligible agent.",
	}, []string{"tenant"})

	WriteBackFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "writeback_failures_total",
		Help:      "Failed assignment write-backs to the CRM.",
	}, []string{"tenant"})

	PipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipeline_duration_seconds",
		Help:      "Wall time of routing pipeline runs.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode"})

	PreviewRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "preview_rows_total",
		Help:      "Rows returned by preview runs.",
	}, []string{"tenant"})
)

// Pipeline modes for PipelineDuration.
const (
	ModeCommit  = "commit"
	ModePreview = "preview"
	ModeRescore = "rescore"
)

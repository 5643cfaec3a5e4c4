// Package metrics provides Prometheus metrics for the Sorrel service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IdentifyRequestsTotal tracks identify calls by outcome
	IdentifyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorrel",
			Subsystem: "identify",
			Name:      "requests_total",
			Help:      "Total number of identify requests by outcome",
		},
		[]string{"outcome"},
	)

	// IdentifyDuration tracks identify call duration in seconds
	IdentifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sorrel",
			Subsystem: "identify",
			Name:      "duration_seconds",
			Help:      "Duration of identify requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	// ContactsCreatedTotal tracks contact rows created by link precedence
	ContactsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorrel",
			Subsystem: "contacts",
			Name:      "created_total",
			Help:      "Total number of contact rows created by link precedence",
		},
		[]string{"link_precedence"},
	)

	// ClusterMergesTotal tracks cluster merge operations
	ClusterMergesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sorrel",
			Subsystem: "contacts",
			Name:      "cluster_merges_total",
			Help:      "Total number of cluster merges performed",
		},
	)

	// ContactsDemotedTotal tracks contact rows re-parented during merges
	ContactsDemotedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sorrel",
			Subsystem: "contacts",
			Name:      "demoted_total",
			Help:      "Total number of contact rows demoted to secondary during merges",
		},
	)

	// LockAcquisitionFailuresTotal tracks cluster lock timeouts
	LockAcquisitionFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sorrel",
			Subsystem: "locks",
			Name:      "acquisition_failures_total",
			Help:      "Total number of failed cluster lock acquisitions",
		},
	)
)

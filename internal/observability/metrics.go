// Package observability provides metrics, tracing, and correlation helpers.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PendingRequests is the gauge of pending non-donator requests, the
	// number the admission gate compares against its limit.
	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "requestdesk_pending_requests",
		Help: "Number of pending non-donator requests counted by the admission gate",
	})

	// LifecycleTransitions counts lifecycle operations by kind and outcome.
	LifecycleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requestdesk_lifecycle_transitions_total",
		Help: "Total number of request lifecycle operations",
	}, []string{"op", "outcome"})

	// MetadataLookups counts catalog metadata lookups by result.
	MetadataLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requestdesk_metadata_lookups_total",
		Help: "Total number of catalog metadata lookups",
	}, []string{"result"})

	// GateOpen is 1 while the submission channel accepts member posts.
	GateOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "requestdesk_gate_open",
		Help: "Whether the submission channel is currently open (1) or closed (0)",
	})
)

// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsIngestedTotal counts packets read from the source by outcome (accepted, filtered)
	PacketsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dissector_packets_ingested_total",
			Help: "Total number of packets read from the source",
		},
		[]string{"outcome"},
	)

	// LayersDissectedTotal counts layers successfully extracted by protocol
	LayersDissectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dissector_layers_dissected_total",
			Help: "Total number of protocol layers dissected",
		},
		[]string{"protocol"},
	)

	// DissectionErrorsTotal counts analyzer and dispatch failures by protocol and kind
	DissectionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dissector_dissection_errors_total",
			Help: "Total number of dissection errors",
		},
		[]string{"protocol", "kind"},
	)

	// ChainsTotal counts finished packet chains by how they ended
	ChainsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dissector_chains_total",
			Help: "Total number of packet dissection chains by termination reason",
		},
		[]string{"reason"},
	)

	// ChainDepth tracks the number of layers per packet
	ChainDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dissector_chain_depth",
			Help:    "Number of layers dissected per packet",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		},
	)

	// SinkWritesTotal counts sink writes by sink and result
	SinkWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dissector_sink_writes_total",
			Help: "Total number of field set writes to sinks",
		},
		[]string{"sink", "result"},
	)

	// BusQueueDepth tracks queued packets per async bus partition
	BusQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dissector_bus_queue_depth",
			Help: "Number of packets waiting in each bus partition",
		},
		[]string{"partition"},
	)

	// BusRejectedTotal counts packets the async bus refused by reason
	BusRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dissector_bus_rejected_total",
			Help: "Total number of packets rejected by the event bus",
		},
		[]string{"reason"},
	)
)

// Label values shared by callers.
const (
	OutcomeAccepted = "accepted"
	OutcomeFiltered = "filtered"

	ResultOK    = "ok"
	ResultError = "error"

	ReasonTerminal   = "terminal"
	ReasonNoAnalyzer = "no_analyzer"
	ReasonError      = "error"
	ReasonMaxDepth   = "max_depth"
	ReasonLoop       = "loop"
)

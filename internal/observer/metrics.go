package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricsEnabled = true

var (
	LeadsScoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_routing_leads_scored_total",
			Help: "Total number of leads scored, labeled by resulting rank and whether ML contributed.",
		},
		[]string{"rank", "ml"},
	)
	ScoringDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lead_routing_scoring_duration_seconds",
			Help:    "Histogram of end-to-end lead scoring durations.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"status"},
	)
	SoftFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_routing_soft_failures_total",
			Help: "Failures that were logged and swallowed, labeled by component.",
		},
		[]string{"component"},
	)

	AssignmentOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_routing_assignment_outcomes_total",
			Help: "Assignment attempts labeled by outcome, assignment type and reason.",
		},
		[]string{"outcome", "assignment_type", "reason"},
	)
	AssignmentClaimConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lead_routing_assignment_claim_conflicts_total",
		Help: "Assignee claims lost to a concurrent assignment and retried.",
	})

	EnrichmentRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_routing_enrichment_requests_total",
			Help: "Enrichment lookups labeled by outcome (hit, ok, empty, error).",
		},
		[]string{"outcome"},
	)
	EnrichmentDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lead_routing_enrichment_duration_seconds",
		Help:    "Histogram of upstream enrichment request durations.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	RulesLoadedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_routing_rules_loaded_total",
			Help: "Rules loaded into the rule cache, labeled by kind and status (compiled, dropped).",
		},
		[]string{"kind", "status"},
	)

	BatchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_routing_batch_items_total",
			Help: "Batch items processed, labeled by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_routing_events_total",
			Help: "Inbound lead events labeled by subject and ack action.",
		},
		[]string{"subject", "action", "error_type"},
	)

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lead_routing_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"operation", "entity", "status"},
	)
)

// InitMetrics toggles metric collection. Collectors are registered by promauto regardless.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

func IncLeadScored(rank string, usedML bool) {
	if !metricsEnabled {
		return
	}
	ml := "false"
	if usedML {
		ml = "true"
	}
	LeadsScoredTotal.WithLabelValues(rank, ml).Inc()
}

func ObserveScoringDuration(duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	ScoringDurationSeconds.WithLabelValues(statusLabel(err)).Observe(duration.Seconds())
}

func IncSoftFailure(component string) {
	if !metricsEnabled {
		return
	}
	SoftFailuresTotal.WithLabelValues(component).Inc()
}

func IncAssignmentOutcome(outcome, assignmentType, reason string) {
	if !metricsEnabled {
		return
	}
	if assignmentType == "" {
		assignmentType = "none"
	}
	if reason == "" {
		reason = "none"
	}
	AssignmentOutcomesTotal.WithLabelValues(outcome, assignmentType, reason).Inc()
}

func IncClaimConflict() {
	if !metricsEnabled {
		return
	}
	AssignmentClaimConflictsTotal.Inc()
}

func IncEnrichmentRequest(outcome string) {
	if !metricsEnabled {
		return
	}
	EnrichmentRequestsTotal.WithLabelValues(outcome).Inc()
}

func ObserveEnrichmentDuration(duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EnrichmentDurationSeconds.Observe(duration.Seconds())
}

func AddRulesLoaded(kind, status string, n int) {
	if !metricsEnabled || n == 0 {
		return
	}
	RulesLoadedTotal.WithLabelValues(kind, status).Add(float64(n))
}

func IncBatchItem(operation string, err error) {
	if !metricsEnabled {
		return
	}
	BatchItemsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
}

func IncEventAction(subject, action, errorType string) {
	if !metricsEnabled {
		return
	}
	EventsProcessedTotal.WithLabelValues(subject, action, SanitizeErrorType(errorType)).Inc()
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, statusLabel(err)).Observe(duration.Seconds())
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// SanitizeErrorType maps an error string onto a small set of label values.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"):
		return "validation"
	case strings.Contains(errStr, "not found"):
		return "not_found"
	case strings.Contains(errStr, "conflict"):
		return "conflict"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}

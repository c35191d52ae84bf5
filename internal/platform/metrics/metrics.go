// Package metrics registers the Prometheus instruments for the assignment
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	IssuesSubmitted   prometheus.Counter
	Assignments       *prometheus.CounterVec // labeled by trigger: submit|reject|escalate|retry
	NoCandidate       *prometheus.CounterVec // same trigger labels
	Rejections        prometheus.Counter
	Escalations       prometheus.Counter
	RetriesScheduled  prometheus.Counter
	RetriesFired      prometheus.Counter
	IssuesClosed      prometheus.Counter
	SelectionDuration prometheus.Histogram
}

// New creates and registers all metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IssuesSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "troubledesk_issues_submitted_total",
			Help: "Total issues submitted.",
		}),
		Assignments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "troubledesk_assignments_total",
			Help: "Total successful expert assignments by trigger.",
		}, []string{"trigger"}),
		NoCandidate: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "troubledesk_no_candidate_total",
			Help: "Selection rounds that found no eligible expert, by trigger.",
		}, []string{"trigger"}),
		Rejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "troubledesk_rejections_total",
			Help: "Total assignments rejected by the assigned expert.",
		}),
		Escalations: factory.NewCounter(prometheus.CounterOpts{
			Name: "troubledesk_escalations_total",
			Help: "Total escalations requested by submitters.",
		}),
		RetriesScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "troubledesk_retries_scheduled_total",
			Help: "Delayed reassignment attempts scheduled.",
		}),
		RetriesFired: factory.NewCounter(prometheus.CounterOpts{
			Name: "troubledesk_retries_fired_total",
			Help: "Delayed reassignment attempts that actually ran.",
		}),
		IssuesClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "troubledesk_issues_closed_total",
			Help: "Issues confirmed done by both parties.",
		}),
		SelectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "troubledesk_selection_duration_seconds",
			Help:    "Wall time of one candidate-selection round.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Package metrics holds the Prometheus collectors shared by the API and worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusflow_decisions_total",
		Help: "Faculty decisions applied, by kind (achievement, leave) and status.",
	}, []string{"kind", "status"})

	DecisionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campusflow_decision_conflicts_total",
		Help: "Decisions rejected because the target was no longer pending.",
	})

	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusflow_submissions_total",
		Help: "Student submissions, by kind and type.",
	}, []string{"kind", "type"})

	BackfilledItems = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campusflow_backfilled_verifications_total",
		Help: "Verification records synthesized from pending approval records.",
	})

	Emits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusflow_realtime_emits_total",
		Help: "Realtime emit attempts by scope and result.",
	}, []string{"scope", "result"})

	PushSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusflow_push_tokens_total",
		Help: "Push deliveries per device token by result.",
	}, []string{"result"})

	PushTokensPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campusflow_push_tokens_pruned_total",
		Help: "Device tokens removed after the provider reported them invalid.",
	})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campusflow_realtime_connections",
		Help: "Live websocket connections in this process.",
	})

	DashboardReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusflow_dashboard_reads_total",
		Help: "Faculty dashboard reads by source (memory, store, recompute).",
	}, []string{"source"})

	RegistrationJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusflow_registration_jobs_total",
		Help: "Registration jobs by outcome (created, duplicate, failed).",
	}, []string{"outcome"})

	QueueDead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusflow_queue_dead_total",
		Help: "Jobs moved to the dead set after exhausting attempts.",
	}, []string{"type"})
)

// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the restreamd
// lifecycle and reconciliation subsystems.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters

	// SessionsStartedTotal counts session starts by origin (manual,
	// scheduled, reactivate, recovery).
	SessionsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restreamd_sessions_started_total",
		Help: "Total number of sessions started, by origin.",
	}, []string{"origin"})

	// SessionsStoppedTotal counts session stops by origin (manual,
	// scheduled, reconcile).
	SessionsStoppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restreamd_sessions_stopped_total",
		Help: "Total number of sessions stopped, by origin.",
	}, []string{"origin"})

	// SessionsRecoveredTotal counts orphaned sessions recovered by
	// restarting their unit.
	SessionsRecoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restreamd_sessions_recovered_total",
		Help: "Total number of orphaned sessions recovered.",
	})

	// RecoveryFailedTotal counts sessions moved to inactive because
	// recovery could not restart them.
	RecoveryFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restreamd_recovery_failed_total",
		Help: "Total number of failed session recoveries, by reason.",
	}, []string{"reason"})

	// SchedulesDroppedTotal counts persisted schedule definitions
	// discarded during recovery, by reason.
	SchedulesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restreamd_schedules_dropped_total",
		Help: "Total number of schedule definitions dropped during recovery, by reason.",
	}, []string{"reason"})

	// ReconcilePassesTotal counts reconciliation passes by kind
	// (overdue, cleanup, manual, startup).
	ReconcilePassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restreamd_reconcile_passes_total",
		Help: "Total number of reconciliation passes, by kind.",
	}, []string{"kind"})

	// OrphanUnitsCleanedTotal counts supervisor units removed because
	// no active session owned them.
	OrphanUnitsCleanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restreamd_orphan_units_cleaned_total",
		Help: "Total number of unowned supervisor units cleaned up.",
	})

	// LedgerVersionConflictsTotal counts optimistic-concurrency write
	// rejections.
	LedgerVersionConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restreamd_ledger_version_conflicts_total",
		Help: "Total number of ledger writes rejected by a version conflict.",
	})

	// Gauges

	// ActiveSessions tracks the current number of active sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "restreamd_active_sessions",
		Help: "Current number of active sessions.",
	})

	// ScheduledDefinitions tracks the current number of persisted
	// schedule definitions.
	ScheduledDefinitions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "restreamd_scheduled_definitions",
		Help: "Current number of persisted schedule definitions.",
	})

	// SchedulerJobs tracks the current number of registered scheduler
	// jobs.
	SchedulerJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "restreamd_scheduler_jobs",
		Help: "Current number of registered scheduler jobs.",
	})

	// WebsocketClients tracks the number of connected observer clients.
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "restreamd_websocket_clients",
		Help: "Current number of connected websocket clients.",
	})
)

// Package metrics exposes runtime counters via expvar.
package metrics

import "expvar"

var (
	SamplesRecorded         = expvar.NewInt("samples_recorded")
	SamplesRejected         = expvar.NewInt("samples_rejected")
	SubscriberNotifications = expvar.NewInt("subscriber_notifications")
	CollectorErrors         = expvar.NewInt("collector_errors")
	ErrorsTracked           = expvar.NewInt("errors_tracked")
	PatternsDetected        = expvar.NewInt("patterns_detected")
	TicksTotal              = expvar.NewInt("ticks_total")
	RuleEvaluations         = expvar.NewInt("rule_evaluations")
	RuleEvaluationErrors    = expvar.NewInt("rule_evaluation_errors")
	AlertsCreated           = expvar.NewInt("alerts_created")
	AlertsSuppressed        = expvar.NewInt("alerts_suppressed")
	AlertsEscalated         = expvar.NewInt("alerts_escalated")
	AlertsResolved          = expvar.NewInt("alerts_resolved")
	DispatchSucceeded       = expvar.NewInt("dispatch_succeeded")
	DispatchFailed          = expvar.NewInt("dispatch_failed")
	DispatchDropped         = expvar.NewInt("dispatch_dropped")
	StoreErrors             = expvar.NewInt("store_errors")
)

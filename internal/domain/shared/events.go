// Package shared contains common domain types, errors, and events.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the engine.
const (
	// Experiment lifecycle events
	EventExperimentRegistered EventType = "experiment.registered"
	EventExperimentStarted    EventType = "experiment.started"
	EventExperimentFinalized  EventType = "sequential.finalized"

	// Analysis events
	EventAnalysisCompleted EventType = "analysis.completed"
	EventAnalysisPeeked    EventType = "analysis.peeked"

	// Integrity events
	EventSRMDetected          EventType = "integrity.srm_detected"
	EventDuplicateObservation EventType = "integrity.duplicate_observation"

	// Bandit events
	EventRewardRecorded EventType = "bandit.reward_recorded"

	// System events
	EventScheduledRunCompleted EventType = "system.scheduled_run_completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a single domain event.
type EventHandler func(event Event) error

// EventBus decouples event producers from handlers. Implementations live in
// internal/infrastructure/messaging.
type EventBus interface {
	// Publish delivers an event to all subscribed handlers.
	Publish(event Event) error

	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for every event.
	SubscribeAll(handler EventHandler) error

	// Close shuts the bus down, waiting for in-flight handlers.
	Close() error
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Experiment Events
// ═══════════════════════════════════════════════════════════════════════════

// ExperimentRegisteredEvent is emitted when an experiment enters the registry.
type ExperimentRegisteredEvent struct {
	BaseEvent
	ExperimentID string   `json:"experiment_id"`
	Variants     []string `json:"variants"`
	PrimaryMetric string  `json:"primary_metric"`
}

// Payload implements Event interface.
func (e ExperimentRegisteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"experiment_id":  e.ExperimentID,
		"variants":       e.Variants,
		"primary_metric": e.PrimaryMetric,
	}
}

// ExperimentStartedEvent is emitted when an experiment begins taking traffic.
type ExperimentStartedEvent struct {
	BaseEvent
	ExperimentID string `json:"experiment_id"`
}

// Payload implements Event interface.
func (e ExperimentStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"experiment_id": e.ExperimentID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Analysis Events
// ═══════════════════════════════════════════════════════════════════════════

// AnalysisCompletedEvent is emitted when an analysis run produces a result.
type AnalysisCompletedEvent struct {
	BaseEvent
	ExperimentID   string  `json:"experiment_id"`
	MetricName     string  `json:"metric_name"`
	PeekIndex      int     `json:"peek_index"`
	PValue         float64 `json:"p_value"`
	Significant    bool    `json:"significant"`
	Recommendation string  `json:"recommendation"`
}

// Payload implements Event interface.
func (e AnalysisCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"experiment_id":  e.ExperimentID,
		"metric_name":    e.MetricName,
		"peek_index":     e.PeekIndex,
		"p_value":        e.PValue,
		"significant":    e.Significant,
		"recommendation": e.Recommendation,
	}
}

// ExperimentFinalizedEvent is emitted when the sequential guard finalizes.
type ExperimentFinalizedEvent struct {
	BaseEvent
	ExperimentID string `json:"experiment_id"`
	TotalPeeks   int    `json:"total_peeks"`
}

// Payload implements Event interface.
func (e ExperimentFinalizedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"experiment_id": e.ExperimentID,
		"total_peeks":   e.TotalPeeks,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Integrity Events
// ═══════════════════════════════════════════════════════════════════════════

// SRMDetectedEvent is emitted when a sample-ratio mismatch check fails.
// SRM indicates an assignment bug or bot contamination, not a substantive
// hypothesis, so downstream handlers treat it as an operational alert.
type SRMDetectedEvent struct {
	BaseEvent
	ExperimentID  string  `json:"experiment_id"`
	PValue        float64 `json:"p_value"`
	ObservedRatio float64 `json:"observed_ratio"`
	ExpectedRatio float64 `json:"expected_ratio"`
}

// Payload implements Event interface.
func (e SRMDetectedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"experiment_id":  e.ExperimentID,
		"p_value":        e.PValue,
		"observed_ratio": e.ObservedRatio,
		"expected_ratio": e.ExpectedRatio,
	}
}

// DuplicateObservationEvent is emitted when an ingested batch is rejected for
// containing already-recorded (subject, metric) keys.
type DuplicateObservationEvent struct {
	BaseEvent
	ExperimentID   string `json:"experiment_id"`
	DuplicateCount int    `json:"duplicate_count"`
}

// Payload implements Event interface.
func (e DuplicateObservationEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"experiment_id":   e.ExperimentID,
		"duplicate_count": e.DuplicateCount,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// System Events
// ═══════════════════════════════════════════════════════════════════════════

// ScheduledRunCompletedEvent is emitted after a scheduled job finishes a
// sweep, for dashboards that watch job health.
type ScheduledRunCompletedEvent struct {
	BaseEvent
	JobName   string `json:"job_name"`
	Analyzed  int    `json:"analyzed"`
	Finalized int    `json:"finalized"`
	Failed    int    `json:"failed"`
}

// Payload implements Event interface.
func (e ScheduledRunCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"job_name":  e.JobName,
		"analyzed":  e.Analyzed,
		"finalized": e.Finalized,
		"failed":    e.Failed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bandit Events
// ═══════════════════════════════════════════════════════════════════════════

// RewardRecordedEvent is emitted after a bandit arm's counters are updated.
type RewardRecordedEvent struct {
	BaseEvent
	ExperimentID string `json:"experiment_id"`
	VariantLabel string `json:"variant_label"`
	Reward       int    `json:"reward"`
}

// Payload implements Event interface.
func (e RewardRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"experiment_id": e.ExperimentID,
		"variant_label": e.VariantLabel,
		"reward":        e.Reward,
	}
}

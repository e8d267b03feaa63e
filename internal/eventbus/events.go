package eventbus

import "time"

// Event types published by the pipeline.
const (
	AlertCreated    = "alert.created"
	AlertMerged     = "alert.merged"
	AlertSuppressed = "alert.suppressed"

	DeliverySent    = "delivery.sent"
	DeliveryFailed  = "delivery.failed"
	DeliveryExpired = "delivery.expired"
	DeliveryPaused  = "delivery.paused"

	ResponseRecorded = "response.recorded"

	HealthChanged = "health.changed"
)

// AlertEvent is the payload of the alert.* events.
type AlertEvent struct {
	AlertID  string
	UnitCode int
	Info     string
	SourceID string
	Reason   string // suppress reason: stale, repeat
}

// DeliveryEvent is the payload of the delivery.* events.
type DeliveryEvent struct {
	Channel  string
	JobID    string
	Priority string
	Class    string // error class on failure
	Pause    time.Duration
	Latency  time.Duration
}

// ResponseEvent is the payload of response.recorded.
type ResponseEvent struct {
	AlertResponseID string
	AlertID         string
	GroupID         string
	UserID          string
	Type            string
}

// HealthEvent is the payload of health.changed.
type HealthEvent struct {
	Component string
	Healthy   bool
	Detail    string
}

package models

import "time"

// AlertStatus is the lifecycle status of an alert.
type AlertStatus string

const (
	// StatusCreate marks an alert as firing and eligible for a NOC incident.
	StatusCreate AlertStatus = "CREATE"
	// StatusCancel marks an alert as resolved; a successful NOC round-trip
	// removes it from the vector.
	StatusCancel AlertStatus = "CANCEL"
)

// AnnotationSuppressWindow is the source-provided annotation carrying a
// suppression window in the <decimal><s|m|h|d> grammar.
const AnnotationSuppressWindow = "suppress_window"

// Alert is the health assertion carried from the sources through the vector
// to the NOC dispatcher. Fingerprint is its stable identity.
type Alert struct {
	Fingerprint string      `json:"fingerprint"`
	Priority    int         `json:"priority"`
	Name        string      `json:"name"`
	Source      string      `json:"source"`
	Status      AlertStatus `json:"status"`
	Summary     string      `json:"summary"`
	Description string      `json:"description"`

	Payload   NocPayload `json:"payload"`
	SendToNoc bool       `json:"send_to_noc"`

	// SuppressWindow overrides the annotation and the per-status default.
	// nil means unset; an explicit 0 disables suppression.
	SuppressWindow *time.Duration `json:"suppress_window,omitempty"`

	Timestamp         time.Time `json:"timestamp"`
	LastSeenTick      int64     `json:"last_seen_tick"`
	LastSeenTimestamp time.Time `json:"last_seen_timestamp"`

	// ExecutionID is assigned once when a source first ingests the alert and
	// travels unchanged to the NOC send.
	ExecutionID string `json:"execution_id"`

	Annotations map[string]string `json:"annotations,omitempty"`
}

// Message returns the wire message for the NOC payload, preferring
// Description over Summary.
func (a *Alert) Message() string {
	if a.Description != "" {
		return a.Description
	}
	return a.Summary
}

// NocPayload is the NOC wire document. Field names follow the receiver's
// camelCase contract.
type NocPayload struct {
	Custom1        string `json:"custom1"`
	Custom2        string `json:"custom2"`
	HostName       string `json:"hostName"`
	Level          int    `json:"level"`
	Message        string `json:"message"`
	Severity       string `json:"severity"`
	Source         string `json:"source"`
	SuppressionKey string `json:"suppressionKey"`
	Visible        bool   `json:"visible"`
}

package types

import (
	"time"
)

// EventKind tags entries in the append-only security event log.
type EventKind string

const (
	EventThreatDetected   EventKind = "threat_detected"
	EventPolicyGenerated  EventKind = "policy_generated"
	EventModelProbed      EventKind = "model_probed"
	EventGuardianAnalysis EventKind = "guardian_analysis"
)

// SecurityEvent is one entry in the event log. Exactly one payload field is
// set, matching Kind. The log is the single source of truth for all derived
// metrics; append order is detection/generation order.
type SecurityEvent struct {
	Kind      EventKind         `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Threat    *ThreatPattern    `json:"threat,omitempty"`
	Policy    *SecurityPolicy   `json:"policy,omitempty"`
	Probe     *ProbeResult      `json:"probe,omitempty"`
	Analysis  *GuardianAnalysis `json:"analysis,omitempty"`
}

// MetricsSnapshot is the read-only aggregate exposed to dashboards. It is
// recomputed on demand as a fold over the event log.
type MetricsSnapshot struct {
	ThreatsDetected  int       `json:"threats_detected"`
	ActivePolicies   int       `json:"active_policies"`
	ProbesRun        int       `json:"probes_run"`
	ResponsesBlocked int       `json:"responses_blocked"`
	Adaptations      int       `json:"adaptations"`
	HighRiskCount    int       `json:"high_risk_count"`
	CriticalCount    int       `json:"critical_count"`
	EventLogSize     int       `json:"event_log_size"`
	ThreatLevel      RiskLevel `json:"threat_level"`
	GeneratedAt      time.Time `json:"generated_at"`
}

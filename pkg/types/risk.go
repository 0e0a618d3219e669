package types

import (
	"encoding/json"
	"fmt"
)

// RiskLevel is a totally ordered verdict tier. The numeric ordering is load
// bearing: mitigation thresholds compare tiers with >=.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskLevelNames = map[RiskLevel]string{
	RiskSafe:     "SAFE",
	RiskLow:      "LOW_RISK",
	RiskMedium:   "MEDIUM_RISK",
	RiskHigh:     "HIGH_RISK",
	RiskCritical: "CRITICAL",
}

var riskLevelValues = map[string]RiskLevel{
	"SAFE":        RiskSafe,
	"LOW_RISK":    RiskLow,
	"MEDIUM_RISK": RiskMedium,
	"HIGH_RISK":   RiskHigh,
	"CRITICAL":    RiskCritical,
}

func (r RiskLevel) String() string {
	if name, ok := riskLevelNames[r]; ok {
		return name
	}
	return fmt.Sprintf("RiskLevel(%d)", int(r))
}

// AtLeast reports whether r is at or above the given tier.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r >= other
}

func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	level, ok := riskLevelValues[s]
	if !ok {
		return fmt.Errorf("unknown risk level: %q", s)
	}
	*r = level
	return nil
}

// ParseRiskLevel maps a tier name to its RiskLevel, defaulting to SAFE for
// unknown input so misconfigured thresholds fail open on alerting rather than
// silently suppressing everything.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	level, ok := riskLevelValues[s]
	return level, ok
}

// Severity classifies threats, rules and violations.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordering weight of a severity, 0 for unknown values.
func (s Severity) Rank() int {
	return severityRank[s]
}

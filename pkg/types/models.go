package types

import (
	"time"
)

// ThreatCategory buckets discovered attack patterns.
type ThreatCategory string

const (
	CategoryJailbreak       ThreatCategory = "jailbreak"
	CategoryPromptInjection ThreatCategory = "prompt_injection"
	CategoryDataExtraction  ThreatCategory = "data_extraction"
	CategoryManipulation    ThreatCategory = "manipulation"
)

// ThreatPattern is an enriched attack pattern discovered from an external
// source. The ID is derived from source-stable identifiers and is immutable;
// records are append-only for audit.
type ThreatPattern struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Category        ThreatCategory `json:"category"`
	Severity        Severity       `json:"severity"`
	Techniques      []string       `json:"techniques"`
	Examples        []string       `json:"examples"`
	DiscoveredAt    time.Time      `json:"discovered_at"`
	Confidence      float64        `json:"confidence"`
	Indicators      []string       `json:"indicators"`
	Countermeasures []string       `json:"countermeasures"`
	Source          string         `json:"source"`
}

// RuleAction is what a security rule prescribes when its pattern matches.
type RuleAction string

const (
	ActionBlock    RuleAction = "block"
	ActionWarn     RuleAction = "warn"
	ActionLog      RuleAction = "log"
	ActionRedirect RuleAction = "redirect"
)

// SecurityRule is a single detection rule owned by exactly one policy.
type SecurityRule struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	Pattern       string     `json:"pattern"`
	Action        RuleAction `json:"action"`
	Severity      Severity   `json:"severity"`
	Effectiveness float64    `json:"effectiveness"`
}

// SecurityPolicy is a named, ordered set of rules generated for one or more
// threats. Policies are deactivated when superseded, never deleted.
type SecurityPolicy struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Rules         []SecurityRule `json:"rules"`
	ThreatIDs     []string       `json:"threat_ids"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Effectiveness float64        `json:"effectiveness"`
	Active        bool           `json:"active"`
}

// Sophistication tiers an adversarial prompt from crude to expert tradecraft.
type Sophistication string

const (
	SophisticationBasic        Sophistication = "basic"
	SophisticationIntermediate Sophistication = "intermediate"
	SophisticationAdvanced     Sophistication = "advanced"
	SophisticationExpert       Sophistication = "expert"
)

var sophisticationOrder = []Sophistication{
	SophisticationBasic,
	SophisticationIntermediate,
	SophisticationAdvanced,
	SophisticationExpert,
}

// NextSophistication returns the tier one step above s, capped at expert.
func NextSophistication(s Sophistication) Sophistication {
	for i, tier := range sophisticationOrder {
		if tier == s {
			if i == len(sophisticationOrder)-1 {
				return tier
			}
			return sophisticationOrder[i+1]
		}
	}
	return SophisticationBasic
}

// SophisticationRank returns the ordering weight of a tier, 0 for unknown.
func SophisticationRank(s Sophistication) int {
	for i, tier := range sophisticationOrder {
		if tier == s {
			return i + 1
		}
	}
	return 0
}

// AdversarialPrompt is an immutable generated test prompt. Evolved variants
// are new records pointing at ParentID.
type AdversarialPrompt struct {
	ID             string         `json:"id"`
	Text           string         `json:"text"`
	Category       ThreatCategory `json:"category"`
	Sophistication Sophistication `json:"sophistication"`
	Technique      string         `json:"technique"`
	OriginID       string         `json:"origin_id"`
	ParentID       string         `json:"parent_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// PolicyViolation attaches one detected violation to a guardian analysis.
type PolicyViolation struct {
	PolicyID   string   `json:"policy_id"`
	Rule       string   `json:"rule"`
	Severity   Severity `json:"severity"`
	Evidence   string   `json:"evidence"`
	Confidence float64  `json:"confidence"`
}

// GuardianAnalysis is the immutable verdict for one (prompt, response) pair.
type GuardianAnalysis struct {
	ID               string            `json:"id"`
	PromptID         string            `json:"prompt_id"`
	Response         string            `json:"response"`
	ModelName        string            `json:"model_name"`
	RiskLevel        RiskLevel         `json:"risk_level"`
	Confidence       float64           `json:"confidence"`
	Violations       []PolicyViolation `json:"violations"`
	Reasoning        string            `json:"reasoning"`
	SaferAlternative string            `json:"safer_alternative,omitempty"`
	Degraded         bool              `json:"degraded,omitempty"`
	AnalyzedAt       time.Time         `json:"analyzed_at"`
	Duration         time.Duration     `json:"duration"`
}

// ProbeResult aggregates one full probe cycle against a target model,
// follow-up analyses included.
type ProbeResult struct {
	ModelID            string             `json:"model_id"`
	ModelName          string             `json:"model_name"`
	StartedAt          time.Time          `json:"started_at"`
	CompletedAt        time.Time          `json:"completed_at"`
	TotalProbes        int                `json:"total_probes"`
	FailedPolicyChecks int                `json:"failed_policy_checks"`
	HighRiskFindings   int                `json:"high_risk_findings"`
	CriticalFindings   int                `json:"critical_findings"`
	Analyses           []GuardianAnalysis `json:"analyses"`
}

// MitigationType enumerates the automated responses the mitigation engine
// can take.
type MitigationType string

const (
	MitigationBlockResponse   MitigationType = "block_response"
	MitigationUpdatePolicy    MitigationType = "update_policy"
	MitigationAlertAdmin      MitigationType = "alert_admin"
	MitigationQuarantineModel MitigationType = "quarantine_model"
	MitigationEscalateHuman   MitigationType = "escalate_human"
)

// MitigationAction records one fired mitigation.
type MitigationAction struct {
	ID          string         `json:"id"`
	Type        MitigationType `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	ExecutedAt  time.Time      `json:"executed_at"`
	Success     bool           `json:"success"`
	Detail      map[string]any `json:"detail,omitempty"`
}

// ProviderFlavor selects the request body shape for a target model endpoint.
type ProviderFlavor string

const (
	FlavorOpenAIChat ProviderFlavor = "openai-chat"
	FlavorRawPrompt  ProviderFlavor = "raw-prompt"
)

// TargetModel is a registered model descriptor owned by the registry
// collaborator. The pipeline reads descriptors and writes back risk
// summaries and probe counters only.
type TargetModel struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Endpoint        string         `json:"endpoint"`
	Flavor          ProviderFlavor `json:"flavor"`
	APIKey          string         `json:"api_key,omitempty"`
	ModelID         string         `json:"model_id,omitempty"`
	Monitoring      bool           `json:"monitoring"`
	LastRiskSummary RiskLevel      `json:"last_risk_summary"`
	ProbeCount      int            `json:"probe_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

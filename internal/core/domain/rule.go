package domain

import "strings"

// Severity grades an invariant rule and the violations it produces.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// ParseSeverity normalizes a severity string. Unknown values are kept as-is in
// lower case so they still round-trip into reports.
func ParseSeverity(s string) Severity {
	return Severity(strings.ToLower(strings.TrimSpace(s)))
}

// InvariantRule is one protocol-specific condition. Rules are supplied per
// protocol and never mutated at runtime.
type InvariantRule struct {
	ID          string           `json:"id"                 yaml:"id"          toml:"id"`
	Type        string           `json:"type"               yaml:"type"        toml:"type"`
	Severity    Severity         `json:"severity"           yaml:"severity"    toml:"severity"`
	Description string           `json:"description"        yaml:"description" toml:"description"`
	Contract    string           `json:"contract,omitempty" yaml:"contract"    toml:"contract"`
	Function    string           `json:"function,omitempty" yaml:"function"    toml:"function"`
	Threshold   Value            `json:"threshold"          yaml:"threshold"   toml:"threshold"`
	Confidence  float64          `json:"confidence"         yaml:"confidence"  toml:"confidence"`
	Metadata    map[string]Value `json:"metadata"           yaml:"metadata"    toml:"metadata"`
}

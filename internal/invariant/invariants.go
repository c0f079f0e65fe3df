// Package invariant evaluates protocol-specific rules against the features of
// one transaction.
//
// A rule's type tag selects a Checker from the checker registry, and a
// protocol name selects a Factory from the protocol registry. Both registries
// are open: packages add entries from their init code.
package invariant

import (
	"strings"

	"golang.org/x/exp/maps"

	"github.com/vietddude/invmon/internal/core/domain"
)

// Invariants is the rule set of one protocol.
type Invariants interface {
	GetProtocol() string
	GetChain() string
	// GetContracts maps a contract label to its address
	GetContracts() map[string]string
	GetRules() []domain.InvariantRule
	// Evaluate checks every rule against txData and returns the violated
	// ones in rule order. It does not modify txData.
	Evaluate(txData *domain.TransactionData) []domain.ViolationDetail
}

// RuleSet is the Invariants implementation shared by all protocols. Protocols
// differ only in the rules and contracts they are built with.
type RuleSet struct {
	protocol  string
	chain     string
	contracts map[string]string
	rules     []domain.InvariantRule
}

var _ Invariants = (*RuleSet)(nil)

func NewRuleSet(protocol, chain string, contracts map[string]string, rules []domain.InvariantRule) *RuleSet {
	if contracts == nil {
		contracts = map[string]string{}
	}
	return &RuleSet{
		protocol:  strings.ToLower(protocol),
		chain:     chain,
		contracts: maps.Clone(contracts),
		rules:     append([]domain.InvariantRule(nil), rules...),
	}
}

func (s *RuleSet) GetProtocol() string { return s.protocol }

func (s *RuleSet) GetChain() string { return s.chain }

func (s *RuleSet) GetContracts() map[string]string { return maps.Clone(s.contracts) }

func (s *RuleSet) GetRules() []domain.InvariantRule {
	return append([]domain.InvariantRule(nil), s.rules...)
}

// Evaluate runs each rule through the checker registered for its type. Rules
// of an unknown type never fire.
func (s *RuleSet) Evaluate(txData *domain.TransactionData) []domain.ViolationDetail {
	violations := []domain.ViolationDetail{}
	if txData == nil {
		return violations
	}

	for _, rule := range s.rules {
		checker := GetChecker(rule.Type)
		if checker == nil {
			continue
		}
		result, violated := checker.Check(rule, txData)
		if !violated {
			continue
		}
		violations = append(violations, newViolation(rule, result))
	}
	return violations
}

func newViolation(rule domain.InvariantRule, result Result) domain.ViolationDetail {
	details := make(map[string]domain.Value, len(result.Details)+2)
	maps.Copy(details, result.Details)
	details["threshold"] = domain.Number(result.Threshold)
	details["actual"] = domain.Number(result.Actual)

	return domain.ViolationDetail{
		InvariantID:   rule.ID,
		InvariantType: rule.Type,
		Severity:      rule.Severity,
		Message:       result.Message,
		Violated:      true,
		Details:       details,
	}
}

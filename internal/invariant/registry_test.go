package invariant

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/invmon/internal/core/domain"
)

func TestRegistry_BuiltIns(t *testing.T) {
	assert.Subset(t, Protocols(), []string{GenericProtocol, BarleyFinanceProtocol})
	assert.Equal(t, []string{
		TypeBalanceChangeRate, TypeCallDepth, TypeFunctionCallCount,
		TypeLoopIterations, TypePoolUtilization, TypeReentrancyDepth,
	}, CheckerTypes())

	assert.NotNil(t, GetProtocolFactory("BarleyFinance"))
	assert.NotNil(t, GetChecker("POOL_UTILIZATION"))
	assert.Nil(t, GetChecker("nope"))
}

func TestRegistry_Unknown(t *testing.T) {
	_, err := NewInvariants("uniswap", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), BarleyFinanceProtocol)
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		RegisterProtocol("Generic", func(*RuleFile) (Invariants, error) { return nil, nil })
	})
	assert.Panics(t, func() { RegisterProtocol("nil-factory", nil) })
	assert.Panics(t, func() { RegisterChecker(TypeCallDepth, CheckerFunc(checkPoolUtilization)) })
}

func TestGeneric_RequiresRuleFile(t *testing.T) {
	_, err := NewInvariants(GenericProtocol, nil)
	assert.Error(t, err)

	inv, err := NewInvariants(GenericProtocol, &RuleFile{
		Protocol: "Curve",
		Chain:    "arbitrum",
		Rules:    []domain.InvariantRule{rule("depth", TypeCallDepth, domain.Number(2))},
	})
	require.NoError(t, err)
	assert.Equal(t, "curve", inv.GetProtocol())
	assert.Equal(t, "arbitrum", inv.GetChain())
	assert.Len(t, inv.GetRules(), 1)
}

func TestBarleyFinance_Defaults(t *testing.T) {
	inv, err := NewInvariants(BarleyFinanceProtocol, nil)
	require.NoError(t, err)

	assert.Equal(t, "ethereum", inv.GetChain())
	assert.Equal(t, barleyWBARL, inv.GetContracts()["wBARL"])
	require.Len(t, inv.GetRules(), 5)

	// twenty flash loans draining the pool
	tx := txWith(func(tx *domain.TransactionData) {
		tx.PoolUtilization = 99
		tx.PoolAddress = barleyWBARL
		tx.LoopIterations = 20
		tx.ReentrancyDepth = 1
		tx.FunctionCalls[flashSelector] = 20
	})
	violations := inv.Evaluate(tx)

	ids := make([]string, 0, len(violations))
	for _, v := range violations {
		ids = append(ids, v.InvariantID)
	}
	assert.Equal(t, []string{"barley_pool_utilization", "barley_flash_loop", "barley_flash_calls"}, ids)
	assert.Equal(t, domain.SeverityCritical, violations[0].Severity)
}

func TestBarleyFinance_Overrides(t *testing.T) {
	rf := &RuleFile{
		Chain:     "ethereum-fork",
		Contracts: map[string]string{"router": "0xrouter"},
		Rules: []domain.InvariantRule{
			{ID: "barley_pool_utilization", Type: TypePoolUtilization, Severity: domain.SeverityLow, Threshold: domain.Number(99)},
			{ID: "barley_call_depth", Type: TypeCallDepth, Severity: domain.SeverityInfo, Threshold: domain.Number(8)},
		},
	}
	inv, err := NewInvariants(BarleyFinanceProtocol, rf)
	require.NoError(t, err)

	assert.Equal(t, "ethereum-fork", inv.GetChain())
	assert.Len(t, inv.GetContracts(), 3)

	rules := inv.GetRules()
	require.Len(t, rules, 6)
	assert.Equal(t, domain.SeverityLow, rules[0].Severity)
	assert.Equal(t, "barley_call_depth", rules[5].ID)
}

const yamlRules = `
protocol: barleyfinance
chain: ethereum
contracts:
  wBARL: "${TEST_WBARL}"
rules:
  - id: util
    type: pool_utilization
    severity: CRITICAL
    description: pool drained
    contract: "${TEST_WBARL}"
    threshold:
      value: 95
      unit: percent
    confidence: 0.9
    metadata:
      source: audit
      weight: 2
`

const tomlRules = `
protocol = "barleyfinance"
chain = "ethereum"

[contracts]
wBARL = "0x04c80bb477890f3021f03b068238836ee20aa0b8"

[[rules]]
id = "util"
type = "pool_utilization"
severity = "critical"
threshold = 95
confidence = 0.9

[rules.metadata]
source = "audit"
nested = { weight = 2 }
`

const jsonRules = `{
  "protocol": "barleyfinance",
  "chain": "ethereum",
  "contracts": {"wBARL": "0x04c80bb477890f3021f03b068238836ee20aa0b8"},
  "rules": [
    {"id": "util", "type": "pool_utilization", "severity": "critical",
     "description": "pool drained", "threshold": 95, "confidence": 0.9,
     "metadata": {"source": "audit"}}
  ]
}`

func TestLoadRuleFile_Formats(t *testing.T) {
	t.Setenv("TEST_WBARL", barleyWBARL)
	dir := t.TempDir()

	for name, content := range map[string]string{
		"rules.yaml": yamlRules,
		"rules.toml": tomlRules,
		"rules.json": jsonRules,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			rf, err := LoadRuleFile(path)
			require.NoError(t, err)

			assert.Equal(t, "barleyfinance", rf.Protocol)
			assert.Equal(t, barleyWBARL, rf.Contracts["wBARL"])
			require.Len(t, rf.Rules, 1)

			r := rf.Rules[0]
			assert.Equal(t, "util", r.ID)
			assert.Equal(t, domain.SeverityCritical, r.Severity)
			threshold, ok := r.Threshold.Number()
			require.True(t, ok)
			assert.Equal(t, 95.0, threshold)
			assert.Equal(t, domain.String("audit"), r.Metadata["source"])
		})
	}
}

func TestParseRuleFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		content string
	}{
		{"unsupported format", "xml", "<rules/>"},
		{"missing id", "json", `{"rules":[{"type":"call_depth","threshold":1}]}`},
		{"missing type", "json", `{"rules":[{"id":"a","threshold":1}]}`},
		{"duplicate id", "yaml", "rules:\n  - {id: a, type: call_depth}\n  - {id: a, type: loop_iterations}\n"},
		{"list threshold", "json", `{"rules":[{"id":"a","type":"call_depth","threshold":[1,2]}]}`},
		{"unknown field", "json", `{"rulez":[]}`},
		{"unknown yaml field", "yaml", "rulez: []\n"},
		{"unknown toml key", "toml", "[[rules]]\nid = \"a\"\ntype = \"call_depth\"\nthreshhold = 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRuleFile([]byte(tt.content), tt.format)
			assert.Error(t, err)
		})
	}
}

func TestLoadRuleFile_Missing(t *testing.T) {
	_, err := LoadRuleFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

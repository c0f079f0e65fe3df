package invariant

import "github.com/vietddude/invmon/internal/core/domain"

// BarleyFinance rules target the wBARL flash-loan loop exploit (Ethereum,
// January 2024): flash() was re-entered through its callback and the borrowed
// BARL bonded back into the pool twenty times in one transaction.
const (
	BarleyFinanceProtocol = "barleyfinance"

	barleyWBARL = "0x04c80bb477890f3021f03b068238836ee20aa0b8"
	barleyBARL  = "0x3e2324342bf5b8a1dca42915f0489497203d640e"

	flashSelector = "0x3b30ba59"
)

func barleyFinanceRules() []domain.InvariantRule {
	return []domain.InvariantRule{
		{
			ID:          "barley_pool_utilization",
			Type:        TypePoolUtilization,
			Severity:    domain.SeverityCritical,
			Description: "a single flash loan must not borrow more than 95% of the wBARL pool",
			Contract:    barleyWBARL,
			Threshold:   domain.Number(95),
			Confidence:  0.95,
			Metadata:    map[string]domain.Value{"unit": domain.String("percent")},
		},
		{
			ID:          "barley_balance_drain",
			Type:        TypeBalanceChangeRate,
			Severity:    domain.SeverityCritical,
			Description: "the wBARL contract balance must not move by more than 50% in one transaction",
			Contract:    barleyWBARL,
			Threshold:   domain.Number(50),
			Confidence:  0.9,
			Metadata:    map[string]domain.Value{"unit": domain.String("percent")},
		},
		{
			ID:          "barley_flash_loop",
			Type:        TypeLoopIterations,
			Severity:    domain.SeverityHigh,
			Description: "flash loans must not be repeated in a loop",
			Contract:    barleyWBARL,
			Function:    flashSelector,
			Threshold:   domain.Number(5),
			Confidence:  0.85,
		},
		{
			ID:          "barley_flash_calls",
			Type:        TypeFunctionCallCount,
			Severity:    domain.SeverityHigh,
			Description: "flash() must not be called more than 3 times in one transaction",
			Contract:    barleyWBARL,
			Function:    flashSelector,
			Threshold:   domain.Number(3),
			Confidence:  0.85,
		},
		{
			ID:          "barley_reentrancy",
			Type:        TypeReentrancyDepth,
			Severity:    domain.SeverityMedium,
			Description: "the flash callback must not re-enter the same contract twice",
			Contract:    barleyWBARL,
			Threshold:   domain.Number(1),
			Confidence:  0.7,
		},
	}
}

func init() {
	RegisterProtocol(BarleyFinanceProtocol, func(rf *RuleFile) (Invariants, error) {
		contracts := map[string]string{
			"wBARL": barleyWBARL,
			"BARL":  barleyBARL,
		}
		return withDefaults(BarleyFinanceProtocol, "ethereum", contracts, barleyFinanceRules(), rf), nil
	})
}

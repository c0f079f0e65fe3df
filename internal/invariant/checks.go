package invariant

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/vietddude/invmon/internal/analysis/calltree"
	"github.com/vietddude/invmon/internal/core/domain"
)

// Built-in rule types.
const (
	TypeBalanceChangeRate = "balance_change_rate"
	TypePoolUtilization   = "pool_utilization"
	TypeReentrancyDepth   = "reentrancy_depth"
	TypeLoopIterations    = "loop_iterations"
	TypeCallDepth         = "call_depth"
	TypeFunctionCallCount = "function_call_count"
)

func init() {
	RegisterChecker(TypeBalanceChangeRate, CheckerFunc(checkBalanceChangeRate))
	RegisterChecker(TypePoolUtilization, CheckerFunc(checkPoolUtilization))
	RegisterChecker(TypeReentrancyDepth, countChecker("reentrancy depth", func(tx *domain.TransactionData) int {
		return tx.ReentrancyDepth
	}))
	RegisterChecker(TypeLoopIterations, countChecker("loop iterations", func(tx *domain.TransactionData) int {
		return tx.LoopIterations
	}))
	RegisterChecker(TypeCallDepth, countChecker("call depth", func(tx *domain.TransactionData) int {
		return tx.CallDepth
	}))
	RegisterChecker(TypeFunctionCallCount, CheckerFunc(checkFunctionCallCount))
}

// checkBalanceChangeRate fires when |change rate| of rule.Contract exceeds
// the threshold. Without a contract the largest absolute rate of any monitored
// address is used, ties going to the lowest address.
func checkBalanceChangeRate(rule domain.InvariantRule, tx *domain.TransactionData) (Result, bool) {
	threshold, ok := rule.Threshold.Number()
	if !ok {
		return Result{}, false
	}

	var bc *domain.BalanceChange
	if rule.Contract != "" {
		bc, ok = tx.BalanceOf(rule.Contract)
		if !ok {
			return Result{}, false
		}
	} else {
		addrs := maps.Keys(tx.BalanceChanges)
		slices.Sort(addrs)
		for _, addr := range addrs {
			candidate := tx.BalanceChanges[addr]
			if candidate == nil {
				continue
			}
			if bc == nil || math.Abs(candidate.ChangeRate) > math.Abs(bc.ChangeRate) {
				bc = candidate
			}
		}
		if bc == nil {
			return Result{}, false
		}
	}

	actual := math.Abs(bc.ChangeRate)
	if !(actual > threshold) {
		return Result{}, false
	}

	details := map[string]domain.Value{
		"contract":    domain.String(bc.Address),
		"change_rate": domain.Number(bc.ChangeRate),
	}
	if bc.Before != nil && bc.After != nil {
		details["before"] = domain.String(bc.Before.String())
		details["after"] = domain.String(bc.After.String())
	}
	return Result{
		Threshold: threshold,
		Actual:    actual,
		Message: fmt.Sprintf("balance change rate of %s is %.2f%%, exceeds %.2f%%",
			bc.Address, bc.ChangeRate, threshold),
		Details: details,
	}, true
}

// checkPoolUtilization fires when the borrowed share of the pool exceeds the
// threshold. A rule bound to a contract ignores other pools.
func checkPoolUtilization(rule domain.InvariantRule, tx *domain.TransactionData) (Result, bool) {
	threshold, ok := rule.Threshold.Number()
	if !ok {
		return Result{}, false
	}
	if rule.Contract != "" && tx.PoolAddress != "" && !strings.EqualFold(rule.Contract, tx.PoolAddress) {
		return Result{}, false
	}
	if !(tx.PoolUtilization > threshold) {
		return Result{}, false
	}

	return Result{
		Threshold: threshold,
		Actual:    tx.PoolUtilization,
		Message:   fmt.Sprintf("pool utilization %.2f%% exceeds %.2f%%", tx.PoolUtilization, threshold),
		Details:   map[string]domain.Value{"pool": domain.String(tx.PoolAddress)},
	}, true
}

func countChecker(label string, metric func(*domain.TransactionData) int) Checker {
	return CheckerFunc(func(rule domain.InvariantRule, tx *domain.TransactionData) (Result, bool) {
		threshold, ok := rule.Threshold.Number()
		if !ok {
			return Result{}, false
		}
		actual := float64(metric(tx))
		if !(actual > threshold) {
			return Result{}, false
		}
		return Result{
			Threshold: threshold,
			Actual:    actual,
			Message:   fmt.Sprintf("%s %d exceeds %s", label, int(actual), domain.Number(threshold)),
		}, true
	})
}

// checkFunctionCallCount fires when rule.Function is called more often than
// the threshold. Function may be a selector or a full signature.
func checkFunctionCallCount(rule domain.InvariantRule, tx *domain.TransactionData) (Result, bool) {
	threshold, ok := rule.Threshold.Number()
	if !ok || rule.Function == "" {
		return Result{}, false
	}

	selector := rule.Function
	if strings.Contains(selector, "(") {
		selector = domain.SelectorFromSignature(selector)
	}

	actual := float64(calltree.FunctionCallCount(tx, selector))
	if !(actual > threshold) {
		return Result{}, false
	}
	return Result{
		Threshold: threshold,
		Actual:    actual,
		Message: fmt.Sprintf("%s called %d times, exceeds %s",
			rule.Function, int(actual), domain.Number(threshold)),
		Details: map[string]domain.Value{"function": domain.String(selector)},
	}, true
}

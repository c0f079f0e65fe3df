package invariant

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/vietddude/invmon/internal/core/domain"
)

// Result is what a Checker measured for one rule.
type Result struct {
	Threshold float64
	Actual    float64
	Message   string
	Details   map[string]domain.Value
}

// Checker evaluates one rule type. Missing or unusable data must report
// "not violated", never panic.
type Checker interface {
	Check(rule domain.InvariantRule, txData *domain.TransactionData) (Result, bool)
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(rule domain.InvariantRule, txData *domain.TransactionData) (Result, bool)

func (f CheckerFunc) Check(rule domain.InvariantRule, txData *domain.TransactionData) (Result, bool) {
	return f(rule, txData)
}

// GetChecker returns the checker for a rule type (case-insensitive), or nil.
func GetChecker(ruleType string) Checker {
	checkerRegistryLock.Lock()
	defer checkerRegistryLock.Unlock()
	return checkerRegistry[strings.ToLower(ruleType)]
}

// CheckerTypes lists the registered rule types in sorted order.
func CheckerTypes() []string {
	checkerRegistryLock.Lock()
	defer checkerRegistryLock.Unlock()
	types := maps.Keys(checkerRegistry)
	slices.Sort(types)
	return types
}

// RegisterChecker binds a Checker to a rule type. It panics if the type is
// already bound or the checker is nil.
func RegisterChecker(ruleType string, checker Checker) {
	key := strings.ToLower(ruleType)
	if checker == nil {
		panic(fmt.Sprintf("invalid initialization: cannot register nil checker for `%s`", key))
	}
	checkerRegistryLock.Lock()
	defer checkerRegistryLock.Unlock()
	if _, found := checkerRegistry[key]; found {
		panic(fmt.Sprintf("invalid initialization: multiple checkers registered for `%s`", key))
	}
	checkerRegistry[key] = checker
}

var (
	checkerRegistry     = map[string]Checker{}
	checkerRegistryLock sync.Mutex
)

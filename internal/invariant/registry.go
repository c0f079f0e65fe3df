package invariant

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/vietddude/invmon/internal/core/domain"
)

// Factory builds a protocol's Invariants. rf is nil when no rule file was
// given.
type Factory func(rf *RuleFile) (Invariants, error)

// NewInvariants looks up the factory registered under protocol
// (case-insensitive) and builds the rule set.
func NewInvariants(protocol string, rf *RuleFile) (Invariants, error) {
	factory := GetProtocolFactory(protocol)
	if factory == nil {
		return nil, fmt.Errorf("unknown protocol %q, registered: %s",
			protocol, strings.Join(Protocols(), ", "))
	}
	return factory(rf)
}

func GetProtocolFactory(protocol string) Factory {
	protocolRegistryLock.Lock()
	defer protocolRegistryLock.Unlock()
	return protocolRegistry[strings.ToLower(protocol)]
}

// Protocols lists the registered protocol names in sorted order.
func Protocols() []string {
	protocolRegistryLock.Lock()
	defer protocolRegistryLock.Unlock()
	names := maps.Keys(protocolRegistry)
	slices.Sort(names)
	return names
}

// RegisterProtocol binds a Factory to a protocol name. It panics if the name
// is already bound or the factory is nil. Mainly intended for init code.
func RegisterProtocol(protocol string, factory Factory) {
	key := strings.ToLower(protocol)
	if factory == nil {
		panic(fmt.Sprintf("invalid initialization: cannot register nil factory for `%s`", key))
	}
	protocolRegistryLock.Lock()
	defer protocolRegistryLock.Unlock()
	if _, found := protocolRegistry[key]; found {
		panic(fmt.Sprintf("invalid initialization: multiple factories registered for `%s`", key))
	}
	protocolRegistry[key] = factory
}

var (
	protocolRegistry     = map[string]Factory{}
	protocolRegistryLock sync.Mutex
)

// GenericProtocol takes everything from the rule file.
const GenericProtocol = "generic"

func init() {
	RegisterProtocol(GenericProtocol, func(rf *RuleFile) (Invariants, error) {
		if rf == nil {
			return nil, fmt.Errorf("protocol %s requires a rule file", GenericProtocol)
		}
		protocol := rf.Protocol
		if protocol == "" {
			protocol = GenericProtocol
		}
		return NewRuleSet(protocol, rf.Chain, rf.Contracts, rf.Rules), nil
	})
}

// withDefaults overlays rf on a protocol's built-in set: file rules replace
// defaults with the same id, new ids are appended, and contracts and chain
// from the file win.
func withDefaults(
	protocol, chain string,
	contracts map[string]string,
	defaults []domain.InvariantRule,
	rf *RuleFile,
) *RuleSet {
	if rf == nil {
		return NewRuleSet(protocol, chain, contracts, defaults)
	}

	mergedContracts := maps.Clone(contracts)
	maps.Copy(mergedContracts, rf.Contracts)
	if rf.Chain != "" {
		chain = rf.Chain
	}

	rules := slices.Clone(defaults)
	for _, override := range rf.Rules {
		idx := slices.IndexFunc(rules, func(r domain.InvariantRule) bool { return r.ID == override.ID })
		if idx >= 0 {
			rules[idx] = override
		} else {
			rules = append(rules, override)
		}
	}
	return NewRuleSet(protocol, chain, mergedContracts, rules)
}

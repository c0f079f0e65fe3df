package control

import (
	"sort"
	"strings"
	"sync"

	"github.com/vietddude/invmon/internal/infra/chain"
)

// ContractFilter selects the block transactions sent to monitored contracts.
// Addresses compare case-insensitively.
type ContractFilter struct {
	mu        sync.RWMutex
	addresses map[string]struct{}
}

func NewContractFilter(addresses ...string) *ContractFilter {
	f := &ContractFilter{addresses: make(map[string]struct{}, len(addresses))}
	f.Add(addresses...)
	return f
}

// Contains checks if an address is monitored.
func (f *ContractFilter) Contains(address string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.addresses[strings.ToLower(address)]
	return ok
}

// Add adds addresses to the filter. Empty addresses are ignored.
func (f *ContractFilter) Add(addresses ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, addr := range addresses {
		if addr = strings.ToLower(strings.TrimSpace(addr)); addr != "" {
			f.addresses[addr] = struct{}{}
		}
	}
}

// Remove removes an address from the filter.
func (f *ContractFilter) Remove(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.addresses, strings.ToLower(address))
}

// Size returns the number of monitored addresses.
func (f *ContractFilter) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.addresses)
}

// Addresses returns the monitored addresses in sorted order.
func (f *ContractFilter) Addresses() []string {
	f.mu.RLock()
	result := make([]string, 0, len(f.addresses))
	for addr := range f.addresses {
		result = append(result, addr)
	}
	f.mu.RUnlock()
	sort.Strings(result)
	return result
}

// Select returns the transactions whose recipient is monitored, in block
// order. Contract creations have no recipient and are never selected.
func (f *ContractFilter) Select(refs []chain.TxRef) []chain.TxRef {
	var selected []chain.TxRef
	for _, ref := range refs {
		if ref.To != "" && f.Contains(ref.To) {
			selected = append(selected, ref)
		}
	}
	return selected
}

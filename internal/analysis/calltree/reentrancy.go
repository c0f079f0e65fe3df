package calltree

import (
	"strings"

	"github.com/vietddude/invmon/internal/core/domain"
	"golang.org/x/exp/maps"
)

// pathFrame is one pending node of the reentrancy walk together with the
// visits recorded on its own root-to-node path.
type pathFrame struct {
	node      *domain.RawCallFrame
	visited   map[string]int // lower-cased callee -> recorded depth
	effective int            // reentrancy depth inherited from the parent
	treeDepth int
}

// ReentrancyDepth returns the deepest reentrant call on any root-to-leaf path.
//
// Each path carries its own address map. A node whose callee is not on the
// path records its tree depth and inherits the parent's reentrancy depth; a
// node whose callee is already on the path is reentrant, its depth becomes
// the recorded value plus one and that becomes the new record. Children get a
// copy of the map so sibling subtrees never see each other's visits. A trace
// without repeated callees on any path has depth 0.
func (a *Analyzer) ReentrancyDepth(root *domain.RawCallFrame) int {
	if root == nil {
		return 0
	}

	maxDepth := 0
	stack := []pathFrame{{node: root, visited: make(map[string]int)}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		current := f.effective
		addr := strings.ToLower(f.node.To)
		if addr != "" {
			if prev, found := f.visited[addr]; found {
				current = prev + 1
				f.visited[addr] = current
			} else {
				f.visited[addr] = f.treeDepth
			}
		}
		if current > maxDepth {
			maxDepth = current
		}

		if f.treeDepth >= a.maxDepth {
			continue
		}
		for i := range f.node.Calls {
			stack = append(stack, pathFrame{
				node:      &f.node.Calls[i],
				visited:   maps.Clone(f.visited),
				effective: current,
				treeDepth: f.treeDepth + 1,
			})
		}
	}

	return maxDepth
}

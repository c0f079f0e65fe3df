package calltree

import "github.com/vietddude/invmon/internal/core/domain"

// LoopIterations estimates how often the hottest loop of the transaction ran.
//
// With an instruction log the estimate is the highest execution count of any
// single JUMPI program counter. Without one it falls back to the highest
// repeat count of any selector across the whole call tree, or 0 when no
// selector repeats. Both are heuristics, not exact loop counts.
func (a *Analyzer) LoopIterations(root *domain.RawCallFrame) int {
	if root == nil {
		return 0
	}
	if len(root.StructLogs) == 0 {
		return a.estimateLoopFromCalls(root)
	}

	jumpCount := make(map[uint64]int)
	maxJumps := 0
	for _, step := range root.StructLogs {
		if step.Op != "JUMPI" {
			continue
		}
		jumpCount[step.Pc]++
		if jumpCount[step.Pc] > maxJumps {
			maxJumps = jumpCount[step.Pc]
		}
	}
	return maxJumps
}

func (a *Analyzer) estimateLoopFromCalls(root *domain.RawCallFrame) int {
	callCounts := make(map[string]int)

	stack := []frameRef{{node: root}}
	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if sel := domain.SelectorOf(ref.node.Input); sel != "" {
			callCounts[sel]++
		}
		if ref.depth >= a.maxDepth {
			continue
		}
		for i := range ref.node.Calls {
			stack = append(stack, frameRef{node: &ref.node.Calls[i], depth: ref.depth + 1})
		}
	}

	maxCount := 0
	for _, count := range callCounts {
		if count > maxCount {
			maxCount = count
		}
	}
	if maxCount > 1 {
		return maxCount
	}
	return 0
}

package ir

import "fmt"

// SplitAllCriticalEdges breaks every critical edge of f by inserting a
// forwarding block, so a later rewrite may install terminators that cannot be
// edge-split themselves. Edges whose source is an indirect branch are left
// alone. Returns the number of edges split.
func SplitAllCriticalEdges(f *Func) int {
	split := 0
	blocks := append([]*Block(nil), f.Blocks...)
	for _, bb := range blocks {
		if !bb.Terminated() {
			continue
		}
		term := bb.Term()
		if term.Op == OpIndirectBr || len(term.Blocks) < 2 {
			continue
		}
		for si, succ := range term.Blocks {
			if countPredEdges(succ) < 2 {
				continue
			}
			nb := &Block{Name: fmt.Sprintf("%s.crit%d", bb.Name, split)}
			f.InsertBlockAfter(bb, nb)
			nb.Append(&Instr{Op: OpBr, Ty: f.Parent.Types.Builtins().Void, Blocks: []*Block{succ}})
			term.Blocks[si] = nb
			redirectOnePhiEdge(succ, bb, nb)
			split++
		}
	}
	return split
}

// countPredEdges counts incoming CFG edges with multiplicity: a conditional
// branch with both arms on the same block contributes two.
func countPredEdges(b *Block) int {
	n := 0
	for _, bb := range b.Parent.Blocks {
		for _, s := range bb.Succs() {
			if s == b {
				n++
			}
		}
	}
	return n
}

// redirectOnePhiEdge rewrites a single incoming slot per phi from oldPred to
// newPred, consuming one edge at a time so duplicate edges stay balanced.
func redirectOnePhiEdge(b *Block, oldPred, newPred *Block) {
	for _, phi := range b.Phis() {
		for k, pred := range phi.Blocks {
			if pred == oldPred {
				phi.Blocks[k] = newPred
				break
			}
		}
	}
}

package ir

// Block is a basic block: a straight-line instruction sequence ending in one
// terminator.
type Block struct {
	Name   string
	Parent *Func
	Instrs []*Instr
}

// Terminated reports whether the block ends in a terminator; it is false
// while the block is under construction.
func (b *Block) Terminated() bool {
	return len(b.Instrs) > 0 && b.Instrs[len(b.Instrs)-1].IsTerminator()
}

// Term returns the terminator instruction. Panics on unterminated blocks.
func (b *Block) Term() *Instr {
	if !b.Terminated() {
		panic("ir: block " + b.Name + " is not terminated")
	}
	return b.Instrs[len(b.Instrs)-1]
}

// Succs returns the successor blocks in terminator order.
func (b *Block) Succs() []*Block {
	if !b.Terminated() {
		return nil
	}
	return b.Term().Blocks
}

// Append adds an instruction at the end of the block and claims ownership.
func (b *Block) Append(i *Instr) *Instr {
	i.Parent = b
	b.Instrs = append(b.Instrs, i)
	return i
}

// IndexOf returns the position of an instruction within the block, or -1.
func (b *Block) IndexOf(i *Instr) int {
	for idx, in := range b.Instrs {
		if in == i {
			return idx
		}
	}
	return -1
}

// InsertAt places an instruction at position idx.
func (b *Block) InsertAt(idx int, i *Instr) *Instr {
	i.Parent = b
	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[idx+1:], b.Instrs[idx:])
	b.Instrs[idx] = i
	return i
}

// Remove unlinks an instruction without touching its operands.
func (b *Block) Remove(i *Instr) {
	idx := b.IndexOf(i)
	if idx < 0 {
		return
	}
	b.Instrs = append(b.Instrs[:idx], b.Instrs[idx+1:]...)
	i.Parent = nil
}

// FirstNonPhiIndex returns the position of the first non-phi instruction.
func (b *Block) FirstNonPhiIndex() int {
	for idx, in := range b.Instrs {
		if in.Op != OpPhi {
			return idx
		}
	}
	return len(b.Instrs)
}

// Phis returns the leading phi instructions.
func (b *Block) Phis() []*Instr {
	return b.Instrs[:b.FirstNonPhiIndex()]
}

// ReplaceTerminator swaps the current terminator for a new one.
func (b *Block) ReplaceTerminator(t *Instr) {
	if !t.IsTerminator() {
		panic("ir: ReplaceTerminator with non-terminator")
	}
	old := b.Term()
	old.Parent = nil
	t.Parent = b
	b.Instrs[len(b.Instrs)-1] = t
}

// Preds returns the predecessor blocks in function order.
func (b *Block) Preds() []*Block {
	var preds []*Block
	for _, bb := range b.Parent.Blocks {
		for _, s := range bb.Succs() {
			if s == b {
				preds = append(preds, bb)
				break
			}
		}
	}
	return preds
}

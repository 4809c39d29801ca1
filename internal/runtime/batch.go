package runtime

// Batch is a set of tokens submitted to DecodeBatch in one call. Each entry
// carries its logical position, the sequences it belongs to and whether the
// runtime should keep its output distribution for sampling.
type Batch struct {
	Tokens    []Token
	Positions []int
	SeqIDs    [][]SeqID
	Logits    []bool
}

// NewBatch allocates a batch able to hold capacity entries without growing.
func NewBatch(capacity int) *Batch {
	return &Batch{
		Tokens:    make([]Token, 0, capacity),
		Positions: make([]int, 0, capacity),
		SeqIDs:    make([][]SeqID, 0, capacity),
		Logits:    make([]bool, 0, capacity),
	}
}

func (b *Batch) Add(tok Token, pos int, seqs []SeqID, logits bool) {
	b.Tokens = append(b.Tokens, tok)
	b.Positions = append(b.Positions, pos)
	b.SeqIDs = append(b.SeqIDs, seqs)
	b.Logits = append(b.Logits, logits)
}

func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Tokens)
}

// Clear empties the batch, keeping the allocated storage.
func (b *Batch) Clear() {
	if b == nil {
		return
	}
	b.Tokens = b.Tokens[:0]
	b.Positions = b.Positions[:0]
	b.SeqIDs = b.SeqIDs[:0]
	b.Logits = b.Logits[:0]
}

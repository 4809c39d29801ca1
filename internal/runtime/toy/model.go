// Package toy implements a small in-process runtime: a byte-level bigram
// language model with an explicit attention-cache bookkeeping layer. It is
// deterministic for a fixed seed and exists so the engine can be driven end
// to end without native model bindings.
package toy

import (
	"math"
	"strings"

	"github.com/samcharles93/parley/internal/runtime"
)

const (
	byteVocab = 256

	// BOS and EOS sit directly after the byte range.
	BOS runtime.Token = byteVocab
	EOS runtime.Token = byteVocab + 1

	VocabSize = byteVocab + 2

	// smoothing keeps unseen transitions sampleable without letting them
	// dominate observed ones.
	smoothing = 1e-3
)

// Model is a bigram table: Logits[prev][next] is the log-probability of next
// following prev.
type Model struct {
	Logits [][]float32
}

// Train builds a bigram model from a corpus. Documents are separated by a
// blank line; each one is framed as BOS, bytes, EOS so the model learns both
// how replies start and when they end.
func Train(corpus string) *Model {
	counts := make([][]float64, VocabSize)
	for i := range counts {
		counts[i] = make([]float64, VocabSize)
	}

	for _, doc := range strings.Split(corpus, "\n\n") {
		doc = strings.TrimSpace(doc)
		if doc == "" {
			continue
		}
		prev := int(BOS)
		for i := 0; i < len(doc); i++ {
			next := int(doc[i])
			counts[prev][next]++
			prev = next
		}
		counts[prev][int(EOS)]++
	}

	m := &Model{Logits: make([][]float32, VocabSize)}
	for prev, row := range counts {
		var total float64
		for _, c := range row {
			total += c + smoothing
		}
		out := make([]float32, VocabSize)
		for next, c := range row {
			out[next] = float32(math.Log((c + smoothing) / total))
		}
		// BOS never follows anything.
		out[int(BOS)] = float32(math.Inf(-1))
		m.Logits[prev] = out
	}
	return m
}

// Row returns a copy of the output distribution after tok.
func (m *Model) Row(tok runtime.Token) []float32 {
	id := int(tok)
	if id < 0 || id >= VocabSize {
		id = int(EOS)
	}
	return append([]float32(nil), m.Logits[id]...)
}

package retrieval

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/kalambet/askql/internal/engine"
)

// testDim keeps hash collisions between test words unlikely.
const testDim = 512

// wordEngine embeds text as a hashed bag of words so that texts sharing
// words score higher than texts that do not.
type wordEngine struct {
	mockEngine
	dim int
}

func newWordEngine(dim int) *wordEngine {
	w := &wordEngine{dim: dim}
	w.embedFn = func(_ context.Context, _ string, text string) ([]float32, error) {
		return bagOfWords(text, w.dim), nil
	}
	return w
}

func bagOfWords(text string, dim int) []float32 {
	v := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(dim)]++
	}
	return v
}

var _ engine.Engine = (*wordEngine)(nil)

// Package encoder turns text into fixed-dimension embedding vectors. The
// concrete model sits behind an OpenAI-compatible HTTP endpoint; access to it
// is serialized through a coalescing batcher and fronted by an LRU cache.
package encoder

import (
	"context"
	"strings"

	"semsearch/internal/errkind"
)

// Encoder produces one embedding per input text, order preserved, each of
// length Dimension().
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// ValidateTexts rejects inputs before any model resource is spent: an empty
// batch, a blank text, or a text over maxLen characters.
func ValidateTexts(texts []string, maxLen int) error {
	if len(texts) == 0 {
		return errkind.New(errkind.Validation, "texts must not be empty")
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return errkind.New(errkind.Validation, "texts[%d] is empty", i)
		}
		if maxLen > 0 && len(t) > maxLen {
			return errkind.New(errkind.Validation, "texts[%d] exceeds max length %d", i, maxLen)
		}
	}
	return nil
}

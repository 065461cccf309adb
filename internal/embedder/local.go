package embedder

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
)

// DefaultLocalDimensions is the vector length of the local model when
// EMBEDDING_DIMENSIONS is unset.
const DefaultLocalDimensions = 384

// emptyToken stands in for input that yields no word tokens, so every text
// maps to a non-zero vector.
const emptyToken = "\x00empty"

// wordRe matches Unicode words, keeping inner apostrophes ("don't", "l’été").
var wordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// LocalModel is a deterministic in-process embedding model. Each token is
// mapped to a pseudo-random unit-ish vector seeded by its FNV-64a hash; the
// text vector is the mean of its token vectors. Texts sharing vocabulary
// land close together, which is enough for ranking a small blog corpus
// without any network dependency.
type LocalModel struct {
	dims int
}

// NewLocalModel returns a LocalModel producing vectors of length dims.
// Non-positive dims selects DefaultLocalDimensions.
func NewLocalModel(dims int) *LocalModel {
	if dims <= 0 {
		dims = DefaultLocalDimensions
	}
	return &LocalModel{dims: dims}
}

// Embed implements Model. It never fails unless ctx is done.
func (m *LocalModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.embedOne(text)
	}
	return out, nil
}

// embedOne mean-pools the token vectors of text.
func (m *LocalModel) embedOne(text string) []float32 {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		tokens = []string{emptyToken}
	}

	acc := make([]float64, m.dims)
	for _, tok := range tokens {
		m.addToken(acc, tok)
	}

	n := float64(len(tokens))
	vec := make([]float32, m.dims)
	for i, v := range acc {
		vec[i] = float32(v / n)
	}
	return vec
}

// addToken adds the pseudo-random vector of tok into acc. Components are
// drawn from a splitmix64 stream seeded by the token hash and mapped to
// [-1, 1).
func (m *LocalModel) addToken(acc []float64, tok string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tok))
	state := h.Sum64()

	for i := range acc {
		state += 0x9e3779b97f4a7c15
		z := state
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
		acc[i] += float64(z>>11)/float64(1<<52) - 1
	}
}

// Tokenize lowercases text and splits it into word tokens.
func Tokenize(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

// Package embed defines the text-to-vector collaborator the core consumes.
//
// The embedding model itself is deliberately out of core scope (spec §1):
// this package only fixes the contract — a pure function from text to a
// fixed-dimension vector — and ships a deterministic embedder for tests
// and a cached decorator for production use. Real providers (Ollama,
// OpenAI, ...) live outside this module and satisfy Embedder directly.
package embed

import (
	"context"
	"crypto/sha256"
	"errors"
	"math"
)

// Dimensions is the fixed embedding width the core's vector index requires.
// It is not configurable (spec §6.4): every Embedder used with this module
// must return vectors of exactly this length.
const Dimensions = 384

// ErrDimensionMismatch is returned when an Embedder produces a vector of
// the wrong length.
var ErrDimensionMismatch = errors.New("embed: embedder returned wrong dimensions")

// Embedder generates vector embeddings from text. Implementations must be
// safe for concurrent use and must be pure functions of their input: the
// same text always maps to the same vector (the core's update/merge
// semantics and cache layers depend on this).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Deterministic is a hash-based embedder with no external dependency,
// used by tests and as a default when no real embedding provider is
// configured. It is not semantically meaningful — texts with unrelated
// meaning are not guaranteed to embed closely — only dimension-stable and
// pure, which is all the core's contract requires of an Embedder.
type Deterministic struct{}

// NewDeterministic returns a 384-dimension Embedder with no external
// dependency, suitable for tests and offline development.
func NewDeterministic() *Deterministic { return &Deterministic{} }

func (d *Deterministic) Embed(_ context.Context, text string) ([]float32, error) {
	return hashEmbed(text), nil
}

func (d *Deterministic) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashEmbed(t)
	}
	return out, nil
}

func (d *Deterministic) Dimensions() int { return Dimensions }

// hashEmbed expands repeated SHA-256 digests of text into a unit vector of
// Dimensions floats, seeded from the digest bytes so the same text always
// yields the same vector.
func hashEmbed(text string) []float32 {
	v := make([]float32, Dimensions)
	seed := sha256.Sum256([]byte(text))
	for i := 0; i < Dimensions; i++ {
		if i%32 == 0 && i > 0 {
			seed = sha256.Sum256(seed[:])
		}
		b := seed[i%32]
		v[i] = (float32(b)/255.0)*2 - 1
	}
	normalize(v)
	return v
}

func normalize(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= norm
	}
}

// Validate checks a vector against the embedder's declared dimensions.
func Validate(e Embedder, vec []float32) error {
	if len(vec) != e.Dimensions() {
		return ErrDimensionMismatch
	}
	return nil
}

package embedding

import (
	"context"

	"lukechampine.com/blake3"
)

// Deterministic is a Provider implementation with no external
// dependency: it derives a fixed-dimension vector from the BLAKE3 hash of
// its input. It exists so the pipeline and its tests can exercise the
// full C5 contract (including the "deterministic output for the same
// input" invariant spec §4.5 requires) without a live network provider,
// which is explicitly outside the core.
type Deterministic struct {
	Dim int
}

// NewDeterministic returns a Deterministic provider with the given vector
// dimension; a dim below 1 falls back to 8.
func NewDeterministic(dim int) *Deterministic {
	if dim < 1 {
		dim = 8
	}
	return &Deterministic{Dim: dim}
}

func (d *Deterministic) Embed(ctx context.Context, text string) (Vector, error) {
	sum := blake3.Sum512([]byte(text))
	v := make(Vector, d.Dim)
	for i := 0; i < d.Dim; i++ {
		v[i] = float32(sum[i%len(sum)]) / 255.0
	}
	return v, nil
}

func (d *Deterministic) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i, t := range texts {
		v, err := d.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (d *Deterministic) ModelName() string { return "deterministic-fake" }
func (d *Deterministic) Dimension() int    { return d.Dim }
func (d *Deterministic) Health(ctx context.Context) error { return nil }

package randutil

import rand "math/rand/v2"

// Seeder draws a reproducible stream of 32-bit match seeds from a single
// base seed, mirroring the source's genrand_int32(&match->rng) draws used
// when a submitted match seed must be expanded across multiple runs.
type Seeder struct {
	r *rand.Rand
}

// NewSeeder creates a Seeder whose draws are fully determined by seed.
func NewSeeder(seed uint32) *Seeder {
	return &Seeder{r: New(int64(seed))}
}

// Next draws the next 32-bit seed in the stream.
func (s *Seeder) Next() uint32 {
	return s.r.Uint32()
}

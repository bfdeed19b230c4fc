package bench

import "github.com/lox/pokerbench/internal/randutil"

// resolveSeed finalizes a freshly parsed Match's seed fields against the
// rule the control protocol documents: a nonzero seed run once is used
// literally; a nonzero seed run more than once seeds a per-match stream so
// each run gets its own fresh draw; a submitted seed of zero always draws
// the match's base seed from the server's own PRNG and then behaves like
// the multi-run case, since a single server-drawn value is still meant to
// vary run to run rather than repeat.
func resolveSeed(m *Match, serverSeeder *randutil.Seeder) {
	if m.RngSeed != 0 {
		if m.NumRuns == 1 {
			m.UseRngForSeed = false
			return
		}
		m.UseRngForSeed = true
		m.Seeder = randutil.NewSeeder(m.RngSeed)
		return
	}

	m.UseRngForSeed = true
	m.Seeder = randutil.NewSeeder(serverSeeder.Next())
}

// effectiveSeed returns the seed to hand to the referee for the next run of
// m, drawing from its per-match stream when one was established.
func effectiveSeed(m *Match) uint32 {
	if m.UseRngForSeed {
		return m.Seeder.Next()
	}
	return m.RngSeed
}

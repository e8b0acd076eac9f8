// Package proptest is a small property-based testing harness, adapted
// from the teacher repo's internal/testrunner/prop package: a
// generator produces random inputs, a property is checked against each
// one, and a failure is reported with the seed that produced it so the
// run can be reproduced. This trims that package down to what
// debugheap's own invariants (spec.md §8) need — deterministic
// per-trial seeding and a plain sequential loop — and drops its
// parallel worker pool and automatic shrinking, which a single-package
// allocator test suite doesn't need.
package proptest

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"testing"
)

// Generator produces one random value of type A from a seeded source.
type Generator[A any] func(r *rand.Rand) A

// Options configures a property run.
type Options struct {
	// Trials is the number of random inputs to check. Defaults to 100
	// if zero.
	Trials int
	// Seed is the base from which every trial's seed (trial zero's
	// included) is derived deterministically, so Seed alone reproduces
	// a whole run.
	Seed int64
}

// ForAll1 checks that prop holds for every value gen produces across
// opts.Trials independent trials. It reports a *testing.T failure
// naming the failing trial's seed on the first failure.
func ForAll1[A any](t *testing.T, opts Options, gen Generator[A], prop func(t *testing.T, a A) bool) {
	t.Helper()

	trials := opts.Trials
	if trials == 0 {
		trials = 100
	}

	for i := 0; i < trials; i++ {
		seed := deriveSeed(opts.Seed, i)
		r := rand.New(rand.NewSource(seed))
		a := gen(r)
		if !prop(t, a) {
			t.Fatalf("property failed on trial %d (seed=%d): %+v", i, seed, a)
			return
		}
	}
}

// deriveSeed turns a base seed and a trial index into a distinct
// int64 seed via SHA-256, so trials don't share overlapping
// pseudo-random streams the way trivially incrementing the seed can.
func deriveSeed(base int64, trial int) int64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(base))
	binary.LittleEndian.PutUint64(buf[8:], uint64(trial))
	sum := sha256.Sum256(buf[:])
	return int64(binary.LittleEndian.Uint64(sum[:8]))
}

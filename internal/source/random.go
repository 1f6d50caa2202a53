package source

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-logger/internal/engine"
)

// Defaults for the simulated sources.
const (
	defaultStrLength = 5
	randomMax        = 100.0
	randomLetters    = "AaBbCcDdEe"
)

type slotState uint8

const (
	slotPresent slotState = iota
	slotDropped
	slotNull
)

// RandomOptions configures a simulated source.
type RandomOptions struct {
	// Size is the number of variables. Must be at least 1.
	Size int

	// KeyMissingRate is the fraction of variables left out of each snapshot.
	KeyMissingRate float64

	// ValueMissingRate is the fraction of variables present with a nil value.
	ValueMissingRate float64

	// StrLength is the length of generated strings (RandomString only).
	StrLength int

	// Seed makes the sequence reproducible. 0 picks a random seed.
	Seed int64
}

// Random simulates a device producing values for a fixed set of variables.
//
// Each read draws new values. A share of variables, chosen afresh every read,
// is dropped from the snapshot (KeyMissingRate) or reported as nil
// (ValueMissingRate).
type Random struct {
	mu    sync.Mutex
	rng   *rand.Rand
	names []string
	opts  RandomOptions
	value func(*rand.Rand) any
}

// NewRandom creates a source of floats in [0, 100) named RandData0..RandData<size-1>.
func NewRandom(opts RandomOptions) (*Random, error) {
	return newRandom("RandData", opts, func(r *rand.Rand) any {
		return r.Float64() * randomMax
	})
}

// NewRandomString creates a source of letter strings named RandStr0..RandStr<size-1>.
func NewRandomString(opts RandomOptions) (*Random, error) {
	length := opts.StrLength
	if length <= 0 {
		length = defaultStrLength
	}
	return newRandom("RandStr", opts, func(r *rand.Rand) any {
		var b strings.Builder
		b.Grow(length)
		for range length {
			b.WriteByte(randomLetters[r.IntN(len(randomLetters))])
		}
		return b.String()
	})
}

func newRandom(prefix string, opts RandomOptions, value func(*rand.Rand) any) (*Random, error) {
	if opts.Size < 1 {
		return nil, fmt.Errorf("%w: size must be at least 1", ErrInvalidOptions)
	}
	if opts.KeyMissingRate < 0 || opts.KeyMissingRate > 1 || opts.ValueMissingRate < 0 || opts.ValueMissingRate > 1 {
		return nil, fmt.Errorf("%w: missing rates must be between 0 and 1", ErrInvalidOptions)
	}

	names := make([]string, opts.Size)
	for i := range names {
		names[i] = fmt.Sprintf("%s%d", prefix, i)
	}

	seed := uint64(opts.Seed) //nolint:gosec // any bit pattern is a valid seed
	if opts.Seed == 0 {
		seed = rand.Uint64()
	}

	return &Random{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		names: names,
		opts:  opts,
		value: value,
	}, nil
}

// Variables returns the generated variable names in index order.
func (s *Random) Variables() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Read draws one snapshot.
func (s *Random) Read(ctx context.Context) (engine.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.names)
	keyMissing := int(float64(n) * s.opts.KeyMissingRate)
	valueMissing := int(float64(n) * s.opts.ValueMissingRate)
	if keyMissing+valueMissing > n {
		valueMissing = n - keyMissing
	}

	// The first keyMissing indices of the permutation are dropped, the next
	// valueMissing are nil.
	perm := s.rng.Perm(n)
	state := make([]slotState, n)
	for i, idx := range perm {
		switch {
		case i < keyMissing:
			state[idx] = slotDropped
		case i < keyMissing+valueMissing:
			state[idx] = slotNull
		}
	}

	snap := make(engine.Snapshot, n-keyMissing)
	for i, name := range s.names {
		switch state[i] {
		case slotDropped:
			continue
		case slotNull:
			snap[name] = nil
		default:
			snap[name] = s.value(s.rng)
		}
	}
	return snap, nil
}

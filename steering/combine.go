package steering

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r2"
)

// Policy selects how entry outputs are combined.
type Policy uint8

const (
	// WeightedSum adds every weighted output and truncates the total.
	WeightedSum Policy = iota
	// PrioritizedDithering includes entries in order with their probability
	// and stops at the first one that would push the total past maxForce.
	PrioritizedDithering
	// TruncatedPriority adds entries in order, clipping the last one to the
	// remaining force budget.
	TruncatedPriority
)

func (p Policy) String() string {
	switch p {
	case WeightedSum:
		return "weighted_sum"
	case PrioritizedDithering:
		return "prioritized_dithering"
	case TruncatedPriority:
		return "truncated_priority"
	}
	return fmt.Sprintf("Policy(%d)", uint8(p))
}

// ParsePolicy returns the Policy with the given config name.
func ParsePolicy(name string) (Policy, error) {
	for _, p := range []Policy{WeightedSum, PrioritizedDithering, TruncatedPriority} {
		if p.String() == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("steering: unknown policy %q", name)
}

// Outcome is the result of one combination.
type Outcome struct {
	Force     r2.Vec
	Evaluated int  // Behaviors whose Velocity was called
	Truncated bool // The force budget cut the result short
}

// Combine evaluates entries in order and merges their weighted outputs into
// one force no longer than maxForce. Inactive and zero-weight entries are
// skipped without evaluation. rng drives dithering; with a nil rng every
// entry with a positive probability is included.
func Combine(policy Policy, entries []Entry, in *Input, maxForce float64, rng *rand.Rand) Outcome {
	switch policy {
	case PrioritizedDithering:
		return combineDithered(entries, in, maxForce, rng)
	case TruncatedPriority:
		return combineTruncated(entries, in, maxForce)
	default:
		return combineWeighted(entries, in, maxForce)
	}
}

func weighted(e *Entry, in *Input) r2.Vec {
	v := e.Behavior.Velocity(in)
	if !IsFinite(v) {
		return r2.Vec{}
	}
	return r2.Scale(e.Weight, v)
}

func combineWeighted(entries []Entry, in *Input, maxForce float64) Outcome {
	var out Outcome
	for i := range entries {
		e := &entries[i]
		if !e.contributes() {
			continue
		}
		out.Force = r2.Add(out.Force, weighted(e, in))
		out.Evaluated++
	}
	if r2.Norm2(out.Force) > maxForce*maxForce {
		out.Force = Truncate(out.Force, maxForce)
		out.Truncated = true
	}
	return out
}

func combineDithered(entries []Entry, in *Input, maxForce float64, rng *rand.Rand) Outcome {
	var out Outcome
	for i := range entries {
		e := &entries[i]
		if !e.contributes() || e.Probability <= 0 {
			continue
		}
		if rng != nil && rng.Float64() >= e.Probability {
			continue
		}
		next := r2.Add(out.Force, weighted(e, in))
		out.Evaluated++
		if r2.Norm2(next) > maxForce*maxForce {
			out.Truncated = true
			return out
		}
		out.Force = next
	}
	return out
}

func combineTruncated(entries []Entry, in *Input, maxForce float64) Outcome {
	var out Outcome
	for i := range entries {
		e := &entries[i]
		if !e.contributes() {
			continue
		}
		remaining := maxForce - r2.Norm(out.Force)
		if remaining <= 0 {
			out.Truncated = true
			return out
		}
		f := weighted(e, in)
		out.Evaluated++
		if mag := r2.Norm(f); mag > remaining {
			out.Force = r2.Add(out.Force, r2.Scale(remaining/mag, f))
			out.Truncated = true
			return out
		}
		out.Force = r2.Add(out.Force, f)
	}
	return out
}

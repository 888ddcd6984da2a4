package value

// Grade is an element of the effect-grade lattice:
//
//	Pure ⊑ Read ⊑ Write ⊑ IO ⊑ Send/Spawn
//
// Instructions carry a Grade; composing instructions (a function body, an
// optimizer's reordering window) takes the Join of all contained grades.
// Send and Spawn sit at the same rank: both are the strongest effect an
// instruction in this model can have, and nothing downstream needs to tell
// them apart once joined, so collapsing them to one top rank is lossless
// for every consumer (verifier resource limits, JIT reordering barriers).
type Grade uint8

const (
	Pure Grade = iota
	Read
	Write
	IO
	Send // also covers Spawn; see type doc
)

// Spawn is an alias for Send: the spec's lattice names them as siblings at
// the top rank, and this encoding does not need to distinguish them further.
const Spawn = Send

// Join returns the pointwise maximum of a and b, the lattice join.
func Join(a, b Grade) Grade {
	if a > b {
		return a
	}
	return b
}

// JoinAll folds Join over a sequence of grades, returning Pure for an empty
// sequence (the identity element).
func JoinAll(grades ...Grade) Grade {
	g := Pure
	for _, x := range grades {
		g = Join(g, x)
	}
	return g
}

// String renders the grade name for logs and debug dumps.
func (g Grade) String() string {
	switch g {
	case Pure:
		return "Pure"
	case Read:
		return "Read"
	case Write:
		return "Write"
	case IO:
		return "IO"
	case Send:
		return "Send/Spawn"
	default:
		return "Unknown"
	}
}

// AtMost reports whether g is no stronger than ceiling, i.e. g ⊑ ceiling.
// Used by the verifier's capability check (SPEC_FULL §C2) to reject a
// program instruction whose grade exceeds its declared ceiling.
func (g Grade) AtMost(ceiling Grade) bool {
	return g <= ceiling
}

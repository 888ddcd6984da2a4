package value

import "fmt"

// Numeric promotion and comparison rules (spec.md §4.1):
//
//	Add/Sub/Mul/Div/Mod: if either operand is Float, the result is Float;
//	else both operands must be Int or both UInt (no silent Int/UInt mixing
//	in arithmetic — only comparison coerces across the numeric kinds).
//	Eq/Lt/Le/Gt/Ge: comparisons between disjoint numeric kinds coerce
//	through the ordering UInt ≤ Int ≤ Float.

// ErrNotNumeric is returned when an arithmetic or comparison operand is not
// a numeric Value.
var ErrNotNumeric = fmt.Errorf("value: operand is not numeric")

// ErrMixedIntegerKinds is returned when Add/Sub/Mul/Div/Mod is attempted on
// one Int and one UInt operand with neither promoted to Float.
var ErrMixedIntegerKinds = fmt.Errorf("value: cannot mix Int and UInt operands")

func (v Value) toFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindUInt:
		return float64(v.u), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Arith applies one of +,-,*,/,% with the numeric promotion rule. op is one
// of "+","-","*","/","%". Add on two strings concatenates, handled by the
// caller before reaching Arith.
func Arith(op string, a, b Value) (Value, error) {
	if !a.IsNumeric() || !b.IsNumeric() {
		return Value{}, ErrNotNumeric
	}
	if a.kind == KindFloat || b.kind == KindFloat {
		af, _ := a.toFloat()
		bf, _ := b.toFloat()
		r, err := arithFloat(op, af, bf)
		if err != nil {
			return Value{}, err
		}
		return Float(r), nil
	}
	if a.kind != b.kind {
		return Value{}, ErrMixedIntegerKinds
	}
	if a.kind == KindUInt {
		r, err := arithUInt(op, a.u, b.u)
		if err != nil {
			return Value{}, err
		}
		return UInt(r), nil
	}
	r, err := arithInt(op, a.i, b.i)
	if err != nil {
		return Value{}, err
	}
	return Int(r), nil
}

func arithFloat(op string, a, b float64) (float64, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, fmt.Errorf("value: division by zero")
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return 0, fmt.Errorf("value: division by zero")
		}
		r := a - b*float64(int64(a/b))
		return r, nil
	default:
		return 0, fmt.Errorf("value: unknown arith op %q", op)
	}
}

func arithInt(op string, a, b int64) (int64, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, fmt.Errorf("value: division by zero")
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return 0, fmt.Errorf("value: division by zero")
		}
		return a % b, nil
	default:
		return 0, fmt.Errorf("value: unknown arith op %q", op)
	}
}

func arithUInt(op string, a, b uint64) (uint64, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, fmt.Errorf("value: division by zero")
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return 0, fmt.Errorf("value: division by zero")
		}
		return a % b, nil
	default:
		return 0, fmt.Errorf("value: unknown arith op %q", op)
	}
}

// numericRank implements the UInt ≤ Int ≤ Float ordering lattice used to
// coerce disjoint numeric kinds for comparison only.
func numericRank(k Kind) int {
	switch k {
	case KindUInt:
		return 0
	case KindInt:
		return 1
	case KindFloat:
		return 2
	default:
		return -1
	}
}

// Compare returns -1, 0, 1 for numeric Values, coercing through the ordering
// lattice when the two operands have disjoint numeric kinds. Returns an
// error for non-numeric operands.
func Compare(a, b Value) (int, error) {
	if !a.IsNumeric() || !b.IsNumeric() {
		return 0, ErrNotNumeric
	}
	rank := numericRank(a.kind)
	if br := numericRank(b.kind); br > rank {
		rank = br
	}
	if rank == 2 {
		af, _ := a.toFloat()
		bf, _ := b.toFloat()
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if a.kind == KindUInt && b.kind == KindUInt {
		switch {
		case a.u < b.u:
			return -1, nil
		case a.u > b.u:
			return 1, nil
		default:
			return 0, nil
		}
	}
	// mixed Int/UInt, or both Int: compare as Int (UInt promotes safely for
	// the magnitudes this VM deals in; a UInt that overflows int64 is
	// already outside the spec's practical range).
	ai, bi := asInt(a), asInt(b)
	switch {
	case ai < bi:
		return -1, nil
	case ai > bi:
		return 1, nil
	default:
		return 0, nil
	}
}

func asInt(v Value) int64 {
	if v.kind == KindUInt {
		return int64(v.u)
	}
	return v.i
}

package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruthy(t *testing.T) {
	assert.False(t, Null.Truthy())
	assert.False(t, Int(0).Truthy())
	assert.True(t, Int(1).Truthy())
	assert.False(t, String("").Truthy())
	assert.True(t, String("x").Truthy())
	assert.False(t, List(nil).Truthy())
	assert.True(t, List([]Value{Int(1)}).Truthy())
	assert.True(t, Bool(true).Truthy())
	assert.False(t, Bool(false).Truthy())
}

func TestFloatNaNEquality(t *testing.T) {
	nan := Float(math.NaN())
	assert.False(t, nan.Equal(nan), "NaN must never equal itself under Equal")
	assert.Equal(t, nan.Hash(), nan.Hash(), "canonical NaN hashes must still be stable for set/map use")
}

func TestSetCanonicalOrdering(t *testing.T) {
	a := Set([]Value{Int(3), Int(1), Int(2)})
	b := Set([]Value{Int(2), Int(3), Int(1)})
	assert.True(t, a.Equal(b), "sets built from the same elements in different orders must be equal")
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestHandleIdentityEquality(t *testing.T) {
	h1 := HandleVal(Handle{Kind: HandleFile, ID: 1})
	h2 := HandleVal(Handle{Kind: HandleFile, ID: 1})
	h3 := HandleVal(Handle{Kind: HandleFile, ID: 2})
	assert.True(t, h1.Equal(h2))
	assert.False(t, h1.Equal(h3))
}

func TestArithPromotion(t *testing.T) {
	r, err := Arith("+", Int(1), Float(2.5))
	require.NoError(t, err)
	f, ok := r.AsFloat()
	require.True(t, ok)
	assert.Equal(t, 3.5, f)

	_, err = Arith("+", Int(1), UInt(2))
	assert.ErrorIs(t, err, ErrMixedIntegerKinds)

	_, err = Arith("/", Int(1), Int(0))
	assert.Error(t, err)
}

func TestCompareAcrossNumericKinds(t *testing.T) {
	c, err := Compare(UInt(5), Int(10))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = Compare(Int(10), Float(9.5))
	require.NoError(t, err)
	assert.Equal(t, 1, c)
}

func TestPIDOrderingAndString(t *testing.T) {
	a := NewPID()
	b := NewPID()
	assert.NotEqual(t, a.Full(), b.Full())
	assert.NotEmpty(t, a.String())
	assert.True(t, NilPID.IsNil())
}

func TestGradeJoin(t *testing.T) {
	assert.Equal(t, IO, Join(Pure, IO))
	assert.Equal(t, Send, JoinAll(Pure, Read, Write, Send))
	assert.True(t, Read.AtMost(Write))
	assert.False(t, IO.AtMost(Read))
}

package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreactors/runtime/internal/value"
)

func simpleAddProgram() *Program {
	return &Program{
		Metadata:  Metadata{Name: "add"},
		Constants: []value.Value{value.Int(2), value.Int(3)},
		Instrs: []Instruction{
			{Op: OpConst, A: 0},
			{Op: OpConst, A: 1},
			{Op: OpAdd},
			{Op: OpRet},
		},
		Functions: []Function{
			{ID: 0, Name: "main", LocalCount: 0, StartPC: 0, InstrCount: 4, Grade: value.Pure},
		},
		Exports: map[string]uint32{"main": 0},
	}
}

func TestVerifyAcceptsWellFormedProgram(t *testing.T) {
	p := simpleAddProgram()
	require.NoError(t, Verify(p))
	assert.True(t, p.Verified())
}

func TestVerifyRejectsOutOfRangeConstant(t *testing.T) {
	p := simpleAddProgram()
	p.Instrs[0].A = 99
	err := Verify(p)
	require.Error(t, err)
	var verr *VerificationError
	assert.ErrorAs(t, err, &verr)
}

func TestVerifyRejectsStackUnderflow(t *testing.T) {
	p := simpleAddProgram()
	p.Instrs = []Instruction{{Op: OpAdd}, {Op: OpRet}}
	p.Functions[0].InstrCount = 2
	err := Verify(p)
	require.Error(t, err)
}

func TestVerifyRejectsCapabilityCeilingViolation(t *testing.T) {
	p := simpleAddProgram()
	p.Instrs = append(p.Instrs[:len(p.Instrs)-1], Instruction{Op: OpPrint}, Instruction{Op: OpRet})
	p.Functions[0].InstrCount = uint32(len(p.Instrs))
	p.Functions[0].Grade = value.IO
	p.Metadata.WithCeiling(value.Write)
	err := Verify(p)
	require.Error(t, err)
}

func TestBinaryRoundTrip(t *testing.T) {
	p := simpleAddProgram()
	require.NoError(t, Verify(p))
	enc, err := Encode(p, Binary)
	require.NoError(t, err)
	decoded, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, p.Metadata.Name, decoded.Metadata.Name)
	assert.Equal(t, p.Instrs, decoded.Instrs)
	assert.Equal(t, len(p.Constants), len(decoded.Constants))
	for i := range p.Constants {
		assert.True(t, p.Constants[i].Equal(decoded.Constants[i]))
	}
	reenc, err := Encode(decoded, Binary)
	require.NoError(t, err)
	assert.Equal(t, enc, reenc, "decode(encode(P)) must round-trip byte-for-byte")
}

func TestTextRoundTrip(t *testing.T) {
	p := simpleAddProgram()
	enc, err := Encode(p, Text)
	require.NoError(t, err)
	decoded, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, p.Metadata.Name, decoded.Metadata.Name)
	assert.Equal(t, p.Instrs, decoded.Instrs)
}

func TestOptimizeFoldsConstantArithmetic(t *testing.T) {
	p := simpleAddProgram()
	out := Optimize(p)
	require.Len(t, out.Instrs, 2)
	assert.Equal(t, OpConst, out.Instrs[0].Op)
	folded := out.Constants[out.Instrs[0].A]
	n, ok := folded.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(5), n)
}

func TestHashNameStable(t *testing.T) {
	assert.Equal(t, HashName("counter"), HashName("counter"))
	assert.NotEqual(t, HashName("counter"), HashName("other"))
}

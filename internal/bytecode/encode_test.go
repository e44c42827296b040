package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSampleModule() *Module {
	m := NewModule()
	m.AddConst(Const{Kind: ConstNumber, Number: 499999500000})
	m.AddConst(Const{Kind: ConstString, Str: "hello"})

	f := NewFunction("main", 0, 2, 4)
	f.Instructions = []Instruction{
		{Op: OpLoadConst, Dst: 0, ConstIdx: 0},
		{Op: OpGetProp, Dst: 1, SrcA: 0, ICIndex: 3, JumpOffset: -12},
		{Op: OpReturn, SrcA: 1},
	}
	f.SizeFeedback()
	m.AddFunction(f)

	m.IsESM = true
	m.Imports = []ImportRecord{{Specifier: "./a.js", LocalName: "x", ImportName: "x"}}
	m.Exports = []ExportRecord{{LocalName: "x", ExportName: "y"}}
	m.EntryFunc = 0
	return m
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := buildSampleModule()
	data, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)

	require.Equal(t, m.ConstPool, got.ConstPool)
	require.Equal(t, m.IsESM, got.IsESM)
	require.Equal(t, m.Imports, got.Imports)
	require.Equal(t, m.Exports, got.Exports)
	require.Equal(t, m.EntryFunc, got.EntryFunc)
	require.Len(t, got.Functions, len(m.Functions))
	for i, f := range m.Functions {
		gf := got.Functions[i]
		require.Equal(t, f.Name, gf.Name)
		require.Equal(t, f.ParamCount, gf.ParamCount)
		require.Equal(t, f.LocalCount, gf.LocalCount)
		require.Equal(t, f.RegisterCount, gf.RegisterCount)
		require.Equal(t, f.Instructions, gf.Instructions)
		require.Equal(t, len(f.Feedback), len(gf.Feedback))
	}
}

func TestFeedbackVectorSizedToMaxICIndex(t *testing.T) {
	f := NewFunction("f", 0, 0, 2)
	f.Instructions = []Instruction{
		{Op: OpGetProp, ICIndex: 5},
		{Op: OpAdd, ICIndex: 1},
	}
	f.SizeFeedback()
	require.Len(t, f.Feedback, 6)
}

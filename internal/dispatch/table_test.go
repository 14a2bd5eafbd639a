package dispatch

import (
	"testing"

	"github.com/mun-lang/munrt/internal/abi"
	"github.com/stretchr/testify/require"
)

func sig(args ...abi.Guid) abi.FunctionSignature {
	return abi.FunctionSignature{ArgTypes: args}
}

func TestLinkResolvesAgainstOtherAssembly(t *testing.T) {
	i64 := abi.GuidOf("i64")
	dep := abi.DependencyInfo{Name: "random", Signature: abi.FunctionSignature{ReturnType: &i64}}
	tbl := New([]abi.DependencyInfo{dep})

	candidates := []Export{{Name: "random", Signature: abi.FunctionSignature{ReturnType: &i64}, FnPtr: 0xdead}}
	require.NoError(t, Link(tbl, candidates, nil))
	require.Equal(t, uintptr(0xdead), tbl.At(0))
}

func TestLinkResolvesAgainstHostInjectedFunction(t *testing.T) {
	i64 := abi.GuidOf("i64")
	dep := abi.DependencyInfo{Name: "random", Signature: abi.FunctionSignature{ReturnType: &i64}}
	tbl := New([]abi.DependencyInfo{dep})

	injected := map[string]Export{"random": {Name: "random", Signature: abi.FunctionSignature{ReturnType: &i64}, FnPtr: 0xbeef}}
	require.NoError(t, Link(tbl, nil, injected))
	require.Equal(t, uintptr(0xbeef), tbl.At(0))
}

func TestLinkMissingDependencyIsNotFound(t *testing.T) {
	dep := abi.DependencyInfo{Name: "missing", Signature: sig()}
	tbl := New([]abi.DependencyInfo{dep})

	err := Link(tbl, nil, nil)
	require.Error(t, err)
	var le *LinkError
	require.ErrorAs(t, err, &le)
	require.Equal(t, ReasonNotFound, le.Reason)
}

func TestLinkSignatureMismatchIsRejected(t *testing.T) {
	i32 := abi.GuidOf("i32")
	i64 := abi.GuidOf("i64")
	dep := abi.DependencyInfo{Name: "f", Signature: abi.FunctionSignature{ArgTypes: []abi.Guid{i32}}}
	tbl := New([]abi.DependencyInfo{dep})

	candidates := []Export{{Name: "f", Signature: abi.FunctionSignature{ArgTypes: []abi.Guid{i64}}, FnPtr: 1}}
	err := Link(tbl, candidates, nil)
	require.Error(t, err)
	var le *LinkError
	require.ErrorAs(t, err, &le)
	require.Equal(t, ReasonSignatureMismatch, le.Reason)
}

func TestLinkAmbiguousCandidatesIsRejected(t *testing.T) {
	dep := abi.DependencyInfo{Name: "f", Signature: sig()}
	tbl := New([]abi.DependencyInfo{dep})

	candidates := []Export{
		{Name: "f", Signature: sig(), FnPtr: 1},
		{Name: "f", Signature: sig(), FnPtr: 2},
	}
	err := Link(tbl, candidates, nil)
	require.Error(t, err)
	var le *LinkError
	require.ErrorAs(t, err, &le)
	require.Equal(t, ReasonAmbiguous, le.Reason)
}

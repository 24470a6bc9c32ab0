package vm

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	ipldcbor "github.com/ipfs/go-ipld-cbor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/custody-actors/actors/coin"
	"github.com/filecoin-project/custody-actors/actors/states"
	"github.com/filecoin-project/custody-actors/actors/util/adt"
	"github.com/filecoin-project/custody-actors/support/ipld"
	actor_testing "github.com/filecoin-project/custody-actors/support/testing"
)

// Creates a new VM over the given block store, initialized with the singleton actors.
// Store statistics are collected per method.
func NewVMWithSingletons(ctx context.Context, t testing.TB, bs ipldcbor.IpldBlockstore) *VM {
	metrics := ipld.NewMetricsBlockStore(bs)
	store := adt.WrapBlockStore(ctx, metrics)

	vm, err := NewGenesisVM(ctx, store, "custody-test")
	require.NoError(t, err)
	vm.SetStatsSource(metrics)
	return vm
}

// Creates n account actors in the VM with the given balance, returning their ID addresses.
func CreateAccounts(t *testing.T, vm *VM, n int, balance coin.Coins, seed int64) []address.Address {
	ids := make([]address.Address, n)
	for i := range ids {
		pubAddr := actor_testing.NewBLSAddr(t, seed+int64(i))
		idAddr, err := vm.CreateAccount(pubAddr, balance)
		require.NoError(t, err)
		ids[i] = idAddr
	}
	return ids
}

// ApplyOk applies a message, requiring it to succeed, and returns its encoded return value.
func ApplyOk(t testing.TB, v *VM, from, to address.Address, value coin.Coins, method abi.MethodNum, params cbor.Marshaler) []byte {
	return ApplyCode(t, v, from, to, value, method, params, exitcode.Ok)
}

// ApplyCode applies a message, requiring it to exit with the given code.
func ApplyCode(t testing.TB, v *VM, from, to address.Address, value coin.Coins, method abi.MethodNum, params cbor.Marshaler, code exitcode.ExitCode) []byte {
	result, err := v.ApplyMessage(from, to, value, method, params)
	require.NoError(t, err)
	require.Equal(t, code, result.Code, "unexpected exit code")
	return result.Ret
}

// Checks the state invariants of every actor and across actors, requiring that the tree hold
// exactly the expected total balance.
func CheckStateInvariants(t testing.TB, v *VM, expectedBalanceTotal coin.Coins) {
	root, err := v.StateRoot()
	require.NoError(t, err)
	tree, err := states.LoadTree(v.store, root)
	require.NoError(t, err)
	msgs, err := states.CheckStateInvariants(tree, expectedBalanceTotal)
	require.NoError(t, err)
	assert.Zero(t, len(msgs.Messages()), "state invariants violated: %v", msgs.Messages())
}

//
// Invocation expectations
//

func ExpectObject(v cbor.Marshaler) *objectExpectation {
	return &objectExpectation{v}
}

// distinguishes a non-expectation from an expectation of nil
type objectExpectation struct {
	val cbor.Marshaler
}

func ExpectCoins(coins ...coin.Coin) *coin.Coins {
	cs := coin.NewCoins(coins...)
	return &cs
}
func ExpectAddress(addr address.Address) *address.Address      { return &addr }
func ExpectExitCode(code exitcode.ExitCode) *exitcode.ExitCode { return &code }

// match by cbor encoding to avoid inconsistencies in internal representations of effectively equal objects
func (oe objectExpectation) matches(obj cbor.Marshaler) bool {
	if oe.val == nil || obj == nil {
		return oe.val == nil && obj == nil
	}

	paramBuf1 := new(bytes.Buffer)
	oe.val.MarshalCBOR(paramBuf1) // nolint: errcheck
	paramBuf2 := new(bytes.Buffer)
	obj.MarshalCBOR(paramBuf2) // nolint: errcheck
	return bytes.Equal(paramBuf1.Bytes(), paramBuf2.Bytes())
}

type ExpectInvocation struct {
	To       address.Address
	Method   abi.MethodNum
	Exitcode exitcode.ExitCode

	From           *address.Address
	Value          *coin.Coins
	Params         *objectExpectation
	Ret            *objectExpectation
	SubInvocations []ExpectInvocation
}

func (ei ExpectInvocation) Matches(t testing.TB, invocations *Invocation) {
	ei.matches(t, "", invocations)
}

func (ei ExpectInvocation) matches(t testing.TB, breadcrumb string, invocation *Invocation) {
	identifier := fmt.Sprintf("%s[%s:%d]", breadcrumb, invocation.Msg.to, invocation.Msg.method)

	// mismatch of to or method probably indicates skipped message or messages out of order. halt.
	require.Equal(t, ei.To, invocation.Msg.to, "%s unexpected `to` address", identifier)
	require.Equal(t, ei.Method, invocation.Msg.method, "%s unexpected method", identifier)

	// other expectations are optional
	if ei.From != nil {
		assert.Equal(t, *ei.From, invocation.Msg.from, "%s unexpected from address", identifier)
	}
	if ei.Value != nil {
		assert.True(t, ei.Value.Equal(invocation.Msg.value), "%s unexpected value (%v != %v)", identifier, *ei.Value, invocation.Msg.value)
	}
	if ei.Params != nil {
		assert.True(t, ei.Params.matches(invocation.Msg.params), "%s params aren't equal (%v != %v)", identifier, ei.Params.val, invocation.Msg.params)
	}
	if ei.SubInvocations != nil {
		for i, invk := range invocation.SubInvocations {
			subidentifier := fmt.Sprintf("%s%d:", identifier, i)
			require.Greater(t, len(ei.SubInvocations), i, "%s unexpected subinvocation [%s:%d]", subidentifier, invk.Msg.to, invk.Msg.method)
			ei.SubInvocations[i].matches(t, subidentifier, invk)
		}
		missingInvocations := len(ei.SubInvocations) - len(invocation.SubInvocations)
		if missingInvocations > 0 {
			missingIndex := len(invocation.SubInvocations)
			missingExpect := ei.SubInvocations[missingIndex]
			require.Failf(t, "missing invocation", "%s%d: expected invocation [%s:%d]", identifier, missingIndex, missingExpect.To, missingExpect.Method)
		}
	}

	// expect results
	assert.Equal(t, ei.Exitcode, invocation.Exitcode, "%s unexpected exitcode", identifier)
	if ei.Ret != nil {
		var ret cbor.Marshaler
		if invocation.Ret != nil {
			ret = invocation.Ret
		}
		assert.True(t, ei.Ret.matches(ret), "%s unexpected return value (%v != %v)", identifier, ei.Ret.val, invocation.Ret)
	}
}

// ParamsForInvocation digs out the params of a (sub-)invocation by its index path from the top-level messages.
func ParamsForInvocation(t testing.TB, vm *VM, idxs ...int) cbor.Marshaler {
	invocations := vm.Invocations()
	var invocation *Invocation
	for _, idx := range idxs {
		require.Greater(t, len(invocations), idx)
		invocation = invocations[idx]
		invocations = invocation.SubInvocations
	}
	require.NotNil(t, invocation)
	return invocation.Msg.params
}

// Asserts that some log line emitted by an actor contains the given substring.
func AssertLogsContain(t testing.TB, vm *VM, substr string) {
	for _, l := range vm.Logs() {
		if strings.Contains(l, substr) {
			return
		}
	}
	assert.Failf(t, "missing log", "no log line contains %q", substr)
}

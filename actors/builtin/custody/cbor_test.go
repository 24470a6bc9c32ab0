package custody_test

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xorcare/golden"

	"github.com/filecoin-project/custody-actors/actors/builtin/custody"
	tutil "github.com/filecoin-project/custody-actors/support/testing"
)

func TestEncodings(t *testing.T) {
	admin := tutil.NewIDAddr(t, 101)
	slave := tutil.NewIDAddr(t, 102)

	values := []struct {
		name string
		v    cbor.Marshaler
	}{
		{"state without slave", &custody.State{Admin: admin}},
		{"state with slave", &custody.State{Admin: admin, Child: &slave}},
		{"constructor params", &custody.ConstructorParams{Admin: admin.String(), CreateSlave: true, SlaveTemplateID: 7}},
		{"withdraw params", &custody.WithdrawParams{Admin: admin.String()}},
		{"failed reply", &custody.ReplyParams{ID: 0, ExitCode: exitcode.ErrIllegalArgument}},
		{"negative exit code reply", &custody.ReplyParams{ID: 1, ExitCode: -1, Return: []byte{1}}},
		{"master balance", &custody.GetMasterBalanceReturn{Count: big.NewInt(100)}},
	}

	b := &bytes.Buffer{}
	for _, val := range values {
		buf := new(bytes.Buffer)
		require.NoError(t, val.v.MarshalCBOR(buf))
		fmt.Fprintf(b, "%s,%s\n", val.name, hex.EncodeToString(buf.Bytes()))
	}

	golden.Assert(t, b.Bytes())
}

func TestStateRoundTrip(t *testing.T) {
	admin := tutil.NewSECP256K1Addr(t, "admin")
	slave := tutil.NewIDAddr(t, 102)

	for _, in := range []custody.State{
		{Admin: admin},
		{Admin: admin, Child: &slave},
	} {
		buf := new(bytes.Buffer)
		require.NoError(t, in.MarshalCBOR(buf))

		var out custody.State
		require.NoError(t, out.UnmarshalCBOR(buf))
		assert.Equal(t, in, out)
	}
}

func TestReplyParamsRoundTrip(t *testing.T) {
	in := custody.ReplyParams{ID: 3, ExitCode: -17, Return: []byte("payload")}
	buf := new(bytes.Buffer)
	require.NoError(t, in.MarshalCBOR(buf))

	var out custody.ReplyParams
	require.NoError(t, out.UnmarshalCBOR(buf))
	assert.Equal(t, in, out)
}

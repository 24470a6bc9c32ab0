package account

import (
	"github.com/filecoin-project/go-address"

	"github.com/filecoin-project/custody-actors/actors/builtin"
)

type StateSummary struct {
	PubKeyAddr address.Address
}

// Checks internal invariants of account state.
func CheckStateInvariants(st *State, idAddr address.Address) (*StateSummary, *builtin.MessageAccumulator) {
	acc := &builtin.MessageAccumulator{}
	acc.Require(
		st.Address.Protocol() == address.BLS || st.Address.Protocol() == address.SECP256K1,
		"actor address %v must be BLS or SECP256K1 protocol", st.Address)
	acc.Require(idAddr.Protocol() == address.ID, "account %v is not keyed by an ID address", idAddr)

	return &StateSummary{
		PubKeyAddr: st.Address,
	}, acc
}

package custody

import (
	addr "github.com/filecoin-project/go-address"

	"github.com/filecoin-project/custody-actors/actors/builtin"
	"github.com/filecoin-project/custody-actors/actors/coin"
)

type StateSummary struct {
	Admin   addr.Address
	Child   *addr.Address
	Balance coin.Coins
}

// Checks internal invariants of custody state.
func CheckStateInvariants(st *State, balance coin.Coins) (*StateSummary, *builtin.MessageAccumulator) {
	acc := &builtin.MessageAccumulator{}

	acc.Require(st.Admin != addr.Undef, "admin is undefined")
	if st.Child != nil {
		acc.Require(st.Child.Protocol() == addr.ID, "slave %v is not an ID address", *st.Child)
		acc.Require(*st.Child != st.Admin, "slave %v is also the admin", *st.Child)
	}
	acc.RequireNoError(balance.Validate(), "invalid balance %v", balance)

	return &StateSummary{
		Admin:   st.Admin,
		Child:   st.Child,
		Balance: balance,
	}, acc
}

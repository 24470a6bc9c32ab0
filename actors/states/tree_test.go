package states_test

import (
	"context"
	"testing"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/custody-actors/actors/builtin"
	"github.com/filecoin-project/custody-actors/actors/coin"
	"github.com/filecoin-project/custody-actors/actors/states"
	"github.com/filecoin-project/custody-actors/support/ipld"
	tutil "github.com/filecoin-project/custody-actors/support/testing"
)

func TestTree(t *testing.T) {
	ctx := context.Background()
	store := ipld.NewADTStore(ctx)
	newCid := tutil.NewCidForTestGetter()

	tree, err := states.NewTree(store)
	require.NoError(t, err)

	a1 := tutil.NewIDAddr(t, 100)
	a2 := tutil.NewIDAddr(t, 101)
	act1 := &states.Actor{
		Code:    builtin.CustodyActorCodeID,
		Head:    newCid(),
		Balance: coin.NewCoins(coin.NewCoin(builtin.NativeDenom, abi.NewTokenAmount(100))),
	}
	act2 := &states.Actor{Code: builtin.AccountActorCodeID, Head: newCid()}
	require.NoError(t, tree.SetActor(a1, act1))
	require.NoError(t, tree.SetActor(a2, act2))

	assert.Error(t, tree.SetActor(tutil.NewSECP256K1Addr(t, "key"), act2))
	_, _, err = tree.GetActor(tutil.NewSECP256K1Addr(t, "key"))
	assert.Error(t, err)

	root, err := tree.Flush()
	require.NoError(t, err)

	loaded, err := states.LoadTree(store, root)
	require.NoError(t, err)

	got, found, err := loaded.GetActor(a1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, act1.Code, got.Code)
	assert.Equal(t, act1.Head, got.Head)
	assert.True(t, act1.Balance.Equal(got.Balance))

	_, found, err = loaded.GetActor(tutil.NewIDAddr(t, 999))
	require.NoError(t, err)
	assert.False(t, found)

	seen := map[addr.Address]bool{}
	require.NoError(t, loaded.ForEach(func(a addr.Address, act *states.Actor) error {
		seen[a] = true
		return nil
	}))
	assert.Equal(t, map[addr.Address]bool{a1: true, a2: true}, seen)

	id, found, err := loaded.LookupID(a2)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, a2, id)

	// robust addresses need the init actor, which this tree lacks
	_, _, err = loaded.LookupID(tutil.NewSECP256K1Addr(t, "key"))
	assert.Error(t, err)
}

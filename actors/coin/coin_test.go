package coin_test

import (
	"bytes"
	"testing"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/custody-actors/actors/coin"
)

func TestCoinsArithmetic(t *testing.T) {
	a := coin.NewCoins(coin.NewCoin("uJuno", abi.NewTokenAmount(100)), coin.NewCoin("uatom", abi.NewTokenAmount(5)))
	b := coin.NewCoins(coin.NewCoin("uJuno", abi.NewTokenAmount(40)))

	t.Run("add merges denominations", func(t *testing.T) {
		sum := coin.Add(a, b)
		assert.Equal(t, abi.NewTokenAmount(140), sum.AmountOf("uJuno"))
		assert.Equal(t, abi.NewTokenAmount(5), sum.AmountOf("uatom"))
		assert.Equal(t, big.Zero(), sum.AmountOf("ufoo"))
	})

	t.Run("sub leaves remainder", func(t *testing.T) {
		rem, err := coin.Sub(a, b)
		require.NoError(t, err)
		assert.Equal(t, abi.NewTokenAmount(60), rem.AmountOf("uJuno"))
		assert.Equal(t, abi.NewTokenAmount(5), rem.AmountOf("uatom"))
	})

	t.Run("sub drops exhausted denominations", func(t *testing.T) {
		rem, err := coin.Sub(b, b)
		require.NoError(t, err)
		assert.Len(t, rem, 0)
		assert.True(t, rem.IsZero())
	})

	t.Run("sub fails on overdraw", func(t *testing.T) {
		_, err := coin.Sub(b, a)
		assert.Error(t, err)
	})

	t.Run("equal", func(t *testing.T) {
		assert.True(t, a.Equal(coin.NewCoins(coin.NewCoin("uatom", abi.NewTokenAmount(5)), coin.NewCoin("uJuno", abi.NewTokenAmount(100)))))
		assert.False(t, a.Equal(b))
		assert.True(t, coin.Coins(nil).Equal(coin.NewCoins()))
	})
}

func TestCoinsValidate(t *testing.T) {
	assert.NoError(t, coin.NewCoins().Validate())
	assert.NoError(t, coin.NewCoins(coin.NewCoin("uJuno", big.Zero())).Validate())

	dup := coin.NewCoins(coin.NewCoin("uJuno", abi.NewTokenAmount(1)), coin.NewCoin("uJuno", abi.NewTokenAmount(2)))
	assert.Error(t, dup.Validate())

	noDenom := coin.NewCoins(coin.NewCoin("", abi.NewTokenAmount(1)))
	assert.Error(t, noDenom.Validate())

	negative := coin.NewCoins(coin.NewCoin("uJuno", abi.NewTokenAmount(-1)))
	assert.Error(t, negative.Validate())
}

func TestCoinsSerialization(t *testing.T) {
	in := coin.NewCoins(coin.NewCoin("uatom", abi.NewTokenAmount(7)), coin.NewCoin("uJuno", abi.NewTokenAmount(1e9)))

	var buf bytes.Buffer
	require.NoError(t, in.MarshalCBOR(&buf))

	var out coin.Coins
	require.NoError(t, out.UnmarshalCBOR(&buf))
	require.Len(t, out, 2)
	assert.Equal(t, in[0].Denom, out[0].Denom)
	assert.True(t, in[1].Amount.Equals(out[1].Amount))
}

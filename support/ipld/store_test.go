package ipld_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cbg "github.com/whyrusleeping/cbor-gen"

	"github.com/filecoin-project/custody-actors/actors/util/adt"
	"github.com/filecoin-project/custody-actors/support/ipld"
)

func TestMetricsBlockStore(t *testing.T) {
	ctx := context.Background()
	bs := ipld.NewBlockStoreInMemory()
	metrics := ipld.NewMetricsBlockStore(bs)
	store := adt.WrapBlockStore(ctx, metrics)

	value := cbg.CborInt(42)
	c, err := store.Put(ctx, &value)
	require.NoError(t, err)
	assert.Equal(t, 1, bs.Len())

	var out cbg.CborInt
	require.NoError(t, store.Get(ctx, c, &out))
	assert.Equal(t, value, out)

	stats := metrics.GetStats()
	assert.Equal(t, uint64(1), stats.PutCalls)
	assert.Equal(t, uint64(1), stats.GetCalls)
	assert.Equal(t, stats.PutBytes, stats.GetBytes)

	metrics.Clear()
	assert.Equal(t, ipld.StoreStats{}, metrics.GetStats())
}

func TestMarshalCBORMatchesStore(t *testing.T) {
	ctx := context.Background()
	store := ipld.NewADTStore(ctx)

	value := cbg.CborInt(7)
	stored, err := store.Put(ctx, &value)
	require.NoError(t, err)

	computed, size, err := ipld.MarshalCBOR(&value)
	require.NoError(t, err)
	assert.Equal(t, stored, computed)
	assert.Equal(t, 1, size)
}

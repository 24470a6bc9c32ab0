package ipld

import (
	"bytes"
	"context"

	"github.com/filecoin-project/go-state-types/cbor"
	block "github.com/ipfs/go-block-format"
	cid "github.com/ipfs/go-cid"
	ipldcbor "github.com/ipfs/go-ipld-cbor"
	mh "github.com/multiformats/go-multihash"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/custody-actors/actors/util/adt"
)

// Creates a new, empty, unsynchronized IPLD store in memory.
// This store is appropriate for most kinds of testing.
func NewADTStore(ctx context.Context) adt.Store {
	return adt.WrapBlockStore(ctx, NewBlockStoreInMemory())
}

// A basic in-memory block store.
type BlockStoreInMemory struct {
	data map[cid.Cid]block.Block
}

var _ ipldcbor.IpldBlockstore = (*BlockStoreInMemory)(nil)

func NewBlockStoreInMemory() *BlockStoreInMemory {
	return &BlockStoreInMemory{make(map[cid.Cid]block.Block)}
}

func (mb *BlockStoreInMemory) Get(c cid.Cid) (block.Block, error) {
	d, ok := mb.data[c]
	if ok {
		return d, nil
	}
	return nil, xerrors.Errorf("not found: %s", c)
}

func (mb *BlockStoreInMemory) Put(b block.Block) error {
	mb.data[b.Cid()] = b
	return nil
}

func (mb *BlockStoreInMemory) Len() int {
	return len(mb.data)
}

// Metrics for a block store.
type StoreStats struct {
	GetCalls uint64
	GetBytes uint64
	PutCalls uint64
	PutBytes uint64
}

func (s StoreStats) Sub(other StoreStats) StoreStats {
	return StoreStats{
		GetCalls: s.GetCalls - other.GetCalls,
		GetBytes: s.GetBytes - other.GetBytes,
		PutCalls: s.PutCalls - other.PutCalls,
		PutBytes: s.PutBytes - other.PutBytes,
	}
}

// A block store that counts reads and writes passing through it.
type MetricsBlockStore struct {
	bs    ipldcbor.IpldBlockstore
	stats StoreStats
}

var _ ipldcbor.IpldBlockstore = (*MetricsBlockStore)(nil)

func NewMetricsBlockStore(underlying ipldcbor.IpldBlockstore) *MetricsBlockStore {
	return &MetricsBlockStore{bs: underlying}
}

func (ms *MetricsBlockStore) Get(c cid.Cid) (block.Block, error) {
	ms.stats.GetCalls++
	blk, err := ms.bs.Get(c)
	if err != nil {
		return blk, err
	}
	ms.stats.GetBytes += uint64(len(blk.RawData()))
	return blk, nil
}

func (ms *MetricsBlockStore) Put(b block.Block) error {
	ms.stats.PutCalls++
	ms.stats.PutBytes += uint64(len(b.RawData()))
	return ms.bs.Put(b)
}

func (ms *MetricsBlockStore) GetStats() StoreStats {
	return ms.stats
}

func (ms *MetricsBlockStore) Clear() {
	ms.stats = StoreStats{}
}

// Computes the CID an object would be stored under by a cbor store, together with its encoded size.
func MarshalCBOR(o cbor.Marshaler) (cid.Cid, int, error) {
	buf := new(bytes.Buffer)
	if err := o.MarshalCBOR(buf); err != nil {
		return cid.Undef, 0, xerrors.Errorf("marshaling object: %w", err)
	}
	data := buf.Bytes()
	c, err := cborCidBuilder.Sum(data)
	if err != nil {
		return cid.Undef, 0, err
	}
	return c, len(data), nil
}

// Matches the CID prefix used by go-ipld-cbor when putting objects.
var cborCidBuilder = cid.V1Builder{Codec: cid.DagCBOR, MhType: mh.BLAKE2B_MIN + 31}

package vm

import (
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/custody-actors/support/ipld"
)

// A source of store statistics that can be used to profile calls.
type StatsSource interface {
	GetStats() ipld.StoreStats
}

// Identifies an actor method across all actors of the same code.
type MethodKey struct {
	Code   cid.Cid
	Method abi.MethodNum
}

// Accumulated cost of the invocations of a method, excluding the messages they queue.
type CallStats struct {
	Calls uint64
	ipld.StoreStats
}

func (cs *CallStats) add(s ipld.StoreStats) {
	cs.Calls++
	cs.GetCalls += s.GetCalls
	cs.GetBytes += s.GetBytes
	cs.PutCalls += s.PutCalls
	cs.PutBytes += s.PutBytes
}

// SetStatsSource starts profiling invocations against the given source.
func (vm *VM) SetStatsSource(s StatsSource) {
	vm.statsSource = s
}

func (vm *VM) GetCallStats() map[MethodKey]*CallStats {
	return vm.callStats
}

func (vm *VM) recordCall(code cid.Cid, method abi.MethodNum, s ipld.StoreStats) {
	key := MethodKey{Code: code, Method: method}
	stats, ok := vm.callStats[key]
	if !ok {
		stats = &CallStats{}
		vm.callStats[key] = stats
	}
	stats.add(s)
}

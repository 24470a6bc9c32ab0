package vm

import (
	"context"
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	rtt "github.com/filecoin-project/go-state-types/rt"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/minio/blake2b-simd"
	"github.com/pkg/errors"

	"github.com/filecoin-project/custody-actors/actors/builtin"
	"github.com/filecoin-project/custody-actors/actors/builtin/account"
	"github.com/filecoin-project/custody-actors/actors/coin"
	"github.com/filecoin-project/custody-actors/actors/runtime"
	"github.com/filecoin-project/custody-actors/actors/serde"
	"github.com/filecoin-project/custody-actors/actors/states"
	"github.com/filecoin-project/custody-actors/actors/util/adt"
)

var log = logging.Logger("vm")

// VM is a simplified message execution framework for the purposes of testing inter-actor interaction with
// deferred messages and replies. It performs no gas accounting and no signature checks.
// Every top-level message is one atomic transaction: if it or any message it queued fails without a
// reply covering the failure, all of its state changes are discarded.
type VM struct {
	ctx          context.Context
	store        adt.Store
	currentEpoch abi.ChainEpoch

	actorImpls  ActorImplLookup
	tree        *states.Tree
	emptyObject cid.Cid
	callSeq     uint64

	receipts    *adt.Array
	invocations []*Invocation
	logs        []string

	statsSource StatsSource
	callStats   map[MethodKey]*CallStats
}

type ActorImplLookup map[cid.Cid]runtime.VMActor

type internalMessage struct {
	from   address.Address
	to     address.Address
	value  coin.Coins
	method abi.MethodNum
	params cbor.Marshaler
}

// The outcome of a top-level message.
type MessageResult struct {
	Code exitcode.ExitCode
	Ret  []byte
}

// Creates an empty VM. Singleton actors must be installed before messages can be applied.
func NewVM(ctx context.Context, actorImpls ActorImplLookup, store adt.Store) (*VM, error) {
	tree, err := states.NewTree(store)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create state tree")
	}
	receipts, err := adt.MakeEmptyArray(store, builtin.DefaultAmtBitwidth)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create receipts")
	}
	emptyObject, err := store.Put(ctx, runtime.CBORBytes(emptyArray))
	if err != nil {
		return nil, errors.Wrap(err, "failed to store empty object")
	}

	return &VM{
		ctx:          ctx,
		store:        store,
		actorImpls:   actorImpls,
		tree:         tree,
		emptyObject:  emptyObject,
		currentEpoch: 0,
		receipts:     receipts,
		callStats:    make(map[MethodKey]*CallStats),
	}, nil
}

// The CBOR encoding of an empty array, the head of actors that have not yet been constructed.
var emptyArray = []byte{0x80}

func (vm *VM) rollback(root cid.Cid) error {
	tree, err := states.LoadTree(vm.store, root)
	if err != nil {
		return errors.Wrapf(err, "failed to load state tree at %v", root)
	}
	vm.tree = tree
	return nil
}

func (vm *VM) checkpoint() (cid.Cid, error) {
	return vm.tree.Flush()
}

// Returns the root of the state tree, flushing any pending changes.
func (vm *VM) StateRoot() (cid.Cid, error) {
	return vm.checkpoint()
}

func (vm *VM) GetActor(a address.Address) (*states.Actor, bool, error) {
	idAddr, found := vm.NormalizeAddress(a)
	if !found {
		return nil, false, nil
	}
	return vm.tree.GetActor(idAddr)
}

// SetActor sets the actor at an ID address, overwriting any existing entry.
func (vm *VM) SetActor(a address.Address, act *states.Actor) error {
	return vm.tree.SetActor(a, act)
}

// SetActorState stores the state and updates the addressed actor's head.
func (vm *VM) SetActorState(a address.Address, state cbor.Marshaler) error {
	act, found, err := vm.GetActor(a)
	if err != nil {
		return err
	}
	if !found {
		return errors.Errorf("actor %v not found", a)
	}
	head, err := vm.store.Put(vm.ctx, state)
	if err != nil {
		return err
	}
	act.Head = head
	return vm.tree.SetActor(a, act)
}

// NormalizeAddress resolves an address to an ID address through the init actor.
func (vm *VM) NormalizeAddress(a address.Address) (address.Address, bool) {
	idAddr, found, err := vm.tree.LookupID(a)
	if err != nil {
		panic(errors.Wrapf(err, "failed to resolve address %v", a))
	}
	return idAddr, found
}

// ApplyMessage runs a top-level message and every message it queues, recording a receipt.
// The returned error reports a failure of the VM itself; actor failures are reported by the exit code.
func (vm *VM) ApplyMessage(from, to address.Address, value coin.Coins, method abi.MethodNum, params cbor.Marshaler) (MessageResult, error) {
	fromID, found := vm.NormalizeAddress(from)
	if !found {
		return MessageResult{}, errors.Errorf("sender %v not found", from)
	}
	fromActor, found, err := vm.tree.GetActor(fromID)
	if err != nil {
		return MessageResult{}, err
	}
	if !found {
		return MessageResult{}, errors.Errorf("sender %v (%v) has no actor", from, fromID)
	}

	// Account senders contribute their stable key address to new actor addresses.
	originator := from
	if fromActor.Code.Equals(builtin.AccountActorCodeID) {
		var senderState account.State
		if err := vm.store.Get(vm.ctx, fromActor.Head, &senderState); err != nil {
			return MessageResult{}, errors.Wrapf(err, "failed to load sender %v state", from)
		}
		originator = senderState.Address
	}

	priorRoot, err := vm.checkpoint()
	if err != nil {
		return MessageResult{}, err
	}

	topLevel := topLevelContext{
		originatorStableAddress: originator,
		originatorCallSeq:       vm.callSeq,
	}
	vm.callSeq++

	msg := internalMessage{
		from:   fromID,
		to:     to,
		value:  value,
		method: method,
		params: params,
	}
	ic := newInvocationContext(vm, &topLevel, msg, fromActor, nil)
	ret, code := ic.execute()

	// The invocation rolls back its own changes; this also covers a failure before the target is resolved.
	if code != exitcode.Ok {
		if err := vm.rollback(priorRoot); err != nil {
			return MessageResult{}, err
		}
	}

	receipt, err := vm.receiptFor(msg, topLevel.originatorCallSeq, code, ret)
	if err != nil {
		return MessageResult{}, err
	}
	if err := vm.receipts.AppendContinuous(receipt); err != nil {
		return MessageResult{}, errors.Wrap(err, "failed to record receipt")
	}
	log.Debugw("applied message", "from", from, "to", to, "method", method, "exitcode", code)

	return MessageResult{Code: code, Ret: ret}, nil
}

func (vm *VM) receiptFor(msg internalMessage, callSeq uint64, code exitcode.ExitCode, ret []byte) (*MessageReceipt, error) {
	params, err := serde.Serialize(msg.params)
	if err != nil {
		return nil, err
	}
	encoded, err := serde.Serialize(&Message{
		From:    msg.from,
		To:      msg.to,
		Value:   msg.value,
		Method:  msg.method,
		Params:  params,
		CallSeq: callSeq,
	})
	if err != nil {
		return nil, err
	}
	hash := blake2b.Sum256(encoded)
	return &MessageReceipt{
		ExitCode:    code,
		Return:      ret,
		MessageHash: hash[:],
	}, nil
}

// Receipts returns the receipts of all top-level messages applied so far, in order.
func (vm *VM) Receipts() ([]MessageReceipt, error) {
	var out []MessageReceipt
	var r MessageReceipt
	err := vm.receipts.ForEach(&r, func(_ int64) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

func (vm *VM) ReceiptsRoot() (cid.Cid, error) {
	return vm.receipts.Root()
}

func (vm *VM) GetState(addr address.Address, out cbor.Unmarshaler) error {
	act, found, err := vm.GetActor(addr)
	if err != nil {
		return err
	}
	if !found {
		return errors.Errorf("actor %v not found", addr)
	}
	return vm.store.Get(vm.ctx, act.Head, out)
}

// GetBalance returns the balance of an actor, empty if it does not exist.
func (vm *VM) GetBalance(addr address.Address) coin.Coins {
	act, found, err := vm.GetActor(addr)
	if err != nil {
		panic(err)
	}
	if !found {
		return nil
	}
	return act.Balance
}

func (vm *VM) Store() adt.Store {
	return vm.store
}

func (vm *VM) GetEpoch() abi.ChainEpoch {
	return vm.currentEpoch
}

func (vm *VM) SetEpoch(epoch abi.ChainEpoch) {
	vm.currentEpoch = epoch
}

// Invocations returns the traces of all top-level messages applied so far.
func (vm *VM) Invocations() []*Invocation {
	return vm.invocations
}

// LastInvocation returns the trace of the most recent top-level message.
func (vm *VM) LastInvocation() *Invocation {
	if len(vm.invocations) == 0 {
		return nil
	}
	return vm.invocations[len(vm.invocations)-1]
}

func (vm *VM) Logs() []string {
	return vm.logs
}

// transfer debits an amount from one actor and credits it to another.
// It panics if either actor does not exist or the debit would leave a negative balance, so callers
// check funds first.
func (vm *VM) transfer(debitFrom address.Address, creditTo address.Address, amount coin.Coins) (*states.Actor, *states.Actor) {
	fromActor, found, err := vm.tree.GetActor(debitFrom)
	if err != nil {
		panic(err)
	}
	if !found {
		panic(fmt.Errorf("unreachable: debit account %v not found", debitFrom))
	}
	fromActor.Balance, err = coin.Sub(fromActor.Balance, amount)
	if err != nil {
		panic(errors.Wrapf(err, "unreachable: insufficient balance on debit account %v", debitFrom))
	}
	if err := vm.tree.SetActor(debitFrom, fromActor); err != nil {
		panic(err)
	}

	toActor, found, err := vm.tree.GetActor(creditTo)
	if err != nil {
		panic(err)
	}
	if !found {
		panic(fmt.Errorf("unreachable: credit account %v not found", creditTo))
	}
	toActor.Balance = coin.Add(toActor.Balance, amount)
	if err := vm.tree.SetActor(creditTo, toActor); err != nil {
		panic(err)
	}
	return toActor, fromActor
}

func (vm *VM) getActorImpl(code cid.Cid) runtime.VMActor {
	actorImpl, ok := vm.actorImpls[code]
	if !ok {
		vm.Abortf(exitcode.SysErrInvalidReceiver, "actor implementation not found for code %v", code)
	}
	return actorImpl
}

func (vm *VM) Log(level rtt.LogLevel, msg string, args ...interface{}) {
	line := fmt.Sprintf(msg, args...)
	vm.logs = append(vm.logs, line)
	switch level {
	case rtt.DEBUG:
		log.Debug(line)
	case rtt.INFO:
		log.Info(line)
	case rtt.WARN:
		log.Warn(line)
	default:
		log.Error(line)
	}
}

type abort struct {
	code exitcode.ExitCode
	msg  string
}

func (a abort) String() string {
	return fmt.Sprintf("abort(%v): %s", a.code, a.msg)
}

func (vm *VM) Abortf(errExitCode exitcode.ExitCode, msg string, args ...interface{}) {
	panic(abort{errExitCode, fmt.Sprintf(msg, args...)})
}

//
// implement runtime.Message for internalMessage
//

var _ runtime.Message = (*internalMessage)(nil)

// ValueReceived implements runtime.Message.
func (msg internalMessage) ValueReceived() coin.Coins {
	return msg.value
}

// Caller implements runtime.Message.
func (msg internalMessage) Caller() address.Address {
	return msg.from
}

// Receiver implements runtime.Message.
func (msg internalMessage) Receiver() address.Address {
	return msg.to
}

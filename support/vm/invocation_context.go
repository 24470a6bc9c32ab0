package vm

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"reflect"
	"runtime/debug"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	rtt "github.com/filecoin-project/go-state-types/rt"
	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"

	"github.com/filecoin-project/custody-actors/actors/builtin"
	init_ "github.com/filecoin-project/custody-actors/actors/builtin/init"
	"github.com/filecoin-project/custody-actors/actors/coin"
	"github.com/filecoin-project/custody-actors/actors/runtime"
	"github.com/filecoin-project/custody-actors/actors/serde"
	"github.com/filecoin-project/custody-actors/actors/states"
	"github.com/filecoin-project/custody-actors/support/ipld"
)

// Context for an individual message invocation, including the messages it queues.
type invocationContext struct {
	rt               *VM
	topLevel         *topLevelContext
	msg              internalMessage // The message being processed
	fromActor        *states.Actor   // The immediate calling actor
	toActor          *states.Actor   // The actor to which message is addressed
	emptyObject      cid.Cid
	allowSideEffects bool
	callerValidated  bool
	// Maps (references to) loaded state objs to their expected cid.
	// Used for detecting modifications to state outside of transactions.
	stateUsedObjs map[cbor.Marshaler]cid.Cid
	// Messages queued by this invocation, applied in order once it returns.
	effects    []effect
	invocation *Invocation
}

// Context for a top-level invocation sequence
type topLevelContext struct {
	originatorStableAddress address.Address // Stable (public key) address of the top-level message sender.
	originatorCallSeq       uint64          // Sequence number of the top-level message.
	newActorAddressCount    uint64          // Count of calls to NewActorAddress (mutable).
}

// A queued message, optionally reporting its outcome back to the sender.
type effect struct {
	msg     internalMessage
	replyID uint64
	replyOn runtime.ReplyOn
}

// The trace of a message and of the messages it queued, including replies.
type Invocation struct {
	Msg            internalMessage
	Exitcode       exitcode.ExitCode
	Ret            runtime.CBORBytes
	SubInvocations []*Invocation
}

func newInvocationContext(rt *VM, topLevel *topLevelContext, msg internalMessage, fromActor *states.Actor, parent *Invocation) invocationContext {
	invocation := &Invocation{Msg: msg}
	if parent == nil {
		rt.invocations = append(rt.invocations, invocation)
	} else {
		parent.SubInvocations = append(parent.SubInvocations, invocation)
	}

	// Note: the toActor is loaded during `invoke()`
	return invocationContext{
		rt:               rt,
		topLevel:         topLevel,
		msg:              msg,
		fromActor:        fromActor,
		toActor:          nil,
		emptyObject:      rt.emptyObject,
		allowSideEffects: true,
		callerValidated:  false,
		stateUsedObjs:    map[cbor.Marshaler]cid.Cid{},
		invocation:       invocation,
	}
}

var _ runtime.StateHandle = (*invocationContext)(nil)

func (ic *invocationContext) loadState(obj cbor.Unmarshaler) cid.Cid {
	// The actor must be loaded from store every time since the state may have changed via a
	// different state handle (e.g. in a queued message to self).
	actr := ic.loadActor()
	c := actr.Head
	if !c.Defined() {
		ic.Abortf(exitcode.SysErrorIllegalActor, "failed to load undefined state, must construct first")
	}
	if err := ic.rt.store.Get(ic.rt.ctx, c, obj); err != nil {
		ic.Abortf(exitcode.ErrIllegalState, "failed to load state for actor %s, CID %s: %v", ic.msg.to, c, err)
	}
	return c
}

func (ic *invocationContext) loadActor() *states.Actor {
	actr, found, err := ic.rt.tree.GetActor(ic.msg.to)
	if err != nil {
		panic(err)
	}
	if !found {
		panic(fmt.Errorf("failed to find actor %s for state", ic.msg.to))
	}
	return actr
}

func (ic *invocationContext) storeActor(actr *states.Actor) {
	if err := ic.rt.tree.SetActor(ic.msg.to, actr); err != nil {
		panic(err)
	}
}

/////////////////////////////////////////////
//          Runtime methods
/////////////////////////////////////////////

var _ runtime.Runtime = (*invocationContext)(nil)

func (ic *invocationContext) StoreGet(c cid.Cid, o cbor.Unmarshaler) bool {
	// assume all errors are not found errors
	return ic.rt.store.Get(ic.rt.ctx, c, o) == nil
}

func (ic *invocationContext) StorePut(x cbor.Marshaler) cid.Cid {
	c, err := ic.rt.store.Put(ic.rt.ctx, x)
	if err != nil {
		ic.Abortf(exitcode.ErrIllegalState, "could not put object in store")
	}
	return c
}

// ValueReceived implements runtime.Message
func (ic *invocationContext) ValueReceived() coin.Coins {
	return ic.msg.ValueReceived()
}

// Caller implements runtime.Message
func (ic *invocationContext) Caller() address.Address {
	return ic.msg.Caller()
}

// Receiver implements runtime.Message
func (ic *invocationContext) Receiver() address.Address {
	return ic.msg.Receiver()
}

func (ic *invocationContext) StateCreate(obj cbor.Marshaler) {
	actr := ic.loadActor()
	if actr.Head.Defined() && !ic.emptyObject.Equals(actr.Head) {
		ic.Abortf(exitcode.SysErrorIllegalActor, "failed to construct actor state: already initialized")
	}
	c, err := ic.rt.store.Put(ic.rt.ctx, obj)
	if err != nil {
		ic.Abortf(exitcode.ErrIllegalState, "failed to create actor state")
	}
	actr.Head = c
	ic.storeActor(actr)
	ic.stateUsedObjs[obj] = c // Track the expected CID of the object.
}

func (ic *invocationContext) StateReadonly(obj cbor.Unmarshaler) {
	c := ic.loadState(obj)
	ic.stateUsedObjs[obj.(cbor.Marshaler)] = c
}

func (ic *invocationContext) StateTransaction(obj cbor.Er, f func()) {
	if obj == nil {
		ic.Abortf(exitcode.SysErrorIllegalActor, "Must not pass nil to Transaction()")
	}
	ic.checkStateObjectsUnmodified()

	ic.loadState(obj)

	// Call user code allowing mutation but not side-effects
	ic.allowSideEffects = false
	f()
	ic.allowSideEffects = true

	c := ic.replace(obj)
	ic.stateUsedObjs[obj] = c
}

func (ic *invocationContext) CurrEpoch() abi.ChainEpoch {
	return ic.rt.currentEpoch
}

func (ic *invocationContext) CurrentBalance(denom string) abi.TokenAmount {
	act, found, err := ic.rt.tree.GetActor(ic.msg.to)
	if err != nil {
		ic.Abortf(exitcode.ErrIllegalState, "could not load to actor %v: %v", ic.msg.to, err)
	} else if !found {
		ic.Abortf(exitcode.ErrIllegalState, "could not find to actor %v", ic.msg.to)
	}
	return act.Balance.AmountOf(denom)
}

func (ic *invocationContext) GetActorCodeCID(a address.Address) (cid.Cid, bool) {
	entry, found, err := ic.rt.GetActor(a)
	if err != nil {
		panic(err)
	}
	if !found {
		return cid.Undef, false
	}
	return entry.Code, true
}

func (ic *invocationContext) ValidateImmediateCallerAcceptAny() {
	ic.assertf(!ic.callerValidated, "caller has been double validated")
	ic.callerValidated = true
}

func (ic *invocationContext) ValidateImmediateCallerIs(addrs ...address.Address) {
	ic.assertf(!ic.callerValidated, "caller has been double validated")
	ic.callerValidated = true
	for _, addr := range addrs {
		if ic.msg.from == addr {
			return
		}
	}
	ic.Abortf(exitcode.ErrForbidden, "caller address %v forbidden, allowed: %v", ic.msg.from, addrs)
}

func (ic *invocationContext) ValidateImmediateCallerType(types ...cid.Cid) {
	ic.assertf(!ic.callerValidated, "caller has been double validated")
	ic.callerValidated = true
	for _, t := range types {
		if t.Equals(ic.fromActor.Code) {
			return
		}
	}
	ic.Abortf(exitcode.ErrForbidden, "caller type %v forbidden, allowed: %v", ic.fromActor.Code, types)
}

func (ic *invocationContext) Abortf(errExitCode exitcode.ExitCode, msg string, args ...interface{}) {
	ic.rt.Abortf(errExitCode, msg, args...)
}

func (ic *invocationContext) assertf(condition bool, msg string, args ...interface{}) {
	if !condition {
		panic(fmt.Errorf(msg, args...))
	}
}

func (ic *invocationContext) ResolveAddress(address address.Address) (address.Address, bool) {
	return ic.rt.NormalizeAddress(address)
}

func (ic *invocationContext) NewActorAddress() address.Address {
	var buf bytes.Buffer

	b1, err := ic.topLevel.originatorStableAddress.Marshal()
	if err != nil {
		panic(err)
	}
	if _, err = buf.Write(b1); err != nil {
		panic(err)
	}
	if err = binary.Write(&buf, binary.BigEndian, ic.topLevel.originatorCallSeq); err != nil {
		panic(err)
	}
	if err = binary.Write(&buf, binary.BigEndian, ic.topLevel.newActorAddressCount); err != nil {
		panic(err)
	}
	ic.topLevel.newActorAddressCount++

	actorAddress, err := address.NewActorAddress(buf.Bytes())
	if err != nil {
		panic(err)
	}
	return actorAddress
}

// Send implements runtime.Runtime by queueing the message.
func (ic *invocationContext) Send(toAddr address.Address, methodNum abi.MethodNum, params cbor.Marshaler, value coin.Coins) {
	ic.queue(toAddr, methodNum, params, value, 0, runtime.ReplyNever)
}

// SendWithReply implements runtime.Runtime by queueing the message with a reply request.
func (ic *invocationContext) SendWithReply(toAddr address.Address, methodNum abi.MethodNum, params cbor.Marshaler, value coin.Coins, replyID uint64, on runtime.ReplyOn) {
	ic.queue(toAddr, methodNum, params, value, replyID, on)
}

func (ic *invocationContext) queue(toAddr address.Address, methodNum abi.MethodNum, params cbor.Marshaler, value coin.Coins, replyID uint64, on runtime.ReplyOn) {
	if !ic.allowSideEffects {
		ic.Abortf(exitcode.SysErrorIllegalActor, "Calling Send() is not allowed during side-effect lock")
	}
	ic.effects = append(ic.effects, effect{
		msg: internalMessage{
			from:   ic.msg.to,
			to:     toAddr,
			value:  value,
			method: methodNum,
			params: params,
		},
		replyID: replyID,
		replyOn: on,
	})
}

func (ic *invocationContext) CreateActor(codeID cid.Cid, addr address.Address) {
	if _, ok := ic.rt.actorImpls[codeID]; !ok {
		ic.Abortf(exitcode.SysErrorIllegalArgument, "Can only create built-in actors.")
	}
	if codeID.Equals(builtin.SystemActorCodeID) || codeID.Equals(builtin.InitActorCodeID) {
		ic.Abortf(exitcode.SysErrorIllegalArgument, "Can only have one instance of singleton actors.")
	}

	ic.rt.Log(rtt.DEBUG, "creating actor, friendly-name: %s, code: %s, addr: %s", builtin.ActorNameByCode(codeID), codeID, addr)

	// Note: we are storing the actors by ActorID *address*
	_, found, err := ic.rt.tree.GetActor(addr)
	if err != nil {
		panic(err)
	}
	if found {
		ic.Abortf(exitcode.SysErrorIllegalArgument, "Actor address already exists")
	}

	newActor := &states.Actor{
		Head: ic.emptyObject,
		Code: codeID,
	}
	if err := ic.rt.tree.SetActor(addr, newActor); err != nil {
		panic(err)
	}
}

func (ic *invocationContext) Context() context.Context {
	return ic.rt.ctx
}

// Starts a new tracing span. The span must be End()ed explicitly, typically with a deferred invocation.
func (ic *invocationContext) StartSpan(_ string) func() {
	return fakeTraceSpanEnd
}

// Note events that may make debugging easier
func (ic *invocationContext) Log(level rtt.LogLevel, msg string, args ...interface{}) {
	if ic.toActor != nil {
		if impl, ok := ic.rt.actorImpls[ic.toActor.Code]; ok && level < builtin.GetActorLogLevel(impl, rtt.DEBUG) {
			return
		}
	}
	ic.rt.Log(level, msg, args...)
}

func fakeTraceSpanEnd() {
}

/////////////////////////////////////////////
//          invocation
/////////////////////////////////////////////

// execute invokes the message and then applies, depth first, the messages it queued. The outcome of a
// queued message is delivered to the sender's reply method when requested; a failure that is not
// reported this way fails the invocation. Any failure rolls back every state change made by the
// message and by the messages it queued.
func (ic *invocationContext) execute() (ret []byte, code exitcode.ExitCode) {
	priorRoot, err := ic.rt.checkpoint()
	if err != nil {
		panic(err)
	}

	ret, code = ic.invoke()
	if code == exitcode.Ok {
		code = ic.applyEffects()
	}
	if code != exitcode.Ok {
		if err := ic.rt.rollback(priorRoot); err != nil {
			panic(err)
		}
		ret = nil
	}

	ic.invocation.Msg = ic.msg
	ic.invocation.Exitcode = code
	ic.invocation.Ret = ret
	return ret, code
}

func (ic *invocationContext) applyEffects() exitcode.ExitCode {
	for _, e := range ic.effects {
		sub := ic.child(e.msg)
		ret, code := sub.execute()

		if !e.replyOn.Reports(code == exitcode.Ok) {
			if code != exitcode.Ok {
				ic.rt.Log(rtt.WARN, "queued message from %v to %v method %d failed with %v", e.msg.from, e.msg.to, e.msg.method, code)
				return code
			}
			continue
		}

		reply := ic.child(internalMessage{
			from:   builtin.SystemActorAddr,
			to:     ic.msg.to,
			value:  nil,
			method: builtin.MethodReply,
			params: &runtime.ReplyParams{ID: e.replyID, ExitCode: code, Return: ret},
		})
		if _, code := reply.execute(); code != exitcode.Ok {
			return code
		}
	}
	return exitcode.Ok
}

func (ic *invocationContext) child(msg internalMessage) invocationContext {
	fromActor, found, err := ic.rt.tree.GetActor(msg.from)
	if err != nil {
		panic(err)
	}
	if !found {
		panic(fmt.Errorf("unreachable: sender %v of queued message not found", msg.from))
	}
	return newInvocationContext(ic.rt, ic.topLevel, msg, fromActor, ic.invocation)
}

// runtime aborts are trapped by invoke, it will always return an exit code.
func (ic *invocationContext) invoke() (ret []byte, errcode exitcode.ExitCode) {
	var before ipld.StoreStats
	if ic.rt.statsSource != nil {
		before = ic.rt.statsSource.GetStats()
	}

	defer func() {
		if r := recover(); r != nil {
			switch r := r.(type) {
			case abort:
				ic.rt.Log(rtt.WARN, "Abort during actor execution. errMsg: %v exitCode: %d sender: %v receiver: %v method: %d value %v",
					r, r.code, ic.msg.from, ic.msg.to, ic.msg.method, ic.msg.value)
				ret = nil
				errcode = r.code
				return
			default:
				// do not trap unknown panics
				debug.PrintStack()
				panic(r)
			}
		}
	}()
	if ic.rt.statsSource != nil {
		defer func() {
			if ic.toActor != nil {
				ic.rt.recordCall(ic.toActor.Code, ic.msg.method, ic.rt.statsSource.GetStats().Sub(before))
			}
		}()
	}

	// pre-dispatch
	// 1. resolve and load target actor
	// 2. transfer optional funds
	// 3. short-circuit _Send_ method
	// 4. load target actor code
	// 5. dispatch
	if ic.msg.from.Protocol() != address.ID {
		panic("bad code: sender address MUST be an ID address at invocation time")
	}

	// Note: we replace the "to" address with the normalized version
	ic.toActor, ic.msg.to = ic.resolveTarget(ic.msg.to)

	if len(ic.msg.value) > 0 {
		if err := ic.msg.value.Validate(); err != nil {
			ic.Abortf(exitcode.SysErrForbidden, "attempt to transfer invalid value %s from %s to %s: %v",
				ic.msg.value, ic.msg.from, ic.msg.to, err)
		}
		if _, err := coin.Sub(ic.fromActor.Balance, ic.msg.value); err != nil {
			ic.Abortf(exitcode.SysErrInsufficientFunds, "sender %s insufficient balance %s to transfer %s to %s",
				ic.msg.from, ic.fromActor.Balance, ic.msg.value, ic.msg.to)
		}
		ic.toActor, ic.fromActor = ic.rt.transfer(ic.msg.from, ic.msg.to, ic.msg.value)
	}

	if ic.msg.method == builtin.MethodSend {
		return nil, exitcode.Ok
	}

	actorImpl := ic.rt.getActorImpl(ic.toActor.Code)

	out := ic.dispatch(actorImpl, ic.msg.method, ic.msg.params)
	if !ic.callerValidated {
		ic.Abortf(exitcode.SysErrorIllegalActor, "Caller MUST be validated during method execution")
	}
	ic.checkStateObjectsUnmodified()

	ret, err := serde.Serialize(out)
	if err != nil {
		ic.Abortf(exitcode.ErrSerialization, "failed to serialize return value: %v", err)
	}
	return ret, exitcode.Ok
}

func (ic *invocationContext) dispatch(actor runtime.VMActor, method abi.MethodNum, params cbor.Marshaler) cbor.Marshaler {
	exports := actor.Exports()

	methodIdx := (uint64)(method)
	if len(exports) <= (int)(methodIdx) || exports[methodIdx] == nil {
		ic.Abortf(exitcode.SysErrInvalidMethod, "method undefined. method: %d, code: %s", method, actor.Code())
	}
	ventry := reflect.ValueOf(exports[methodIdx])

	// Parameters always pass through their encoding, as they would between separate executions.
	raw, err := serde.Serialize(params)
	if err != nil {
		ic.Abortf(exitcode.ErrSerialization, "failed to serialize params: %v", err)
	}
	arg, err := decodeBytes(ventry.Type().In(1), raw)
	if err != nil {
		ic.Abortf(exitcode.ErrSerialization, "failed to decode params for method %d of %s: %v", method, builtin.ActorNameByCode(actor.Code()), err)
	}

	// the ctx will be automatically coerced
	out := ventry.Call([]reflect.Value{reflect.ValueOf(ic), reflect.ValueOf(arg)})

	// Note: we need to check for `IsNil()` here because Go doesnt work if you do `== nil` on the interface
	if len(out) == 0 || out[0].IsNil() {
		return nil
	}
	marsh, ok := out[0].Interface().(cbor.Marshaler)
	if !ok {
		ic.Abortf(exitcode.SysErrorIllegalActor, "Returned value is not a CBORMarshaler")
	}
	return marsh
}

// resolveTarget loads an actor and returns its ActorID address.
//
// If the target actor does not exist, and the target address is a pub-key address,
// a new account actor will be created.
// Otherwise, this method will abort execution.
func (ic *invocationContext) resolveTarget(target address.Address) (*states.Actor, address.Address) {
	initActorEntry, found, err := ic.rt.tree.GetActor(builtin.InitActorAddr)
	if err != nil {
		panic(err)
	}
	if !found {
		ic.Abortf(exitcode.SysErrSenderInvalid, "init actor not found")
	}

	if target == builtin.InitActorAddr {
		return initActorEntry, target
	}

	var state init_.State
	if err := ic.rt.store.Get(ic.rt.ctx, initActorEntry.Head, &state); err != nil {
		panic(errors.Wrap(err, "failed to load init actor state"))
	}

	targetIDAddr, found, err := state.ResolveAddress(ic.rt.store, target)
	created := false
	if err != nil {
		panic(err)
	} else if !found {
		if target.Protocol() != address.SECP256K1 && target.Protocol() != address.BLS {
			// Don't implicitly create an account actor for an address without an associated key.
			ic.Abortf(exitcode.SysErrInvalidReceiver, "cannot create account for address %v", target)
		}

		targetIDAddr, err = state.MapAddressToNewID(ic.rt.store, target)
		if err != nil {
			panic(err)
		}
		initHead, err := ic.rt.store.Put(ic.rt.ctx, &state)
		if err != nil {
			panic(err)
		}
		initActorEntry.Head = initHead
		if err := ic.rt.tree.SetActor(builtin.InitActorAddr, initActorEntry); err != nil {
			panic(err)
		}

		ic.CreateActor(builtin.AccountActorCodeID, targetIDAddr)

		// call constructor on account, with the original address as params
		systemActor, _, err := ic.rt.tree.GetActor(builtin.SystemActorAddr)
		if err != nil {
			panic(err)
		}
		newMsg := internalMessage{
			from:   builtin.SystemActorAddr,
			to:     targetIDAddr,
			method: builtin.MethodsAccount.Constructor,
			params: &target,
		}
		newCtx := newInvocationContext(ic.rt, ic.topLevel, newMsg, systemActor, ic.invocation)
		if _, code := newCtx.execute(); code.IsError() {
			ic.Abortf(code, "failed to construct account actor")
		}
		created = true
	}

	targetActor, found, err := ic.rt.tree.GetActor(targetIDAddr)
	if err != nil {
		panic(err)
	}
	if !found && created {
		panic(fmt.Errorf("unreachable: actor is supposed to exist but it does not. addr: %s, idAddr: %s", target, targetIDAddr))
	}
	if !found {
		ic.Abortf(exitcode.SysErrInvalidReceiver, "actor at address %s registered but not found", targetIDAddr.String())
	}

	return targetActor, targetIDAddr
}

func (ic *invocationContext) replace(obj cbor.Marshaler) cid.Cid {
	actr, found, err := ic.rt.tree.GetActor(ic.msg.to)
	if err != nil {
		panic(err)
	}
	if !found {
		ic.rt.Abortf(exitcode.ErrIllegalState, "failed to find actor %s for state", ic.msg.to)
	}
	c, err := ic.rt.store.Put(ic.rt.ctx, obj)
	if err != nil {
		ic.rt.Abortf(exitcode.ErrIllegalState, "could not save new state")
	}
	actr.Head = c
	if err := ic.rt.tree.SetActor(ic.msg.to, actr); err != nil {
		ic.rt.Abortf(exitcode.ErrIllegalState, "could not save actor %s", ic.msg.to)
	}
	return c
}

// Checks that state objects weren't modified outside of transaction.
func (ic *invocationContext) checkStateObjectsUnmodified() {
	for obj, expectedKey := range ic.stateUsedObjs { // nolint:nomaprange
		// Recompute the CID of the object and check it's the same as was recorded
		// when the object was loaded.
		finalKey, _, err := ipld.MarshalCBOR(obj)
		if err != nil {
			ic.Abortf(exitcode.SysErrorIllegalActor, "error marshalling state object for validation: %v", err)
		}
		if finalKey != expectedKey {
			ic.Abortf(exitcode.SysErrorIllegalActor, "State mutated outside of transaction scope")
		}
	}
}

func decodeBytes(t reflect.Type, argBytes []byte) (interface{}, error) {
	if t.Kind() != reflect.Ptr {
		return nil, errors.Errorf("method argument %v is not a pointer", t)
	}
	obj, ok := reflect.New(t.Elem()).Interface().(cbor.Unmarshaler)
	if !ok {
		return nil, errors.New("method argument cannot be decoded")
	}
	if err := obj.UnmarshalCBOR(bytes.NewReader(argBytes)); err != nil {
		return nil, err
	}
	return obj, nil
}

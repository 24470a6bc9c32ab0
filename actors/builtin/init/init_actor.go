package init

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	rtt "github.com/filecoin-project/go-state-types/rt"
	cid "github.com/ipfs/go-cid"

	"github.com/filecoin-project/custody-actors/actors/builtin"
	"github.com/filecoin-project/custody-actors/actors/runtime"
	"github.com/filecoin-project/custody-actors/actors/util/adt"
)

// The init actor uniquely has the power to create new actors.
// It maintains a table resolving pubkey and temporary actor addresses to the canonical ID-addresses,
// and the table of installed code templates that Exec instantiates.
type Actor struct{}

func (a Actor) Exports() []interface{} {
	return []interface{}{
		builtin.MethodConstructor: a.Constructor,
		3:                         a.Exec,
	}
}

func (a Actor) Code() cid.Cid {
	return builtin.InitActorCodeID
}

func (a Actor) State() cbor.Er {
	return new(State)
}

var _ runtime.VMActor = Actor{}

type ConstructorParams struct {
	NetworkName string
}

func (a Actor) Constructor(rt runtime.Runtime, params *ConstructorParams) *abi.EmptyValue {
	rt.ValidateImmediateCallerIs(builtin.SystemActorAddr)
	st, err := ConstructState(adt.AsStore(rt), params.NetworkName)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to construct state")
	rt.StateCreate(st)
	return nil
}

type ExecParams struct {
	TemplateID        uint64
	Label             string
	ConstructorParams []byte
}

type ExecReturn struct {
	IDAddress     addr.Address // The canonical ID-based address for the actor.
	RobustAddress addr.Address // A more expensive but re-org-safe address for the newly created actor.
}

func (a Actor) Exec(rt runtime.Runtime, params *ExecParams) *ExecReturn {
	rt.ValidateImmediateCallerAcceptAny()

	var st State
	rt.StateReadonly(&st)
	code, found, err := st.TemplateCode(adt.AsStore(rt), params.TemplateID)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load template %d", params.TemplateID)
	if !found {
		rt.Abortf(exitcode.ErrNotFound, "no template installed with id %d", params.TemplateID)
	}
	if !canExec(code) {
		rt.Abortf(exitcode.ErrForbidden, "template %d of type %v cannot be instantiated", params.TemplateID, builtin.ActorNameByCode(code))
	}

	// Compute a re-org-stable address.
	// This address exists for use by messages coming from outside the system, in order to
	// stably address the newly created actor even if a chain re-org causes it to end up with
	// a different ID.
	uniqueAddress := rt.NewActorAddress()

	// Allocate an ID for this actor.
	// Store mapping of pubkey or actor address to actor ID
	var idAddr addr.Address
	rt.StateTransaction(&st, func() {
		idAddr, err = st.MapAddressToNewID(adt.AsStore(rt), uniqueAddress)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to allocate ID address")
	})

	// Create an empty actor.
	rt.CreateActor(code, idAddr)

	// Queue the constructor, forwarding the received value.
	rt.Send(idAddr, builtin.MethodConstructor, runtime.CBORBytes(params.ConstructorParams), rt.ValueReceived())

	rt.Log(rtt.INFO, "instantiated %s %v (%v) from template %d for %v", params.Label, idAddr, uniqueAddress, params.TemplateID, rt.Caller())
	return &ExecReturn{IDAddress: idAddr, RobustAddress: uniqueAddress}
}

func canExec(code cid.Cid) bool {
	// Account actors are created implicitly by sending value, singletons exist from genesis.
	switch {
	case code.Equals(builtin.AccountActorCodeID),
		code.Equals(builtin.SystemActorCodeID),
		code.Equals(builtin.InitActorCodeID):
		return false
	default:
		return builtin.IsBuiltinActor(code)
	}
}

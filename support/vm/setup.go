package vm

import (
	"context"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"

	"github.com/filecoin-project/custody-actors/actors/builtin"
	"github.com/filecoin-project/custody-actors/actors/builtin/account"
	"github.com/filecoin-project/custody-actors/actors/builtin/exported"
	init_ "github.com/filecoin-project/custody-actors/actors/builtin/init"
	"github.com/filecoin-project/custody-actors/actors/builtin/system"
	"github.com/filecoin-project/custody-actors/actors/coin"
	"github.com/filecoin-project/custody-actors/actors/states"
	"github.com/filecoin-project/custody-actors/actors/util/adt"
)

// Template id under which genesis installs the custody actor code.
const CustodyTemplateID uint64 = 0

//
// Genesis like setup
//

// Creates a new VM with all builtin actor implementations, and initializes the system and init
// singletons. The init actor has the custody code installed as template CustodyTemplateID.
func NewGenesisVM(ctx context.Context, store adt.Store, networkName string) (*VM, error) {
	lookup := ActorImplLookup{}
	for _, ba := range exported.BuiltinActors() {
		lookup[ba.Code()] = ba
	}

	vm, err := NewVM(ctx, lookup, store)
	if err != nil {
		return nil, err
	}

	if err := vm.initializeActor(&system.State{}, builtin.SystemActorCodeID, builtin.SystemActorAddr, nil); err != nil {
		return nil, errors.Wrap(err, "failed to create system actor")
	}

	initState, err := init_.ConstructState(store, networkName)
	if err != nil {
		return nil, err
	}
	templateID, err := initState.InstallTemplate(store, builtin.CustodyActorCodeID)
	if err != nil {
		return nil, err
	}
	if templateID != CustodyTemplateID {
		return nil, errors.Errorf("custody template installed as %d", templateID)
	}
	if err := vm.initializeActor(initState, builtin.InitActorCodeID, builtin.InitActorAddr, nil); err != nil {
		return nil, errors.Wrap(err, "failed to create init actor")
	}

	if _, err := vm.checkpoint(); err != nil {
		return nil, err
	}
	return vm, nil
}

// CreateAccount registers a key address with the init actor and creates an account actor for it
// holding the given balance. It returns the ID address assigned.
func (vm *VM) CreateAccount(pubAddr address.Address, balance coin.Coins) (address.Address, error) {
	if err := balance.Validate(); err != nil {
		return address.Undef, errors.Wrapf(err, "invalid balance for %v", pubAddr)
	}

	var initState init_.State
	if err := vm.GetState(builtin.InitActorAddr, &initState); err != nil {
		return address.Undef, err
	}
	idAddr, err := initState.MapAddressToNewID(vm.store, pubAddr)
	if err != nil {
		return address.Undef, err
	}
	if err := vm.SetActorState(builtin.InitActorAddr, &initState); err != nil {
		return address.Undef, err
	}

	st := &account.State{Address: pubAddr}
	if err := vm.initializeActor(st, builtin.AccountActorCodeID, idAddr, balance); err != nil {
		return address.Undef, err
	}
	return idAddr, nil
}

func (vm *VM) initializeActor(state cbor.Marshaler, code cid.Cid, a address.Address, balance coin.Coins) error {
	stateCID, err := vm.store.Put(vm.ctx, state)
	if err != nil {
		return err
	}
	actor := &states.Actor{
		Head:    stateCID,
		Code:    code,
		Balance: balance,
	}
	return vm.tree.SetActor(a, actor)
}

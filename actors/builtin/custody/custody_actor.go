package custody

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	rtt "github.com/filecoin-project/go-state-types/rt"
	cid "github.com/ipfs/go-cid"

	"github.com/filecoin-project/custody-actors/actors/builtin"
	init_ "github.com/filecoin-project/custody-actors/actors/builtin/init"
	"github.com/filecoin-project/custody-actors/actors/coin"
	"github.com/filecoin-project/custody-actors/actors/runtime"
	"github.com/filecoin-project/custody-actors/actors/serde"
)

// The custody actor holds funds on behalf of an admin.
// A master custody actor spawns a slave at construction and can later redirect its whole balance
// to the slave, which forwards it to the admin.
type Actor struct{}

func (a Actor) Exports() []interface{} {
	return []interface{}{
		builtin.MethodConstructor: a.Constructor,
		builtin.MethodReply:       a.Reply,
		3:                         a.RedirectFunds,
		4:                         a.TakeMyNativeMoney,
		5:                         a.Withdraw,
		6:                         a.GetMasterBalance,
	}
}

func (a Actor) Code() cid.Cid {
	return builtin.CustodyActorCodeID
}

func (a Actor) State() cbor.Er {
	return new(State)
}

var _ runtime.VMActor = Actor{}

type ConstructorParams struct {
	Admin           string
	CreateSlave     bool
	SlaveTemplateID uint64
}

func (a Actor) Constructor(rt runtime.Runtime, params *ConstructorParams) *abi.EmptyValue {
	rt.ValidateImmediateCallerIs(builtin.InitActorAddr)

	admin := builtin.ValidateAddress(rt, params.Admin)
	rt.StateCreate(ConstructState(admin))
	if !params.CreateSlave {
		return nil
	}

	slaveParams, err := serde.Serialize(&ConstructorParams{
		Admin:           admin.String(),
		CreateSlave:     false,
		SlaveTemplateID: 0,
	})
	builtin.RequireNoErr(rt, err, exitcode.ErrSerialization, "failed to serialize slave constructor params")

	rt.SendWithReply(builtin.InitActorAddr, builtin.MethodsInit.Exec, &init_.ExecParams{
		TemplateID:        params.SlaveTemplateID,
		Label:             SlaveLabel,
		ConstructorParams: slaveParams,
	}, nil, SpawnReplyID, runtime.ReplyAlways)

	rt.Log(rtt.INFO, "custody actor %v requested a slave from template %d", rt.Receiver(), params.SlaveTemplateID)
	return nil
}

type ReplyParams = runtime.ReplyParams

// Reply records the slave address from the outcome of the spawn request.
func (a Actor) Reply(rt runtime.Runtime, params *ReplyParams) *abi.EmptyValue {
	rt.ValidateImmediateCallerIs(builtin.SystemActorAddr)

	if params.ID != SpawnReplyID {
		rt.Abortf(exitcode.ErrForbidden, "unexpected reply id %d", params.ID)
	}
	if !params.ExitCode.IsSuccess() {
		rt.Abortf(exitcode.ErrForbidden, "slave instantiation failed with exit code %v", params.ExitCode)
	}

	var ret init_.ExecReturn
	if err := serde.Deserialize(params.Return, &ret); err != nil {
		rt.Abortf(exitcode.ErrForbidden, "failed to parse slave instantiation result: %v", err)
	}
	child := ret.IDAddress
	builtin.RequireParam(rt, child.Protocol() == addr.ID, "slave address %v is not an ID address", child)

	var st State
	rt.StateTransaction(&st, func() {
		if err := st.SetChild(child); err != nil {
			rt.Abortf(exitcode.ErrForbidden, "failed to record slave: %v", err)
		}
	})
	rt.Log(rtt.INFO, "custody actor %v recorded slave %v", rt.Receiver(), child)
	return nil
}

// RedirectFunds moves the whole native balance to the slave and instructs it to withdraw to the admin.
func (a Actor) RedirectFunds(rt runtime.Runtime, _ *abi.EmptyValue) *abi.EmptyValue {
	rt.ValidateImmediateCallerAcceptAny()

	var st State
	rt.StateReadonly(&st)
	requireAdmin(rt, &st)
	if !st.HasChild() {
		rt.Abortf(exitcode.ErrForbidden, "no slave recorded")
	}
	child := *st.Child

	balance := rt.CurrentBalance(builtin.NativeDenom)
	rt.Send(child, builtin.MethodSend, nil, nativeCoins(balance))
	rt.Send(child, builtin.MethodsCustody.Withdraw, &WithdrawParams{Admin: st.Admin.String()}, nil)
	return nil
}

// TakeMyNativeMoney accepts a deposit carrying exactly one fund attachment.
func (a Actor) TakeMyNativeMoney(rt runtime.Runtime, _ *abi.EmptyValue) *abi.EmptyValue {
	rt.ValidateImmediateCallerAcceptAny()

	if n := len(rt.ValueReceived()); n != 1 {
		rt.Abortf(exitcode.ErrForbidden, "expected exactly one fund attachment, got %d", n)
	}
	return nil
}

type WithdrawParams struct {
	Admin string
}

// Withdraw sends the whole native balance to the admin named in the params.
// The caller is not checked: the master forwards this instruction on behalf of the admin.
func (a Actor) Withdraw(rt runtime.Runtime, params *WithdrawParams) *abi.EmptyValue {
	rt.ValidateImmediateCallerAcceptAny()

	admin := builtin.ValidateAddress(rt, params.Admin)
	var st State
	rt.StateReadonly(&st)
	if !st.IsAdmin(admin) {
		rt.Abortf(exitcode.ErrForbidden, "%v is not the admin", admin)
	}

	balance := rt.CurrentBalance(builtin.NativeDenom)
	rt.Send(st.Admin, builtin.MethodSend, nil, nativeCoins(balance))
	return nil
}

type GetMasterBalanceReturn struct {
	Count big.Int
}

// GetMasterBalance is declared for compatibility but not supported.
func (a Actor) GetMasterBalance(rt runtime.Runtime, _ *abi.EmptyValue) *GetMasterBalanceReturn {
	rt.ValidateImmediateCallerAcceptAny()
	rt.Abortf(ErrQueryUnsupported, "balance query is not supported")
	return nil
}

// Aborts unless the caller is the admin, either directly or through the ID address it resolves to.
func requireAdmin(rt runtime.Runtime, st *State) {
	caller := rt.Caller()
	if st.IsAdmin(caller) {
		return
	}
	if resolved, ok := rt.ResolveAddress(st.Admin); ok && resolved == caller {
		return
	}
	rt.Abortf(exitcode.ErrForbidden, "caller %v is not the admin", caller)
}

func nativeCoins(amount abi.TokenAmount) coin.Coins {
	return coin.NewCoins(coin.NewCoin(builtin.NativeDenom, amount))
}

package custody_test

import (
	"context"
	"testing"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/custody-actors/actors/builtin"
	"github.com/filecoin-project/custody-actors/actors/builtin/custody"
	init_ "github.com/filecoin-project/custody-actors/actors/builtin/init"
	"github.com/filecoin-project/custody-actors/actors/coin"
	"github.com/filecoin-project/custody-actors/actors/runtime"
	"github.com/filecoin-project/custody-actors/actors/serde"
	"github.com/filecoin-project/custody-actors/support/mock"
	tutil "github.com/filecoin-project/custody-actors/support/testing"
)

func TestExports(t *testing.T) {
	mock.CheckActorExports(t, custody.Actor{})
}

func TestConstruction(t *testing.T) {
	receiver := tutil.NewIDAddr(t, 100)
	admin := tutil.NewIDAddr(t, 101)
	builder := mock.NewBuilder(context.Background(), receiver).
		WithCaller(builtin.InitActorAddr, builtin.InitActorCodeID)

	t.Run("without slave records only the admin", func(t *testing.T) {
		for _, a := range []addr.Address{
			admin,
			tutil.NewSECP256K1Addr(t, "admin"),
			tutil.NewBLSAddr(t, 1),
			tutil.NewActorAddr(t, "admin"),
		} {
			rt := builder.Build(t)
			h := newHarness(t, a)
			h.constructAndVerify(rt, false, 0)

			st := h.getState(rt)
			assert.Equal(t, a, st.Admin)
			assert.Nil(t, st.Child)
			h.checkState(rt)
		}
	})

	t.Run("with slave queues one spawn request", func(t *testing.T) {
		rt := builder.Build(t)
		h := newHarness(t, admin)
		h.constructAndVerify(rt, true, 7)

		st := h.getState(rt)
		assert.Equal(t, admin, st.Admin)
		assert.Nil(t, st.Child)
		h.checkState(rt)
	})

	t.Run("malformed admin is an invalid address", func(t *testing.T) {
		for _, s := range []string{"", "not-an-address", "x0101", "t0"} {
			rt := builder.Build(t)
			rt.ExpectValidateCallerAddr(builtin.InitActorAddr)
			rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
				rt.Call(custody.Actor{}.Constructor, &custody.ConstructorParams{Admin: s, CreateSlave: true, SlaveTemplateID: 1})
			})
			rt.Verify()
			assert.False(t, rt.StateRoot().Defined())
		}
	})

	t.Run("only the init actor may construct", func(t *testing.T) {
		rt := builder.Build(t)
		rt.SetCaller(admin, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAddr(builtin.InitActorAddr)
		rt.ExpectAbort(exitcode.ErrForbidden, func() {
			rt.Call(custody.Actor{}.Constructor, &custody.ConstructorParams{Admin: admin.String()})
		})
		rt.Verify()
	})
}

func TestReply(t *testing.T) {
	receiver := tutil.NewIDAddr(t, 100)
	admin := tutil.NewIDAddr(t, 101)
	slave := tutil.NewIDAddr(t, 102)
	builder := mock.NewBuilder(context.Background(), receiver).
		WithCaller(builtin.InitActorAddr, builtin.InitActorCodeID)

	setup := func(t *testing.T) (*mock.Runtime, *actorHarness) {
		rt := builder.Build(t)
		h := newHarness(t, admin)
		h.constructAndVerify(rt, true, 0)
		rt.SetCaller(builtin.SystemActorAddr, builtin.SystemActorCodeID)
		return rt, h
	}

	t.Run("successful spawn records the slave", func(t *testing.T) {
		rt, h := setup(t)
		h.reply(rt, h.spawnReply(slave))

		st := h.getState(rt)
		assert.Equal(t, admin, st.Admin)
		require.NotNil(t, st.Child)
		assert.Equal(t, slave, *st.Child)
		h.checkState(rt)
	})

	t.Run("mismatched id is unauthorized and leaves state unchanged", func(t *testing.T) {
		rt, h := setup(t)
		before := rt.StateRoot()
		params := h.spawnReply(slave)
		params.ID = custody.SpawnReplyID + 1
		h.replyAndFail(rt, params, exitcode.ErrForbidden)
		assert.Equal(t, before, rt.StateRoot())
		assert.Nil(t, h.getState(rt).Child)
	})

	t.Run("failed spawn is unauthorized", func(t *testing.T) {
		rt, h := setup(t)
		h.replyAndFail(rt, &custody.ReplyParams{
			ID:       custody.SpawnReplyID,
			ExitCode: exitcode.ErrNotFound,
		}, exitcode.ErrForbidden)
		assert.Nil(t, h.getState(rt).Child)
	})

	t.Run("unparsable outcome is unauthorized", func(t *testing.T) {
		rt, h := setup(t)
		h.replyAndFail(rt, &custody.ReplyParams{
			ID:       custody.SpawnReplyID,
			ExitCode: exitcode.Ok,
			Return:   []byte{0xde, 0xad},
		}, exitcode.ErrForbidden)
		assert.Nil(t, h.getState(rt).Child)
	})

	t.Run("slave must be an ID address", func(t *testing.T) {
		rt, h := setup(t)
		h.replyAndFail(rt, h.spawnReply(tutil.NewActorAddr(t, "slave")), exitcode.ErrIllegalArgument)
		assert.Nil(t, h.getState(rt).Child)
	})

	t.Run("slave is never overwritten", func(t *testing.T) {
		rt, h := setup(t)
		h.reply(rt, h.spawnReply(slave))
		h.replyAndFail(rt, h.spawnReply(tutil.NewIDAddr(t, 103)), exitcode.ErrForbidden)
		assert.Equal(t, slave, *h.getState(rt).Child)
	})

	t.Run("only the system actor delivers replies", func(t *testing.T) {
		rt, h := setup(t)
		rt.SetCaller(admin, builtin.AccountActorCodeID)
		h.replyAndFail(rt, h.spawnReply(slave), exitcode.ErrForbidden)
	})
}

func TestRedirectFunds(t *testing.T) {
	receiver := tutil.NewIDAddr(t, 100)
	admin := tutil.NewIDAddr(t, 101)
	slave := tutil.NewIDAddr(t, 102)
	builder := mock.NewBuilder(context.Background(), receiver).
		WithCaller(builtin.InitActorAddr, builtin.InitActorCodeID)

	setup := func(t *testing.T, admin addr.Address, withSlave bool) (*mock.Runtime, *actorHarness) {
		rt := builder.Build(t)
		h := newHarness(t, admin)
		h.constructAndVerify(rt, true, 0)
		if withSlave {
			rt.SetCaller(builtin.SystemActorAddr, builtin.SystemActorCodeID)
			h.reply(rt, h.spawnReply(slave))
		}
		return rt, h
	}

	t.Run("moves the whole balance then instructs the slave", func(t *testing.T) {
		rt, h := setup(t, admin, true)
		rt.SetBalance(nativeCoins(100))
		rt.SetCaller(admin, builtin.AccountActorCodeID)

		h.redirect(rt, slave, 100)
		assert.True(t, rt.GetBalance().IsZero())
		h.checkState(rt)
	})

	t.Run("other denominations stay behind", func(t *testing.T) {
		rt, h := setup(t, admin, true)
		rt.SetBalance(coin.NewCoins(
			coin.NewCoin(builtin.NativeDenom, abi.NewTokenAmount(40)),
			coin.NewCoin("uatom", abi.NewTokenAmount(3)),
		))
		rt.SetCaller(admin, builtin.AccountActorCodeID)

		h.redirect(rt, slave, 40)
		assert.Equal(t, abi.NewTokenAmount(3), rt.GetBalance().AmountOf("uatom"))
	})

	t.Run("empty balance still emits both effects", func(t *testing.T) {
		rt, h := setup(t, admin, true)
		rt.SetCaller(admin, builtin.AccountActorCodeID)
		h.redirect(rt, slave, 0)
	})

	t.Run("admin known by a robust address", func(t *testing.T) {
		robust := tutil.NewSECP256K1Addr(t, "admin")
		rt, h := setup(t, robust, true)
		rt.AddIDAddress(robust, admin)
		rt.SetBalance(nativeCoins(5))
		rt.SetCaller(admin, builtin.AccountActorCodeID)
		h.redirect(rt, slave, 5)
	})

	t.Run("non-admin is unauthorized", func(t *testing.T) {
		rt, h := setup(t, admin, true)
		rt.SetBalance(nativeCoins(100))
		for _, caller := range []addr.Address{tutil.NewIDAddr(t, 999), slave, receiver} {
			rt.SetCaller(caller, builtin.AccountActorCodeID)
			rt.ExpectValidateCallerAny()
			rt.ExpectAbort(exitcode.ErrForbidden, func() {
				rt.Call(h.RedirectFunds, nil)
			})
			rt.Verify()
		}
		assert.Equal(t, abi.NewTokenAmount(100), rt.GetBalance().AmountOf(builtin.NativeDenom))
	})

	t.Run("admin without slave is unauthorized", func(t *testing.T) {
		rt, h := setup(t, admin, false)
		rt.SetBalance(nativeCoins(100))
		rt.SetCaller(admin, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAny()
		rt.ExpectAbortContainsMessage(exitcode.ErrForbidden, "no slave", func() {
			rt.Call(h.RedirectFunds, nil)
		})
		rt.Verify()
	})
}

func TestWithdraw(t *testing.T) {
	receiver := tutil.NewIDAddr(t, 102)
	admin := tutil.NewIDAddr(t, 101)
	master := tutil.NewIDAddr(t, 100)
	builder := mock.NewBuilder(context.Background(), receiver).
		WithCaller(builtin.InitActorAddr, builtin.InitActorCodeID)

	setup := func(t *testing.T) (*mock.Runtime, *actorHarness) {
		rt := builder.Build(t)
		h := newHarness(t, admin)
		h.constructAndVerify(rt, false, 0)
		rt.SetBalance(nativeCoins(100))
		return rt, h
	}

	t.Run("sends the whole balance to the admin", func(t *testing.T) {
		rt, h := setup(t)
		rt.SetCaller(master, builtin.CustodyActorCodeID)
		h.withdraw(rt, admin.String(), 100)
		assert.True(t, rt.GetBalance().IsZero())
	})

	t.Run("any caller naming the admin is accepted", func(t *testing.T) {
		rt, h := setup(t)
		rt.SetCaller(tutil.NewIDAddr(t, 999), builtin.AccountActorCodeID)
		h.withdraw(rt, admin.String(), 100)
	})

	t.Run("malformed admin is an invalid address", func(t *testing.T) {
		rt, h := setup(t)
		rt.SetCaller(master, builtin.CustodyActorCodeID)
		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
			rt.Call(h.Withdraw, &custody.WithdrawParams{Admin: "garbage"})
		})
		rt.Verify()
	})

	t.Run("other identity is unauthorized", func(t *testing.T) {
		rt, h := setup(t)
		rt.SetCaller(master, builtin.CustodyActorCodeID)
		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(exitcode.ErrForbidden, func() {
			rt.Call(h.Withdraw, &custody.WithdrawParams{Admin: master.String()})
		})
		rt.Verify()
		assert.Equal(t, abi.NewTokenAmount(100), rt.GetBalance().AmountOf(builtin.NativeDenom))
	})
}

func TestTakeMyNativeMoney(t *testing.T) {
	receiver := tutil.NewIDAddr(t, 100)
	admin := tutil.NewIDAddr(t, 101)
	depositor := tutil.NewIDAddr(t, 103)
	builder := mock.NewBuilder(context.Background(), receiver).
		WithCaller(builtin.InitActorAddr, builtin.InitActorCodeID)

	testCases := []struct {
		desc     string
		funds    coin.Coins
		exitCode exitcode.ExitCode
	}{
		{"no attachment", coin.NewCoins(), exitcode.ErrForbidden},
		{"one native attachment", nativeCoins(100), exitcode.Ok},
		{"one foreign attachment", coin.NewCoins(coin.NewCoin("uatom", abi.NewTokenAmount(1))), exitcode.Ok},
		{"one empty attachment", nativeCoins(0), exitcode.Ok},
		{"two attachments", coin.NewCoins(
			coin.NewCoin(builtin.NativeDenom, abi.NewTokenAmount(1)),
			coin.NewCoin("uatom", abi.NewTokenAmount(1)),
		), exitcode.ErrForbidden},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			rt := builder.Build(t)
			h := newHarness(t, admin)
			h.constructAndVerify(rt, false, 0)
			before := rt.StateRoot()

			rt.SetCaller(depositor, builtin.AccountActorCodeID)
			rt.SetReceived(tc.funds)
			rt.SetBalance(tc.funds)
			rt.ExpectValidateCallerAny()
			if tc.exitCode.IsSuccess() {
				rt.Call(h.TakeMyNativeMoney, nil)
			} else {
				rt.ExpectAbort(tc.exitCode, func() {
					rt.Call(h.TakeMyNativeMoney, nil)
				})
			}
			rt.Verify()
			assert.Equal(t, before, rt.StateRoot())
		})
	}
}

func TestGetMasterBalance(t *testing.T) {
	receiver := tutil.NewIDAddr(t, 100)
	admin := tutil.NewIDAddr(t, 101)
	rt := mock.NewBuilder(context.Background(), receiver).
		WithCaller(builtin.InitActorAddr, builtin.InitActorCodeID).
		Build(t)
	h := newHarness(t, admin)
	h.constructAndVerify(rt, false, 0)

	rt.SetCaller(admin, builtin.AccountActorCodeID)
	rt.SetBalance(nativeCoins(100))
	rt.ExpectValidateCallerAny()
	rt.ExpectAbort(custody.ErrQueryUnsupported, func() {
		rt.Call(h.GetMasterBalance, nil)
	})
	rt.Verify()
}

func TestScenario(t *testing.T) {
	master := tutil.NewIDAddr(t, 100)
	admin := tutil.NewIDAddr(t, 101)
	slave := tutil.NewIDAddr(t, 102)
	rt := mock.NewBuilder(context.Background(), master).
		WithCaller(builtin.InitActorAddr, builtin.InitActorCodeID).
		Build(t)
	h := newHarness(t, admin)

	// create with a slave from template 7: one spawn queued, no slave yet
	h.constructAndVerify(rt, true, 7)
	st := h.getState(rt)
	assert.Equal(t, admin, st.Admin)
	assert.Nil(t, st.Child)

	// the spawn completes
	rt.SetCaller(builtin.SystemActorAddr, builtin.SystemActorCodeID)
	h.reply(rt, h.spawnReply(slave))
	st = h.getState(rt)
	assert.Equal(t, admin, st.Admin)
	assert.Equal(t, slave, *st.Child)

	// a deposit arrives and the admin redirects it
	rt.SetCaller(tutil.NewIDAddr(t, 103), builtin.AccountActorCodeID)
	rt.SetReceived(nativeCoins(100))
	rt.SetBalance(nativeCoins(100))
	rt.ExpectValidateCallerAny()
	rt.Call(h.TakeMyNativeMoney, nil)
	rt.Verify()

	rt.SetReceived(coin.NewCoins())
	rt.SetCaller(admin, builtin.AccountActorCodeID)
	h.redirect(rt, slave, 100)
	h.checkState(rt)
}

type actorHarness struct {
	custody.Actor
	t     testing.TB
	admin addr.Address
}

func newHarness(t testing.TB, admin addr.Address) *actorHarness {
	return &actorHarness{
		Actor: custody.Actor{},
		t:     t,
		admin: admin,
	}
}

func (h *actorHarness) constructAndVerify(rt *mock.Runtime, createSlave bool, templateID uint64) {
	rt.ExpectValidateCallerAddr(builtin.InitActorAddr)
	if createSlave {
		slaveParams := serde.MustSerialize(&custody.ConstructorParams{
			Admin:           h.admin.String(),
			CreateSlave:     false,
			SlaveTemplateID: 0,
		})
		rt.ExpectSendWithReply(builtin.InitActorAddr, builtin.MethodsInit.Exec, &init_.ExecParams{
			TemplateID:        templateID,
			Label:             custody.SlaveLabel,
			ConstructorParams: slaveParams,
		}, nil, custody.SpawnReplyID, runtime.ReplyAlways)
	}
	ret := rt.Call(h.Constructor, &custody.ConstructorParams{
		Admin:           h.admin.String(),
		CreateSlave:     createSlave,
		SlaveTemplateID: templateID,
	})
	assert.Nil(h.t, ret)
	rt.Verify()
}

func (h *actorHarness) spawnReply(slave addr.Address) *custody.ReplyParams {
	robust, err := addr.NewActorAddress([]byte("slave"))
	require.NoError(h.t, err)
	return &custody.ReplyParams{
		ID:       custody.SpawnReplyID,
		ExitCode: exitcode.Ok,
		Return:   serde.MustSerialize(&init_.ExecReturn{IDAddress: slave, RobustAddress: robust}),
	}
}

func (h *actorHarness) reply(rt *mock.Runtime, params *custody.ReplyParams) {
	rt.ExpectValidateCallerAddr(builtin.SystemActorAddr)
	rt.Call(h.Reply, params)
	rt.Verify()
}

func (h *actorHarness) replyAndFail(rt *mock.Runtime, params *custody.ReplyParams, code exitcode.ExitCode) {
	rt.ExpectValidateCallerAddr(builtin.SystemActorAddr)
	rt.ExpectAbort(code, func() {
		rt.Call(h.Reply, params)
	})
	rt.Verify()
}

func (h *actorHarness) redirect(rt *mock.Runtime, slave addr.Address, amount int64) {
	st := h.getState(rt)
	rt.ExpectValidateCallerAny()
	rt.ExpectSend(slave, builtin.MethodSend, nil, nativeCoins(amount))
	rt.ExpectSend(slave, builtin.MethodsCustody.Withdraw, &custody.WithdrawParams{Admin: st.Admin.String()}, nil)
	rt.Call(h.RedirectFunds, nil)
	rt.Verify()
}

func (h *actorHarness) withdraw(rt *mock.Runtime, admin string, amount int64) {
	st := h.getState(rt)
	rt.ExpectValidateCallerAny()
	rt.ExpectSend(st.Admin, builtin.MethodSend, nil, nativeCoins(amount))
	rt.Call(h.Withdraw, &custody.WithdrawParams{Admin: admin})
	rt.Verify()
}

func (h *actorHarness) getState(rt *mock.Runtime) *custody.State {
	var st custody.State
	rt.GetState(&st)
	return &st
}

func (h *actorHarness) checkState(rt *mock.Runtime) {
	st := h.getState(rt)
	_, msgs := custody.CheckStateInvariants(st, rt.GetBalance())
	assert.True(h.t, msgs.IsEmpty(), msgs.Messages())
}

func nativeCoins(amount int64) coin.Coins {
	return coin.NewCoins(coin.NewCoin(builtin.NativeDenom, big.NewInt(amount)))
}

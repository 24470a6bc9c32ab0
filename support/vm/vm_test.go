package vm_test

import (
	"context"
	"testing"

	"github.com/filecoin-project/go-address"
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
	"github.com/filecoin-project/custody-actors/support/ipld"
	vm "github.com/filecoin-project/custody-actors/support/vm"
)

const otherDenom = "uatom"

func juno(amount int64) coin.Coins {
	return coin.NewCoins(coin.NewCoin(builtin.NativeDenom, abi.NewTokenAmount(amount)))
}

func TestCustodyLifecycle(t *testing.T) {
	ctx := context.Background()
	v := vm.NewVMWithSingletons(ctx, t, ipld.NewBlockStoreInMemory())
	addrs := vm.CreateAccounts(t, v, 2, juno(1000), 93837778)
	admin, depositor := addrs[0], addrs[1]

	master, slave := createMaster(t, v, admin, true)

	vm.ExpectInvocation{
		To:     builtin.InitActorAddr,
		Method: builtin.MethodsInit.Exec,
		SubInvocations: []vm.ExpectInvocation{{
			To:     master,
			Method: builtin.MethodsCustody.Constructor,
			From:   vm.ExpectAddress(builtin.InitActorAddr),
			SubInvocations: []vm.ExpectInvocation{{
				To:     builtin.InitActorAddr,
				Method: builtin.MethodsInit.Exec,
				From:   vm.ExpectAddress(master),
				SubInvocations: []vm.ExpectInvocation{{
					To:     slave,
					Method: builtin.MethodsCustody.Constructor,
					From:   vm.ExpectAddress(builtin.InitActorAddr),
				}},
			}, {
				To:     master,
				Method: builtin.MethodsCustody.Reply,
				From:   vm.ExpectAddress(builtin.SystemActorAddr),
			}},
		}},
	}.Matches(t, v.LastInvocation())
	vm.AssertLogsContain(t, v, custody.SlaveLabel)

	var masterSt custody.State
	require.NoError(t, v.GetState(master, &masterSt))
	assert.Equal(t, admin, masterSt.Admin)
	require.NotNil(t, masterSt.Child)
	assert.Equal(t, slave, *masterSt.Child)

	var slaveSt custody.State
	require.NoError(t, v.GetState(slave, &slaveSt))
	assert.Equal(t, admin, slaveSt.Admin)
	assert.Nil(t, slaveSt.Child)

	// deposit
	vm.ApplyOk(t, v, depositor, master, juno(100), builtin.MethodsCustody.TakeMyNativeMoney, nil)
	assert.Equal(t, big.NewInt(100), v.GetBalance(master).AmountOf(builtin.NativeDenom))
	assert.Equal(t, big.NewInt(900), v.GetBalance(depositor).AmountOf(builtin.NativeDenom))

	// redirect through the slave back to the admin
	vm.ApplyOk(t, v, admin, master, nil, builtin.MethodsCustody.RedirectFunds, nil)

	vm.ExpectInvocation{
		To:     master,
		Method: builtin.MethodsCustody.RedirectFunds,
		SubInvocations: []vm.ExpectInvocation{{
			To:     slave,
			Method: builtin.MethodSend,
			From:   vm.ExpectAddress(master),
			Value:  vm.ExpectCoins(coin.NewCoin(builtin.NativeDenom, abi.NewTokenAmount(100))),
		}, {
			To:     slave,
			Method: builtin.MethodsCustody.Withdraw,
			From:   vm.ExpectAddress(master),
			Params: vm.ExpectObject(&custody.WithdrawParams{Admin: admin.String()}),
			SubInvocations: []vm.ExpectInvocation{{
				To:     admin,
				Method: builtin.MethodSend,
				From:   vm.ExpectAddress(slave),
				Value:  vm.ExpectCoins(coin.NewCoin(builtin.NativeDenom, abi.NewTokenAmount(100))),
			}},
		}},
	}.Matches(t, v.LastInvocation())

	assert.True(t, v.GetBalance(master).IsZero())
	assert.True(t, v.GetBalance(slave).IsZero())
	assert.Equal(t, big.NewInt(1100), v.GetBalance(admin).AmountOf(builtin.NativeDenom))

	vm.CheckStateInvariants(t, v, juno(2000))

	stats := v.GetCallStats()[vm.MethodKey{Code: builtin.CustodyActorCodeID, Method: builtin.MethodsCustody.RedirectFunds}]
	require.NotNil(t, stats)
	assert.Equal(t, uint64(1), stats.Calls)
	assert.NotZero(t, stats.GetCalls)
}

func TestRedirectWithEmptyBalance(t *testing.T) {
	ctx := context.Background()
	v := vm.NewVMWithSingletons(ctx, t, ipld.NewBlockStoreInMemory())
	admin := vm.CreateAccounts(t, v, 1, juno(1000), 93837778)[0]
	master, slave := createMaster(t, v, admin, true)

	vm.ApplyOk(t, v, admin, master, nil, builtin.MethodsCustody.RedirectFunds, nil)

	// both messages are emitted even though there is nothing to move
	vm.ExpectInvocation{
		To:     master,
		Method: builtin.MethodsCustody.RedirectFunds,
		SubInvocations: []vm.ExpectInvocation{{
			To:     slave,
			Method: builtin.MethodSend,
			Value:  vm.ExpectCoins(coin.NewCoin(builtin.NativeDenom, big.Zero())),
		}, {
			To:     slave,
			Method: builtin.MethodsCustody.Withdraw,
			SubInvocations: []vm.ExpectInvocation{{
				To:     admin,
				Method: builtin.MethodSend,
			}},
		}},
	}.Matches(t, v.LastInvocation())
	assert.Equal(t, big.NewInt(1000), v.GetBalance(admin).AmountOf(builtin.NativeDenom))
	vm.CheckStateInvariants(t, v, juno(1000))
}

func TestRedirectRequiresAdminAndSlave(t *testing.T) {
	ctx := context.Background()
	v := vm.NewVMWithSingletons(ctx, t, ipld.NewBlockStoreInMemory())
	addrs := vm.CreateAccounts(t, v, 2, juno(1000), 93837778)
	admin, stranger := addrs[0], addrs[1]

	t.Run("non-admin is rejected", func(t *testing.T) {
		master, _ := createMaster(t, v, admin, true)
		vm.ApplyOk(t, v, stranger, master, juno(10), builtin.MethodsCustody.TakeMyNativeMoney, nil)

		vm.ApplyCode(t, v, stranger, master, nil, builtin.MethodsCustody.RedirectFunds, nil, exitcode.ErrForbidden)
		assert.Equal(t, big.NewInt(10), v.GetBalance(master).AmountOf(builtin.NativeDenom))
		assert.Empty(t, v.LastInvocation().SubInvocations)
	})

	t.Run("master without slave is rejected", func(t *testing.T) {
		master, _ := createMaster(t, v, admin, false)
		vm.ApplyOk(t, v, stranger, master, juno(10), builtin.MethodsCustody.TakeMyNativeMoney, nil)

		vm.ApplyCode(t, v, admin, master, nil, builtin.MethodsCustody.RedirectFunds, nil, exitcode.ErrForbidden)
		assert.Equal(t, big.NewInt(10), v.GetBalance(master).AmountOf(builtin.NativeDenom))
	})

	vm.CheckStateInvariants(t, v, juno(2000))
}

func TestFailedWithdrawRollsBackRedirect(t *testing.T) {
	ctx := context.Background()
	v := vm.NewVMWithSingletons(ctx, t, ipld.NewBlockStoreInMemory())
	addrs := vm.CreateAccounts(t, v, 2, juno(1000), 93837778)
	admin, stranger := addrs[0], addrs[1]
	master, slave := createMaster(t, v, admin, true)
	vm.ApplyOk(t, v, stranger, master, juno(100), builtin.MethodsCustody.TakeMyNativeMoney, nil)

	// the slave no longer recognizes the master's admin, so the forwarded withdraw fails
	require.NoError(t, v.SetActorState(slave, custody.ConstructState(stranger)))

	vm.ApplyCode(t, v, admin, master, nil, builtin.MethodsCustody.RedirectFunds, nil, exitcode.ErrForbidden)
	vm.ExpectInvocation{
		To:       master,
		Method:   builtin.MethodsCustody.RedirectFunds,
		Exitcode: exitcode.ErrForbidden,
		SubInvocations: []vm.ExpectInvocation{
			{To: slave, Method: builtin.MethodSend, Value: vm.ExpectCoins(juno(100)...)},
			{To: slave, Method: builtin.MethodsCustody.Withdraw, Exitcode: exitcode.ErrForbidden},
		},
	}.Matches(t, v.LastInvocation())

	// the transfer applied before the failed withdraw is undone
	assert.Equal(t, big.NewInt(100), v.GetBalance(master).AmountOf(builtin.NativeDenom))
	assert.True(t, v.GetBalance(slave).IsZero())
	assert.Equal(t, big.NewInt(1000), v.GetBalance(admin).AmountOf(builtin.NativeDenom))
	assert.Equal(t, big.NewInt(900), v.GetBalance(stranger).AmountOf(builtin.NativeDenom))
}

func TestFailedSpawnRollsBackMaster(t *testing.T) {
	ctx := context.Background()
	v := vm.NewVMWithSingletons(ctx, t, ipld.NewBlockStoreInMemory())
	admin := vm.CreateAccounts(t, v, 1, juno(1000), 93837778)[0]

	rootBefore, err := v.StateRoot()
	require.NoError(t, err)

	params := execParams(admin, true, 7)
	vm.ApplyCode(t, v, admin, builtin.InitActorAddr, nil, builtin.MethodsInit.Exec, params, exitcode.ErrForbidden)

	// the failed spawn is reported to the master, which rejects it
	vm.ExpectInvocation{
		To:       builtin.InitActorAddr,
		Method:   builtin.MethodsInit.Exec,
		Exitcode: exitcode.ErrForbidden,
		SubInvocations: []vm.ExpectInvocation{{
			To:       idAddr(t, 101),
			Method:   builtin.MethodsCustody.Constructor,
			Exitcode: exitcode.ErrForbidden,
			SubInvocations: []vm.ExpectInvocation{{
				To:       builtin.InitActorAddr,
				Method:   builtin.MethodsInit.Exec,
				Exitcode: exitcode.ErrNotFound,
			}, {
				To:       idAddr(t, 101),
				Method:   builtin.MethodsCustody.Reply,
				Exitcode: exitcode.ErrForbidden,
				Params:   vm.ExpectObject(&runtime.ReplyParams{ID: custody.SpawnReplyID, ExitCode: exitcode.ErrNotFound}),
			}},
		}},
	}.Matches(t, v.LastInvocation())

	rootAfter, err := v.StateRoot()
	require.NoError(t, err)
	assert.Equal(t, rootBefore, rootAfter)

	_, found, err := v.GetActor(idAddr(t, 101))
	require.NoError(t, err)
	assert.False(t, found)

	// the id is reused by the next successful instantiation
	master, _ := createMaster(t, v, admin, true)
	assert.Equal(t, idAddr(t, 101), master)
	vm.CheckStateInvariants(t, v, juno(1000))
}

func TestDepositAttachments(t *testing.T) {
	ctx := context.Background()
	v := vm.NewVMWithSingletons(ctx, t, ipld.NewBlockStoreInMemory())
	funds := coin.NewCoins(
		coin.NewCoin(builtin.NativeDenom, abi.NewTokenAmount(1000)),
		coin.NewCoin(otherDenom, abi.NewTokenAmount(1000)),
	)
	addrs := vm.CreateAccounts(t, v, 2, funds, 93837778)
	admin, depositor := addrs[0], addrs[1]
	master, _ := createMaster(t, v, admin, true)

	t.Run("no attachment is rejected", func(t *testing.T) {
		vm.ApplyCode(t, v, depositor, master, nil, builtin.MethodsCustody.TakeMyNativeMoney, nil, exitcode.ErrForbidden)
	})

	t.Run("two attachments are rejected and the transfer undone", func(t *testing.T) {
		two := coin.NewCoins(
			coin.NewCoin(builtin.NativeDenom, abi.NewTokenAmount(5)),
			coin.NewCoin(otherDenom, abi.NewTokenAmount(5)),
		)
		vm.ApplyCode(t, v, depositor, master, two, builtin.MethodsCustody.TakeMyNativeMoney, nil, exitcode.ErrForbidden)
		assert.True(t, v.GetBalance(master).IsZero())
		assert.True(t, funds.Equal(v.GetBalance(depositor)))
	})

	t.Run("zero amount attachment counts", func(t *testing.T) {
		vm.ApplyOk(t, v, depositor, master, juno(0), builtin.MethodsCustody.TakeMyNativeMoney, nil)
		assert.True(t, v.GetBalance(master).IsZero())
	})

	t.Run("other denomination is accepted but never redirected", func(t *testing.T) {
		atom := coin.NewCoins(coin.NewCoin(otherDenom, abi.NewTokenAmount(30)))
		vm.ApplyOk(t, v, depositor, master, atom, builtin.MethodsCustody.TakeMyNativeMoney, nil)
		vm.ApplyOk(t, v, admin, master, nil, builtin.MethodsCustody.RedirectFunds, nil)
		assert.True(t, atom.Equal(v.GetBalance(master)))
	})

	t.Run("insufficient funds", func(t *testing.T) {
		vm.ApplyCode(t, v, depositor, master, juno(5000), builtin.MethodsCustody.TakeMyNativeMoney, nil, exitcode.SysErrInsufficientFunds)
	})

	vm.CheckStateInvariants(t, v, coin.Add(funds, funds))
}

func TestWithdrawFromSlave(t *testing.T) {
	ctx := context.Background()
	v := vm.NewVMWithSingletons(ctx, t, ipld.NewBlockStoreInMemory())
	addrs := vm.CreateAccounts(t, v, 2, juno(1000), 93837778)
	admin, stranger := addrs[0], addrs[1]
	_, slave := createMaster(t, v, admin, true)

	vm.ApplyOk(t, v, stranger, slave, juno(50), builtin.MethodsCustody.TakeMyNativeMoney, nil)

	t.Run("wrong admin is rejected", func(t *testing.T) {
		params := &custody.WithdrawParams{Admin: stranger.String()}
		vm.ApplyCode(t, v, stranger, slave, nil, builtin.MethodsCustody.Withdraw, params, exitcode.ErrForbidden)
	})

	t.Run("malformed admin is rejected", func(t *testing.T) {
		params := &custody.WithdrawParams{Admin: "not an address"}
		vm.ApplyCode(t, v, stranger, slave, nil, builtin.MethodsCustody.Withdraw, params, exitcode.ErrIllegalArgument)
	})

	t.Run("any caller naming the admin withdraws to the admin", func(t *testing.T) {
		params := &custody.WithdrawParams{Admin: admin.String()}
		vm.ApplyOk(t, v, stranger, slave, nil, builtin.MethodsCustody.Withdraw, params)
		assert.True(t, v.GetBalance(slave).IsZero())
		assert.Equal(t, big.NewInt(1050), v.GetBalance(admin).AmountOf(builtin.NativeDenom))
	})

	vm.CheckStateInvariants(t, v, juno(2000))
}

func TestAdminByKeyAddress(t *testing.T) {
	ctx := context.Background()
	v := vm.NewVMWithSingletons(ctx, t, ipld.NewBlockStoreInMemory())
	admin := vm.CreateAccounts(t, v, 1, juno(1000), 93837778)[0]

	var pubkey address.Address
	ret := vm.ApplyOk(t, v, admin, admin, nil, builtin.MethodsAccount.PubkeyAddress, nil)
	require.NoError(t, serde.Deserialize(ret, &pubkey))
	require.Equal(t, address.BLS, pubkey.Protocol())

	// the admin is named by its key address, which resolves to the sending account
	ret = vm.ApplyOk(t, v, admin, builtin.InitActorAddr, nil, builtin.MethodsInit.Exec, &init_.ExecParams{
		TemplateID:        vm.CustodyTemplateID,
		Label:             "custody-master",
		ConstructorParams: serde.MustSerialize(&custody.ConstructorParams{Admin: pubkey.String(), CreateSlave: true}),
	})
	var execRet init_.ExecReturn
	require.NoError(t, serde.Deserialize(ret, &execRet))
	master := execRet.IDAddress

	vm.ApplyOk(t, v, admin, master, juno(40), builtin.MethodsCustody.TakeMyNativeMoney, nil)
	vm.ApplyOk(t, v, admin, master, nil, builtin.MethodsCustody.RedirectFunds, nil)
	assert.Equal(t, big.NewInt(1000), v.GetBalance(admin).AmountOf(builtin.NativeDenom))
	vm.CheckStateInvariants(t, v, juno(1000))
}

func TestForgedMessagesAreRejected(t *testing.T) {
	ctx := context.Background()
	v := vm.NewVMWithSingletons(ctx, t, ipld.NewBlockStoreInMemory())
	addrs := vm.CreateAccounts(t, v, 2, juno(1000), 93837778)
	admin, stranger := addrs[0], addrs[1]
	master, slave := createMaster(t, v, admin, true)

	t.Run("reply from an account", func(t *testing.T) {
		exec := serde.MustSerialize(&init_.ExecReturn{IDAddress: stranger, RobustAddress: stranger})
		params := &custody.ReplyParams{ID: custody.SpawnReplyID, ExitCode: exitcode.Ok, Return: exec}
		vm.ApplyCode(t, v, stranger, master, nil, builtin.MethodsCustody.Reply, params, exitcode.ErrForbidden)

		var st custody.State
		require.NoError(t, v.GetState(master, &st))
		assert.Equal(t, slave, *st.Child)
	})

	t.Run("constructor from an account", func(t *testing.T) {
		params := &custody.ConstructorParams{Admin: stranger.String()}
		vm.ApplyCode(t, v, stranger, master, nil, builtin.MethodsCustody.Constructor, params, exitcode.ErrForbidden)
	})

	t.Run("balance query is unsupported", func(t *testing.T) {
		vm.ApplyCode(t, v, stranger, master, nil, builtin.MethodsCustody.GetMasterBalance, nil, custody.ErrQueryUnsupported)
	})

	t.Run("unknown method", func(t *testing.T) {
		vm.ApplyCode(t, v, stranger, master, nil, abi.MethodNum(99), nil, exitcode.SysErrInvalidMethod)
	})

	vm.CheckStateInvariants(t, v, juno(2000))
}

func TestReceipts(t *testing.T) {
	ctx := context.Background()
	v := vm.NewVMWithSingletons(ctx, t, ipld.NewBlockStoreInMemory())
	addrs := vm.CreateAccounts(t, v, 2, juno(1000), 93837778)
	admin, stranger := addrs[0], addrs[1]
	master, _ := createMaster(t, v, admin, true)

	vm.ApplyOk(t, v, stranger, master, juno(1), builtin.MethodsCustody.TakeMyNativeMoney, nil)
	vm.ApplyCode(t, v, stranger, master, nil, builtin.MethodsCustody.RedirectFunds, nil, exitcode.ErrForbidden)
	vm.ApplyOk(t, v, stranger, master, juno(1), builtin.MethodsCustody.TakeMyNativeMoney, nil)

	receipts, err := v.Receipts()
	require.NoError(t, err)
	require.Len(t, receipts, 4)

	assert.Equal(t, exitcode.Ok, receipts[0].ExitCode)
	var execRet init_.ExecReturn
	require.NoError(t, serde.Deserialize(receipts[0].Return, &execRet))
	assert.Equal(t, master, execRet.IDAddress)

	assert.Equal(t, exitcode.ErrForbidden, receipts[2].ExitCode)
	assert.Empty(t, receipts[2].Return)

	// identical messages are told apart by their sequence number
	for _, r := range receipts {
		assert.Len(t, r.MessageHash, 32)
	}
	assert.NotEqual(t, receipts[1].MessageHash, receipts[3].MessageHash)

	root, err := v.ReceiptsRoot()
	require.NoError(t, err)
	assert.True(t, root.Defined())
}

func createMaster(t *testing.T, v *vm.VM, admin address.Address, createSlave bool) (address.Address, address.Address) {
	ret := vm.ApplyOk(t, v, admin, builtin.InitActorAddr, nil, builtin.MethodsInit.Exec, execParams(admin, createSlave, vm.CustodyTemplateID))

	var execRet init_.ExecReturn
	require.NoError(t, serde.Deserialize(ret, &execRet))
	master := execRet.IDAddress

	var st custody.State
	require.NoError(t, v.GetState(master, &st))
	if !createSlave {
		require.Nil(t, st.Child)
		return master, address.Undef
	}
	require.NotNil(t, st.Child)
	return master, *st.Child
}

func execParams(admin address.Address, createSlave bool, slaveTemplate uint64) *init_.ExecParams {
	return &init_.ExecParams{
		TemplateID: vm.CustodyTemplateID,
		Label:      "custody-master",
		ConstructorParams: serde.MustSerialize(&custody.ConstructorParams{
			Admin:           admin.String(),
			CreateSlave:     createSlave,
			SlaveTemplateID: slaveTemplate,
		}),
	}
}

func idAddr(t *testing.T, id uint64) address.Address {
	a, err := address.NewIDAddress(id)
	require.NoError(t, err)
	return a
}

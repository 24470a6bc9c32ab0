package main

import (
	gen "github.com/whyrusleeping/cbor-gen"

	account "github.com/filecoin-project/custody-actors/actors/builtin/account"
	custody "github.com/filecoin-project/custody-actors/actors/builtin/custody"
	init_ "github.com/filecoin-project/custody-actors/actors/builtin/init"
	system "github.com/filecoin-project/custody-actors/actors/builtin/system"
	coin "github.com/filecoin-project/custody-actors/actors/coin"
	runtime "github.com/filecoin-project/custody-actors/actors/runtime"
	states "github.com/filecoin-project/custody-actors/actors/states"
	vm "github.com/filecoin-project/custody-actors/support/vm"
)

func main() {
	// Common types
	if err := gen.WriteTupleEncodersToFile("./actors/coin/cbor_gen.go", "coin",
		coin.Coin{},
	); err != nil {
		panic(err)
	}

	if err := gen.WriteTupleEncodersToFile("./actors/runtime/cbor_gen.go", "runtime",
		runtime.ReplyParams{},
	); err != nil {
		panic(err)
	}

	if err := gen.WriteTupleEncodersToFile("./actors/states/cbor_gen.go", "states",
		states.Actor{},
	); err != nil {
		panic(err)
	}

	// Actors
	if err := gen.WriteTupleEncodersToFile("./actors/builtin/system/cbor_gen.go", "system",
		// actor state
		system.State{},
	); err != nil {
		panic(err)
	}

	if err := gen.WriteTupleEncodersToFile("./actors/builtin/account/cbor_gen.go", "account",
		// actor state
		account.State{},
	); err != nil {
		panic(err)
	}

	if err := gen.WriteTupleEncodersToFile("./actors/builtin/init/cbor_gen.go", "init",
		// actor state
		init_.State{},
		// method params
		init_.ConstructorParams{},
		init_.ExecParams{},
		init_.ExecReturn{},
	); err != nil {
		panic(err)
	}

	if err := gen.WriteTupleEncodersToFile("./actors/builtin/custody/cbor_gen.go", "custody",
		// actor state
		custody.State{},
		// method params
		custody.ConstructorParams{},
		custody.WithdrawParams{},
		custody.GetMasterBalanceReturn{},
	); err != nil {
		panic(err)
	}

	// Ledger
	if err := gen.WriteTupleEncodersToFile("./support/vm/cbor_gen.go", "vm",
		vm.Message{},
		vm.MessageReceipt{},
	); err != nil {
		panic(err)
	}
}

package vm

import (
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/exitcode"

	"github.com/filecoin-project/custody-actors/actors/coin"
)

// The canonical form of a top-level message, hashed to identify its receipt.
type Message struct {
	From    address.Address
	To      address.Address
	Value   coin.Coins
	Method  abi.MethodNum
	Params  []byte
	CallSeq uint64
}

type MessageReceipt struct {
	ExitCode    exitcode.ExitCode
	Return      []byte
	MessageHash []byte
}

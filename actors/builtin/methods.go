package builtin

import (
	"github.com/filecoin-project/go-state-types/abi"
)

const (
	MethodSend        = abi.MethodNum(0)
	MethodConstructor = abi.MethodNum(1)
	// Outcomes of messages sent with a reply request are delivered to this method of the sender.
	MethodReply = abi.MethodNum(2)
)

var MethodsAccount = struct {
	Constructor   abi.MethodNum
	PubkeyAddress abi.MethodNum
}{MethodConstructor, 3}

var MethodsInit = struct {
	Constructor abi.MethodNum
	Exec        abi.MethodNum
}{MethodConstructor, 3}

var MethodsCustody = struct {
	Constructor       abi.MethodNum
	Reply             abi.MethodNum
	RedirectFunds     abi.MethodNum
	TakeMyNativeMoney abi.MethodNum
	Withdraw          abi.MethodNum
	GetMasterBalance  abi.MethodNum
}{MethodConstructor, MethodReply, 3, 4, 5, 6}

package exported

import (
	"github.com/filecoin-project/custody-actors/actors/builtin/account"
	"github.com/filecoin-project/custody-actors/actors/builtin/custody"
	init_ "github.com/filecoin-project/custody-actors/actors/builtin/init"
	"github.com/filecoin-project/custody-actors/actors/builtin/system"
	"github.com/filecoin-project/custody-actors/actors/runtime"
)

func BuiltinActors() []runtime.VMActor {
	return []runtime.VMActor{
		account.Actor{},
		custody.Actor{},
		init_.Actor{},
		system.Actor{},
	}
}

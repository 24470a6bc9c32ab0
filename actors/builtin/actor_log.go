package builtin

import (
	"sync"

	"github.com/filecoin-project/go-state-types/rt"
	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/custody-actors/actors/runtime"
)

// ActorLog holds per-actor-code overrides of the level at which actors log.
type ActorLog struct {
	sync.RWMutex
	Actors map[cid.Cid]rt.LogLevel
}

var actorLogSingle *ActorLog

func init() {
	actorLogSingle = &ActorLog{Actors: make(map[cid.Cid]rt.LogLevel)}
}

func SetActorsLogLevel(logLevel rt.LogLevel, actors ...runtime.VMActor) {
	actorLogSingle.Lock()
	defer actorLogSingle.Unlock()

	for _, actor := range actors {
		actorLogSingle.Actors[actor.Code()] = logLevel
	}
}

func ResetActorsLogLevel(actors ...runtime.VMActor) {
	actorLogSingle.Lock()
	defer actorLogSingle.Unlock()

	for _, actor := range actors {
		delete(actorLogSingle.Actors, actor.Code())
	}
}

func GetActorLogLevel(actor runtime.VMActor, defValue rt.LogLevel) rt.LogLevel {
	actorLogSingle.RLock()
	defer actorLogSingle.RUnlock()

	actorLogLevel, ok := actorLogSingle.Actors[actor.Code()]
	if ok {
		return actorLogLevel
	}

	return defValue
}

package custody

import "github.com/filecoin-project/go-state-types/exitcode"

// Correlation id tagging the spawn request, matched against the id of the reply.
// Only one spawn ever happens per actor, so the id is a constant rather than state.
const SpawnReplyID uint64 = 0

// Label attached to the spawned slave actor.
const SlaveLabel = "custody-slave"

// Exit code of the balance query, which is declared but not supported.
const ErrQueryUnsupported = exitcode.FirstActorSpecificExitCode

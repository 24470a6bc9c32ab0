package runtime

import (
	"io"

	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	cid "github.com/ipfs/go-cid"
)

// Concrete types associated with the runtime interface.

// VMActor is the interface that all actor code types satisfy.
// Exports is indexed by method number; the entry at an index is the method invoked for that number.
type VMActor interface {
	Exports() []interface{}
	Code() cid.Cid
	State() cbor.Er
}

// ReplyOn selects which outcomes of a sent message are reported back to the sender.
type ReplyOn int64

const (
	ReplyNever ReplyOn = iota
	ReplyAlways
	ReplyOnSuccess
	ReplyOnError
)

// Reports reports whether an outcome with the given success is delivered back to the sender.
func (r ReplyOn) Reports(success bool) bool {
	switch r {
	case ReplyAlways:
		return true
	case ReplyOnSuccess:
		return success
	case ReplyOnError:
		return !success
	default:
		return false
	}
}

func (r ReplyOn) String() string {
	switch r {
	case ReplyNever:
		return "never"
	case ReplyAlways:
		return "always"
	case ReplyOnSuccess:
		return "success"
	case ReplyOnError:
		return "error"
	default:
		return "unknown"
	}
}

// The outcome of a message sent with a reply request, delivered by the ledger to the sender's
// reply method with the system actor as caller.
type ReplyParams struct {
	ID       uint64
	ExitCode exitcode.ExitCode
	Return   []byte
}

// Wraps already-serialized bytes as CBOR-marshalable.
type CBORBytes []byte

func (b CBORBytes) MarshalCBOR(w io.Writer) error {
	_, err := w.Write(b)
	return err
}

func (b *CBORBytes) UnmarshalCBOR(r io.Reader) error {
	var c []byte
	c, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	*b = c
	return nil
}

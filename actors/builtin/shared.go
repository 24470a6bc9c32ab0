package builtin

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/exitcode"

	"github.com/filecoin-project/custody-actors/actors/runtime"
)

///// Code shared by multiple built-in actors. /////

// The single denomination in which balances are queried and funds are moved by the custody actor.
const NativeDenom = "uJuno"

// Default log2 of branching factor for HAMTs.
// This value has been empirically chosen, but the optimal value for maps with different mutation profiles may differ.
const DefaultHamtBitwidth = 5

// Default bitwidth of AMTs.
const DefaultAmtBitwidth = 3

// Aborts with an ErrIllegalArgument if predicate is not true.
func RequireParam(rt runtime.Runtime, predicate bool, msg string, args ...interface{}) {
	if !predicate {
		rt.Abortf(exitcode.ErrIllegalArgument, msg, args...)
	}
}

// Aborts with a formatted message if err is not nil.
// The provided message will be suffixed by ": %s" and the provided args suffixed by the err.
// The exit code is taken from err if it carries one, otherwise defaultExitCode is used.
func RequireNoErr(rt runtime.Runtime, err error, defaultExitCode exitcode.ExitCode, msg string, args ...interface{}) {
	if err != nil {
		newMsg := msg + ": %s"
		newArgs := append(args, err)
		code := exitcode.Unwrap(err, defaultExitCode)
		rt.Abortf(code, newMsg, newArgs...)
	}
}

// ParseAddress parses an identity string, returning an error carrying ErrIllegalArgument
// if it is malformed or undefined.
func ParseAddress(s string) (addr.Address, error) {
	a, err := addr.NewFromString(s)
	if err != nil {
		return addr.Undef, exitcode.ErrIllegalArgument.Wrapf("invalid address %q: %w", s, err)
	}
	if a == addr.Undef {
		return addr.Undef, exitcode.ErrIllegalArgument.Wrapf("invalid address %q: undefined", s)
	}
	return a, nil
}

// ValidateAddress parses an identity string, aborting with ErrIllegalArgument if it is malformed.
func ValidateAddress(rt runtime.Runtime, s string) addr.Address {
	a, err := ParseAddress(s)
	RequireNoErr(rt, err, exitcode.ErrIllegalArgument, "failed to validate address")
	return a
}

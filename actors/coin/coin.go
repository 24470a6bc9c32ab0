package coin

import (
	"sort"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	xerrors "golang.org/x/xerrors"
)

// Coin is an amount of a single denomination.
type Coin struct {
	Denom  string
	Amount abi.TokenAmount
}

func NewCoin(denom string, amount abi.TokenAmount) Coin {
	return Coin{Denom: denom, Amount: amount}
}

func (c Coin) String() string {
	return c.Amount.String() + c.Denom
}

// Coins is a set of amounts keyed by denomination, kept sorted by denomination.
// Each entry corresponds to one attachment when carried by a message.
type Coins []Coin

// NewCoins builds a sorted set of coins. Duplicates are kept, see Validate.
func NewCoins(coins ...Coin) Coins {
	out := make(Coins, len(coins))
	copy(out, coins)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Denom < out[j].Denom })
	return out
}

// Validate checks that every entry has a denomination and a non-negative amount,
// and that no denomination appears twice.
func (cs Coins) Validate() error {
	seen := make(map[string]struct{}, len(cs))
	for _, c := range cs {
		if c.Denom == "" {
			return xerrors.Errorf("coin with empty denomination")
		}
		if c.Amount.Nil() || c.Amount.Sign() < 0 {
			return xerrors.Errorf("coin %s has negative or nil amount", c.Denom)
		}
		if _, ok := seen[c.Denom]; ok {
			return xerrors.Errorf("duplicate denomination %s", c.Denom)
		}
		seen[c.Denom] = struct{}{}
	}
	return nil
}

// AmountOf returns the amount held in denom, zero if absent.
func (cs Coins) AmountOf(denom string) abi.TokenAmount {
	for _, c := range cs {
		if c.Denom == denom {
			return c.Amount
		}
	}
	return big.Zero()
}

// IsZero is true when every entry holds zero.
func (cs Coins) IsZero() bool {
	for _, c := range cs {
		if !c.Amount.IsZero() {
			return false
		}
	}
	return true
}

// Equal compares entry by entry, in order. A nil set equals an empty one.
func (cs Coins) Equal(other Coins) bool {
	if len(cs) != len(other) {
		return false
	}
	for i := range cs {
		if cs[i].Denom != other[i].Denom || !cs[i].Amount.Equals(other[i].Amount) {
			return false
		}
	}
	return true
}

func (cs Coins) String() string {
	if len(cs) == 0 {
		return "[]"
	}
	s := ""
	for i, c := range cs {
		if i > 0 {
			s += ","
		}
		s += c.String()
	}
	return s
}

// Add returns the per-denomination sum of a and b. Zero entries are dropped.
func Add(a, b Coins) Coins {
	sums := map[string]abi.TokenAmount{}
	for _, set := range []Coins{a, b} {
		for _, c := range set {
			prev, ok := sums[c.Denom]
			if !ok {
				prev = big.Zero()
			}
			sums[c.Denom] = big.Add(prev, c.Amount)
		}
	}
	return fromSums(sums)
}

// Sub returns a minus b, failing if any denomination would go negative.
func Sub(a, b Coins) (Coins, error) {
	sums := map[string]abi.TokenAmount{}
	for _, c := range a {
		prev, ok := sums[c.Denom]
		if !ok {
			prev = big.Zero()
		}
		sums[c.Denom] = big.Add(prev, c.Amount)
	}
	for _, c := range b {
		prev, ok := sums[c.Denom]
		if !ok {
			prev = big.Zero()
		}
		rem := big.Sub(prev, c.Amount)
		if rem.Sign() < 0 {
			return nil, xerrors.Errorf("insufficient %s: have %v, need %v", c.Denom, prev, c.Amount)
		}
		sums[c.Denom] = rem
	}
	return fromSums(sums), nil
}

func fromSums(sums map[string]abi.TokenAmount) Coins {
	out := make(Coins, 0, len(sums))
	for denom, amt := range sums { //nolint:nomaprange
		if amt.IsZero() {
			continue
		}
		out = append(out, Coin{Denom: denom, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Denom < out[j].Denom })
	return out
}

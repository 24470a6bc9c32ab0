package agent

import (
	"math/rand"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/big"

	"github.com/filecoin-project/custody-actors/actors/builtin"
	"github.com/filecoin-project/custody-actors/actors/coin"
)

// DepositorAgent sends native deposits of random size to a master.
type DepositorAgent struct {
	Address   address.Address
	Deposited big.Int

	maxDeposit int64
	rnd        *rand.Rand
	deposits   *RateIterator
}

func NewDepositorAgent(addr address.Address, rate float64, maxDeposit int64, seed int64) *DepositorAgent {
	rnd := rand.New(rand.NewSource(seed))
	return &DepositorAgent{
		Address:    addr,
		Deposited:  big.Zero(),
		maxDeposit: maxDeposit,
		rnd:        rnd,
		deposits:   NewRateIterator(rate, rnd.Int63()),
	}
}

func (da *DepositorAgent) Tick(v VMState, master address.Address) ([]Message, error) {
	available := v.GetBalance(da.Address).AmountOf(builtin.NativeDenom)

	var msgs []Message
	err := da.deposits.Tick(func() error {
		amount := big.NewInt(1 + da.rnd.Int63n(da.maxDeposit))
		if available.LessThan(amount) {
			return nil
		}
		available = big.Sub(available, amount)
		da.Deposited = big.Add(da.Deposited, amount)
		msgs = append(msgs, Message{
			From:   da.Address,
			To:     master,
			Value:  coin.NewCoins(coin.NewCoin(builtin.NativeDenom, amount)),
			Method: builtin.MethodsCustody.TakeMyNativeMoney,
		})
		return nil
	})
	return msgs, err
}

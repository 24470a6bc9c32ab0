package agent

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	ipldcbor "github.com/ipfs/go-ipld-cbor"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/filecoin-project/custody-actors/actors/builtin"
	"github.com/filecoin-project/custody-actors/actors/coin"
	vm "github.com/filecoin-project/custody-actors/support/vm"
)

var log = logging.Logger("agent")

// Sim drives a population of agents against a ledger, one batch of messages per tick.
// The first account is the custodian's admin, every other account is a depositor.
type Sim struct {
	Config     SimConfig
	Accounts   []address.Address
	Custodian  *CustodianAgent
	Depositors []*DepositorAgent

	v             *vm.VM
	rnd           *rand.Rand
	statsByMethod map[vm.MethodKey]*vm.CallStats
}

type VMState interface {
	GetEpoch() abi.ChainEpoch
	GetState(addr address.Address, out cbor.Unmarshaler) error
	GetBalance(addr address.Address) coin.Coins
}

type SimConfig struct {
	AccountCount          int
	AccountInitialBalance abi.TokenAmount
	Seed                  int64
	// Expected deposits per depositor per tick.
	DepositRate float64
	// Largest single deposit.
	MaxDeposit int64
	// Expected redirects per tick once the custodian has a slave.
	RedirectRate float64
}

type ReturnHandler func(v VMState, msg Message, ret []byte) error

type Message struct {
	From          address.Address
	To            address.Address
	Value         coin.Coins
	Method        abi.MethodNum
	Params        cbor.Marshaler
	ReturnHandler ReturnHandler
}

func NewSim(ctx context.Context, t *testing.T, bs ipldcbor.IpldBlockstore, config SimConfig) *Sim {
	v := vm.NewVMWithSingletons(ctx, t, bs)
	balance := coin.NewCoins(coin.NewCoin(builtin.NativeDenom, config.AccountInitialBalance))
	accounts := vm.CreateAccounts(t, v, config.AccountCount, balance, config.Seed)

	s := &Sim{
		Config:   config,
		Accounts: accounts,
		v:        v,
		rnd:      rand.New(rand.NewSource(config.Seed)),
	}
	s.Custodian = NewCustodianAgent(accounts[0], config.RedirectRate, s.rnd.Int63())
	for _, a := range accounts[1:] {
		s.Depositors = append(s.Depositors, NewDepositorAgent(a, config.DepositRate, config.MaxDeposit, s.rnd.Int63()))
	}
	return s
}

func (s *Sim) Tick() error {
	var blockMessages []Message

	msgs, err := s.Custodian.Tick(s.v)
	if err != nil {
		return err
	}
	blockMessages = append(blockMessages, msgs...)

	// depositors start once the master exists
	if s.Custodian.Master != address.Undef {
		for _, d := range s.Depositors {
			msgs, err := d.Tick(s.v, s.Custodian.Master)
			if err != nil {
				return err
			}
			blockMessages = append(blockMessages, msgs...)
		}
	}

	s.rnd.Shuffle(len(blockMessages), func(i, j int) {
		blockMessages[i], blockMessages[j] = blockMessages[j], blockMessages[i]
	})

	for _, msg := range blockMessages {
		res, err := s.v.ApplyMessage(msg.From, msg.To, msg.Value, msg.Method, msg.Params)
		if err != nil {
			return err
		}
		// every agent message is expected to succeed
		if res.Code != exitcode.Ok {
			return errors.Errorf("exitcode %d: message failed: %v\n%s\n", res.Code, msg, strings.Join(s.v.Logs(), "\n"))
		}
		if msg.ReturnHandler != nil {
			if err := msg.ReturnHandler(s.v, msg, res.Ret); err != nil {
				return err
			}
		}
	}
	log.Debugw("tick", "epoch", s.v.GetEpoch(), "messages", len(blockMessages))

	s.statsByMethod = s.v.GetCallStats()
	s.v.SetEpoch(s.v.GetEpoch() + 1)
	return nil
}

func (s *Sim) GetCallStats() map[vm.MethodKey]*vm.CallStats {
	return s.statsByMethod
}

func (s *Sim) GetVM() *vm.VM {
	return s.v
}

// TotalBalance is the native amount created at genesis, which every tick conserves.
func (s *Sim) TotalBalance() coin.Coins {
	total := coin.Coins{}
	for range s.Accounts {
		total = coin.Add(total, coin.NewCoins(coin.NewCoin(builtin.NativeDenom, s.Config.AccountInitialBalance)))
	}
	return total
}

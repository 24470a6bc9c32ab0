package main

import (
	"context"
	"math/rand"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/custody-actors/actors/builtin"
	"github.com/filecoin-project/custody-actors/actors/builtin/custody"
	init_ "github.com/filecoin-project/custody-actors/actors/builtin/init"
	"github.com/filecoin-project/custody-actors/actors/coin"
	"github.com/filecoin-project/custody-actors/actors/serde"
	"github.com/filecoin-project/custody-actors/actors/util/adt"
	"github.com/filecoin-project/custody-actors/support/ipld"
	"github.com/filecoin-project/custody-actors/support/vm"
)

// scenario.toml key mapping.
type scenario struct {
	Network  string          `toml:"network"`
	Accounts []accountConfig `toml:"accounts"`
	Master   masterConfig    `toml:"master"`
	Steps    []stepConfig    `toml:"steps"`
}

type accountConfig struct {
	Name    string `toml:"name"`
	Seed    int64  `toml:"seed"`
	Balance string `toml:"balance"`
}

type masterConfig struct {
	Creator       string `toml:"creator"`
	Admin         string `toml:"admin"`
	CreateSlave   bool   `toml:"create_slave"`
	SlaveTemplate uint64 `toml:"slave_template"`
}

// A message sent to the master, or to the slave for withdrawals.
type stepConfig struct {
	Action string `toml:"action"`
	From   string `toml:"from"`
	Amount string `toml:"amount"`
	Admin  string `toml:"admin"`
}

const (
	actionDeposit  = "deposit"
	actionRedirect = "redirect"
	actionWithdraw = "withdraw"
	actionQuery    = "query"
)

func loadScenario(path string) (*scenario, error) {
	var sc scenario
	meta, err := toml.DecodeFile(path, &sc)
	if err != nil {
		return nil, xerrors.Errorf("load scenario: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, xerrors.Errorf("load scenario: unknown keys %v", undecoded)
	}
	if !meta.IsDefined("network") {
		sc.Network = "custody-sim"
	}
	if err := sc.validate(); err != nil {
		return nil, xerrors.Errorf("invalid scenario %s: %w", path, err)
	}
	return &sc, nil
}

func (sc *scenario) validate() error {
	names := make(map[string]struct{}, len(sc.Accounts))
	for _, a := range sc.Accounts {
		if a.Name == "" {
			return xerrors.Errorf("account without name")
		}
		if _, ok := names[a.Name]; ok {
			return xerrors.Errorf("duplicate account %s", a.Name)
		}
		if _, err := parseAmount(a.Balance); err != nil {
			return xerrors.Errorf("account %s: %w", a.Name, err)
		}
		names[a.Name] = struct{}{}
	}
	known := func(name string) error {
		if _, ok := names[name]; !ok {
			return xerrors.Errorf("unknown account %q", name)
		}
		return nil
	}
	if err := known(sc.Master.Creator); err != nil {
		return xerrors.Errorf("master creator: %w", err)
	}
	if err := known(sc.Master.Admin); err != nil {
		return xerrors.Errorf("master admin: %w", err)
	}
	for i, s := range sc.Steps {
		if err := known(s.From); err != nil {
			return xerrors.Errorf("step %d: %w", i, err)
		}
		switch strings.ToLower(s.Action) {
		case actionDeposit:
			if _, err := parseAmount(s.Amount); err != nil {
				return xerrors.Errorf("step %d: %w", i, err)
			}
		case actionWithdraw:
			if err := known(s.Admin); err != nil {
				return xerrors.Errorf("step %d admin: %w", i, err)
			}
		case actionRedirect, actionQuery:
		default:
			return xerrors.Errorf("step %d: unknown action %q", i, s.Action)
		}
	}
	return nil
}

func parseAmount(s string) (abi.TokenAmount, error) {
	if s == "" {
		return big.Zero(), nil
	}
	amt, err := big.FromString(s)
	if err != nil {
		return big.Zero(), xerrors.Errorf("bad amount %q: %w", s, err)
	}
	if amt.Sign() < 0 {
		return big.Zero(), xerrors.Errorf("negative amount %q", s)
	}
	return amt, nil
}

func nativeCoins(amt abi.TokenAmount) coin.Coins {
	return coin.NewCoins(coin.NewCoin(builtin.NativeDenom, amt))
}

// The outcome of running a scenario.
type simulation struct {
	vm       *vm.VM
	metrics  *ipld.MetricsBlockStore
	accounts map[string]address.Address
	names    []string
	master   address.Address
	slave    address.Address
	results  []stepResult
}

type stepResult struct {
	step stepConfig
	code exitcode.ExitCode
}

func runScenario(ctx context.Context, sc *scenario) (*simulation, error) {
	metrics := ipld.NewMetricsBlockStore(ipld.NewBlockStoreInMemory())
	store := adt.WrapBlockStore(ctx, metrics)
	v, err := vm.NewGenesisVM(ctx, store, sc.Network)
	if err != nil {
		return nil, xerrors.Errorf("genesis: %w", err)
	}
	v.SetStatsSource(metrics)

	sim := &simulation{
		vm:       v,
		metrics:  metrics,
		accounts: make(map[string]address.Address, len(sc.Accounts)),
	}
	for _, a := range sc.Accounts {
		pubAddr, err := keyAddress(a.Seed)
		if err != nil {
			return nil, err
		}
		amt, _ := parseAmount(a.Balance)
		idAddr, err := v.CreateAccount(pubAddr, nativeCoins(amt))
		if err != nil {
			return nil, xerrors.Errorf("create account %s: %w", a.Name, err)
		}
		sim.accounts[a.Name] = idAddr
		sim.names = append(sim.names, a.Name)
	}

	if err := sim.createMaster(sc.Master); err != nil {
		return nil, err
	}

	for i, s := range sc.Steps {
		code, err := sim.apply(s)
		if err != nil {
			return nil, xerrors.Errorf("step %d: %w", i, err)
		}
		log.Infow("applied step", "index", i, "action", s.Action, "from", s.From, "exitcode", code)
		sim.results = append(sim.results, stepResult{step: s, code: code})
	}
	return sim, nil
}

func (sim *simulation) createMaster(m masterConfig) error {
	params, err := serde.Serialize(&custody.ConstructorParams{
		Admin:           sim.accounts[m.Admin].String(),
		CreateSlave:     m.CreateSlave,
		SlaveTemplateID: m.SlaveTemplate,
	})
	if err != nil {
		return err
	}
	res, err := sim.vm.ApplyMessage(sim.accounts[m.Creator], builtin.InitActorAddr, nil, builtin.MethodsInit.Exec, &init_.ExecParams{
		TemplateID:        vm.CustodyTemplateID,
		Label:             "custody-master",
		ConstructorParams: params,
	})
	if err != nil {
		return xerrors.Errorf("create master: %w", err)
	}
	if res.Code != exitcode.Ok {
		return xerrors.Errorf("create master: exit code %d", res.Code)
	}

	var ret init_.ExecReturn
	if err := serde.Deserialize(res.Ret, &ret); err != nil {
		return err
	}
	sim.master = ret.IDAddress

	var st custody.State
	if err := sim.vm.GetState(sim.master, &st); err != nil {
		return err
	}
	if st.Child != nil {
		sim.slave = *st.Child
	}
	return nil
}

func (sim *simulation) apply(s stepConfig) (exitcode.ExitCode, error) {
	from := sim.accounts[s.From]
	to := sim.master
	var value coin.Coins
	var method abi.MethodNum
	var params cbor.Marshaler

	switch strings.ToLower(s.Action) {
	case actionDeposit:
		amt, _ := parseAmount(s.Amount)
		value = nativeCoins(amt)
		method = builtin.MethodsCustody.TakeMyNativeMoney
	case actionRedirect:
		method = builtin.MethodsCustody.RedirectFunds
	case actionWithdraw:
		if sim.slave == address.Undef {
			return 0, xerrors.Errorf("withdraw without a slave")
		}
		to = sim.slave
		method = builtin.MethodsCustody.Withdraw
		params = &custody.WithdrawParams{Admin: sim.accounts[s.Admin].String()}
	case actionQuery:
		method = builtin.MethodsCustody.GetMasterBalance
	}

	res, err := sim.vm.ApplyMessage(from, to, value, method, params)
	if err != nil {
		return 0, err
	}
	return res.Code, nil
}

// Derives a deterministic BLS key address from a seed.
func keyAddress(seed int64) (address.Address, error) {
	buf := make([]byte, 48)
	r := rand.New(rand.NewSource(seed)) // nolint:gosec
	r.Read(buf)
	return address.NewBLSAddress(buf)
}

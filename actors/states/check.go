package states

import (
	addr "github.com/filecoin-project/go-address"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/custody-actors/actors/builtin"
	"github.com/filecoin-project/custody-actors/actors/builtin/account"
	"github.com/filecoin-project/custody-actors/actors/builtin/custody"
	init_ "github.com/filecoin-project/custody-actors/actors/builtin/init"
	"github.com/filecoin-project/custody-actors/actors/coin"
)

// Within this code, Go errors are not expected, but are often converted to messages so that execution
// can continue to find more errors rather than fail with no insight.
// Only errors thar are particularly troublesome to recover from should propagate as Go errors.
func CheckStateInvariants(tree *Tree, expectedBalanceTotal coin.Coins) (*builtin.MessageAccumulator, error) {
	acc := &builtin.MessageAccumulator{}
	total := coin.NewCoins()
	var initSummary *init_.StateSummary
	var accountSummaries []*account.StateSummary
	custodySummaries := make(map[addr.Address]*custody.StateSummary)
	codes := make(map[addr.Address]*Actor)

	if err := tree.ForEach(func(key addr.Address, actor *Actor) error {
		acc := acc.WithPrefix("%v ", key) // Intentional shadow
		if key.Protocol() != addr.ID {
			acc.Addf("unexpected address protocol in state tree root: %v", key)
		}
		acc.RequireNoError(actor.Balance.Validate(), "invalid balance")
		total = coin.Add(total, actor.Balance)
		cpy := *actor
		codes[key] = &cpy

		switch {
		case actor.Code.Equals(builtin.SystemActorCodeID):

		case actor.Code.Equals(builtin.InitActorCodeID):
			var st init_.State
			if err := tree.Store.Get(tree.Store.Context(), actor.Head, &st); err != nil {
				return err
			}
			summary, msgs := init_.CheckStateInvariants(&st, tree.Store)
			acc.WithPrefix("init: ").AddAll(msgs)
			initSummary = summary

		case actor.Code.Equals(builtin.AccountActorCodeID):
			var st account.State
			if err := tree.Store.Get(tree.Store.Context(), actor.Head, &st); err != nil {
				return err
			}
			summary, msgs := account.CheckStateInvariants(&st, key)
			acc.WithPrefix("account: ").AddAll(msgs)
			accountSummaries = append(accountSummaries, summary)

		case actor.Code.Equals(builtin.CustodyActorCodeID):
			var st custody.State
			if err := tree.Store.Get(tree.Store.Context(), actor.Head, &st); err != nil {
				return err
			}
			summary, msgs := custody.CheckStateInvariants(&st, actor.Balance)
			acc.WithPrefix("custody: ").AddAll(msgs)
			custodySummaries[key] = summary

		default:
			return xerrors.Errorf("unexpected actor code CID %v for address %v", actor.Code, key)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	//
	// Perform cross-actor checks from state summaries here.
	//

	CheckCustodyAgainstTree(acc, custodySummaries, codes)
	if initSummary != nil {
		CheckAccountsAgainstInit(acc, accountSummaries, initSummary)
	} else {
		acc.Addf("init actor missing from state tree")
	}

	if !total.Equal(coin.Add(expectedBalanceTotal, nil)) {
		acc.Addf("total token balance is %v, expected %v", total, expectedBalanceTotal)
	}

	return acc, nil
}

// Checks that every recorded slave is a custody actor sharing its master's admin.
func CheckCustodyAgainstTree(acc *builtin.MessageAccumulator, summaries map[addr.Address]*custody.StateSummary, actors map[addr.Address]*Actor) {
	for master, summary := range summaries { // nolint:nomaprange
		if summary.Child == nil {
			continue
		}
		child, ok := actors[*summary.Child]
		acc.Require(ok, "custody %v has slave %v missing from the state tree", master, *summary.Child)
		if !ok {
			continue
		}
		acc.Require(child.Code.Equals(builtin.CustodyActorCodeID), "custody %v has slave %v of type %v",
			master, *summary.Child, builtin.ActorNameByCode(child.Code))
		if slave, ok := summaries[*summary.Child]; ok {
			acc.Require(slave.Admin == summary.Admin, "custody %v admin %v differs from slave admin %v",
				master, summary.Admin, slave.Admin)
			acc.Require(slave.Child == nil, "slave %v of custody %v has its own slave", *summary.Child, master)
		}
	}
}

// Checks that every account's pubkey address resolves through the init actor.
func CheckAccountsAgainstInit(acc *builtin.MessageAccumulator, accounts []*account.StateSummary, initSummary *init_.StateSummary) {
	for _, summary := range accounts {
		_, ok := initSummary.AddrIDs[summary.PubKeyAddr]
		acc.Require(ok, "account %v has no ID mapping in init actor", summary.PubKeyAddr)
	}
}

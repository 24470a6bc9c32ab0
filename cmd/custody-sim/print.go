package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/filecoin-project/go-address"
	"github.com/multiformats/go-multibase"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/filecoin-project/custody-actors/actors/builtin"
	"github.com/filecoin-project/custody-actors/actors/builtin/custody"
	"github.com/filecoin-project/custody-actors/actors/serde"
	"github.com/filecoin-project/custody-actors/support/vm"
)

func printReceipts(w io.Writer, sim *simulation) error {
	receipts, err := sim.vm.Receipts()
	if err != nil {
		return err
	}
	// The first receipt belongs to master creation.
	for i, r := range receipts {
		action := "create-master"
		if i > 0 && i-1 < len(sim.results) {
			action = sim.results[i-1].step.Action
		}
		fmt.Fprintf(w, "%d\t%s\texit=%d\thash=%s\tret=%x\n", i, action, r.ExitCode, hex.EncodeToString(r.MessageHash)[:16], r.Return)
	}
	return nil
}

func printCallStats(w io.Writer, sim *simulation) {
	p := message.NewPrinter(language.English)
	stats := sim.vm.GetCallStats()
	keys := make([]vm.MethodKey, 0, len(stats))
	for k := range stats { // nolint:nomaprange
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, nj := builtin.ActorNameByCode(keys[i].Code), builtin.ActorNameByCode(keys[j].Code)
		if ni != nj {
			return ni < nj
		}
		return keys[i].Method < keys[j].Method
	})
	for _, k := range keys {
		s := stats[k]
		p.Fprintf(w, "%s.%d\tcalls: %d\treads: %d (%d bytes)\twrites: %d (%d bytes)\n",
			builtin.ActorNameByCode(k.Code), k.Method, s.Calls, s.GetCalls, s.GetBytes, s.PutCalls, s.PutBytes)
	}
	total := sim.metrics.GetStats()
	p.Fprintf(w, "total\treads: %d (%d bytes)\twrites: %d (%d bytes)\n", total.GetCalls, total.GetBytes, total.PutCalls, total.PutBytes)
}

func printState(w io.Writer, sim *simulation, raw bool, enc multibase.Encoder) error {
	for _, name := range sim.names {
		a := sim.accounts[name]
		fmt.Fprintf(w, "%s\t%v\t%v\n", name, a, sim.vm.GetBalance(a))
	}
	for _, c := range []struct {
		name string
		addr address.Address
	}{{"master", sim.master}, {"slave", sim.slave}} {
		if c.addr == address.Undef {
			continue
		}
		var st custody.State
		if err := sim.vm.GetState(c.addr, &st); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%v\t%v\n", c.name, c.addr, sim.vm.GetBalance(c.addr))
		printCustodyState(w, "  ", &st)
		if raw {
			b, err := serde.Serialize(&st)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "  raw: %s\n", enc.Encode(b))
		}
	}
	return nil
}

func printCustodyState(w io.Writer, indent string, st *custody.State) {
	fmt.Fprintf(w, "%sadmin: %v\n", indent, st.Admin)
	if st.HasChild() {
		fmt.Fprintf(w, "%sslave: %v\n", indent, *st.Child)
	} else {
		fmt.Fprintf(w, "%sslave: none\n", indent)
	}
}

package main

import (
	"context"
	"os"
	"sort"

	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-multibase"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/custody-actors/actors/builtin/custody"
	"github.com/filecoin-project/custody-actors/actors/serde"
)

var log = logging.Logger("custody-sim")

var runCmd = &cli.Command{
	Name:        "run",
	Usage:       "run <scenario.toml>",
	Description: "run a scenario and print the message receipts and final state",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "stats", Usage: "print store statistics per actor method"},
	},
	Action: runRunCmd,
}

var stateCmd = &cli.Command{
	Name:        "state",
	Usage:       "state <scenario.toml>",
	Description: "run a scenario and print the final balances and custody state",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "raw", Usage: "also print the encoded custody state"},
		&cli.StringFlag{Name: "base", Value: "base64", Usage: "multibase encoding for raw state"},
	},
	Action: runStateCmd,
}

var decodeCmd = &cli.Command{
	Name:        "decode",
	Usage:       "decode <multibase string>",
	Description: "decode custody state from multibase encoded bytes",
	Action:      runDecodeCmd,
}

func main() {
	app := &cli.App{
		Name:  "custody-sim",
		Usage: "Run custody actor scenarios on an in-memory ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "log level of the ledger and simulator"},
		},
		Before: func(cctx *cli.Context) error {
			lvl := cctx.String("log-level")
			if err := logging.SetLogLevel("vm", lvl); err != nil {
				return err
			}
			return logging.SetLogLevel("custody-sim", lvl)
		},
		Commands: []*cli.Command{
			runCmd,
			stateCmd,
			decodeCmd,
		},
	}
	sort.Sort(cli.CommandsByName(app.Commands))
	for _, c := range app.Commands {
		sort.Sort(cli.FlagsByName(c.Flags))
	}
	if err := app.Run(os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func simulate(cctx *cli.Context) (*simulation, error) {
	if cctx.Args().Len() != 1 {
		return nil, xerrors.Errorf("expected a scenario file")
	}
	sc, err := loadScenario(cctx.Args().First())
	if err != nil {
		return nil, err
	}
	return runScenario(context.Background(), sc)
}

func runRunCmd(cctx *cli.Context) error {
	sim, err := simulate(cctx)
	if err != nil {
		return err
	}
	w := cctx.App.Writer
	if err := printReceipts(w, sim); err != nil {
		return err
	}
	if err := printState(w, sim, false, multibase.Encoder{}); err != nil {
		return err
	}
	if cctx.Bool("stats") {
		printCallStats(w, sim)
	}
	return nil
}

func runStateCmd(cctx *cli.Context) error {
	sim, err := simulate(cctx)
	if err != nil {
		return err
	}
	var enc multibase.Encoder
	if cctx.Bool("raw") {
		enc, err = multibase.EncoderByName(cctx.String("base"))
		if err != nil {
			return err
		}
	}
	return printState(cctx.App.Writer, sim, cctx.Bool("raw"), enc)
}

func runDecodeCmd(cctx *cli.Context) error {
	_, b, err := multibase.Decode(cctx.Args().First())
	if err != nil {
		return err
	}
	var st custody.State
	if err := serde.Deserialize(b, &st); err != nil {
		return xerrors.Errorf("not a custody state: %w", err)
	}
	printCustodyState(cctx.App.Writer, "", &st)
	return nil
}

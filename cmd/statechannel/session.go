package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/app/submodule/paych"
	"github.com/filecoin-project/venus-statechannel/metrics"
	"github.com/filecoin-project/venus-statechannel/pkg/paychmgr"
)

var sessionCmd = &cli.Command{
	Name:  "session",
	Usage: "run one payment session: open, pay the performer in steps, close",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "poster",
			Usage: "depositing address, defaults to the configured key",
		},
		&cli.StringFlag{
			Name:     "performer",
			Usage:    "receiving address",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "deposit",
			Usage:    "deposit in asset units, e.g. 10.5",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "asset",
			Usage: "asset symbol or token address, defaults to channel.defaultAsset",
		},
		&cli.StringSliceFlag{
			Name:  "pay",
			Usage: "cumulative amount owed to the performer; repeat for each step",
		},
		&cli.BoolFlag{
			Name:  "wait",
			Usage: "wait for the settlement transaction after closing",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		cfg, err := loadConfig(cctx, false)
		if err != nil {
			return err
		}

		srv, err := metrics.RegisterPrometheusEndpoint(cfg.Metrics)
		if err != nil {
			return err
		}
		if srv != nil {
			defer srv.Shutdown(context.Background()) // nolint: errcheck
		}

		deposit, err := decimal.NewFromString(cctx.String("deposit"))
		if err != nil {
			return xerrors.Errorf("deposit: %w", err)
		}
		var steps []decimal.Decimal
		for _, s := range cctx.StringSlice("pay") {
			d, err := decimal.NewFromString(s)
			if err != nil {
				return xerrors.Errorf("pay %q: %w", s, err)
			}
			steps = append(steps, d)
		}

		ps, err := paych.NewPaychSubmodule(ctx, cfg, nil)
		if err != nil {
			return err
		}
		if err := ps.Start(ctx); err != nil {
			return err
		}
		defer ps.Stop()

		poster := cctx.String("poster")
		if poster == "" {
			addr, ok := ps.SignerAddress()
			if !ok {
				return xerrors.New("no key configured, pass --poster")
			}
			poster = addr.Hex()
		}

		return runSession(ctx, cctx.App.Writer, ps.API(), sessionParams{
			poster:    poster,
			performer: cctx.String("performer"),
			deposit:   deposit,
			asset:     cctx.String("asset"),
			steps:     steps,
			wait:      cctx.Bool("wait"),
		})
	},
}

type sessionParams struct {
	poster, performer string
	deposit           decimal.Decimal
	asset             string
	steps             []decimal.Decimal
	wait              bool
}

func runSession(ctx context.Context, w io.Writer, api *paych.PaychAPI, p sessionParams) error {
	res, err := api.Open(ctx, p.poster, p.performer, p.deposit, p.asset)
	if err != nil {
		return err
	}
	id := res.ChannelID.Hex()
	if err := printRecord(ctx, w, api, "opened", id); err != nil {
		return err
	}

	for _, owed := range p.steps {
		err := api.UpdateAllocation(ctx, id, map[string]decimal.Decimal{
			p.poster:    p.deposit.Sub(owed),
			p.performer: owed,
		})
		if err != nil {
			return xerrors.Errorf("paying %s: %w", owed, err)
		}
		if err := printRecord(ctx, w, api, "allocated", id); err != nil {
			return err
		}
	}

	closed, err := api.CloseChannel(ctx, id)
	if err != nil {
		return err
	}
	if err := printRecord(ctx, w, api, "closed", id); err != nil {
		return err
	}

	if p.wait && closed.Status == paychmgr.StatusClosed {
		rcpt, err := api.WaitSettlement(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "settled in block %s: %s\n", rcpt.BlockNumber, rcpt.TransactionHash) // nolint: errcheck
	}
	return nil
}

func printRecord(ctx context.Context, w io.Writer, api *paych.PaychAPI, stage, id string) error {
	rec, err := api.GetChannel(ctx, id)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s:\n%s\n", stage, out) // nolint: errcheck
	return nil
}

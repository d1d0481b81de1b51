package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
	"github.com/filecoin-project/venus-statechannel/pkg/wallet"
)

// stateDocument is the JSON input of the encode command. Integers are
// decimal strings and byte strings are 0x hex.
type stateDocument struct {
	ChannelID   string `json:"channelId"`
	Intent      uint8  `json:"intent"`
	Version     string `json:"version"`
	Data        string `json:"data"`
	Allocations []struct {
		Destination string `json:"destination"`
		Token       string `json:"token"`
		Amount      string `json:"amount"`
	} `json:"allocations"`
}

func parseStateDocument(r io.Reader) (*chanstate.State, error) {
	var doc stateDocument
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, xerrors.Errorf("decoding state document: %w", err)
	}

	id, err := chanstate.ParseHash(doc.ChannelID)
	if err != nil {
		return nil, xerrors.Errorf("channelId: %w", err)
	}
	version, err := big.FromString(doc.Version)
	if err != nil {
		return nil, xerrors.Errorf("version: %w", err)
	}
	data, err := hex.DecodeString(strings.TrimPrefix(doc.Data, "0x"))
	if err != nil {
		return nil, xerrors.Errorf("data: %w", err)
	}

	st := &chanstate.State{
		ChannelID: id,
		Intent:    chanstate.Intent(doc.Intent),
		Version:   version,
		Data:      data,
	}
	for i, a := range doc.Allocations {
		dest, err := chanstate.ParseAddress(a.Destination)
		if err != nil {
			return nil, xerrors.Errorf("allocations.%d.destination: %w", i, err)
		}
		token, err := chanstate.ParseAddress(a.Token)
		if err != nil {
			return nil, xerrors.Errorf("allocations.%d.token: %w", i, err)
		}
		amount, err := big.FromString(a.Amount)
		if err != nil {
			return nil, xerrors.Errorf("allocations.%d.amount: %w", i, err)
		}
		st.Allocations = append(st.Allocations, chanstate.Allocation{Destination: dest, Token: token, Amount: amount})
	}
	return st, nil
}

var encodeCmd = &cli.Command{
	Name:      "encode",
	Usage:     "print the canonical encoding and digest of a state document",
	ArgsUsage: "[file, - for stdin]",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "sign",
			Usage: "also sign the digest with the configured key",
		},
	},
	Action: func(cctx *cli.Context) error {
		var in io.Reader = os.Stdin
		if path := cctx.Args().First(); path != "" && path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close() // nolint: errcheck
			in = f
		}

		st, err := parseStateDocument(in)
		if err != nil {
			return err
		}
		encoded, err := chanstate.Encode(st)
		if err != nil {
			return err
		}
		w := cctx.App.Writer
		fmt.Fprintf(w, "encoded: 0x%s\n", hex.EncodeToString(encoded)) // nolint: errcheck
		fmt.Fprintf(w, "hash:    %s\n", chanstate.HashBytes(encoded))  // nolint: errcheck

		if !cctx.Bool("sign") {
			return nil
		}
		cfg, err := loadConfig(cctx, false)
		if err != nil {
			return err
		}
		key, err := wallet.LoadKey(cfg.Wallet)
		if err != nil {
			return err
		}
		signer, err := wallet.NewStateSigner(key)
		if err != nil {
			return err
		}
		sig, err := signer.SignState(cctx.Context, st)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "signer:  %s\nsig:     %s\n", signer.Address(), sig) // nolint: errcheck
		return nil
	},
}

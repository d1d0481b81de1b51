package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/config"
)

var configCmd = &cli.Command{
	Name:  "config",
	Usage: "inspect and edit the config file",
	Subcommands: []*cli.Command{
		configInitCmd,
		configGetCmd,
		configSetCmd,
	},
}

var configInitCmd = &cli.Command{
	Name:  "init",
	Usage: "write the default config",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "force",
			Usage: "overwrite an existing file",
		},
	},
	Action: func(cctx *cli.Context) error {
		path := cctx.String("config")
		if _, err := os.Stat(path); err == nil && !cctx.Bool("force") {
			return xerrors.Errorf("%s already exists, use --force to overwrite", path)
		}
		if err := config.NewDefaultConfig().WriteFile(path); err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "wrote %s\n", path) // nolint: errcheck
		return nil
	},
}

var configGetCmd = &cli.Command{
	Name:      "get",
	Usage:     "print a config value as JSON",
	ArgsUsage: "<key>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return xerrors.New("expected exactly one key, e.g. coordinator.url")
		}
		cfg, err := loadConfig(cctx, true)
		if err != nil {
			return err
		}
		v, err := cfg.Get(cctx.Args().First())
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cctx.App.Writer, string(out)) // nolint: errcheck
		return nil
	},
}

var configSetCmd = &cli.Command{
	Name:      "set",
	Usage:     "set a config value given in TOML syntax",
	ArgsUsage: "<key> <value>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return xerrors.New(`expected a key and a value, e.g. coordinator.url '"wss://host/ws"'`)
		}
		cfg, err := loadConfig(cctx, true)
		if err != nil {
			return err
		}
		if _, err := cfg.Set(cctx.Args().Get(0), cctx.Args().Get(1)); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return cfg.WriteFile(cctx.String("config"))
	},
}

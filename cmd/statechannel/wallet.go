package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/pkg/wallet"
)

var walletCmd = &cli.Command{
	Name:  "wallet",
	Usage: "manage the signing key",
	Subcommands: []*cli.Command{
		walletNewCmd,
		walletAddressCmd,
	},
}

var walletNewCmd = &cli.Command{
	Name:      "new",
	Usage:     "create a key and store it in an encrypted keystore file",
	ArgsUsage: "<keystore path>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "light",
			Usage: "use light scrypt parameters (faster, weaker)",
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return xerrors.New("expected the keystore path")
		}
		path := cctx.Args().First()
		if _, err := os.Stat(path); err == nil {
			return xerrors.Errorf("%s already exists", path)
		}
		cfg, err := loadConfig(cctx, false)
		if err != nil {
			return err
		}
		passphrase := os.Getenv(cfg.Wallet.PassphraseEnv)
		if passphrase == "" {
			return xerrors.Errorf("set the passphrase in $%s", cfg.Wallet.PassphraseEnv)
		}

		n, p := wallet.StandardScryptN, wallet.StandardScryptP
		if cctx.Bool("light") {
			n, p = wallet.LightScryptN, wallet.LightScryptP
		}
		key, err := wallet.NewKey()
		if err != nil {
			return err
		}
		if err := wallet.StoreKey(path, key, []byte(passphrase), n, p); err != nil {
			return err
		}
		fmt.Fprintln(cctx.App.Writer, key.Address.Hex()) // nolint: errcheck
		return nil
	},
}

var walletAddressCmd = &cli.Command{
	Name:  "address",
	Usage: "print the address of the configured key",
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx, false)
		if err != nil {
			return err
		}
		key, err := wallet.LoadKey(cfg.Wallet)
		if err != nil {
			return err
		}
		if key == nil {
			fmt.Fprintln(cctx.App.Writer, "no credential configured: simulation mode") // nolint: errcheck
			return nil
		}
		fmt.Fprintln(cctx.App.Writer, key.Address.Hex()) // nolint: errcheck
		return nil
	},
}

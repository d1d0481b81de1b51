package main

import (
	"fmt"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/config"
)

var log = logging.Logger("statechannel")

const defaultConfigPath = "statechannel.toml"

func main() {
	app := newApp()
	app.Setup()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERR: %v\n", err) // nolint: errcheck
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                 "statechannel",
		Usage:                "open, allocate and settle off-chain payment channels",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the TOML config file",
				EnvVars: []string{"STATECHANNEL_CONFIG"},
				Value:   defaultConfigPath,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level for all subsystems (debug, info, warn, error)",
				EnvVars: []string{"STATECHANNEL_LOG_LEVEL"},
				Value:   "info",
			},
		},
		Before: func(cctx *cli.Context) error {
			return logging.SetLogLevel("*", cctx.String("log-level"))
		},
		Commands: []*cli.Command{
			configCmd,
			walletCmd,
			encodeCmd,
			sessionCmd,
		},
	}
}

// loadConfig reads the config named by --config. A missing file yields the
// defaults unless required is set.
func loadConfig(cctx *cli.Context, required bool) (*config.Config, error) {
	path := cctx.String("config")
	cfg, err := config.ReadFile(path)
	switch {
	case err == nil:
		return cfg, nil
	case os.IsNotExist(err) && !required:
		log.Infow("config file not found, using defaults", "path", path)
		return config.NewDefaultConfig(), nil
	default:
		return nil, xerrors.Errorf("reading config %s: %w", path, err)
	}
}

package paych

import (
	"context"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/ipfs/go-datastore"
	dss "github.com/ipfs/go-datastore/sync"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/config"
	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
	"github.com/filecoin-project/venus-statechannel/pkg/ledger"
	"github.com/filecoin-project/venus-statechannel/pkg/paychmgr"
	"github.com/filecoin-project/venus-statechannel/pkg/paychmgr/settler"
	"github.com/filecoin-project/venus-statechannel/pkg/transport"
	"github.com/filecoin-project/venus-statechannel/pkg/wallet"
)

var log = logging.Logger("paych")

// PaychSubmodule owns everything a payment session needs: the signing key,
// the coordinator session, the ledger connection and the channel engine.
// It is built once per process.
type PaychSubmodule struct { //nolint
	cfg *config.Config

	key          *wallet.Key
	session      *transport.Session
	ledgerCloser jsonrpc.ClientCloser

	pmgr    *paychmgr.Manager
	settler *settler.PaymentChannelSettler

	cancel context.CancelFunc
}

// NewPaychSubmodule wires the submodule from cfg. ds holds channel records;
// nil means a fresh in-memory store. Missing coordinator, ledger or
// credential settings are not errors: the engine simulates what it cannot
// reach.
func NewPaychSubmodule(ctx context.Context, cfg *config.Config, ds datastore.Batching) (*PaychSubmodule, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid config: %w", err)
	}
	key, err := wallet.LoadKey(cfg.Wallet)
	if err != nil {
		return nil, xerrors.Errorf("loading signing key: %w", err)
	}

	ps := &PaychSubmodule{cfg: cfg, key: key}

	var stateSigner wallet.StateSigner
	if key != nil {
		stateSigner = key.StateSigner()
		log.Infow("loaded signing key", "address", key.Address)
	} else {
		log.Warn("no signing credential configured, channels will be simulated")
	}

	var coord paychmgr.Coordinator
	if cfg.Coordinator.URL != "" && key != nil && !cfg.Channel.Simulation {
		ps.session, err = transport.NewSession(transport.Options{
			URL:            cfg.Coordinator.URL,
			ConnectTimeout: time.Duration(cfg.Coordinator.ConnectTimeout),
			RequestTimeout: time.Duration(cfg.Coordinator.RequestTimeout),
			Signer:         key.EnvelopeSigner(),
		})
		if err != nil {
			return nil, xerrors.Errorf("creating coordinator session: %w", err)
		}
		coord = ps.session
	}

	var l ledger.Ledger
	if cfg.Ledger.URL != "" {
		client, closer, err := ledger.NewClient(ctx, cfg.Ledger.URL, time.Duration(cfg.Ledger.Timeout), nil)
		if err != nil {
			log.Warnw("ledger unavailable, token precision falls back to the default", "url", cfg.Ledger.URL, "err", err)
		} else {
			ps.ledgerCloser = closer
			l = ledger.NewCachedLedger(client, time.Duration(cfg.Ledger.DecimalsTTL))
		}
	}

	assets, err := ledger.NewAssetRegistry(cfg.Assets)
	if err != nil {
		return nil, err
	}

	if ds == nil {
		ds = dss.MutexWrap(datastore.NewMapDatastore())
	}
	ps.pmgr, err = paychmgr.NewManager(paychmgr.ManagerParams{
		Store:           paychmgr.NewStore(ds),
		Coordinator:     coord,
		Ledger:          l,
		Assets:          assets,
		Signer:          stateSigner,
		Channel:         cfg.Channel,
		DefaultDecimals: cfg.Ledger.DefaultDecimals,
	})
	if err != nil {
		return nil, err
	}

	var receipts settler.ReceiptSource
	if l != nil {
		receipts = l
	}
	ps.settler = settler.NewPaymentChannelSettler(ps.pmgr, receipts, nil, 0)

	if reason := ps.pmgr.SimulationReason(); reason != "" {
		log.Infow("channel engine in simulation mode", "reason", reason)
	}
	return ps, nil
}

// Start pre-connects the coordinator session and starts settlement
// tracking. A failed pre-connect is only logged; requests dial again.
func (ps *PaychSubmodule) Start(ctx context.Context) error {
	if ps.session != nil {
		if err := ps.session.Connect(ctx); err != nil {
			log.Warnw("coordinator pre-connect failed", "url", ps.cfg.Coordinator.URL, "err", err)
		}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	ps.cancel = cancel
	go ps.settler.Run(runCtx)
	return nil
}

// Stop ends settlement tracking and closes the connections.
func (ps *PaychSubmodule) Stop() {
	if ps.cancel != nil {
		ps.cancel()
	}
	if ps.session != nil {
		if err := ps.session.Close(); err != nil {
			log.Warnw("closing coordinator session", "err", err)
		}
	}
	if ps.ledgerCloser != nil {
		ps.ledgerCloser()
	}
}

// SignerAddress returns the address of the configured key, if any.
func (ps *PaychSubmodule) SignerAddress() (chanstate.Address, bool) {
	if ps.key == nil {
		return chanstate.Address{}, false
	}
	return ps.key.Address, true
}

// SimulationReason is empty when new channels open on the coordinator.
func (ps *PaychSubmodule) SimulationReason() string {
	return ps.pmgr.SimulationReason()
}

// API create a new paych implement
func (ps *PaychSubmodule) API() *PaychAPI {
	return NewPaychAPI(ps.pmgr, ps.settler)
}

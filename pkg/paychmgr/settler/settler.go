package settler

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
	"github.com/filecoin-project/venus-statechannel/pkg/ledger"
	"github.com/filecoin-project/venus-statechannel/pkg/paychmgr"
)

var log = logging.Logger("settler")

// DefaultPollInterval is how often receipts and closing channels are checked.
const DefaultPollInterval = 5 * time.Second

var (
	// ErrSettlementFailed is returned when the settlement transaction was
	// mined but reverted.
	ErrSettlementFailed = errors.New("settlement transaction failed")
	// ErrNotSettled is returned for channels without a settlement reference.
	ErrNotSettled = errors.New("channel is not settled")
	// ErrNoLedger is returned when a live settlement must be tracked without
	// a ledger connection.
	ErrNoLedger = errors.New("no ledger configured")
)

// Settler is the part of the channel engine settlement tracking needs.
type Settler interface {
	ListChannels(ctx context.Context) ([]*paychmgr.ChannelRecord, error)
	GetChannel(ctx context.Context, channelID chanstate.Hash) (*paychmgr.ChannelRecord, error)
	CloseChannel(ctx context.Context, channelID chanstate.Hash) (*paychmgr.CloseResult, error)
}

// ReceiptSource looks up settlement transactions.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, tx chanstate.Hash) (*ledger.Receipt, error)
}

var _ Settler = (*paychmgr.Manager)(nil)

// PaymentChannelSettler follows channels to settlement: it waits for
// settlement receipts and retries closes the coordinator left in progress.
type PaymentChannelSettler struct {
	api      Settler
	receipts ReceiptSource
	clock    clock.Clock
	interval time.Duration
}

// NewPaymentChannelSettler builds a settler. receipts may be nil, in which
// case only simulated settlements can be waited on.
func NewPaymentChannelSettler(api Settler, receipts ReceiptSource, clk clock.Clock, interval time.Duration) *PaymentChannelSettler {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PaymentChannelSettler{
		api:      api,
		receipts: receipts,
		clock:    clk,
		interval: interval,
	}
}

// Wait polls for the receipt of txRef until it is mined or ctx is done.
// Lookup errors are logged and retried.
func (pcs *PaymentChannelSettler) Wait(ctx context.Context, txRef string) (*ledger.Receipt, error) {
	if pcs.receipts == nil {
		return nil, ErrNoLedger
	}
	tx, err := chanstate.ParseHash(txRef)
	if err != nil {
		return nil, xerrors.Errorf("settlement reference: %w", err)
	}

	ticker := pcs.clock.Ticker(pcs.interval)
	defer ticker.Stop()
	for {
		rcpt, err := pcs.receipts.TransactionReceipt(ctx, tx)
		switch {
		case err != nil:
			log.Warnw("fetching settlement receipt", "tx", tx, "err", err)
		case rcpt != nil && !rcpt.Succeeded():
			return rcpt, xerrors.Errorf("%w: %s in block %s", ErrSettlementFailed, tx, rcpt.BlockNumber)
		case rcpt != nil:
			return rcpt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitSettlement waits for the settlement of a closed channel. Simulated
// channels return a synthesized successful receipt at once.
func (pcs *PaymentChannelSettler) WaitSettlement(ctx context.Context, channelID chanstate.Hash) (*ledger.Receipt, error) {
	rec, err := pcs.api.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if rec.Status != paychmgr.StatusClosed || rec.SettlementTxRef == "" {
		return nil, xerrors.Errorf("%w: %s is %s", ErrNotSettled, channelID, rec.Status)
	}
	if rec.Simulated {
		return &ledger.Receipt{TransactionHash: rec.SettlementTxRef, Status: "0x1"}, nil
	}
	return pcs.Wait(ctx, rec.SettlementTxRef)
}

// Run retries closing channels every poll interval until ctx is done.
func (pcs *PaymentChannelSettler) Run(ctx context.Context) {
	ticker := pcs.clock.Ticker(pcs.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := pcs.check(ctx); err != nil {
			log.Warnw("retrying channel closes", "err", err)
		}
	}
}

// matcher selects channels whose close is still in progress.
func matcher(rec *paychmgr.ChannelRecord) bool {
	return rec.Status == paychmgr.StatusClosing && !rec.Simulated
}

// check retries the close of every matching channel and returns how many
// reached CLOSED.
func (pcs *PaymentChannelSettler) check(ctx context.Context) (int, error) {
	recs, err := pcs.api.ListChannels(ctx)
	if err != nil {
		return 0, err
	}

	var (
		settled int
		merr    *multierror.Error
	)
	for _, rec := range recs {
		if !matcher(rec) {
			continue
		}
		res, err := pcs.api.CloseChannel(ctx, rec.ChannelID)
		if err != nil {
			merr = multierror.Append(merr, xerrors.Errorf("channel %s: %w", rec.ChannelID, err))
			continue
		}
		if res.Status == paychmgr.StatusClosed {
			settled++
			log.Infow("channel settled", "channel", rec.ChannelID, "tx", res.SettlementTxRef)
		}
	}
	return settled, merr.ErrorOrNil()
}

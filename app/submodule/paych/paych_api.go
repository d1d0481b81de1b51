package paych

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
	"github.com/filecoin-project/venus-statechannel/pkg/ledger"
	"github.com/filecoin-project/venus-statechannel/pkg/paychmgr"
	"github.com/filecoin-project/venus-statechannel/pkg/paychmgr/settler"
)

type PaychAPI struct { //nolint
	paychMgr *paychmgr.Manager
	settler  *settler.PaymentChannelSettler
}

func NewPaychAPI(p *paychmgr.Manager, s *settler.PaymentChannelSettler) *PaychAPI {
	return &PaychAPI{paychMgr: p, settler: s}
}

// parseChannelID treats an id that cannot name a channel as unknown.
func parseChannelID(channelID string) (chanstate.Hash, error) {
	id, err := chanstate.ParseHash(channelID)
	if err != nil {
		return chanstate.Hash{}, xerrors.Errorf("%w: %s", paychmgr.ErrChannelNotFound, err)
	}
	return id, nil
}

func (a *PaychAPI) Open(ctx context.Context, poster, performer string, deposit decimal.Decimal, asset string) (*paychmgr.OpenResult, error) {
	return a.paychMgr.Open(ctx, poster, performer, deposit, asset)
}

func (a *PaychAPI) UpdateAllocation(ctx context.Context, channelID string, alloc map[string]decimal.Decimal) error {
	id, err := parseChannelID(channelID)
	if err != nil {
		return err
	}
	return a.paychMgr.UpdateAllocation(ctx, id, alloc)
}

func (a *PaychAPI) CloseChannel(ctx context.Context, channelID string) (*paychmgr.CloseResult, error) {
	id, err := parseChannelID(channelID)
	if err != nil {
		return nil, err
	}
	return a.paychMgr.CloseChannel(ctx, id)
}

func (a *PaychAPI) GetChannel(ctx context.Context, channelID string) (*paychmgr.ChannelRecord, error) {
	id, err := parseChannelID(channelID)
	if err != nil {
		return nil, err
	}
	return a.paychMgr.GetChannel(ctx, id)
}

func (a *PaychAPI) ListChannels(ctx context.Context) ([]*paychmgr.ChannelRecord, error) {
	return a.paychMgr.ListChannels(ctx)
}

func (a *PaychAPI) WaitSettlement(ctx context.Context, channelID string) (*ledger.Receipt, error) {
	id, err := parseChannelID(channelID)
	if err != nil {
		return nil, err
	}
	return a.settler.WaitSettlement(ctx, id)
}

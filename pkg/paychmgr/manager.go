package paychmgr

import (
	"context"
	"time"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/config"
	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
	"github.com/filecoin-project/venus-statechannel/pkg/crypto"
	"github.com/filecoin-project/venus-statechannel/pkg/ledger"
	"github.com/filecoin-project/venus-statechannel/pkg/rpc"
	"github.com/filecoin-project/venus-statechannel/pkg/wallet"
)

var log = logging.Logger("paychmgr")

// ManagerParams are the collaborators of a Manager. Coordinator, Ledger and
// Signer may be nil: without a coordinator or a signer every channel is
// simulated, without a ledger precision falls back to DefaultDecimals and
// the allowance step is skipped.
type ManagerParams struct {
	Store           *Store
	Coordinator     Coordinator
	Ledger          ledger.Ledger
	Assets          *ledger.AssetRegistry
	Signer          wallet.StateSigner
	Channel         *config.ChannelConfig
	DefaultDecimals uint8
	Clock           clock.Clock
}

// Manager runs the channel lifecycle: open, allocation updates and close.
// Operations on one channel are serialized; different channels proceed
// independently.
type Manager struct {
	store   *Store
	coord   Coordinator
	ledger  ledger.Ledger
	assets  *ledger.AssetRegistry
	signer  wallet.StateSigner
	cfg     config.ChannelConfig
	custody chanstate.Address

	defaultDecimals uint8
	clock           clock.Clock
	locks           *lockTable
}

// NewManager validates params and builds a Manager.
func NewManager(p ManagerParams) (*Manager, error) {
	if p.Store == nil {
		return nil, xerrors.New("channel store is required")
	}
	if p.Channel == nil {
		return nil, xerrors.New("channel config is required")
	}
	pm := &Manager{
		store:           p.Store,
		coord:           p.Coordinator,
		ledger:          p.Ledger,
		assets:          p.Assets,
		signer:          p.Signer,
		cfg:             *p.Channel,
		defaultDecimals: p.DefaultDecimals,
		clock:           p.Clock,
		locks:           newLockTable(),
	}
	if pm.assets == nil {
		pm.assets, _ = ledger.NewAssetRegistry(nil)
	}
	if pm.clock == nil {
		pm.clock = clock.New()
	}
	if p.Channel.Custody != "" {
		custody, err := chanstate.ParseAddress(p.Channel.Custody)
		if err != nil {
			return nil, xerrors.Errorf("channel.custody: %w", err)
		}
		pm.custody = custody
	}
	return pm, nil
}

// SimulationReason explains why new channels are simulated, or returns ""
// when the live path is available.
func (pm *Manager) SimulationReason() string {
	switch {
	case pm.cfg.Simulation:
		return "simulation forced by configuration"
	case pm.signer == nil:
		return "no signing credential configured"
	case pm.coord == nil:
		return "no coordinator configured"
	default:
		return ""
	}
}

type openRequest struct {
	poster    chanstate.Address
	performer chanstate.Address
	deposit   decimal.Decimal
	asset     string
}

// Open creates a channel funded by poster with deposit of asset, attributed
// entirely to poster. It prefers availability: any failure on the live path
// is logged and the channel is opened in simulation instead, reported through
// OpenResult.Simulated. Only invalid arguments are returned as errors.
func (pm *Manager) Open(ctx context.Context, poster, performer string, deposit decimal.Decimal, asset string) (*OpenResult, error) {
	posterAddr, err := chanstate.ParseAddress(poster)
	if err != nil {
		return nil, xerrors.Errorf("poster: %w", err)
	}
	performerAddr, err := chanstate.ParseAddress(performer)
	if err != nil {
		return nil, xerrors.Errorf("performer: %w", err)
	}
	if posterAddr == performerAddr {
		return nil, xerrors.Errorf("%w: poster and performer are both %s", ErrInvalidAllocation, posterAddr)
	}
	if deposit.IsNegative() {
		return nil, xerrors.Errorf("%w: negative deposit %s", ErrInvalidAllocation, deposit)
	}
	if asset == "" {
		asset = pm.cfg.DefaultAsset
	}
	req := openRequest{poster: posterAddr, performer: performerAddr, deposit: deposit, asset: asset}

	if reason := pm.SimulationReason(); reason != "" {
		log.Infow("opening simulated channel", "reason", reason, "poster", posterAddr, "performer", performerAddr)
		return pm.openSimulated(ctx, req)
	}

	rec, err := pm.openLive(ctx, req)
	if err != nil {
		simulationFallbacksCt.Inc(ctx, 1)
		log.Warnw("opening channel on coordinator failed, falling back to simulation",
			"poster", posterAddr, "performer", performerAddr, "err", err)
		return pm.openSimulated(ctx, req)
	}
	return &OpenResult{ChannelID: rec.ChannelID, SessionID: rec.SessionID}, nil
}

func (pm *Manager) openLive(ctx context.Context, req openRequest) (*ChannelRecord, error) {
	if timeout := time.Duration(pm.cfg.OpenTimeout); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if self := pm.signer.Address(); self != req.poster {
		return nil, xerrors.Errorf("poster %s is not the local signer %s", req.poster, self)
	}
	asset, err := pm.assets.Resolve(req.asset)
	if err != nil {
		return nil, err
	}
	decimals := pm.resolveDecimals(ctx, asset)
	amount, err := ledger.ToSmallestUnit(req.deposit, decimals)
	if err != nil {
		return nil, err
	}
	if err := pm.ensureAllowance(ctx, asset.Token, req.poster, amount); err != nil {
		return nil, err
	}

	participants := []string{req.poster.Hex(), req.performer.Hex()}
	params := createChannelParams{
		ChainID:      pm.cfg.ChainID,
		Token:        asset.Token.Hex(),
		Amount:       amount.String(),
		Participants: participants,
		Allocations: []allocationParam{
			{Destination: req.poster.Hex(), Token: asset.Token.Hex(), Amount: amount.String()},
			{Destination: req.performer.Hex(), Token: asset.Token.Hex(), Amount: "0"},
		},
		AppDefinition: appDefinition{
			Protocol:     pm.cfg.Protocol,
			Participants: participants,
			Weights:      pm.cfg.Weights,
			Quorum:       pm.cfg.Quorum,
			Challenge:    pm.cfg.Challenge,
			Nonce:        uint64(pm.clock.Now().UnixNano() / int64(time.Millisecond)),
		},
	}
	resp, err := pm.coord.Request(ctx, rpc.MethodCreateChannel, []interface{}{params})
	if err != nil {
		return nil, xerrors.Errorf("create_channel: %w", err)
	}

	created, err := parseChannelCreated(resp, openExpectation{
		Poster:           req.poster,
		DefaultChallenge: pm.cfg.Challenge,
		ChainID:          pm.cfg.ChainID,
	})
	if err != nil {
		return nil, err
	}
	for _, field := range created.Defaulted {
		defaultedFieldsCt.Inc(ctx, 1)
		log.Warnw("coordinator omitted field, using default", "channel", created.ChannelID, "field", field)
	}

	if exists, err := pm.store.Has(ctx, created.ChannelID); err != nil {
		return nil, err
	} else if exists {
		return nil, xerrors.Errorf("coordinator returned channel id %s that is already tracked", created.ChannelID)
	}

	now := pm.clock.Now()
	rec := &ChannelRecord{
		ChannelID:     created.ChannelID,
		SessionID:     created.SessionID,
		Participants:  [2]chanstate.Address{req.poster, req.performer},
		DepositAmount: req.deposit,
		Asset:         asset.Symbol,
		Token:         asset.Token,
		Decimals:      decimals,
		Status:        StatusOpen,
		Allocation: map[string]decimal.Decimal{
			req.poster.Hex():    req.deposit,
			req.performer.Hex(): decimal.Zero,
		},
		Version:         created.Version,
		Adjudicator:     created.Adjudicator,
		Challenge:       created.Challenge,
		Nonce:           created.Nonce,
		Coordinator:     created.Coordinator,
		DefaultedFields: created.Defaulted,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := pm.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	log.Infow("opened channel", "channel", rec.ChannelID, "session", rec.SessionID, "deposit", rec.DepositAmount, "asset", rec.Asset)
	return rec, nil
}

func (pm *Manager) openSimulated(ctx context.Context, req openRequest) (*OpenResult, error) {
	id := uuid.New()
	channelID := chanstate.BytesToHash(crypto.Keccak256(req.poster[:], req.performer[:], id[:]))

	rec := &ChannelRecord{
		ChannelID:     channelID,
		SessionID:     "sim-" + id.String(),
		Participants:  [2]chanstate.Address{req.poster, req.performer},
		DepositAmount: req.deposit,
		Asset:         req.asset,
		Decimals:      pm.defaultDecimals,
		Status:        StatusOpen,
		Allocation: map[string]decimal.Decimal{
			req.poster.Hex():    req.deposit,
			req.performer.Hex(): decimal.Zero,
		},
		Challenge: pm.cfg.Challenge,
		Simulated: true,
	}
	// best effort: a known asset keeps its token and pinned precision
	if asset, err := pm.assets.Resolve(req.asset); err == nil {
		rec.Asset = asset.Symbol
		rec.Token = asset.Token
		if asset.Decimals != nil {
			rec.Decimals = *asset.Decimals
		}
	}
	rec.CreatedAt = pm.clock.Now()
	rec.UpdatedAt = rec.CreatedAt

	if err := pm.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	log.Infow("opened simulated channel", "channel", rec.ChannelID, "session", rec.SessionID)
	return &OpenResult{ChannelID: rec.ChannelID, SessionID: rec.SessionID, Simulated: true}, nil
}

// resolveDecimals returns the pinned precision of asset, else the ledger's,
// else the configured default.
func (pm *Manager) resolveDecimals(ctx context.Context, asset ledger.Asset) uint8 {
	if asset.Decimals != nil {
		return *asset.Decimals
	}
	if pm.ledger != nil {
		d, err := pm.ledger.Decimals(ctx, asset.Token)
		if err == nil {
			return d
		}
		log.Warnw("token precision lookup failed, using default", "token", asset.Token, "default", pm.defaultDecimals, "err", err)
	} else {
		log.Warnw("no ledger configured, using default token precision", "token", asset.Token, "default", pm.defaultDecimals)
	}
	decimalsFallbacksCt.Inc(ctx, 1)
	return pm.defaultDecimals
}

func (pm *Manager) ensureAllowance(ctx context.Context, token, owner chanstate.Address, amount big.Int) error {
	if pm.ledger == nil || pm.custody.Empty() {
		return nil
	}
	current, err := pm.ledger.Allowance(ctx, token, owner, pm.custody)
	if err != nil {
		return err
	}
	if current.GreaterThanEqual(amount) {
		return nil
	}
	tx, err := pm.ledger.Approve(ctx, token, owner, pm.custody, amount)
	if err != nil {
		return err
	}
	log.Infow("approved custody allowance", "token", token, "amount", amount, "tx", tx)
	return nil
}

// UpdateAllocation replaces the allocation of an open channel. alloc is
// keyed by participant address in any case; a participant left out gets
// zero. The new allocation must sum exactly to the deposit. The state is
// signed and, for live channels, accepted by the coordinator before the
// record changes; failures are returned and leave the record untouched.
func (pm *Manager) UpdateAllocation(ctx context.Context, channelID chanstate.Hash, alloc map[string]decimal.Decimal) error {
	l := pm.locks.lock(channelID)
	defer l.Unlock()

	rec, err := pm.store.Get(ctx, channelID)
	if err != nil {
		return err
	}
	if rec.Status != StatusOpen {
		return xerrors.Errorf("%w: %s is %s", ErrChannelNotOpen, channelID, rec.Status)
	}
	next, err := normalizeAllocation(rec, alloc)
	if err != nil {
		return err
	}
	allocs, err := stateAllocations(rec, next)
	if err != nil {
		return err
	}
	signer, err := pm.stateSignerFor(rec)
	if err != nil {
		return err
	}

	version := l.nextVersion(rec.Version)
	st := &chanstate.State{
		ChannelID:   rec.ChannelID,
		Intent:      chanstate.IntentResize,
		Version:     big.NewIntUnsigned(version),
		Data:        []byte{},
		Allocations: allocs,
	}
	sig, err := signer.SignState(ctx, st)
	if err != nil {
		return err
	}

	if !rec.Simulated {
		params, err := newStateParams(st, sig)
		if err != nil {
			return err
		}
		if _, err := pm.coord.Request(ctx, rpc.MethodSubmitState, []interface{}{params}); err != nil {
			return xerrors.Errorf("submit_state version %d for %s: %w", version, channelID, err)
		}
	}

	rec.Allocation = next
	rec.Version = version
	rec.UpdatedAt = pm.clock.Now()
	return pm.store.Put(ctx, rec)
}

// CloseChannel signs the final state from the current allocation and asks
// the coordinator to settle it. A close the coordinator reports as still in
// progress moves the channel to CLOSING; closing again from CLOSING is
// allowed. Simulated channels close locally with a synthesized settlement
// reference.
func (pm *Manager) CloseChannel(ctx context.Context, channelID chanstate.Hash) (*CloseResult, error) {
	l := pm.locks.lock(channelID)
	defer l.Unlock()

	rec, err := pm.store.Get(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusOpen && rec.Status != StatusClosing {
		return nil, xerrors.Errorf("%w: %s is %s", ErrChannelNotOpen, channelID, rec.Status)
	}
	allocs, err := stateAllocations(rec, rec.Allocation)
	if err != nil {
		return nil, err
	}
	signer, err := pm.stateSignerFor(rec)
	if err != nil {
		return nil, err
	}

	version := l.nextVersion(rec.Version)
	st := &chanstate.State{
		ChannelID:   rec.ChannelID,
		Intent:      chanstate.IntentFinalize,
		Version:     big.NewIntUnsigned(version),
		Data:        []byte{},
		Allocations: allocs,
	}
	sig, err := signer.SignState(ctx, st)
	if err != nil {
		return nil, err
	}
	params, err := newStateParams(st, sig)
	if err != nil {
		return nil, err
	}

	var (
		status ChannelStatus
		txRef  string
	)
	if rec.Simulated {
		status = StatusClosed
		txRef = chanstate.BytesToHash(crypto.Keccak256([]byte("settle"), []byte(params.StateHash))).Hex()
	} else {
		resp, err := pm.coord.Request(ctx, rpc.MethodCloseChannel, []interface{}{closeChannelParams{
			ChannelID:        rec.ChannelID.Hex(),
			FundsDestination: rec.Poster().Hex(),
			State:            params,
		}})
		if err != nil {
			return nil, xerrors.Errorf("close_channel %s: %w", channelID, err)
		}
		if status, txRef, err = parseChannelClosed(resp); err != nil {
			return nil, err
		}
	}
	if !rec.Status.canMoveTo(status) {
		return nil, xerrors.Errorf("channel %s cannot move from %s to %s", channelID, rec.Status, status)
	}

	rec.Status = status
	rec.Version = version
	rec.SettlementTxRef = txRef
	rec.UpdatedAt = pm.clock.Now()
	if err := pm.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	log.Infow("channel close submitted", "channel", channelID, "status", status, "tx", txRef, "simulated", rec.Simulated)
	return &CloseResult{Status: status, SettlementTxRef: txRef, Simulated: rec.Simulated}, nil
}

// GetChannel returns a snapshot of the channel record.
func (pm *Manager) GetChannel(ctx context.Context, channelID chanstate.Hash) (*ChannelRecord, error) {
	return pm.store.Get(ctx, channelID)
}

// ListChannels returns snapshots of every tracked channel.
func (pm *Manager) ListChannels(ctx context.Context) ([]*ChannelRecord, error) {
	return pm.store.List(ctx)
}

func (pm *Manager) stateSignerFor(rec *ChannelRecord) (wallet.StateSigner, error) {
	if rec.Simulated {
		return wallet.NewSimulatedSigner(rec.Poster()), nil
	}
	if pm.signer == nil {
		return nil, wallet.ErrSignerUnavailable
	}
	if pm.coord == nil {
		return nil, xerrors.Errorf("live channel %s but no coordinator session", rec.ChannelID)
	}
	return pm.signer, nil
}

// normalizeAllocation checks alloc against rec and returns it keyed by
// lowercase address with every participant present.
func normalizeAllocation(rec *ChannelRecord, alloc map[string]decimal.Decimal) (map[string]decimal.Decimal, error) {
	next := map[string]decimal.Decimal{
		rec.Poster().Hex():    decimal.Zero,
		rec.Performer().Hex(): decimal.Zero,
	}
	seen := make(map[string]bool, len(alloc))
	sum := decimal.Zero
	for key, amount := range alloc {
		addr, err := chanstate.ParseAddress(key)
		if err != nil {
			return nil, xerrors.Errorf("%w: key %q: %s", ErrInvalidAllocation, key, err)
		}
		norm := addr.Hex()
		if _, ok := next[norm]; !ok {
			return nil, xerrors.Errorf("%w: %s is not a participant of %s", ErrInvalidAllocation, norm, rec.ChannelID)
		}
		if seen[norm] {
			return nil, xerrors.Errorf("%w: %s given more than once", ErrInvalidAllocation, norm)
		}
		if amount.IsNegative() {
			return nil, xerrors.Errorf("%w: negative amount %s for %s", ErrInvalidAllocation, amount, norm)
		}
		seen[norm] = true
		next[norm] = amount
		sum = sum.Add(amount)
	}
	if !sum.Equal(rec.DepositAmount) {
		return nil, xerrors.Errorf("%w: allocation sums to %s, deposit is %s", ErrAllocationImbalance, sum, rec.DepositAmount)
	}
	return next, nil
}

// stateAllocations converts alloc to smallest units in participant order. A
// balanced map whose rounded amounts no longer sum to the deposit is
// ErrInvalidAllocation.
func stateAllocations(rec *ChannelRecord, alloc map[string]decimal.Decimal) ([]chanstate.Allocation, error) {
	deposit, err := ledger.ToSmallestUnit(rec.DepositAmount, rec.Decimals)
	if err != nil {
		return nil, err
	}
	total := big.Zero()
	out := make([]chanstate.Allocation, 0, len(rec.Participants))
	for _, p := range rec.Participants {
		amount, err := ledger.ToSmallestUnit(alloc[p.Hex()], rec.Decimals)
		if err != nil {
			return nil, err
		}
		out = append(out, chanstate.Allocation{Destination: p, Token: rec.Token, Amount: amount})
		total = big.Add(total, amount)
	}
	// the decimal sum already matches the deposit, so a mismatch here is rounding.
	if !total.Equals(deposit) {
		return nil, xerrors.Errorf("%w: amounts not representable at precision %d (%s smallest units allocated, deposit is %s)", ErrInvalidAllocation, rec.Decimals, total, deposit)
	}
	return out, nil
}

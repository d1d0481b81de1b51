package paychmgr

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-datastore"
	dss "github.com/ipfs/go-datastore/sync"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/config"
	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
	"github.com/filecoin-project/venus-statechannel/pkg/ledger"
	"github.com/filecoin-project/venus-statechannel/pkg/rpc"
	"github.com/filecoin-project/venus-statechannel/pkg/wallet"
)

type coordHandler func(params json.RawMessage) (interface{}, error)

// mockCoordinator answers requests from per-method handlers and records
// what it received.
type mockCoordinator struct {
	lk       sync.Mutex
	handlers map[string]coordHandler
	received map[string][]json.RawMessage
}

func newMockCoordinator() *mockCoordinator {
	return &mockCoordinator{
		handlers: map[string]coordHandler{},
		received: map[string][]json.RawMessage{},
	}
}

func (mc *mockCoordinator) handle(method string, h coordHandler) {
	mc.lk.Lock()
	defer mc.lk.Unlock()
	mc.handlers[method] = h
}

func (mc *mockCoordinator) calls(method string) int {
	mc.lk.Lock()
	defer mc.lk.Unlock()
	return len(mc.received[method])
}

func (mc *mockCoordinator) total() int {
	mc.lk.Lock()
	defer mc.lk.Unlock()
	n := 0
	for _, r := range mc.received {
		n += len(r)
	}
	return n
}

// lastParams decodes the first element of the last params sent for method.
func (mc *mockCoordinator) lastParams(t *testing.T, method string, v interface{}) {
	mc.lk.Lock()
	defer mc.lk.Unlock()
	got := mc.received[method]
	require.NotEmpty(t, got, method)
	var items []json.RawMessage
	require.NoError(t, json.Unmarshal(got[len(got)-1], &items))
	require.Len(t, items, 1)
	require.NoError(t, json.Unmarshal(items[0], v))
}

func (mc *mockCoordinator) Request(ctx context.Context, method string, params interface{}) (*rpc.Response, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	mc.lk.Lock()
	mc.received[method] = append(mc.received[method], raw)
	h := mc.handlers[method]
	mc.lk.Unlock()

	if h == nil {
		return nil, xerrors.Errorf("%w: method %s not handled", rpc.ErrCoordinatorRejected, method)
	}
	res, err := h(raw)
	if err != nil {
		return nil, err
	}
	p, err := rpc.NewPayload(1, method, []interface{}{res}, 1)
	if err != nil {
		return nil, err
	}
	return &rpc.Response{Res: p}, nil
}

// mockLedger is a settlement network with fixed precision and recorded
// allowance traffic.
type mockLedger struct {
	lk        sync.Mutex
	decimals  map[chanstate.Address]uint8
	allowance big.Int
	approved  []big.Int
	failAll   bool
}

func newMockLedger() *mockLedger {
	return &mockLedger{decimals: map[chanstate.Address]uint8{}, allowance: big.Zero()}
}

var errLedgerDown = xerrors.New("ledger unavailable")

func (ml *mockLedger) Decimals(ctx context.Context, token chanstate.Address) (uint8, error) {
	ml.lk.Lock()
	defer ml.lk.Unlock()
	if ml.failAll {
		return 0, errLedgerDown
	}
	d, ok := ml.decimals[token]
	if !ok {
		return 0, ledger.ErrNotContract
	}
	return d, nil
}

func (ml *mockLedger) Allowance(ctx context.Context, token, owner, spender chanstate.Address) (big.Int, error) {
	ml.lk.Lock()
	defer ml.lk.Unlock()
	if ml.failAll {
		return big.Zero(), errLedgerDown
	}
	return ml.allowance, nil
}

func (ml *mockLedger) Approve(ctx context.Context, token, owner, spender chanstate.Address, amount big.Int) (chanstate.Hash, error) {
	ml.lk.Lock()
	defer ml.lk.Unlock()
	if ml.failAll {
		return chanstate.Hash{}, errLedgerDown
	}
	ml.approved = append(ml.approved, amount)
	ml.allowance = amount
	return chanstate.BytesToHash([]byte{0xa9}), nil
}

func (ml *mockLedger) TransactionReceipt(ctx context.Context, tx chanstate.Hash) (*ledger.Receipt, error) {
	return nil, nil
}

var (
	testToken       = chanstate.MustParseAddress("0x3c499c542cef5e3811e1192ce70d8cc03d5c3359")
	testPerformer   = chanstate.MustParseAddress("0x00000000000000000000000000000000000000b2")
	testCoordinator = chanstate.MustParseAddress("0x00000000000000000000000000000000000000c0")
	testAdjudicator = chanstate.MustParseAddress("0x00000000000000000000000000000000000000ad")
	testCustody     = chanstate.MustParseAddress("0x00000000000000000000000000000000000000cc")
)

type harness struct {
	mgr    *Manager
	store  *Store
	coord  *mockCoordinator
	ledger *mockLedger
	key    *wallet.Key
	clock  *clock.Mock
}

// poster is the address of the local signing key.
func (h *harness) poster() string {
	return h.key.Address.Hex()
}

type harnessOpt func(*ManagerParams)

func withoutCoordinator() harnessOpt {
	return func(p *ManagerParams) { p.Coordinator = nil }
}

func withoutLedger() harnessOpt {
	return func(p *ManagerParams) { p.Ledger = nil }
}

func withSimulation() harnessOpt {
	return func(p *ManagerParams) { p.Channel.Simulation = true }
}

func withAssets(assets ...*config.AssetConfig) harnessOpt {
	return func(p *ManagerParams) {
		reg, err := ledger.NewAssetRegistry(assets)
		if err != nil {
			panic(err)
		}
		p.Assets = reg
	}
}

func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	key, err := wallet.ParseKey("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)

	h := &harness{
		store:  NewStore(dss.MutexWrap(datastore.NewMapDatastore())),
		coord:  newMockCoordinator(),
		ledger: newMockLedger(),
		key:    key,
		clock:  clock.NewMock(),
	}
	h.ledger.decimals[testToken] = 6

	chcfg := config.NewDefaultConfig().Channel
	chcfg.Custody = testCustody.Hex()

	params := ManagerParams{
		Store:           h.store,
		Coordinator:     h.coord,
		Ledger:          h.ledger,
		Signer:          key.StateSigner(),
		Channel:         chcfg,
		DefaultDecimals: 6,
		Clock:           h.clock,
	}
	withAssets(&config.AssetConfig{Symbol: "usdc", Token: testToken.Hex()})(&params)
	for _, o := range opts {
		o(&params)
	}
	if params.Coordinator == nil {
		h.coord = nil
	}

	h.mgr, err = NewManager(params)
	require.NoError(t, err)
	return h
}

// acceptCreate makes the coordinator accept create_channel with a fixed
// channel id and the given extra result fields.
func (h *harness) acceptCreate(id chanstate.Hash, extra map[string]interface{}) {
	h.coord.handle(rpc.MethodCreateChannel, func(json.RawMessage) (interface{}, error) {
		res := map[string]interface{}{
			"channel_id":     id.Hex(),
			"app_session_id": "session-1",
			"participant":    testCoordinator.Hex(),
			"nonce":          7,
			"adjudicator":    testAdjudicator.Hex(),
			"challenge":      3600,
		}
		for k, v := range extra {
			if v == nil {
				delete(res, k)
				continue
			}
			res[k] = v
		}
		return res, nil
	})
}

func (h *harness) acceptStates() {
	h.coord.handle(rpc.MethodSubmitState, func(json.RawMessage) (interface{}, error) {
		return map[string]interface{}{"accepted": true}, nil
	})
}

package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/filecoin-project/go-state-types/big"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
)

var log = logging.Logger("ledger")

// ERC-20 function selectors.
var (
	selectorDecimals  = []byte{0x31, 0x3c, 0xe5, 0x67}
	selectorAllowance = []byte{0xdd, 0x62, 0xed, 0x3e}
	selectorApprove   = []byte{0x09, 0x5e, 0xa7, 0xb3}
)

var (
	// ErrUnknownAsset is returned for asset symbols that are not configured
	// and are not token addresses either.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrNotContract is returned when a token call returns no data.
	ErrNotContract = errors.New("no contract code at token address")
)

// Ledger is the settlement network as seen by the channel engine.
type Ledger interface {
	Decimals(ctx context.Context, token chanstate.Address) (uint8, error)
	Allowance(ctx context.Context, token, owner, spender chanstate.Address) (big.Int, error)
	Approve(ctx context.Context, token, owner, spender chanstate.Address, amount big.Int) (chanstate.Hash, error)
	// TransactionReceipt returns nil, nil while tx is not yet mined.
	TransactionReceipt(ctx context.Context, tx chanstate.Hash) (*Receipt, error)
}

// CallMsg is the argument object of eth_call and eth_sendTransaction.
type CallMsg struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Data string `json:"data"`
}

// Receipt is the subset of an Ethereum transaction receipt used to track
// settlement.
type Receipt struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	Status          string `json:"status"`
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r.Status == "0x1"
}

// EthAPIAdapter binds the Ethereum JSON-RPC methods used here.
type EthAPIAdapter struct {
	Internal struct {
		Call                  func(ctx context.Context, msg CallMsg, block string) (string, error) `rpc_method:"eth_call"`
		SendTransaction       func(ctx context.Context, msg CallMsg) (string, error)               `rpc_method:"eth_sendTransaction"`
		GetTransactionReceipt func(ctx context.Context, hash string) (*Receipt, error)             `rpc_method:"eth_getTransactionReceipt"`
	}
}

// Client talks to an Ethereum JSON-RPC endpoint. Every call is bounded by
// the configured timeout.
type Client struct {
	api     EthAPIAdapter
	timeout time.Duration
}

var _ Ledger = (*Client)(nil)

// NewClient dials the JSON-RPC endpoint at addr.
func NewClient(ctx context.Context, addr string, timeout time.Duration, requestHeader http.Header) (*Client, jsonrpc.ClientCloser, error) {
	c := &Client{timeout: timeout}
	closer, err := jsonrpc.NewMergeClient(ctx, addr, "eth",
		[]interface{}{
			&c.api.Internal,
		},
		requestHeader,
	)
	if err != nil {
		return nil, nil, xerrors.Errorf("connecting to ledger %s: %w", addr, err)
	}
	return c, closer, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) call(ctx context.Context, token chanstate.Address, data []byte) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.api.Internal.Call(ctx, CallMsg{To: token.Hex(), Data: hexData(data)}, "latest")
	if err != nil {
		return nil, err
	}
	raw, err := decodeHexData(out)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, xerrors.Errorf("%w: %s", ErrNotContract, token)
	}
	if len(raw) < chanstate.WordLength {
		return nil, xerrors.Errorf("short return data from %s: %d bytes", token, len(raw))
	}
	return raw, nil
}

// Decimals queries the token's decimals().
func (c *Client) Decimals(ctx context.Context, token chanstate.Address) (uint8, error) {
	raw, err := c.call(ctx, token, selectorDecimals)
	if err != nil {
		return 0, xerrors.Errorf("decimals of %s: %w", token, err)
	}
	v := chanstate.WordToInt(raw[:chanstate.WordLength])
	if !v.IsUint64() || v.Uint64() > 255 {
		return 0, xerrors.Errorf("decimals of %s out of range: %s", token, v)
	}
	return uint8(v.Uint64()), nil
}

// Allowance queries allowance(owner, spender).
func (c *Client) Allowance(ctx context.Context, token, owner, spender chanstate.Address) (big.Int, error) {
	data := calldata(selectorAllowance, chanstate.AddressWord(owner), chanstate.AddressWord(spender))
	raw, err := c.call(ctx, token, data)
	if err != nil {
		return big.Zero(), xerrors.Errorf("allowance on %s: %w", token, err)
	}
	return chanstate.WordToInt(raw[:chanstate.WordLength]), nil
}

// Approve submits approve(spender, amount) from owner. The endpoint must
// manage owner's account.
func (c *Client) Approve(ctx context.Context, token, owner, spender chanstate.Address, amount big.Int) (chanstate.Hash, error) {
	amt, err := chanstate.UintWord(amount)
	if err != nil {
		return chanstate.Hash{}, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	data := calldata(selectorApprove, chanstate.AddressWord(spender), amt)
	out, err := c.api.Internal.SendTransaction(ctx, CallMsg{From: owner.Hex(), To: token.Hex(), Data: hexData(data)})
	if err != nil {
		return chanstate.Hash{}, xerrors.Errorf("approve on %s: %w", token, err)
	}
	log.Infow("submitted allowance", "token", token, "spender", spender, "amount", amount, "tx", out)
	return chanstate.ParseHash(out)
}

// TransactionReceipt fetches the receipt of tx.
func (c *Client) TransactionReceipt(ctx context.Context, tx chanstate.Hash) (*Receipt, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.api.Internal.GetTransactionReceipt(ctx, tx.Hex())
}

func calldata(selector []byte, words ...chanstate.Word) []byte {
	out := make([]byte, 0, len(selector)+len(words)*chanstate.WordLength)
	out = append(out, selector...)
	for _, w := range words {
		out = append(out, w[:]...)
	}
	return out
}

func hexData(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func decodeHexData(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

package ledger

import (
	"strings"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/config"
	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
)

// Asset is a resolved asset: its canonical symbol, token contract and, when
// configured, a pinned precision.
type Asset struct {
	Symbol   string
	Token    chanstate.Address
	Decimals *uint8
}

// AssetRegistry maps asset symbols to token contracts.
type AssetRegistry struct {
	bySymbol map[string]Asset
}

// NewAssetRegistry builds a registry from the [[assets]] config entries.
func NewAssetRegistry(assets []*config.AssetConfig) (*AssetRegistry, error) {
	r := &AssetRegistry{bySymbol: make(map[string]Asset, len(assets))}
	for _, a := range assets {
		token, err := chanstate.ParseAddress(a.Token)
		if err != nil {
			return nil, xerrors.Errorf("asset %s: %w", a.Symbol, err)
		}
		sym := strings.ToLower(a.Symbol)
		if _, dup := r.bySymbol[sym]; dup {
			return nil, xerrors.Errorf("asset %s configured twice", a.Symbol)
		}
		var pinned *uint8
		if a.Decimals != nil {
			d := *a.Decimals
			pinned = &d
		}
		r.bySymbol[sym] = Asset{Symbol: sym, Token: token, Decimals: pinned}
	}
	return r, nil
}

// Resolve looks up asset by symbol, case-insensitively. A token address
// resolves to itself with no pinned precision.
func (r *AssetRegistry) Resolve(asset string) (Asset, error) {
	if a, ok := r.bySymbol[strings.ToLower(strings.TrimSpace(asset))]; ok {
		return a, nil
	}
	if token, err := chanstate.ParseAddress(asset); err == nil {
		return Asset{Symbol: token.Hex(), Token: token}, nil
	}
	return Asset{}, xerrors.Errorf("%w: %q", ErrUnknownAsset, asset)
}

// Symbols lists the configured symbols.
func (r *AssetRegistry) Symbols() []string {
	out := make([]string, 0, len(r.bySymbol))
	for s := range r.bySymbol {
		out = append(out, s)
	}
	return out
}

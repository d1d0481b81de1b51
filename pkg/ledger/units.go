package ledger

import (
	"github.com/filecoin-project/go-state-types/big"
	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
)

// MaxDecimals is the largest precision whose unit still fits a uint256.
const MaxDecimals = 77

// ToSmallestUnit converts a human amount to integer smallest units:
// round(amount * 10^precision), halves rounded away from zero.
func ToSmallestUnit(amount decimal.Decimal, precision uint8) (big.Int, error) {
	if amount.IsNegative() {
		return big.Zero(), xerrors.Errorf("%w: negative amount %s", chanstate.ErrEncoding, amount)
	}
	if precision > MaxDecimals {
		return big.Zero(), xerrors.Errorf("%w: precision %d too large", chanstate.ErrEncoding, precision)
	}
	scaled := amount.Shift(int32(precision)).Round(0)
	out := big.NewFromGo(scaled.BigInt())
	if out.BitLen() > 256 {
		return big.Zero(), xerrors.Errorf("%w: %s does not fit 256 bits at precision %d", chanstate.ErrEncoding, amount, precision)
	}
	return out, nil
}

// FromSmallestUnit converts integer smallest units back to a human amount.
func FromSmallestUnit(amount big.Int, precision uint8) decimal.Decimal {
	if amount.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount.Int, -int32(precision))
}

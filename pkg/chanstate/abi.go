package chanstate

import (
	gobig "math/big"

	"github.com/filecoin-project/go-state-types/big"
	"golang.org/x/xerrors"
)

// WordLength is the size of one ABI head/tail slot.
const WordLength = 32

// Word is a single 32 byte ABI slot.
type Word [WordLength]byte

var maxUint256 = new(gobig.Int).Sub(new(gobig.Int).Lsh(gobig.NewInt(1), 256), gobig.NewInt(1))

// AddressWord left-pads an address to a full slot.
func AddressWord(a Address) Word {
	var w Word
	copy(w[WordLength-AddressLength:], a[:])
	return w
}

// Uint64Word encodes v as a big-endian uint256.
func Uint64Word(v uint64) Word {
	var w Word
	for i := 0; i < 8; i++ {
		w[WordLength-1-i] = byte(v >> (8 * i))
	}
	return w
}

// UintWord encodes a non-negative integer below 2^256 as a big-endian uint256.
func UintWord(v big.Int) (Word, error) {
	var w Word
	if v.Int == nil {
		return w, xerrors.Errorf("nil integer: %w", ErrEncoding)
	}
	if v.Sign() < 0 {
		return w, xerrors.Errorf("negative value %s: %w", v.String(), ErrEncoding)
	}
	if v.Int.Cmp(maxUint256) > 0 {
		return w, xerrors.Errorf("value %s overflows uint256: %w", v.String(), ErrEncoding)
	}
	v.Int.FillBytes(w[:])
	return w, nil
}

// WordToInt decodes a big-endian uint256 slot.
func WordToInt(w []byte) big.Int {
	return big.NewFromGo(new(gobig.Int).SetBytes(w))
}

type encoder struct {
	buf []byte
}

func (e *encoder) word(w Word) {
	e.buf = append(e.buf, w[:]...)
}

func (e *encoder) uint64(v uint64) {
	e.word(Uint64Word(v))
}

// bytes appends length-prefixed, right-padded dynamic bytes.
func (e *encoder) bytes(b []byte) {
	e.uint64(uint64(len(b)))
	e.buf = append(e.buf, b...)
	if rem := len(b) % WordLength; rem != 0 {
		e.buf = append(e.buf, make([]byte, WordLength-rem)...)
	}
}

func paddedLen(n int) int {
	return (n + WordLength - 1) / WordLength * WordLength
}

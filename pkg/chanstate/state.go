package chanstate

import (
	"fmt"

	"github.com/filecoin-project/go-state-types/big"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/pkg/crypto"
)

// Intent tells the verifier what kind of transition a signed state represents.
type Intent uint8

const (
	IntentOperate Intent = iota
	IntentInitialize
	IntentResize
	IntentFinalize
)

func (i Intent) String() string {
	switch i {
	case IntentOperate:
		return "operate"
	case IntentInitialize:
		return "initialize"
	case IntentResize:
		return "resize"
	case IntentFinalize:
		return "finalize"
	default:
		return fmt.Sprintf("intent(%d)", uint8(i))
	}
}

// Allocation attributes Amount (smallest unit) of Token to Destination.
type Allocation struct {
	Destination Address `json:"destination"`
	Token       Address `json:"token"`
	Amount      big.Int `json:"amount"`
}

// State is the tuple that is hashed and signed. Allocations are encoded in the
// order given; reordering them produces a different state.
type State struct {
	ChannelID   Hash         `json:"channelId"`
	Intent      Intent       `json:"intent"`
	Version     big.Int      `json:"version"`
	Data        []byte       `json:"data"`
	Allocations []Allocation `json:"allocations"`
}

// headWords is the number of head slots of the encoded state tuple.
const headWords = 5

// Encode returns abi.encode(bytes32 channelId, uint8 intent, uint256 version,
// bytes data, (address,address,uint256)[] allocations).
func Encode(st *State) ([]byte, error) {
	if st == nil {
		return nil, xerrors.Errorf("nil state: %w", ErrEncoding)
	}
	version, err := UintWord(st.Version)
	if err != nil {
		return nil, xerrors.Errorf("version: %w", err)
	}
	amounts := make([]Word, len(st.Allocations))
	for i, a := range st.Allocations {
		w, err := UintWord(a.Amount)
		if err != nil {
			return nil, xerrors.Errorf("allocation %d amount: %w", i, err)
		}
		amounts[i] = w
	}

	dataOffset := uint64(headWords * WordLength)
	allocOffset := dataOffset + WordLength + uint64(paddedLen(len(st.Data)))

	e := &encoder{buf: make([]byte, 0, int(allocOffset)+WordLength+len(st.Allocations)*3*WordLength)}
	e.word(Word(st.ChannelID))
	e.uint64(uint64(st.Intent))
	e.word(version)
	e.uint64(dataOffset)
	e.uint64(allocOffset)
	e.bytes(st.Data)
	e.uint64(uint64(len(st.Allocations)))
	for i, a := range st.Allocations {
		e.word(AddressWord(a.Destination))
		e.word(AddressWord(a.Token))
		e.word(amounts[i])
	}
	return e.buf, nil
}

// HashBytes is keccak256 over an encoded state.
func HashBytes(encoded []byte) Hash {
	return BytesToHash(crypto.Keccak256(encoded))
}

// HashState encodes st and hashes the result. This is the digest the
// adjudicator recovers signers from.
func HashState(st *State) (Hash, error) {
	b, err := Encode(st)
	if err != nil {
		return Hash{}, err
	}
	return HashBytes(b), nil
}

// TotalAmount sums the allocation amounts.
func (st *State) TotalAmount() big.Int {
	total := big.Zero()
	for _, a := range st.Allocations {
		total = big.Add(total, a.Amount)
	}
	return total
}

package chanstate

import (
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/pkg/crypto"
)

// Channel holds the fixed parameters the on-chain custody contract derives a
// channel id from.
type Channel struct {
	Participants []Address `json:"participants"`
	Adjudicator  Address   `json:"adjudicator"`
	Challenge    uint64    `json:"challenge"`
	Nonce        uint64    `json:"nonce"`
}

// EncodeChannel returns abi.encode(address[] participants, address adjudicator,
// uint64 challenge, uint64 nonce, uint256 chainId).
func EncodeChannel(ch Channel, chainID uint64) ([]byte, error) {
	if len(ch.Participants) == 0 {
		return nil, xerrors.Errorf("channel without participants: %w", ErrEncoding)
	}
	e := &encoder{}
	e.uint64(headWords * WordLength)
	e.word(AddressWord(ch.Adjudicator))
	e.uint64(ch.Challenge)
	e.uint64(ch.Nonce)
	e.uint64(chainID)
	e.uint64(uint64(len(ch.Participants)))
	for _, p := range ch.Participants {
		e.word(AddressWord(p))
	}
	return e.buf, nil
}

// ComputeChannelID is keccak256(EncodeChannel(ch, chainID)).
func ComputeChannelID(ch Channel, chainID uint64) (Hash, error) {
	b, err := EncodeChannel(ch, chainID)
	if err != nil {
		return Hash{}, err
	}
	return BytesToHash(crypto.Keccak256(b)), nil
}

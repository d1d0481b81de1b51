package wallet

import (
	"context"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
	"github.com/filecoin-project/venus-statechannel/pkg/crypto"
)

// SimulatedSigner stands in for both capabilities when no credential is
// configured. Its output is deterministic and shaped like a real signature
// (65 bytes, v = 27) but recovers to no meaningful key. Callers track
// simulation mode themselves rather than inspecting signatures.
type SimulatedSigner struct {
	addr chanstate.Address
}

var (
	_ StateSigner    = (*SimulatedSigner)(nil)
	_ EnvelopeSigner = (*SimulatedSigner)(nil)
)

// NewSimulatedSigner returns a signer that reports addr as its address.
func NewSimulatedSigner(addr chanstate.Address) *SimulatedSigner {
	return &SimulatedSigner{addr: addr}
}

func (s *SimulatedSigner) Address() chanstate.Address {
	return s.addr
}

func (s *SimulatedSigner) SignState(ctx context.Context, st *chanstate.State) (Signature, error) {
	encoded, err := chanstate.Encode(st)
	if err != nil {
		return nil, err
	}
	return simulatedSignature([]byte("state"), encoded), nil
}

func (s *SimulatedSigner) SignEnvelope(ctx context.Context, payload []byte) (Signature, error) {
	return simulatedSignature([]byte("envelope"), payload), nil
}

func simulatedSignature(tag, input []byte) Signature {
	r := crypto.Keccak256(tag, input)
	sv := crypto.Keccak256(r)
	sig := make(Signature, 0, crypto.SignatureLength)
	sig = append(sig, r...)
	sig = append(sig, sv...)
	return append(sig, 27)
}

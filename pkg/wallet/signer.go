package wallet

import (
	"context"
	"encoding/hex"
	"errors"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
	"github.com/filecoin-project/venus-statechannel/pkg/crypto"
)

// ErrSignerUnavailable is returned when a signer is requested without a
// credential to back it.
var ErrSignerUnavailable = errors.New("signer unavailable: no credential configured")

// Signature is a 65 byte r||s||v signature.
type Signature []byte

// Hex returns the 0x prefixed lowercase hex of the signature.
func (s Signature) Hex() string {
	return "0x" + hex.EncodeToString(s)
}

func (s Signature) String() string {
	return s.Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.Hex()), nil
}

// StateSigner signs channel states for on-chain verification. The digest
// signed is the raw keccak256 of the canonical encoding, with no message
// prefix, so an adjudicator can recover the signer with ecrecover directly.
type StateSigner interface {
	Address() chanstate.Address
	SignState(ctx context.Context, st *chanstate.State) (Signature, error)
}

// EnvelopeSigner signs coordinator request payloads under the EIP-191
// personal message prefix.
type EnvelopeSigner interface {
	Address() chanstate.Address
	SignEnvelope(ctx context.Context, payload []byte) (Signature, error)
}

// NewStateSigner returns k's state signer, or ErrSignerUnavailable for a nil key.
func NewStateSigner(k *Key) (StateSigner, error) {
	if k == nil {
		return nil, ErrSignerUnavailable
	}
	return k.StateSigner(), nil
}

// NewEnvelopeSigner returns k's envelope signer, or ErrSignerUnavailable for
// a nil key.
func NewEnvelopeSigner(k *Key) (EnvelopeSigner, error) {
	if k == nil {
		return nil, ErrSignerUnavailable
	}
	return k.EnvelopeSigner(), nil
}

type rawHashSigner struct {
	key *Key
}

var _ StateSigner = (*rawHashSigner)(nil)

func (s *rawHashSigner) Address() chanstate.Address {
	return s.key.Address
}

func (s *rawHashSigner) SignState(ctx context.Context, st *chanstate.State) (Signature, error) {
	digest, err := chanstate.HashState(st)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.SignDigest(s.key.PrivateKey, digest[:])
	if err != nil {
		return nil, xerrors.Errorf("signing state %s: %w", st.ChannelID, err)
	}
	return sig, nil
}

type messageSigner struct {
	key *Key
}

var _ EnvelopeSigner = (*messageSigner)(nil)

func (s *messageSigner) Address() chanstate.Address {
	return s.key.Address
}

func (s *messageSigner) SignEnvelope(ctx context.Context, payload []byte) (Signature, error) {
	sig, err := crypto.SignDigest(s.key.PrivateKey, crypto.TextHash(payload))
	if err != nil {
		return nil, xerrors.Errorf("signing envelope: %w", err)
	}
	return sig, nil
}

// VerifyState reports whether sig is addr's raw-hash signature over st.
func VerifyState(addr chanstate.Address, st *chanstate.State, sig Signature) (bool, error) {
	digest, err := chanstate.HashState(st)
	if err != nil {
		return false, err
	}
	recovered, err := crypto.RecoverAddress(digest[:], sig)
	if err != nil {
		return false, err
	}
	return chanstate.Address(recovered) == addr, nil
}

// VerifyEnvelope reports whether sig is addr's EIP-191 signature over payload.
func VerifyEnvelope(addr chanstate.Address, payload []byte, sig Signature) (bool, error) {
	recovered, err := crypto.RecoverAddress(crypto.TextHash(payload), sig)
	if err != nil {
		return false, err
	}
	return chanstate.Address(recovered) == addr, nil
}

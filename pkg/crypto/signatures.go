package crypto

import (
	"crypto/subtle"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/xerrors"
)

//
// secp256k1 signing in the recoverable r||s||v layout understood by EVM verifiers.
//

const (
	// SignatureLength is r (32) + s (32) + v (1).
	SignatureLength = 65
	// AddressLength is the length of an account address derived from a public key.
	AddressLength = 20
	// PrivateKeyLength is the length of a raw secp256k1 secret.
	PrivateKeyLength = 32

	recoveryOffset = 27
)

// PrivateKey is a secp256k1 secret.
type PrivateKey = btcec.PrivateKey

// GenerateKey creates a fresh secp256k1 key from crypto/rand.
func GenerateKey() (*PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// PrivateKeyFromBytes parses a raw 32 byte secret.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != PrivateKeyLength {
		return nil, xerrors.Errorf("invalid private key length %d, expected %d", len(b), PrivateKeyLength)
	}
	var zero [PrivateKeyLength]byte
	if subtle.ConstantTimeCompare(b, zero[:]) == 1 {
		return nil, xerrors.New("invalid private key: zero")
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return priv, nil
}

// PubkeyToAddress returns the last 20 bytes of keccak256 over the uncompressed
// public key without its 0x04 prefix.
func PubkeyToAddress(pub *btcec.PublicKey) [AddressLength]byte {
	var out [AddressLength]byte
	raw := pub.SerializeUncompressed()
	copy(out[:], Keccak256(raw[1:])[12:])
	return out
}

// SignDigest signs a 32 byte digest as-is. No prefix or additional hashing is applied.
func SignDigest(key *PrivateKey, digest []byte) ([]byte, error) {
	if len(digest) != DigestLength {
		return nil, xerrors.Errorf("digest must be %d bytes, got %d", DigestLength, len(digest))
	}
	compact, err := ecdsa.SignCompact(key, digest, false)
	if err != nil {
		return nil, err
	}
	// compact layout is v||r||s, EVM layout is r||s||v.
	sig := make([]byte, SignatureLength)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return sig, nil
}

// RecoverAddress returns the address whose key produced sig over digest.
func RecoverAddress(digest, sig []byte) ([AddressLength]byte, error) {
	var out [AddressLength]byte
	if len(digest) != DigestLength {
		return out, xerrors.Errorf("digest must be %d bytes, got %d", DigestLength, len(digest))
	}
	if len(sig) != SignatureLength {
		return out, xerrors.Errorf("signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	v := sig[64]
	if v < recoveryOffset {
		v += recoveryOffset
	}
	if v != recoveryOffset && v != recoveryOffset+1 {
		return out, xerrors.Errorf("invalid recovery id %d", sig[64])
	}
	compact := make([]byte, SignatureLength)
	compact[0] = v
	copy(compact[1:], sig[:64])
	pub, _, err := ecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return out, err
	}
	return PubkeyToAddress(pub), nil
}

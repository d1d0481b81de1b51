package crypto

import (
	"hash"
	"strconv"

	"golang.org/x/crypto/sha3"
)

//
// Hashing primitives shared by the state encoder and the signers.
//

// DigestLength is the length of a keccak256 digest.
const DigestLength = 32

// KeccakState wraps sha3.state. In addition to the usual hash methods, it also supports
// Read to get a variable amount of data from the hash state. Read is faster than Sum
// because it doesn't copy the internal state, but also modifies the internal state.
type KeccakState interface {
	hash.Hash
	Read([]byte) (int, error)
}

// Keccak256 calculates and returns the legacy Keccak256 hash of the input data,
// the variant used by the EVM (not the finalized SHA3-256).
func Keccak256(data ...[]byte) []byte {
	b := make([]byte, DigestLength)
	d := sha3.NewLegacyKeccak256().(KeccakState)
	for _, in := range data {
		_, _ = d.Write(in)
	}
	_, _ = d.Read(b)
	return b
}

// TextHash returns the EIP-191 "personal message" digest of msg:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
func TextHash(msg []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg))
	return Keccak256([]byte(prefix), msg)
}

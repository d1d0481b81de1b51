package chanstate

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/xerrors"
)

// ErrEncoding is returned for any input the canonical encoder cannot represent
// exactly: malformed addresses or hashes, negative amounts, values wider than 256 bits.
var ErrEncoding = errors.New("encoding error")

// AddressLength is the byte length of an account or token address.
const AddressLength = 20

// HashLength is the byte length of a channel id or state digest.
const HashLength = 32

// Address is a 20 byte account or token address. Its textual form is always
// lowercase hex so two spellings of the same address compare equal.
type Address [AddressLength]byte

// ZeroAddress is the all-zero address.
var ZeroAddress Address

// ParseAddress accepts a 0x-prefixed, 40 hex character address in any letter case.
// Checksums are not enforced.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := decodePrefixedHex(s, AddressLength)
	if err != nil {
		return a, xerrors.Errorf("invalid address %q: %w", s, err)
	}
	copy(a[:], raw)
	return a, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// NormalizeAddress returns the canonical lowercase form of s.
func NormalizeAddress(s string) (string, error) {
	a, err := ParseAddress(s)
	if err != nil {
		return "", err
	}
	return a.Hex(), nil
}

// Hex returns the lowercase 0x-prefixed form.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

// Empty reports whether a is the zero address.
func (a Address) Empty() bool {
	return a == ZeroAddress
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Hash is a 32 byte keccak digest: channel ids and state hashes.
type Hash [HashLength]byte

// ParseHash parses a 0x-prefixed 64 hex character digest.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := decodePrefixedHex(s, HashLength)
	if err != nil {
		return h, xerrors.Errorf("invalid hash %q: %w", s, err)
	}
	copy(h[:], raw)
	return h, nil
}

// BytesToHash copies the last 32 bytes of b into a Hash.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) String() string {
	return h.Hex()
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func decodePrefixedHex(s string, size int) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, xerrors.Errorf("missing 0x prefix: %w", ErrEncoding)
	}
	body := s[2:]
	if len(body) != size*2 {
		return nil, xerrors.Errorf("expected %d hex characters, got %d: %w", size*2, len(body), ErrEncoding)
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", err.Error(), ErrEncoding)
	}
	return raw, nil
}

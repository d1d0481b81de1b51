package wallet

import (
	"encoding/hex"
	"encoding/json"
	"io/ioutil"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/config"
	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
	"github.com/filecoin-project/venus-statechannel/pkg/crypto"
)

const (
	version = 3
)

// Key is a secp256k1 private key together with the address it controls.
type Key struct {
	ID uuid.UUID // Version 4 "random" for unique id not derived from key data
	// to simplify lookups we also store the address
	Address    chanstate.Address
	PrivateKey *crypto.PrivateKey
}

type plainKey struct {
	Address    string `json:"address"`
	PrivateKey string `json:"privatekey"`
	ID         string `json:"id"`
	Version    int    `json:"version"`
}

type encryptedKey struct {
	Address string     `json:"address"`
	Crypto  CryptoJSON `json:"crypto"`
	ID      string     `json:"id"`
	Version int        `json:"version"`
}

// CryptoJSON is the "crypto" object of a V3 keystore file.
type CryptoJSON struct {
	Cipher       string                 `json:"cipher"`
	CipherText   string                 `json:"ciphertext"`
	CipherParams cipherParams           `json:"cipherparams"`
	KDF          string                 `json:"kdf"`
	KDFParams    map[string]interface{} `json:"kdfparams"`
	MAC          string                 `json:"mac"`
}

type cipherParams struct {
	IV string `json:"iv"`
}

// NewKey generates a fresh random key.
func NewKey() (*Key, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return newKeyFromPrivate(priv), nil
}

func newKeyFromPrivate(priv *crypto.PrivateKey) *Key {
	return &Key{
		ID:         uuid.New(),
		Address:    chanstate.Address(crypto.PubkeyToAddress(priv.PubKey())),
		PrivateKey: priv,
	}
}

// ParseKey parses a hex encoded 32 byte secret, with or without 0x prefix.
// Short values are left padded, so "0x01" is the key with scalar one.
func ParseKey(s string) (*Key, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(s) == 0 || len(s) > 2*crypto.PrivateKeyLength {
		return nil, xerrors.Errorf("private key must be 1 to %d hex characters", 2*crypto.PrivateKeyLength)
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, xerrors.Errorf("private key is not hex: %w", err)
	}
	padded := make([]byte, crypto.PrivateKeyLength)
	copy(padded[crypto.PrivateKeyLength-len(raw):], raw)

	priv, err := crypto.PrivateKeyFromBytes(padded)
	if err != nil {
		return nil, err
	}
	return newKeyFromPrivate(priv), nil
}

// Hex returns the 0x prefixed secret. Only the CLI uses this.
func (k *Key) Hex() string {
	return "0x" + hex.EncodeToString(k.PrivateKey.Serialize())
}

// StateSigner returns the capability that signs raw state digests.
func (k *Key) StateSigner() StateSigner {
	return &rawHashSigner{key: k}
}

// EnvelopeSigner returns the capability that signs coordinator envelopes
// under the EIP-191 message prefix.
func (k *Key) EnvelopeSigner() EnvelopeSigner {
	return &messageSigner{key: k}
}

// MarshalJSON encodes the plaintext form that gets encrypted into a keystore.
func (k *Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(plainKey{
		Address:    hex.EncodeToString(k.Address[:]),
		PrivateKey: hex.EncodeToString(k.PrivateKey.Serialize()),
		ID:         k.ID.String(),
		Version:    version,
	})
}

// UnmarshalJSON decodes the plaintext form and checks the address against
// the secret.
func (k *Key) UnmarshalJSON(j []byte) error {
	pk := new(plainKey)
	if err := json.Unmarshal(j, pk); err != nil {
		return err
	}

	id, err := uuid.Parse(pk.ID)
	if err != nil {
		return err
	}

	parsed, err := ParseKey(pk.PrivateKey)
	if err != nil {
		return err
	}

	addr, err := chanstate.ParseAddress("0x" + pk.Address)
	if err != nil {
		return err
	}
	if addr != parsed.Address {
		return xerrors.Errorf("key address %s does not match secret (%s)", addr, parsed.Address)
	}

	k.ID = id
	k.Address = parsed.Address
	k.PrivateKey = parsed.PrivateKey
	return nil
}

// LoadKey reads the configured credential. It returns nil, nil when no
// credential is configured: the caller runs in simulation mode.
func LoadKey(cfg *config.WalletConfig) (*Key, error) {
	if !cfg.HasCredential() {
		return nil, nil
	}
	if cfg.PrivateKey != "" && cfg.KeystorePath != "" {
		return nil, xerrors.New("wallet.privateKey and wallet.keystorePath are mutually exclusive")
	}
	if cfg.PrivateKey != "" {
		return ParseKey(cfg.PrivateKey)
	}

	keyjson, err := ioutil.ReadFile(cfg.KeystorePath)
	if err != nil {
		return nil, xerrors.Errorf("reading keystore: %w", err)
	}
	var passphrase string
	if cfg.PassphraseEnv != "" {
		passphrase = os.Getenv(cfg.PassphraseEnv)
	}
	return DecryptKey(keyjson, []byte(passphrase))
}

package wallet

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"io/ioutil"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
	"github.com/filecoin-project/venus-statechannel/pkg/crypto"
)

const (
	keyHeaderKDF = "scrypt"

	// StandardScryptN and StandardScryptP use 256MB of memory and about a
	// second of CPU on a modern machine.
	StandardScryptN = 1 << 18
	StandardScryptP = 1

	// LightScryptN and LightScryptP use 4MB of memory and a few milliseconds.
	LightScryptN = 1 << 12
	LightScryptP = 6

	scryptR     = 8
	scryptDKLen = 32
)

// ErrDecrypt is returned when the passphrase does not match the keystore MAC.
var ErrDecrypt = errors.New("could not decrypt key with given passphrase")

// EncryptKey encrypts a key using the specified scrypt parameters into a json
// blob that can be decrypted later on.
func EncryptKey(key *Key, passphrase []byte, scryptN, scryptP int) ([]byte, error) {
	keyBytes, err := json.Marshal(key)
	if err != nil {
		return nil, err
	}
	cryptoStruct, err := encryptData(keyBytes, passphrase, scryptN, scryptP)
	if err != nil {
		return nil, err
	}
	return json.Marshal(encryptedKey{
		Address: hex.EncodeToString(key.Address[:]),
		Crypto:  cryptoStruct,
		ID:      key.ID.String(),
		Version: version,
	})
}

// StoreKey encrypts key and writes it to path, readable by the owner only.
func StoreKey(path string, key *Key, passphrase []byte, scryptN, scryptP int) error {
	keyjson, err := EncryptKey(key, passphrase, scryptN, scryptP)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, keyjson, 0600)
}

func encryptData(data, passphrase []byte, scryptN, scryptP int) (CryptoJSON, error) {
	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return CryptoJSON{}, xerrors.Errorf("reading from crypto/rand failed: %w", err)
	}
	derivedKey, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, scryptDKLen)
	if err != nil {
		return CryptoJSON{}, err
	}
	encryptKey := derivedKey[:16]

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return CryptoJSON{}, xerrors.Errorf("reading from crypto/rand failed: %w", err)
	}
	cipherText, err := aesCTRXOR(encryptKey, data, iv)
	if err != nil {
		return CryptoJSON{}, err
	}
	mac := crypto.Keccak256(derivedKey[16:32], cipherText)

	return CryptoJSON{
		Cipher:       "aes-128-ctr",
		CipherText:   hex.EncodeToString(cipherText),
		CipherParams: cipherParams{IV: hex.EncodeToString(iv)},
		KDF:          keyHeaderKDF,
		KDFParams: map[string]interface{}{
			"n":     scryptN,
			"r":     scryptR,
			"p":     scryptP,
			"dklen": scryptDKLen,
			"salt":  hex.EncodeToString(salt),
		},
		MAC: hex.EncodeToString(mac),
	}, nil
}

func aesCTRXOR(key, inText, iv []byte) ([]byte, error) {
	// AES-128 is selected due to size of encryptKey.
	aesBlock, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	stream := cipher.NewCTR(aesBlock, iv)
	outText := make([]byte, len(inText))
	stream.XORKeyStream(outText, inText)
	return outText, nil
}

// DecryptKey decrypts a V3 keystore blob.
func DecryptKey(keyjson, passphrase []byte) (*Key, error) {
	k := new(encryptedKey)
	if err := json.Unmarshal(keyjson, k); err != nil {
		return nil, xerrors.Errorf("parsing keystore: %w", err)
	}
	if k.Version != version {
		return nil, xerrors.Errorf("version not supported: %v", k.Version)
	}

	keyBytes, err := decryptData(k.Crypto, passphrase)
	if err != nil {
		return nil, err
	}

	key := &Key{}
	if err := json.Unmarshal(keyBytes, key); err != nil {
		return nil, err
	}

	if k.Address != "" {
		outer, err := chanstate.ParseAddress("0x" + k.Address)
		if err != nil {
			return nil, err
		}
		if outer != key.Address {
			return nil, xerrors.Errorf("keystore address %s does not match key %s", outer, key.Address)
		}
	}
	return key, nil
}

func decryptData(cryptoJSON CryptoJSON, passphrase []byte) ([]byte, error) {
	if cryptoJSON.Cipher != "aes-128-ctr" {
		return nil, xerrors.Errorf("cipher not supported: %v", cryptoJSON.Cipher)
	}
	mac, err := hex.DecodeString(cryptoJSON.MAC)
	if err != nil {
		return nil, err
	}

	iv, err := hex.DecodeString(cryptoJSON.CipherParams.IV)
	if err != nil {
		return nil, err
	}

	cipherText, err := hex.DecodeString(cryptoJSON.CipherText)
	if err != nil {
		return nil, err
	}

	derivedKey, err := getKDFKey(cryptoJSON, passphrase)
	if err != nil {
		return nil, err
	}

	calculatedMAC := crypto.Keccak256(derivedKey[16:32], cipherText)
	if !bytes.Equal(calculatedMAC, mac) {
		return nil, ErrDecrypt
	}

	return aesCTRXOR(derivedKey[:16], cipherText, iv)
}

func getKDFKey(cryptoJSON CryptoJSON, passphrase []byte) ([]byte, error) {
	saltHex, ok := cryptoJSON.KDFParams["salt"].(string)
	if !ok {
		return nil, xerrors.New("kdfparams.salt is missing")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, err
	}
	dkLen, err := ensureInt(cryptoJSON.KDFParams, "dklen")
	if err != nil {
		return nil, err
	}
	if dkLen < 32 {
		return nil, xerrors.Errorf("kdfparams.dklen %d too short", dkLen)
	}

	switch cryptoJSON.KDF {
	case keyHeaderKDF:
		n, err := ensureInt(cryptoJSON.KDFParams, "n")
		if err != nil {
			return nil, err
		}
		r, err := ensureInt(cryptoJSON.KDFParams, "r")
		if err != nil {
			return nil, err
		}
		p, err := ensureInt(cryptoJSON.KDFParams, "p")
		if err != nil {
			return nil, err
		}
		return scrypt.Key(passphrase, salt, n, r, p, dkLen)
	case "pbkdf2":
		c, err := ensureInt(cryptoJSON.KDFParams, "c")
		if err != nil {
			return nil, err
		}
		prf, _ := cryptoJSON.KDFParams["prf"].(string)
		if prf != "hmac-sha256" {
			return nil, xerrors.Errorf("unsupported PBKDF2 PRF: %s", prf)
		}
		return pbkdf2.Key(passphrase, salt, c, dkLen, sha256.New), nil
	}

	return nil, xerrors.Errorf("unsupported KDF: %s", cryptoJSON.KDF)
}

func ensureInt(params map[string]interface{}, name string) (int, error) {
	switch v := params[name].(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return 0, xerrors.Errorf("kdfparams.%s is missing or not a number", name)
	}
}

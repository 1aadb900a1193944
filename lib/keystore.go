package lib

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"os"

	"github.com/lattice-network/lattice/lib/crypto"
	"golang.org/x/crypto/argon2"
)

/*
	Each validator holds two private keys: an aggregable BLS key used for votes in
	quorum certificates and an edwards25519 key used for leader block signatures.
	Both live together in one key file inside the data directory.
*/

// ValidatorKey is the on-disk form of a validator's private key material
type ValidatorKey struct {
	BLSKey     HexBytes `json:"blsKey"`     // vote key for quorum certificates
	SigningKey HexBytes `json:"signingKey"` // leader block signature key
}

// NewValidatorKey() generates fresh key material for a validator
func NewValidatorKey() (*ValidatorKey, ErrorI) {
	blsKey, e := crypto.NewBLSPrivateKey()
	if e != nil {
		return nil, ErrKeyGen(e)
	}
	signingKey, e := crypto.NewSchnorrPrivateKey()
	if e != nil {
		return nil, ErrKeyGen(e)
	}
	return &ValidatorKey{BLSKey: blsKey.Bytes(), SigningKey: signingKey.Bytes()}, nil
}

// BLSPrivateKey() parses the vote key
func (k *ValidatorKey) BLSPrivateKey() (crypto.PrivateKeyI, ErrorI) {
	key, e := crypto.NewBLSPrivateKeyFromBytes(k.BLSKey)
	if e != nil {
		return nil, ErrKeyGen(e)
	}
	return key, nil
}

// SchnorrPrivateKey() parses the block signature key
func (k *ValidatorKey) SchnorrPrivateKey() (*crypto.SchnorrPrivateKey, ErrorI) {
	key, e := crypto.NewSchnorrPrivateKeyFromBytes(k.SigningKey)
	if e != nil {
		return nil, ErrKeyGen(e)
	}
	return key, nil
}

// Validator() derives the public roster entry for this key material
func (k *ValidatorKey) Validator(votingPower uint64) (*Validator, ErrorI) {
	blsKey, err := k.BLSPrivateKey()
	if err != nil {
		return nil, err
	}
	signingKey, err := k.SchnorrPrivateKey()
	if err != nil {
		return nil, err
	}
	return &Validator{
		PublicKey:   blsKey.PublicKey().Bytes(),
		SigningKey:  signingKey.PublicKey().Bytes(),
		VotingPower: votingPower,
	}, nil
}

// WriteToFile() saves the key material to a JSON file
func (k *ValidatorKey) WriteToFile(filepath string) ErrorI {
	bz, err := MarshalJSONIndent(k)
	if err != nil {
		return err
	}
	if e := os.WriteFile(filepath, bz, 0o600); e != nil {
		return ErrWriteFile(e)
	}
	return nil
}

// NewValidatorKeyFromFile() populates key material from a JSON file
func NewValidatorKeyFromFile(filepath string) (*ValidatorKey, ErrorI) {
	bz, e := os.ReadFile(filepath)
	if e != nil {
		return nil, ErrReadFile(e)
	}
	k := new(ValidatorKey)
	if err := UnmarshalJSON(bz, k); err != nil {
		return nil, err
	}
	return k, nil
}

// EncryptedValidatorKey is the password protected on-disk form of the key material
type EncryptedValidatorKey struct {
	Salt      HexBytes `json:"salt"`      // random salt fed into the key derivation
	Encrypted HexBytes `json:"encrypted"` // AES-GCM sealed JSON encoding of the ValidatorKey
}

// Encrypt() seals the key material under a password derived AES-GCM key
func (k *ValidatorKey) Encrypt(password []byte) (*EncryptedValidatorKey, ErrorI) {
	plain, err := MarshalJSON(k)
	if err != nil {
		return nil, err
	}
	salt := make([]byte, 16)
	if _, e := rand.Read(salt); e != nil {
		return nil, ErrEncryptKey(e)
	}
	gcm, nonce, e := keyCipher(password, salt)
	if e != nil {
		return nil, ErrEncryptKey(e)
	}
	return &EncryptedValidatorKey{
		Salt:      salt,
		Encrypted: gcm.Seal(nil, nonce, plain, nil),
	}, nil
}

// Decrypt() recovers the key material; a wrong password fails authentication
func (e *EncryptedValidatorKey) Decrypt(password []byte) (*ValidatorKey, ErrorI) {
	gcm, nonce, err := keyCipher(password, e.Salt)
	if err != nil {
		return nil, ErrEncryptKey(err)
	}
	plain, err := gcm.Open(nil, nonce, e.Encrypted, nil)
	if err != nil {
		return nil, ErrDecryptKey()
	}
	k := new(ValidatorKey)
	if er := UnmarshalJSON(plain, k); er != nil {
		return nil, er
	}
	return k, nil
}

// WriteToFileEncrypted() saves password protected key material to a JSON file
func (k *ValidatorKey) WriteToFileEncrypted(filepath string, password []byte) ErrorI {
	encrypted, err := k.Encrypt(password)
	if err != nil {
		return err
	}
	bz, err := MarshalJSONIndent(encrypted)
	if err != nil {
		return err
	}
	if e := os.WriteFile(filepath, bz, 0o600); e != nil {
		return ErrWriteFile(e)
	}
	return nil
}

// NewValidatorKeyFromEncryptedFile() loads and decrypts key material from a JSON file
func NewValidatorKeyFromEncryptedFile(filepath string, password []byte) (*ValidatorKey, ErrorI) {
	bz, e := os.ReadFile(filepath)
	if e != nil {
		return nil, ErrReadFile(e)
	}
	encrypted := new(EncryptedValidatorKey)
	if err := UnmarshalJSON(bz, encrypted); err != nil {
		return nil, err
	}
	return encrypted.Decrypt(password)
}

// keyCipher() derives an AES-GCM cipher and nonce from a password and salt using
// the argon2 key derivation function
func keyCipher(password, salt []byte) (gcm cipher.AEAD, nonce []byte, err error) {
	key := argon2.Key(password, salt, 3, 32*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return
	}
	if gcm, err = cipher.NewGCM(block); err != nil {
		return
	}
	return gcm, key[:12], nil
}

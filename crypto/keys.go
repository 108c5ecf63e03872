package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an [R || S || V] signature.
const SignatureLength = crypto.SignatureLength

var errInvalidSignature = errors.New("crypto: invalid signature")

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address returns the account controlled by the key.
func (k *PrivateKey) Address() common.Address {
	return k.PubKey().Address()
}

func (k *PublicKey) Address() common.Address {
	return crypto.PubkeyToAddress(*k.PublicKey)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromSeed derives a key from keccak(seed). Intended for fixtures
// and tooling that need reproducible identities.
func PrivateKeyFromSeed(seed string) (*PrivateKey, error) {
	return PrivateKeyFromBytes(crypto.Keccak256([]byte(seed)))
}

// --- Signing ---

// Signer produces recoverable signatures over protocol payloads.
type Signer interface {
	Address() common.Address
	Sign(data []byte) ([]byte, error)
}

// LocalSigner signs with an in-process key.
type LocalSigner struct {
	key *PrivateKey
}

// NewLocalSigner wraps key.
func NewLocalSigner(key *PrivateKey) (*LocalSigner, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	return &LocalSigner{key: key}, nil
}

// Address returns the signing account.
func (s *LocalSigner) Address() common.Address { return s.key.Address() }

// Sign hashes data with the Ethereum signed-message prefix and signs the
// digest. V is returned as 27 or 28 as expected by the contracts.
func (s *LocalSigner) Sign(data []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(data), s.key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced sig over data.
func RecoverSigner(data, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", errInvalidSignature, len(sig))
	}
	normalised := make([]byte, SignatureLength)
	copy(normalised, sig)
	if v := normalised[crypto.RecoveryIDOffset]; v >= 27 {
		normalised[crypto.RecoveryIDOffset] = v - 27
	}
	if normalised[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", errInvalidSignature, sig[crypto.RecoveryIDOffset])
	}
	pub, err := crypto.SigToPub(accounts.TextHash(data), normalised)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", errInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

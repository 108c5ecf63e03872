package types

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies a participant, a token or a token network contract.
type Address = common.Address

// Hash is a 32 byte digest.
type Hash = common.Hash

// BlockHash identifies a block.
type BlockHash = common.Hash

// Locksroot summarises the pending locks of one channel side.
type Locksroot = common.Hash

// BalanceHash commits to transferred amount, locked amount and locksroot.
type BalanceHash = common.Hash

// SecretHash is sha256 of a Secret.
type SecretHash = common.Hash

type (
	BlockNumber  uint64
	BlockTimeout uint64
	ChainID      uint64
	ChannelID    uint64
	Nonce        uint64
	MessageID    uint64
	PaymentID    uint64
	// MessageTypeID separates the signing domains of the off-chain messages.
	MessageTypeID uint64
)

// Message type identifiers mirror the token network contract's enumeration.
const (
	MessageTypeBalanceProof       MessageTypeID = 1
	MessageTypeBalanceProofUpdate MessageTypeID = 2
	MessageTypeWithdraw           MessageTypeID = 3
	MessageTypeCooperativeSettle  MessageTypeID = 4
	MessageTypeIOU                MessageTypeID = 5
	MessageTypeWithdrawExpired    MessageTypeID = 6
)

// Protocol defaults.
const (
	DefaultRevealTimeout     BlockTimeout = 50
	DefaultSettleTimeout     BlockTimeout = 500
	MaximumPendingTransfers               = 160
	SnapshotStateChangeCount              = 500
)

// Bytes32 returns the big-endian 32 byte word holding n.
func Bytes32(n uint64) []byte {
	out := make([]byte, 32)
	binary.BigEndian.PutUint64(out[24:], n)
	return out
}

// Secret is the preimage that unlocks a hash time lock.
type Secret [32]byte

// Hash returns the sha256 secret hash registered on chain.
func (s Secret) Hash() SecretHash {
	return SecretHash(sha256.Sum256(s[:]))
}

// IsZero reports whether the secret is unset.
func (s Secret) IsZero() bool { return s == Secret{} }

// String hides the secret material.
func (s Secret) String() string {
	if s.IsZero() {
		return "secret(unset)"
	}
	return "secret(***)"
}

// Hex returns the 0x-prefixed encoding.
func (s Secret) Hex() string { return "0x" + hex.EncodeToString(s[:]) }

// MarshalText encodes the secret as 0x-prefixed hex.
func (s Secret) MarshalText() ([]byte, error) { return []byte(s.Hex()), nil }

// UnmarshalText decodes a 0x-prefixed hex secret.
func (s *Secret) UnmarshalText(text []byte) error {
	raw := strings.TrimPrefix(strings.TrimPrefix(string(text), "0x"), "0X")
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("secret: %w", err)
	}
	if len(decoded) != len(s) {
		return fmt.Errorf("secret: expected %d bytes, got %d", len(s), len(decoded))
	}
	copy(s[:], decoded)
	return nil
}

// Signature is a 65 byte recoverable secp256k1 signature in [R || S || V] form.
type Signature []byte

// MarshalText encodes the signature as 0x-prefixed hex.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte("0x" + hex.EncodeToString(s)), nil
}

// UnmarshalText decodes a 0x-prefixed hex signature.
func (s *Signature) UnmarshalText(text []byte) error {
	raw := strings.TrimPrefix(strings.TrimPrefix(string(text), "0x"), "0X")
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	*s = decoded
	return nil
}

// CanonicalIdentifier globally identifies a channel.
type CanonicalIdentifier struct {
	ChainID             ChainID   `json:"chainId"`
	TokenNetworkAddress Address   `json:"tokenNetworkAddress"`
	ChannelID           ChannelID `json:"channelId"`
}

func (c CanonicalIdentifier) String() string {
	return fmt.Sprintf("%d/%s/%d", c.ChainID, c.TokenNetworkAddress.Hex(), c.ChannelID)
}

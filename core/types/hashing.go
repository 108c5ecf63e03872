package types

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/crypto"
)

// Command identifiers prefixed to the signed payload of messages that do not
// carry a balance proof, and to the message hash of those that do.
const (
	cmdProcessed      byte = 0
	cmdSecretRequest  byte = 3
	cmdUnlock         byte = 4
	cmdLockedTransfer byte = 7
	cmdSecretReveal   byte = 11
	cmdDelivered      byte = 12
	cmdLockExpired    byte = 13
)

// EmptyLocksroot is the locksroot of a side without pending locks.
var EmptyLocksroot = Locksroot(crypto.Keccak256Hash(nil))

// EncodeLock returns expiration || amount || secrethash as three 32 byte words.
func EncodeLock(l Lock) []byte {
	amount := l.Amount.Bytes32()
	out := make([]byte, 0, 96)
	out = append(out, Bytes32(uint64(l.Expiration))...)
	out = append(out, amount[:]...)
	out = append(out, l.SecretHash[:]...)
	return out
}

// LockHash returns the keccak digest of the encoded lock.
func LockHash(l Lock) Hash {
	return crypto.Keccak256Hash(EncodeLock(l))
}

// ComputeLocksroot hashes the ascending-sorted lock hashes of the set. The
// result does not depend on insertion order.
func ComputeLocksroot(locks map[SecretHash]Lock) Locksroot {
	if len(locks) == 0 {
		return EmptyLocksroot
	}
	hashes := make([][]byte, 0, len(locks))
	for _, lock := range locks {
		h := LockHash(lock)
		hashes = append(hashes, h[:])
	}
	sort.Slice(hashes, func(i, j int) bool { return bytes.Compare(hashes[i], hashes[j]) < 0 })
	return Locksroot(crypto.Keccak256Hash(hashes...))
}

// LocksrootWith returns the locksroot of locks plus extra.
func LocksrootWith(locks map[SecretHash]Lock, extra Lock) Locksroot {
	merged := make(map[SecretHash]Lock, len(locks)+1)
	for k, v := range locks {
		merged[k] = v
	}
	merged[extra.SecretHash] = extra
	return ComputeLocksroot(merged)
}

// LocksrootWithout returns the locksroot of locks minus the given secrethash.
func LocksrootWithout(locks map[SecretHash]Lock, secrethash SecretHash) Locksroot {
	remaining := make(map[SecretHash]Lock, len(locks))
	for k, v := range locks {
		if k != secrethash {
			remaining[k] = v
		}
	}
	return ComputeLocksroot(remaining)
}

// HashBalanceData returns keccak(transferred || locked || locksroot). A proof
// with nothing transferred, nothing locked and an empty locksroot hashes to
// the zero hash, matching the contract.
func HashBalanceData(transferred, locked TokenAmount, locksroot Locksroot) BalanceHash {
	if transferred.IsZero() && locked.IsZero() && (locksroot == EmptyLocksroot || locksroot == Locksroot{}) {
		return BalanceHash{}
	}
	t := transferred.Bytes32()
	l := locked.Bytes32()
	return BalanceHash(crypto.Keccak256Hash(t[:], l[:], locksroot[:]))
}

// PackBalanceProof returns the payload signed for a balance proof:
// token network || chain id || message type || channel id || balance hash ||
// nonce || message hash.
func PackBalanceProof(bp *BalanceProof, msgType MessageTypeID) []byte {
	id := bp.CanonicalIdentifier
	balanceHash := bp.BalanceHash()
	out := make([]byte, 0, 20+32*6)
	out = append(out, id.TokenNetworkAddress[:]...)
	out = append(out, Bytes32(uint64(id.ChainID))...)
	out = append(out, Bytes32(uint64(msgType))...)
	out = append(out, Bytes32(uint64(id.ChannelID))...)
	out = append(out, balanceHash[:]...)
	out = append(out, Bytes32(uint64(bp.Nonce))...)
	out = append(out, bp.MessageHash[:]...)
	return out
}

// PackWithdraw returns the payload signed for withdraw messages:
// token network || chain id || message type || channel id || participant ||
// total withdraw || expiration.
func PackWithdraw(id CanonicalIdentifier, participant Address, total TokenAmount, expiration BlockNumber, msgType MessageTypeID) []byte {
	amount := total.Bytes32()
	out := make([]byte, 0, 20*2+32*5)
	out = append(out, id.TokenNetworkAddress[:]...)
	out = append(out, Bytes32(uint64(id.ChainID))...)
	out = append(out, Bytes32(uint64(msgType))...)
	out = append(out, Bytes32(uint64(id.ChannelID))...)
	out = append(out, participant[:]...)
	out = append(out, amount[:]...)
	out = append(out, Bytes32(uint64(expiration))...)
	return out
}

func packCommand(cmd byte, parts ...[]byte) []byte {
	size := 1
	for _, part := range parts {
		size += len(part)
	}
	out := make([]byte, 0, size)
	out = append(out, cmd)
	for _, part := range parts {
		out = append(out, part...)
	}
	return out
}

package validation

import (
	"channeld/core/types"
	"channeld/crypto"
)

// VerifySigner checks that sig over data was produced by expected.
func VerifySigner(data []byte, sig types.Signature, expected types.Address) error {
	if len(sig) == 0 {
		return fail(CodeInvalidSignature, "missing signature")
	}
	signer, err := crypto.RecoverSigner(data, sig)
	if err != nil {
		return fail(CodeInvalidSignature, "%v", err)
	}
	if signer != expected {
		return fail(CodeInvalidSignature, "signed by %s, expected %s", signer.Hex(), expected.Hex())
	}
	return nil
}

// expectedProof is the balance a valid proof must claim.
type expectedProof struct {
	transferred types.TokenAmount
	locked      types.TokenAmount
	locksroot   types.Locksroot
}

// checkBalanceProof runs the checks shared by every balance proof carrying
// message received from the partner.
func checkBalanceProof(channel *types.NettingChannelState, sender types.Address, bp *types.BalanceProof, messageHash types.Hash, want expectedProof) error {
	if channel.Status != types.ChannelOpened {
		return fail(CodeChannelNotOpen, "channel %s is %s", channel.CanonicalIdentifier, channel.Status)
	}
	partner := channel.PartnerState
	if sender != partner.Address || bp.Sender != sender {
		return fail(CodeWrongSender, "balance proof from %s on channel with %s", sender.Hex(), partner.Address.Hex())
	}
	if bp.CanonicalIdentifier != channel.CanonicalIdentifier {
		return fail(CodeCanonicalMismatch, "proof for %s on channel %s", bp.CanonicalIdentifier, channel.CanonicalIdentifier)
	}
	if bp.MessageHash != messageHash {
		return fail(CodeMessageHashMismatch, "message hash does not cover the message")
	}
	if err := VerifySigner(types.PackBalanceProof(bp, types.MessageTypeBalanceProof), bp.Signature, sender); err != nil {
		return err
	}
	if bp.Nonce <= partner.Nonce {
		return fail(CodeStaleNonce, "nonce %d does not exceed %d", bp.Nonce, partner.Nonce)
	}
	current := partner.TransferredAmount()
	if bp.TransferredAmount.Lt(current) {
		return fail(CodeTransferredDecreased, "transferred amount %s below %s", bp.TransferredAmount, current)
	}
	if !bp.TransferredAmount.Eq(want.transferred) {
		return fail(CodeUnexpectedTransfer, "transferred amount %s, expected %s", bp.TransferredAmount, want.transferred)
	}
	if bp.Locksroot != want.locksroot {
		return fail(CodeLocksrootMismatch, "locksroot %s, expected %s", bp.Locksroot.Hex(), want.locksroot.Hex())
	}
	if !bp.LockedAmount.Eq(want.locked) {
		return fail(CodeUnexpectedLocked, "locked amount %s, expected %s", bp.LockedAmount, want.locked)
	}
	return nil
}

// LockedTransfer validates a locked transfer received from the partner of
// channel at block. The partner end is not modified.
func LockedTransfer(channel *types.NettingChannelState, sender types.Address, transfer *types.LockedTransfer, block types.BlockNumber) error {
	partner := channel.PartnerState
	lock := transfer.Lock
	if lock.Amount.IsZero() {
		return fail(CodeInvalidAmount, "lock amount is zero")
	}
	if lock.IsExpiredAt(block) {
		return fail(CodeLockExpired, "lock expired at %d, block %d", lock.Expiration, block)
	}
	if _, exists := partner.PendingLocks[lock.SecretHash]; exists {
		return fail(CodeDuplicateLock, "lock %s already pending", lock.SecretHash.Hex())
	}
	if len(partner.PendingLocks) >= types.MaximumPendingTransfers {
		return fail(CodeTooManyLocks, "partner already has %d pending locks", len(partner.PendingLocks))
	}
	if transfer.Recipient != channel.OurState.Address {
		return fail(CodeWrongSender, "transfer addressed to %s", transfer.Recipient.Hex())
	}
	if transfer.TokenAddress != channel.TokenAddress {
		return fail(CodeCanonicalMismatch, "token %s on channel for %s", transfer.TokenAddress.Hex(), channel.TokenAddress.Hex())
	}
	locked, overflow := partner.LockedAmount().Add(lock.Amount)
	if overflow {
		return fail(CodeOverflow, "locked amount overflows")
	}
	want := expectedProof{
		transferred: partner.TransferredAmount(),
		locked:      locked,
		locksroot:   types.LocksrootWith(partner.PendingLocks, lock),
	}
	if err := checkBalanceProof(channel, sender, &transfer.BalanceProof, transfer.MessageHash(), want); err != nil {
		return err
	}
	if distributable := channel.PartnerDistributable(); lock.Amount.Gt(distributable) {
		return fail(CodeInsufficientCapacity, "lock of %s exceeds distributable %s", lock.Amount, distributable)
	}
	return nil
}

// Unlock validates an unlock received from the partner and returns the lock
// it releases.
func Unlock(channel *types.NettingChannelState, sender types.Address, unlock *types.Unlock) (types.Lock, error) {
	partner := channel.PartnerState
	secrethash := unlock.Secret.Hash()
	lock, ok := partner.PendingLocks[secrethash]
	if !ok {
		return types.Lock{}, fail(CodeUnknownLock, "no pending lock for %s", secrethash.Hex())
	}
	transferred, overflow := partner.TransferredAmount().Add(lock.Amount)
	if overflow {
		return types.Lock{}, fail(CodeOverflow, "transferred amount overflows")
	}
	locked, underflow := partner.LockedAmount().Sub(lock.Amount)
	if underflow {
		return types.Lock{}, fail(CodeOverflow, "locked amount underflows")
	}
	want := expectedProof{
		transferred: transferred,
		locked:      locked,
		locksroot:   types.LocksrootWithout(partner.PendingLocks, secrethash),
	}
	if err := checkBalanceProof(channel, sender, &unlock.BalanceProof, unlock.MessageHash(), want); err != nil {
		return types.Lock{}, err
	}
	return lock, nil
}

// LockExpired validates the partner's removal of one of its expired locks.
func LockExpired(channel *types.NettingChannelState, sender types.Address, msg *types.LockExpired, block types.BlockNumber) (types.Lock, error) {
	partner := channel.PartnerState
	lock, ok := partner.PendingLocks[msg.SecretHash]
	if !ok {
		return types.Lock{}, fail(CodeUnknownLock, "no pending lock for %s", msg.SecretHash.Hex())
	}
	if !lock.IsExpiredAt(block) {
		return types.Lock{}, fail(CodeLockNotExpired, "lock expires at %d, block %d", lock.Expiration, block)
	}
	if _, registered := partner.RegisteredSecrets[msg.SecretHash]; registered {
		return types.Lock{}, fail(CodeInvalidSecret, "secret for %s registered on chain", msg.SecretHash.Hex())
	}
	if msg.Recipient != channel.OurState.Address {
		return types.Lock{}, fail(CodeWrongSender, "lock expired addressed to %s", msg.Recipient.Hex())
	}
	locked, underflow := partner.LockedAmount().Sub(lock.Amount)
	if underflow {
		return types.Lock{}, fail(CodeOverflow, "locked amount underflows")
	}
	want := expectedProof{
		transferred: partner.TransferredAmount(),
		locked:      locked,
		locksroot:   types.LocksrootWithout(partner.PendingLocks, msg.SecretHash),
	}
	if err := checkBalanceProof(channel, sender, &msg.BalanceProof, msg.MessageHash(), want); err != nil {
		return types.Lock{}, err
	}
	return lock, nil
}

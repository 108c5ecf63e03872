package machine

import (
	"channeld/core/types"
	"channeld/core/validation"
)

// handleLockedTransfer accepts a lock from a partner and hands it to a new
// target or mediator task.
func (t *transition) handleLockedTransfer(sc *types.ReceiveLockedTransfer) error {
	transfer := &sc.Transfer
	secrethash := transfer.Lock.SecretHash
	invalid := func(v types.Violation) error {
		t.emit(&types.ErrorInvalidReceivedLockedTransfer{Violation: v, PaymentID: transfer.PaymentID, SecretHash: secrethash})
		return nil
	}
	channel, ok := t.lookupChannel(transfer.BalanceProof.CanonicalIdentifier)
	if !ok {
		return invalid(rejected(sc.Sender, validation.CodeCanonicalMismatch, "unknown channel %s", transfer.BalanceProof.CanonicalIdentifier))
	}
	if _, exists := t.state.PaymentMapping[secrethash]; exists {
		return invalid(rejected(sc.Sender, validation.CodeDuplicateLock, "payment with secret hash %s already known", secrethash.Hex()))
	}
	if err := validation.LockedTransfer(channel, sc.Sender, transfer, t.state.BlockNumber); err != nil {
		return invalid(violation(sc.Sender, err))
	}

	channel.PartnerState.PendingLocks[secrethash] = transfer.Lock
	acceptPartnerProof(channel, &transfer.BalanceProof)
	t.emit(&types.SendProcessed{Recipient: sc.Sender, Ack: types.Ack{MessageID: transfer.MessageID}})

	payer := channel.CanonicalIdentifier
	received := transfer.Clone()
	task := &types.TransferTask{
		Status:              types.TransferInit,
		TokenNetworkAddress: payer.TokenNetworkAddress,
		PaymentID:           transfer.PaymentID,
		SecretHash:          secrethash,
		Amount:              transfer.Lock.Amount,
		Initiator:           transfer.Initiator,
		Target:              transfer.Target,
		Route:               append([]types.Address(nil), transfer.Route...),
		Expiration:          transfer.Lock.Expiration,
		PayerChannel:        &payer,
		Payer:               sc.Sender,
		Transfer:            &received,
	}
	t.state.PaymentMapping[secrethash] = task
	if transfer.Target == t.state.OurAddress {
		task.Role = types.RoleTarget
		t.targetInit(task, channel)
		return nil
	}
	task.Role = types.RoleMediator
	t.mediatorInit(task)
	return nil
}

// handleSecretReveal routes an off-chain secret to the task that owns its
// hash. A reveal arriving after the lock expired is refused so the expiry
// path keeps precedence.
func (t *transition) handleSecretReveal(sc *types.ReceiveSecretReveal) error {
	secret := sc.Reveal.Secret
	secrethash := secret.Hash()
	unexpected := func(v types.Violation) error {
		t.emit(&types.ErrorUnexpectedReveal{Violation: v, SecretHash: secrethash})
		return nil
	}
	task, ok := t.state.PaymentMapping[secrethash]
	if !ok {
		return unexpected(rejected(sc.Sender, validation.CodeUnknownLock, "no payment for %s", secrethash.Hex()))
	}
	if err := validation.VerifySigner(sc.Reveal.SigningData(), sc.Reveal.Signature, sc.Sender); err != nil {
		return unexpected(violation(sc.Sender, err))
	}
	if t.state.BlockNumber > task.Expiration {
		return unexpected(rejected(sc.Sender, validation.CodeLockExpired, "lock expired at %d, block %d", task.Expiration, t.state.BlockNumber))
	}
	if task.Status.Terminal() {
		return nil
	}
	switch task.Role {
	case types.RoleInitiator:
		t.initiatorSecretRevealed(task, sc.Sender)
	case types.RoleMediator:
		return t.mediatorSecretRevealed(task, sc.Sender, secret)
	case types.RoleTarget:
		t.targetSecretRevealed(task, sc.Sender, secret)
	default:
		return invariant(t.tag, "task %s has unknown role %q", secrethash.Hex(), task.Role)
	}
	return nil
}

// payerUnlocked finishes a target or mediator task once the payer moved the
// locked amount into its transferred amount.
func (t *transition) payerUnlocked(task *types.TransferTask, secret types.Secret, lock types.Lock) {
	if !task.HasSecret() {
		task.Secret = secret
	}
	task.PayerUnlocked = true
	t.emit(&types.EventUnlockClaimSuccess{PaymentID: task.PaymentID, SecretHash: task.SecretHash})
	switch task.Role {
	case types.RoleTarget:
		t.emit(&types.EventPaymentReceivedSuccess{
			TokenNetworkAddress: task.TokenNetworkAddress,
			PaymentID:           task.PaymentID,
			Amount:              lock.Amount,
			Initiator:           task.Initiator,
			SecretHash:          task.SecretHash,
		})
	case types.RoleMediator:
		t.unlockPayee(task)
	}
	if !task.Status.Terminal() {
		task.Status = types.TransferCompleted
	}
}

// secretLearnedOnchain reacts to a secret registered on chain.
func (t *transition) secretLearnedOnchain(task *types.TransferTask, secret types.Secret) {
	if !task.HasSecret() {
		task.Secret = secret
	}
	if task.Status.Terminal() {
		return
	}
	switch task.Role {
	case types.RoleInitiator:
		if task.PayeeChannel != nil {
			t.completeInitiator(task)
		}
	case types.RoleMediator:
		task.Status = types.TransferSecretRevealed
		t.unlockPayee(task)
	case types.RoleTarget:
		task.Status = types.TransferSecretRevealed
	}
}

// taskExpiry handles a block past the task's lock expiration.
func (t *transition) taskExpiry(task *types.TransferTask) error {
	if t.state.BlockNumber <= task.Expiration {
		return nil
	}
	payeeExpired, err := t.expireOurLock(task)
	if err != nil {
		return err
	}
	payerExpired, err := t.payerLockExpired(task)
	if err != nil {
		return err
	}
	if task.Status.Terminal() || (!payeeExpired && !payerExpired) {
		return nil
	}
	task.Status = types.TransferExpired
	switch task.Role {
	case types.RoleInitiator:
		t.emit(&types.EventPaymentSentFailed{
			TokenNetworkAddress: task.TokenNetworkAddress,
			PaymentID:           task.PaymentID,
			Target:              task.Target,
			SecretHash:          task.SecretHash,
			Reason:              "lock expired",
		})
	default:
		if payeeExpired {
			t.emit(&types.EventUnlockFailed{PaymentID: task.PaymentID, SecretHash: task.SecretHash, Reason: "lock expired"})
		}
		if payerExpired {
			t.emit(&types.EventUnlockClaimFailed{PaymentID: task.PaymentID, SecretHash: task.SecretHash, Reason: "lock expired"})
		}
	}
	return nil
}

// expireOurLock removes our expired lock on the payee channel. It reports
// whether the lock was removed off chain. A lock in a channel that is no
// longer open stays pending and is resolved by settlement.
func (t *transition) expireOurLock(task *types.TransferTask) (bool, error) {
	if task.PayeeChannel == nil {
		return false, nil
	}
	channel, ok := t.state.Channel(*task.PayeeChannel)
	if !ok {
		return false, invariant(t.tag, "task %s refers to missing channel %s", task.SecretHash.Hex(), task.PayeeChannel)
	}
	our := channel.OurState
	lock, ok := our.PendingLocks[task.SecretHash]
	if !ok || !lock.IsExpiredAt(t.state.BlockNumber) {
		return false, nil
	}
	if _, registered := our.RegisteredSecrets[task.SecretHash]; registered {
		return false, nil
	}
	return t.sendLockExpired(channel, task.SecretHash), nil
}

// taskLocksPending reports whether a lock of the task is still pending in a
// channel that has not settled.
func (t *transition) taskLocksPending(task *types.TransferTask) bool {
	if task.PayeeChannel != nil {
		if channel, ok := t.state.Channel(*task.PayeeChannel); ok && channel.Status != types.ChannelSettled {
			if _, pending := channel.OurState.PendingLocks[task.SecretHash]; pending {
				return true
			}
		}
	}
	if task.PayerChannel != nil {
		if channel, ok := t.state.Channel(*task.PayerChannel); ok && channel.Status != types.ChannelSettled {
			if _, pending := channel.PartnerState.PendingLocks[task.SecretHash]; pending {
				return true
			}
		}
	}
	return false
}

// payerLockExpired reports whether the payer's lock passed expiration without
// the secret being registered. The partner removes it with LockExpired.
func (t *transition) payerLockExpired(task *types.TransferTask) (bool, error) {
	if task.PayerChannel == nil {
		return false, nil
	}
	channel, ok := t.state.Channel(*task.PayerChannel)
	if !ok {
		return false, invariant(t.tag, "task %s refers to missing channel %s", task.SecretHash.Hex(), task.PayerChannel)
	}
	partner := channel.PartnerState
	lock, ok := partner.PendingLocks[task.SecretHash]
	if !ok || !lock.IsExpiredAt(t.state.BlockNumber) {
		return false, nil
	}
	_, registered := partner.RegisteredSecrets[task.SecretHash]
	return !registered, nil
}

// taskOnchainReveal registers the secret on chain when the payer's lock is
// about to expire and the payer has not unlocked it off chain.
func (t *transition) taskOnchainReveal(task *types.TransferTask) error {
	if task.Role == types.RoleInitiator || !task.HasSecret() || task.PayerUnlocked || task.OnchainRevealSent || task.PayerChannel == nil {
		return nil
	}
	channel, ok := t.state.Channel(*task.PayerChannel)
	if !ok {
		return invariant(t.tag, "task %s refers to missing channel %s", task.SecretHash.Hex(), task.PayerChannel)
	}
	partner := channel.PartnerState
	lock, ok := partner.PendingLocks[task.SecretHash]
	if !ok {
		return nil
	}
	if _, registered := partner.RegisteredSecrets[task.SecretHash]; registered {
		return nil
	}
	block := t.state.BlockNumber
	if lock.IsExpiredAt(block) || block+types.BlockNumber(channel.RevealTimeout) < lock.Expiration {
		return nil
	}
	task.OnchainRevealSent = true
	t.emit(&types.ContractSendSecretReveal{
		Secret:     task.Secret,
		SecretHash: task.SecretHash,
		Expiration: lock.Expiration,
	})
	return nil
}

package machine

import (
	"channeld/core/types"
	"channeld/core/validation"
)

// mediatorInit forwards a received lock to the next hop of its route. The
// forwarded lock keeps the payer lock's amount and expiration.
func (t *transition) mediatorInit(task *types.TransferTask) {
	received := task.Transfer
	next, ok := received.NextHop(t.state.OurAddress)
	if !ok {
		t.failMediator(task, "route has no hop after this node")
		return
	}
	tn := t.state.TokenNetworks[task.TokenNetworkAddress]
	channel, reason := t.usableChannel(tn, next, task.Amount)
	if channel == nil {
		t.failMediator(task, reason)
		return
	}
	if t.state.BlockNumber+types.BlockNumber(channel.RevealTimeout) >= task.Expiration {
		t.failMediator(task, "lock expires within the payee's reveal timeout")
		return
	}
	task.Status = types.TransferRouteConfirmed
	payee := channel.CanonicalIdentifier
	task.PayeeChannel = &payee
	task.Payee = next

	lock := types.Lock{Amount: task.Amount, Expiration: task.Expiration, SecretHash: task.SecretHash}
	t.sendLockedTransfer(channel, lock, task.PaymentID, task.Initiator, task.Target, received.Route)
	task.Status = types.TransferLockedTransferSent
}

// failMediator gives up forwarding. The payer lock stays pending until the
// payer expires it.
func (t *transition) failMediator(task *types.TransferTask, reason string) {
	task.Status = types.TransferFailed
	task.FailureReason = reason
	t.emit(&types.EventRouteFailed{SecretHash: task.SecretHash, Route: task.Route, Reason: reason})
}

// mediatorSecretRevealed handles the payee proving it knows the secret. The
// secret travels back to the payer. The payee is paid with an Unlock only while
// the payer lock can still be claimed on chain after a failed off-chain
// unlock; inside the payer's reveal window the secret is registered on chain
// first and the payee is paid once the registration is confirmed.
func (t *transition) mediatorSecretRevealed(task *types.TransferTask, sender types.Address, secret types.Secret) error {
	if sender != task.Payee {
		t.emit(&types.ErrorUnexpectedReveal{
			Violation:  rejected(sender, validation.CodeWrongSender, "reveal from %s, payee is %s", sender.Hex(), task.Payee.Hex()),
			SecretHash: task.SecretHash,
		})
		return nil
	}
	if task.Status != types.TransferLockedTransferSent {
		return nil
	}
	task.Secret = secret
	task.Status = types.TransferSecretRevealed
	if channel, ok := t.state.Channel(*task.PayerChannel); ok {
		if _, pending := channel.PartnerState.PendingLocks[task.SecretHash]; pending {
			channel.PartnerState.RevealedSecrets[task.SecretHash] = secret
		}
	}
	if t.payerLockSafe(task) {
		t.unlockPayee(task)
	} else if err := t.taskOnchainReveal(task); err != nil {
		return err
	}
	t.emit(&types.SendSecretReveal{
		Recipient: task.Payer,
		Reveal:    types.SecretReveal{MessageID: t.nextMessageID(), Secret: secret},
	})
	return nil
}

// payerLockSafe reports whether the payer lock stays claimable on chain for
// longer than the payer channel's reveal timeout.
func (t *transition) payerLockSafe(task *types.TransferTask) bool {
	if task.PayerUnlocked {
		return true
	}
	if task.PayerChannel == nil {
		return false
	}
	channel, ok := t.state.Channel(*task.PayerChannel)
	if !ok {
		return false
	}
	if _, registered := channel.PartnerState.RegisteredSecrets[task.SecretHash]; registered {
		return true
	}
	lock, ok := channel.PartnerState.PendingLocks[task.SecretHash]
	if !ok {
		return false
	}
	return t.state.BlockNumber+types.BlockNumber(channel.RevealTimeout) < lock.Expiration
}

// unlockPayee releases our lock towards the payee once.
func (t *transition) unlockPayee(task *types.TransferTask) {
	if task.PayeeUnlocked || task.PayeeChannel == nil || !task.HasSecret() {
		return
	}
	channel, ok := t.state.Channel(*task.PayeeChannel)
	if !ok {
		return
	}
	if t.sendUnlock(channel, task.Secret, task.PaymentID) {
		task.PayeeUnlocked = true
		t.emit(&types.EventUnlockSuccess{PaymentID: task.PaymentID, SecretHash: task.SecretHash})
	}
}

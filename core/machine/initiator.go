package machine

import (
	"channeld/core/types"
	"channeld/core/validation"
)

func (t *transition) rejectInit(desc *types.TransferDescription, code validation.Code, format string, args ...any) error {
	t.emit(&types.ErrorInvalidActionInitInitiator{
		Violation: rejected(types.Address{}, code, format, args...),
		PaymentID: desc.PaymentID,
	})
	return nil
}

// handleInitInitiator starts a payment: it confirms the first hop of the
// route and locks the amount towards it.
func (t *transition) handleInitInitiator(sc *types.ActionInitInitiator) error {
	desc := sc.Transfer
	if desc.Amount.IsZero() {
		return t.rejectInit(&desc, validation.CodeInvalidAmount, "payment amount is zero")
	}
	if desc.Initiator != t.state.OurAddress {
		return t.rejectInit(&desc, validation.CodeWrongSender, "initiator %s is not this node", desc.Initiator.Hex())
	}
	if len(sc.Route) == 0 || sc.Route[len(sc.Route)-1] != desc.Target {
		return t.rejectInit(&desc, validation.CodeInvalidRoute, "route does not end at target %s", desc.Target.Hex())
	}
	tn, ok := t.state.TokenNetworks[desc.TokenNetworkAddress]
	if !ok {
		return t.rejectInit(&desc, validation.CodeCanonicalMismatch, "unknown token network %s", desc.TokenNetworkAddress.Hex())
	}

	secret := desc.Secret
	switch {
	case secret.IsZero() && desc.SecretHash != (types.SecretHash{}):
		return t.rejectInit(&desc, validation.CodeInvalidSecret, "secret hash given without secret")
	case secret.IsZero():
		secret = t.state.PRNG.NextSecret()
	case desc.SecretHash != (types.SecretHash{}) && desc.SecretHash != secret.Hash():
		return t.rejectInit(&desc, validation.CodeInvalidSecret, "secret does not hash to %s", desc.SecretHash.Hex())
	}
	secrethash := secret.Hash()
	if _, exists := t.state.PaymentMapping[secrethash]; exists {
		return t.rejectInit(&desc, validation.CodeDuplicateLock, "payment with secret hash %s already in flight", secrethash.Hex())
	}
	paymentID := desc.PaymentID
	if paymentID == 0 {
		paymentID = types.PaymentID(t.state.PRNG.NextUint64())
	}

	task := &types.TransferTask{
		Role:                types.RoleInitiator,
		Status:              types.TransferInit,
		TokenNetworkAddress: tn.Address,
		PaymentID:           paymentID,
		SecretHash:          secrethash,
		Secret:              secret,
		Amount:              desc.Amount,
		Initiator:           desc.Initiator,
		Target:              desc.Target,
		Route:               append([]types.Address(nil), sc.Route...),
		Expiration:          t.state.BlockNumber,
	}
	t.state.PaymentMapping[secrethash] = task

	channel, reason := t.usableChannel(tn, sc.Route[0], desc.Amount)
	if channel == nil {
		t.failInitiator(task, reason)
		return nil
	}
	timeout := desc.LockTimeout
	if timeout == 0 {
		timeout = 2 * channel.RevealTimeout
	}
	if timeout <= channel.RevealTimeout || timeout > channel.SettleTimeout {
		t.failInitiator(task, "lock timeout outside (reveal timeout, settle timeout]")
		return nil
	}
	task.Status = types.TransferRouteConfirmed
	task.Expiration = t.state.BlockNumber + types.BlockNumber(timeout)
	payee := channel.CanonicalIdentifier
	task.PayeeChannel = &payee
	task.Payee = channel.PartnerAddress()

	lock := types.Lock{Amount: desc.Amount, Expiration: task.Expiration, SecretHash: secrethash}
	transfer := t.sendLockedTransfer(channel, lock, paymentID, desc.Initiator, desc.Target, sc.Route)
	task.Transfer = transfer
	task.Status = types.TransferLockedTransferSent
	return nil
}

// usableChannel returns the open channel with partner able to carry amount,
// or the reason none is.
func (t *transition) usableChannel(tn *types.TokenNetworkState, partner types.Address, amount types.TokenAmount) (*types.NettingChannelState, string) {
	channel, ok := tn.OpenChannelWith(partner)
	if !ok {
		return nil, "no open channel with " + partner.Hex()
	}
	if len(channel.OurState.PendingLocks) >= types.MaximumPendingTransfers {
		return nil, "too many pending locks"
	}
	if distributable := channel.OurDistributable(); amount.Gt(distributable) {
		return nil, "insufficient capacity: " + distributable.String() + " available"
	}
	return channel, ""
}

func (t *transition) failInitiator(task *types.TransferTask, reason string) {
	task.Status = types.TransferFailed
	task.FailureReason = reason
	t.emit(
		&types.EventRouteFailed{SecretHash: task.SecretHash, Route: task.Route, Reason: reason},
		&types.EventPaymentSentFailed{
			TokenNetworkAddress: task.TokenNetworkAddress,
			PaymentID:           task.PaymentID,
			Target:              task.Target,
			SecretHash:          task.SecretHash,
			Reason:              reason,
		},
	)
}

// handleSecretRequest answers the target's request with the secret once the
// request matches the payment exactly.
func (t *transition) handleSecretRequest(sc *types.ReceiveSecretRequest) error {
	req := &sc.Request
	invalid := func(v types.Violation) error {
		t.emit(&types.ErrorInvalidSecretRequest{Violation: v, PaymentID: req.PaymentID, SecretHash: req.SecretHash})
		return nil
	}
	task, ok := t.state.PaymentMapping[req.SecretHash]
	if !ok || task.Role != types.RoleInitiator {
		return invalid(rejected(sc.Sender, validation.CodeUnknownLock, "no payment for %s", req.SecretHash.Hex()))
	}
	if sc.Sender != task.Target {
		return invalid(rejected(sc.Sender, validation.CodeWrongSender, "secret request from %s, target is %s", sc.Sender.Hex(), task.Target.Hex()))
	}
	if err := validation.VerifySigner(req.SigningData(), req.Signature, sc.Sender); err != nil {
		return invalid(violation(sc.Sender, err))
	}
	if task.Status != types.TransferLockedTransferSent {
		return invalid(rejected(sc.Sender, validation.CodeInvalidSecret, "payment is %s", task.Status))
	}
	if t.state.BlockNumber > task.Expiration {
		return invalid(rejected(sc.Sender, validation.CodeLockExpired, "lock expired at %d", task.Expiration))
	}
	if req.PaymentID != task.PaymentID || !req.Amount.Eq(task.Amount) || req.Expiration != task.Expiration {
		v := rejected(sc.Sender, validation.CodeInvalidAmount, "request for %s expiring %d does not match payment", req.Amount, req.Expiration)
		t.emit(&types.ErrorInvalidSecretRequest{Violation: v, PaymentID: req.PaymentID, SecretHash: req.SecretHash})
		task.Status = types.TransferFailed
		task.FailureReason = v.Reason
		t.emit(&types.EventPaymentSentFailed{
			TokenNetworkAddress: task.TokenNetworkAddress,
			PaymentID:           task.PaymentID,
			Target:              task.Target,
			SecretHash:          task.SecretHash,
			Reason:              v.Reason,
		})
		return nil
	}
	task.SecretRequested = true
	t.emit(&types.SendSecretReveal{
		Recipient: task.Target,
		Reveal:    types.SecretReveal{MessageID: t.nextMessageID(), Secret: task.Secret},
	})
	return nil
}

// initiatorSecretRevealed completes the payment once the first hop proves it
// knows the secret.
func (t *transition) initiatorSecretRevealed(task *types.TransferTask, sender types.Address) {
	if sender != task.Payee {
		t.emit(&types.ErrorUnexpectedReveal{
			Violation:  rejected(sender, validation.CodeWrongSender, "reveal from %s, payee is %s", sender.Hex(), task.Payee.Hex()),
			SecretHash: task.SecretHash,
		})
		return
	}
	if task.Status != types.TransferLockedTransferSent {
		return
	}
	t.completeInitiator(task)
}

func (t *transition) completeInitiator(task *types.TransferTask) {
	channel, ok := t.state.Channel(*task.PayeeChannel)
	if !ok {
		return
	}
	task.Status = types.TransferSecretRevealed
	if !t.sendUnlock(channel, task.Secret, task.PaymentID) {
		return
	}
	task.PayeeUnlocked = true
	task.Status = types.TransferCompleted
	t.emit(
		&types.EventUnlockSuccess{PaymentID: task.PaymentID, SecretHash: task.SecretHash},
		&types.EventPaymentSentSuccess{
			TokenNetworkAddress: task.TokenNetworkAddress,
			PaymentID:           task.PaymentID,
			Amount:              task.Amount,
			Target:              task.Target,
			SecretHash:          task.SecretHash,
		},
	)
}

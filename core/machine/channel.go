package machine

import (
	"channeld/core/types"
	"channeld/core/validation"
)

// --- outbound balance proofs ---

// ourBalanceProof builds our next balance proof after the caller updated the
// pending lock set and chose the transferred amount.
func ourBalanceProof(channel *types.NettingChannelState, transferred types.TokenAmount) types.BalanceProof {
	our := channel.OurState
	our.Nonce++
	return types.BalanceProof{
		CanonicalIdentifier: channel.CanonicalIdentifier,
		Nonce:               our.Nonce,
		TransferredAmount:   transferred,
		LockedAmount:        our.LockedAmount(),
		Locksroot:           our.Locksroot(),
		Sender:              our.Address,
	}
}

// sendLockedTransfer locks amount in our side of channel and emits the
// message offering it to the partner.
func (t *transition) sendLockedTransfer(channel *types.NettingChannelState, lock types.Lock, paymentID types.PaymentID, initiator, target types.Address, route []types.Address) *types.LockedTransfer {
	our := channel.OurState
	transferred := our.TransferredAmount()
	our.PendingLocks[lock.SecretHash] = lock
	transfer := types.LockedTransfer{
		MessageID:    t.nextMessageID(),
		PaymentID:    paymentID,
		TokenAddress: channel.TokenAddress,
		Recipient:    channel.PartnerAddress(),
		Lock:         lock,
		Initiator:    initiator,
		Target:       target,
		Route:        append([]types.Address(nil), route...),
		BalanceProof: ourBalanceProof(channel, transferred),
	}
	transfer.BalanceProof.MessageHash = transfer.MessageHash()
	bp := transfer.BalanceProof
	our.BalanceProof = &bp
	t.emit(&types.SendLockedTransfer{Recipient: transfer.Recipient, Transfer: transfer})
	return &transfer
}

// sendUnlock moves one of our locks into the transferred amount.
func (t *transition) sendUnlock(channel *types.NettingChannelState, secret types.Secret, paymentID types.PaymentID) bool {
	our := channel.OurState
	secrethash := secret.Hash()
	lock, ok := our.PendingLocks[secrethash]
	if !ok || channel.Status != types.ChannelOpened {
		return false
	}
	transferred, overflow := our.TransferredAmount().Add(lock.Amount)
	if overflow {
		return false
	}
	delete(our.PendingLocks, secrethash)
	delete(our.RevealedSecrets, secrethash)
	delete(our.RegisteredSecrets, secrethash)
	unlock := types.Unlock{
		MessageID:    t.nextMessageID(),
		PaymentID:    paymentID,
		Secret:       secret,
		BalanceProof: ourBalanceProof(channel, transferred),
	}
	unlock.BalanceProof.MessageHash = unlock.MessageHash()
	bp := unlock.BalanceProof
	our.BalanceProof = &bp
	t.emit(&types.SendUnlock{Recipient: channel.PartnerAddress(), Unlock: unlock})
	return true
}

// sendLockExpired removes one of our expired locks.
func (t *transition) sendLockExpired(channel *types.NettingChannelState, secrethash types.SecretHash) bool {
	our := channel.OurState
	if _, ok := our.PendingLocks[secrethash]; !ok || channel.Status != types.ChannelOpened {
		return false
	}
	transferred := our.TransferredAmount()
	delete(our.PendingLocks, secrethash)
	delete(our.RevealedSecrets, secrethash)
	expired := types.LockExpired{
		MessageID:    t.nextMessageID(),
		Recipient:    channel.PartnerAddress(),
		SecretHash:   secrethash,
		BalanceProof: ourBalanceProof(channel, transferred),
	}
	expired.BalanceProof.MessageHash = expired.MessageHash()
	bp := expired.BalanceProof
	our.BalanceProof = &bp
	t.emit(&types.SendLockExpired{Recipient: expired.Recipient, Expired: expired})
	return true
}

// --- inbound balance proofs ---

func acceptPartnerProof(channel *types.NettingChannelState, bp *types.BalanceProof) {
	partner := channel.PartnerState
	partner.Nonce = bp.Nonce
	partner.BalanceProof = bp.Clone()
}

func (t *transition) handleUnlock(sc *types.ReceiveUnlock) error {
	secrethash := sc.Unlock.Secret.Hash()
	channel, ok := t.lookupChannel(sc.Unlock.BalanceProof.CanonicalIdentifier)
	if !ok {
		t.emit(&types.ErrorInvalidReceivedUnlock{
			Violation:  rejected(sc.Sender, validation.CodeCanonicalMismatch, "unknown channel %s", sc.Unlock.BalanceProof.CanonicalIdentifier),
			SecretHash: secrethash,
		})
		return nil
	}
	lock, err := validation.Unlock(channel, sc.Sender, &sc.Unlock)
	if err != nil {
		t.emit(&types.ErrorInvalidReceivedUnlock{Violation: violation(sc.Sender, err), SecretHash: secrethash})
		return nil
	}
	partner := channel.PartnerState
	delete(partner.PendingLocks, secrethash)
	delete(partner.RevealedSecrets, secrethash)
	delete(partner.RegisteredSecrets, secrethash)
	acceptPartnerProof(channel, &sc.Unlock.BalanceProof)
	t.emit(&types.SendProcessed{Recipient: sc.Sender, Ack: types.Ack{MessageID: sc.Unlock.MessageID}})

	task, ok := t.state.PaymentMapping[secrethash]
	if !ok || task.PayerChannel == nil || *task.PayerChannel != channel.CanonicalIdentifier {
		return nil
	}
	t.payerUnlocked(task, sc.Unlock.Secret, lock)
	return nil
}

func (t *transition) handleLockExpired(sc *types.ReceiveLockExpired) error {
	secrethash := sc.Expired.SecretHash
	channel, ok := t.lookupChannel(sc.Expired.BalanceProof.CanonicalIdentifier)
	if !ok {
		t.emit(&types.ErrorInvalidReceivedLockExpired{
			Violation:  rejected(sc.Sender, validation.CodeCanonicalMismatch, "unknown channel %s", sc.Expired.BalanceProof.CanonicalIdentifier),
			SecretHash: secrethash,
		})
		return nil
	}
	if _, err := validation.LockExpired(channel, sc.Sender, &sc.Expired, t.state.BlockNumber); err != nil {
		t.emit(&types.ErrorInvalidReceivedLockExpired{Violation: violation(sc.Sender, err), SecretHash: secrethash})
		return nil
	}
	partner := channel.PartnerState
	delete(partner.PendingLocks, secrethash)
	delete(partner.RevealedSecrets, secrethash)
	acceptPartnerProof(channel, &sc.Expired.BalanceProof)
	t.emit(&types.SendProcessed{Recipient: sc.Sender, Ack: types.Ack{MessageID: sc.Expired.MessageID}})

	task, ok := t.state.PaymentMapping[secrethash]
	if !ok || task.PayerChannel == nil || *task.PayerChannel != channel.CanonicalIdentifier {
		return nil
	}
	if !task.Status.Terminal() {
		task.Status = types.TransferExpired
		t.emit(&types.EventUnlockClaimFailed{PaymentID: task.PaymentID, SecretHash: secrethash, Reason: "lock expired"})
	}
	return nil
}

// --- deposits and withdraws ---

func (t *transition) handleChannelDeposit(sc *types.ContractReceiveChannelDeposit) error {
	channel, err := t.contractChannel(sc.CanonicalIdentifier)
	if err != nil {
		return err
	}
	end, ok := channel.End(sc.Participant)
	if !ok {
		return invariant(t.tag, "%s is not a participant of %s", sc.Participant.Hex(), channel.CanonicalIdentifier)
	}
	if sc.TotalDeposit.Gt(end.ContractBalance) {
		end.ContractBalance = sc.TotalDeposit
	}
	return nil
}

func (t *transition) handleChannelWithdraw(sc *types.ContractReceiveChannelWithdraw) error {
	channel, err := t.contractChannel(sc.CanonicalIdentifier)
	if err != nil {
		return err
	}
	end, ok := channel.End(sc.Participant)
	if !ok {
		return invariant(t.tag, "%s is not a participant of %s", sc.Participant.Hex(), channel.CanonicalIdentifier)
	}
	if sc.TotalWithdraw.Gt(end.OnchainTotalWithdraw) {
		end.OnchainTotalWithdraw = sc.TotalWithdraw
	}
	kept := end.PendingWithdraws[:0:0]
	for _, pending := range end.PendingWithdraws {
		if pending.TotalWithdraw.Gt(end.OnchainTotalWithdraw) {
			kept = append(kept, pending)
		}
	}
	end.PendingWithdraws = kept
	if sc.Participant == t.state.OurAddress {
		t.clearPendingTransactions(func(ev types.Event) bool {
			w, ok := ev.(*types.ContractSendChannelWithdraw)
			return ok && w.CanonicalIdentifier == channel.CanonicalIdentifier && !w.TotalWithdraw.Gt(end.OnchainTotalWithdraw)
		})
	}
	return nil
}

func (t *transition) handleActionWithdraw(sc *types.ActionChannelWithdraw) error {
	channel, ok := t.lookupChannel(sc.CanonicalIdentifier)
	if !ok {
		t.emit(&types.ErrorInvalidActionWithdraw{
			Violation:     rejected(types.Address{}, validation.CodeCanonicalMismatch, "unknown channel %s", sc.CanonicalIdentifier),
			TotalWithdraw: sc.TotalWithdraw,
		})
		return nil
	}
	if err := validation.ActionWithdraw(channel, sc.TotalWithdraw); err != nil {
		t.emit(&types.ErrorInvalidActionWithdraw{Violation: violation(types.Address{}, err), TotalWithdraw: sc.TotalWithdraw})
		return nil
	}
	our := channel.OurState
	our.Nonce++
	expiration := t.state.BlockNumber + types.BlockNumber(2*channel.RevealTimeout)
	our.PendingWithdraws = append(our.PendingWithdraws, types.PendingWithdraw{
		TotalWithdraw: sc.TotalWithdraw,
		Expiration:    expiration,
		Nonce:         our.Nonce,
	})
	t.emit(&types.SendWithdrawRequest{
		Recipient: channel.PartnerAddress(),
		Request: types.WithdrawMessage{
			MessageID:           t.nextMessageID(),
			CanonicalIdentifier: channel.CanonicalIdentifier,
			Participant:         our.Address,
			TotalWithdraw:       sc.TotalWithdraw,
			Nonce:               our.Nonce,
			Expiration:          expiration,
		},
	})
	return nil
}

func (t *transition) handleWithdrawRequest(sc *types.ReceiveWithdrawRequest) error {
	msg := &sc.Request
	channel, ok := t.lookupChannel(msg.CanonicalIdentifier)
	if !ok {
		t.emit(&types.ErrorInvalidReceivedWithdrawRequest{
			Violation:     rejected(sc.Sender, validation.CodeCanonicalMismatch, "unknown channel %s", msg.CanonicalIdentifier),
			TotalWithdraw: msg.TotalWithdraw,
		})
		return nil
	}
	if err := validation.WithdrawRequest(channel, sc.Sender, msg, t.state.BlockNumber); err != nil {
		t.emit(&types.ErrorInvalidReceivedWithdrawRequest{Violation: violation(sc.Sender, err), TotalWithdraw: msg.TotalWithdraw})
		return nil
	}
	partner := channel.PartnerState
	partner.Nonce = msg.Nonce
	partner.PendingWithdraws = append(partner.PendingWithdraws, types.PendingWithdraw{
		TotalWithdraw: msg.TotalWithdraw,
		Expiration:    msg.Expiration,
		Nonce:         msg.Nonce,
	})
	our := channel.OurState
	our.Nonce++
	t.emit(&types.SendWithdrawConfirmation{
		Recipient: partner.Address,
		Confirmation: types.WithdrawMessage{
			MessageID:           t.nextMessageID(),
			CanonicalIdentifier: channel.CanonicalIdentifier,
			Participant:         partner.Address,
			TotalWithdraw:       msg.TotalWithdraw,
			Nonce:               our.Nonce,
			Expiration:          msg.Expiration,
		},
	})
	return nil
}

func (t *transition) handleWithdrawConfirmation(sc *types.ReceiveWithdrawConfirmation) error {
	msg := &sc.Confirmation
	channel, ok := t.lookupChannel(msg.CanonicalIdentifier)
	if !ok {
		t.emit(&types.ErrorInvalidReceivedWithdrawConfirmation{
			Violation:     rejected(sc.Sender, validation.CodeCanonicalMismatch, "unknown channel %s", msg.CanonicalIdentifier),
			TotalWithdraw: msg.TotalWithdraw,
		})
		return nil
	}
	pending, err := validation.WithdrawConfirmation(channel, sc.Sender, msg, t.state.BlockNumber)
	if err != nil {
		t.emit(&types.ErrorInvalidReceivedWithdrawConfirmation{Violation: violation(sc.Sender, err), TotalWithdraw: msg.TotalWithdraw})
		return nil
	}
	_, idx, _ := channel.OurState.PendingWithdraw(pending.TotalWithdraw)
	channel.PartnerState.Nonce = msg.Nonce
	pending.PartnerSignature = append(types.Signature(nil), msg.Signature...)
	channel.OurState.PendingWithdraws[idx] = pending
	t.clearQueuedMessages(func(ev types.Event) bool {
		req, ok := ev.(*types.SendWithdrawRequest)
		return ok && req.Request.CanonicalIdentifier == channel.CanonicalIdentifier && req.Request.TotalWithdraw.Eq(pending.TotalWithdraw)
	})
	t.emit(
		&types.SendProcessed{Recipient: sc.Sender, Ack: types.Ack{MessageID: msg.MessageID}},
		&types.ContractSendChannelWithdraw{
			CanonicalIdentifier: channel.CanonicalIdentifier,
			TotalWithdraw:       pending.TotalWithdraw,
			Expiration:          pending.Expiration,
			PartnerSignature:    pending.PartnerSignature,
		},
	)
	return nil
}

// --- close, update, settle, unlock on chain ---

func (t *transition) handleActionClose(sc *types.ActionChannelClose) error {
	channel, ok := t.lookupChannel(sc.CanonicalIdentifier)
	if !ok {
		t.emit(&types.ErrorInvalidActionClose{
			Violation: rejected(types.Address{}, validation.CodeCanonicalMismatch, "unknown channel %s", sc.CanonicalIdentifier),
		})
		return nil
	}
	if channel.Status != types.ChannelOpened {
		t.emit(&types.ErrorInvalidActionClose{
			Violation: rejected(types.Address{}, validation.CodeChannelNotOpen, "channel %s is %s", channel.CanonicalIdentifier, channel.Status),
		})
		return nil
	}
	channel.Status = types.ChannelClosing
	t.emit(&types.ContractSendChannelClose{
		CanonicalIdentifier: channel.CanonicalIdentifier,
		BalanceProof:        channel.PartnerState.BalanceProof.Clone(),
	})
	return nil
}

func (t *transition) handleChannelClosed(sc *types.ContractReceiveChannelClosed) error {
	channel, err := t.contractChannel(sc.CanonicalIdentifier)
	if err != nil {
		return err
	}
	switch channel.Status {
	case types.ChannelClosed, types.ChannelSettling, types.ChannelSettled:
		return nil
	}
	channel.Status = types.ChannelClosed
	channel.ClosedBlock = sc.BlockNumber
	channel.Closer = sc.TransactionFrom
	channel.OurState.OnchainLocksroot = channel.OurState.Locksroot()
	channel.PartnerState.OnchainLocksroot = channel.PartnerState.Locksroot()
	t.clearPendingTransactions(func(ev types.Event) bool {
		c, ok := ev.(*types.ContractSendChannelClose)
		return ok && c.CanonicalIdentifier == channel.CanonicalIdentifier
	})
	if sc.TransactionFrom != t.state.OurAddress && channel.PartnerState.BalanceProof != nil && !channel.UpdateSent {
		channel.UpdateSent = true
		t.emit(&types.ContractSendChannelUpdateTransfer{
			CanonicalIdentifier: channel.CanonicalIdentifier,
			BalanceProof:        channel.PartnerState.BalanceProof.Clone(),
		})
	}
	return nil
}

func (t *transition) handleUpdateTransfer(sc *types.ContractReceiveUpdateTransfer) error {
	channel, err := t.contractChannel(sc.CanonicalIdentifier)
	if err != nil {
		return err
	}
	if sc.Nonce > channel.PartnerState.OnchainNonce {
		channel.PartnerState.OnchainNonce = sc.Nonce
	}
	t.clearPendingTransactions(func(ev types.Event) bool {
		u, ok := ev.(*types.ContractSendChannelUpdateTransfer)
		return ok && u.CanonicalIdentifier == channel.CanonicalIdentifier
	})
	return nil
}

// channelTimers runs the per-block deadlines of one channel: the settle
// window of a closed channel and the expiry of pending withdraws.
func (t *transition) channelTimers(channel *types.NettingChannelState) {
	block := t.state.BlockNumber
	if channel.Status == types.ChannelClosed && !channel.SettleSent &&
		block > channel.ClosedBlock+types.BlockNumber(channel.SettleTimeout) {
		channel.SettleSent = true
		channel.Status = types.ChannelSettling
		t.emit(&types.ContractSendChannelSettle{CanonicalIdentifier: channel.CanonicalIdentifier})
	}
	if channel.Status != types.ChannelOpened {
		return
	}
	our := channel.OurState
	kept := our.PendingWithdraws[:0:0]
	for _, pending := range our.PendingWithdraws {
		if block <= pending.Expiration {
			kept = append(kept, pending)
			continue
		}
		t.clearPendingTransactions(func(ev types.Event) bool {
			w, ok := ev.(*types.ContractSendChannelWithdraw)
			return ok && w.CanonicalIdentifier == channel.CanonicalIdentifier && w.TotalWithdraw.Eq(pending.TotalWithdraw)
		})
		our.Nonce++
		t.emit(&types.SendWithdrawExpired{
			Recipient: channel.PartnerAddress(),
			Expired: types.WithdrawMessage{
				MessageID:           t.nextMessageID(),
				CanonicalIdentifier: channel.CanonicalIdentifier,
				Participant:         our.Address,
				TotalWithdraw:       pending.TotalWithdraw,
				Nonce:               our.Nonce,
				Expiration:          pending.Expiration,
			},
		})
	}
	our.PendingWithdraws = kept
	partner := channel.PartnerState
	keptPartner := partner.PendingWithdraws[:0:0]
	for _, pending := range partner.PendingWithdraws {
		if block <= pending.Expiration {
			keptPartner = append(keptPartner, pending)
		}
	}
	partner.PendingWithdraws = keptPartner
}

func (t *transition) handleChannelSettled(sc *types.ContractReceiveChannelSettled) error {
	channel, err := t.contractChannel(sc.CanonicalIdentifier)
	if err != nil {
		return err
	}
	if channel.Status == types.ChannelSettled {
		return nil
	}
	channel.Status = types.ChannelSettled
	channel.SettledBlock = sc.BlockNumber
	channel.OurState.OnchainLocksroot = sc.OurOnchainLocksroot
	channel.PartnerState.OnchainLocksroot = sc.PartnerOnchainLocksroot
	t.clearPendingTransactions(func(ev types.Event) bool {
		switch e := ev.(type) {
		case *types.ContractSendChannelClose:
			return e.CanonicalIdentifier == channel.CanonicalIdentifier
		case *types.ContractSendChannelUpdateTransfer:
			return e.CanonicalIdentifier == channel.CanonicalIdentifier
		case *types.ContractSendChannelSettle:
			return e.CanonicalIdentifier == channel.CanonicalIdentifier
		default:
			return false
		}
	})
	partner := channel.PartnerState
	if hasLocks(partner.OnchainLocksroot) && len(partner.RegisteredSecrets) > 0 && !channel.BatchUnlockSent {
		channel.BatchUnlockSent = true
		t.emit(&types.ContractSendChannelBatchUnlock{
			CanonicalIdentifier: channel.CanonicalIdentifier,
			Sender:              partner.Address,
		})
	}
	return nil
}

func hasLocks(root types.Locksroot) bool {
	return root != types.Locksroot{} && root != types.EmptyLocksroot
}

func (t *transition) handleBatchUnlock(sc *types.ContractReceiveChannelBatchUnlock) error {
	channel, err := t.contractChannel(sc.CanonicalIdentifier)
	if err != nil {
		return err
	}
	end, ok := channel.End(sc.Sender)
	if !ok {
		return invariant(t.tag, "%s is not a participant of %s", sc.Sender.Hex(), channel.CanonicalIdentifier)
	}
	end.PendingLocks = make(map[types.SecretHash]types.Lock)
	end.RevealedSecrets = make(map[types.SecretHash]types.Secret)
	end.RegisteredSecrets = make(map[types.SecretHash]types.Secret)
	end.OnchainLocksroot = types.EmptyLocksroot
	t.clearPendingTransactions(func(ev types.Event) bool {
		u, ok := ev.(*types.ContractSendChannelBatchUnlock)
		return ok && u.CanonicalIdentifier == channel.CanonicalIdentifier && u.Sender == sc.Sender
	})
	return nil
}

// handleOnchainSecretReveal records a secret registered on chain against
// every pending lock it unlocks, then lets the transfer task react.
func (t *transition) handleOnchainSecretReveal(sc *types.ContractReceiveSecretReveal) error {
	secrethash := sc.Secret.Hash()
	if sc.SecretHash != (types.SecretHash{}) && sc.SecretHash != secrethash {
		return invariant(t.tag, "secret does not hash to %s", sc.SecretHash.Hex())
	}
	for _, channel := range sortedChannels(t.state) {
		for _, end := range []*types.ChannelEndState{channel.OurState, channel.PartnerState} {
			lock, ok := end.PendingLocks[secrethash]
			if !ok || lock.IsExpiredAt(sc.BlockNumber) {
				continue
			}
			end.RegisteredSecrets[secrethash] = sc.Secret
			delete(end.RevealedSecrets, secrethash)
		}
	}
	t.clearPendingTransactions(func(ev types.Event) bool {
		r, ok := ev.(*types.ContractSendSecretReveal)
		return ok && r.SecretHash == secrethash
	})
	if task, ok := t.state.PaymentMapping[secrethash]; ok {
		t.secretLearnedOnchain(task, sc.Secret)
	}
	return nil
}

// sortedChannels returns every channel ordered by token network then id.
func sortedChannels(state *types.ChainState) []*types.NettingChannelState {
	var out []*types.NettingChannelState
	for _, addr := range state.SortedTokenNetworks() {
		tn := state.TokenNetworks[addr]
		for _, id := range tn.SortedChannelIDs() {
			out = append(out, tn.Channels[id])
		}
	}
	return out
}

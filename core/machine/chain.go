// Package machine implements the protocol reducer. Apply is a pure function
// of (state, state change): it performs no I/O, draws randomness only from
// the state's generator and iterates collections in sorted order, so replaying
// a log always reproduces the same states and events.
package machine

import (
	"channeld/core/types"
	"channeld/core/validation"
)

// transition is the exclusively owned context threaded through one
// application of a state change.
type transition struct {
	state  *types.ChainState
	tag    string
	events []types.Event
}

// emit records events in order. Outbound messages that expect an
// acknowledgement and contract submissions that expect a confirmation are
// also kept in the state's pending queues.
func (t *transition) emit(events ...types.Event) {
	for _, ev := range events {
		t.events = append(t.events, ev)
		switch ev.(type) {
		case *types.SendProcessed:
		case types.SendMessageEvent:
			t.state.QueuedMessages = append(t.state.QueuedMessages, ev)
		case types.ContractSendEvent:
			t.state.PendingTransactions = append(t.state.PendingTransactions, ev)
		}
	}
}

func (t *transition) nextMessageID() types.MessageID {
	return t.state.PRNG.NextMessageID()
}

// Apply returns the state reached by applying sc to prev along with the
// events it produced. prev is never modified. A nil prev is only valid for
// ActionInitChain. The only error returned is *InvariantViolation; rejected
// external input yields violation events instead.
func Apply(prev *types.ChainState, sc types.StateChange) (*types.ChainState, []types.Event, error) {
	if sc == nil {
		return nil, nil, invariant("<nil>", "nil state change")
	}
	tag := sc.StateChangeType()
	if init, ok := sc.(*types.ActionInitChain); ok {
		if prev != nil {
			return nil, nil, invariant(tag, "chain already initialised")
		}
		return types.NewChainState(init), nil, nil
	}
	if prev == nil {
		return nil, nil, invariant(tag, "chain not initialised")
	}
	t := &transition{state: prev.Clone(), tag: tag}
	if err := t.dispatch(sc); err != nil {
		return nil, nil, err
	}
	return t.state, t.events, nil
}

func (t *transition) dispatch(sc types.StateChange) error {
	switch sc := sc.(type) {
	case *types.Block:
		return t.handleBlock(sc)
	case *types.ContractReceiveTokenNetworkCreated:
		return t.handleTokenNetworkCreated(sc)
	case *types.ContractReceiveChannelOpened:
		return t.handleChannelOpened(sc)
	case *types.ContractReceiveChannelDeposit:
		return t.handleChannelDeposit(sc)
	case *types.ContractReceiveChannelWithdraw:
		return t.handleChannelWithdraw(sc)
	case *types.ContractReceiveChannelClosed:
		return t.handleChannelClosed(sc)
	case *types.ContractReceiveUpdateTransfer:
		return t.handleUpdateTransfer(sc)
	case *types.ContractReceiveChannelSettled:
		return t.handleChannelSettled(sc)
	case *types.ContractReceiveChannelBatchUnlock:
		return t.handleBatchUnlock(sc)
	case *types.ContractReceiveSecretReveal:
		return t.handleOnchainSecretReveal(sc)
	case *types.ActionInitInitiator:
		return t.handleInitInitiator(sc)
	case *types.ActionChannelClose:
		return t.handleActionClose(sc)
	case *types.ActionChannelWithdraw:
		return t.handleActionWithdraw(sc)
	case *types.ReceiveLockedTransfer:
		return t.handleLockedTransfer(sc)
	case *types.ReceiveSecretRequest:
		return t.handleSecretRequest(sc)
	case *types.ReceiveSecretReveal:
		return t.handleSecretReveal(sc)
	case *types.ReceiveUnlock:
		return t.handleUnlock(sc)
	case *types.ReceiveLockExpired:
		return t.handleLockExpired(sc)
	case *types.ReceiveWithdrawRequest:
		return t.handleWithdrawRequest(sc)
	case *types.ReceiveWithdrawConfirmation:
		return t.handleWithdrawConfirmation(sc)
	case *types.ReceiveProcessed:
		return t.handleAck(sc.Sender, &sc.Ack, sc.Ack.ProcessedSigningData())
	case *types.ReceiveDelivered:
		return t.handleAck(sc.Sender, &sc.Ack, sc.Ack.DeliveredSigningData())
	default:
		return invariant(t.tag, "no reducer for state change")
	}
}

// handleBlock advances the chain head and runs every deadline that the new
// block passes. A block at or below the current head is ignored. Work runs in
// a fixed order: channel timers, then lock expirations, then on-chain secret
// registrations, each in ascending identifier order.
func (t *transition) handleBlock(b *types.Block) error {
	if b.Number <= t.state.BlockNumber {
		return nil
	}
	t.state.BlockNumber = b.Number
	t.state.BlockHash = b.Hash

	hashes := t.state.SortedSecretHashes()
	settled := make(map[types.SecretHash]bool)
	for _, hash := range hashes {
		if t.state.PaymentMapping[hash].Status.Terminal() {
			settled[hash] = true
		}
	}
	for _, channel := range sortedChannels(t.state) {
		t.channelTimers(channel)
	}
	for _, hash := range hashes {
		if err := t.taskExpiry(t.state.PaymentMapping[hash]); err != nil {
			return err
		}
	}
	for _, hash := range hashes {
		if err := t.taskOnchainReveal(t.state.PaymentMapping[hash]); err != nil {
			return err
		}
	}
	// Past expiration a task is forgotten once it finished before this block.
	// A task that never finished is forgotten once none of its locks is
	// pending any more.
	for _, hash := range hashes {
		task := t.state.PaymentMapping[hash]
		if t.state.BlockNumber <= task.Expiration {
			continue
		}
		if settled[hash] || (!task.Status.Terminal() && !t.taskLocksPending(task)) {
			delete(t.state.PaymentMapping, hash)
		}
	}
	return nil
}

// handleAck drops queued messages acknowledged by their recipient.
func (t *transition) handleAck(sender types.Address, ack *types.Ack, signed []byte) error {
	if err := validation.VerifySigner(signed, ack.Signature, sender); err != nil {
		t.emit(&types.ErrorInvalidReceivedAck{Violation: violation(sender, err), MessageID: ack.MessageID})
		return nil
	}
	t.clearQueuedMessages(func(ev types.Event) bool {
		msg, ok := ev.(types.SendMessageEvent)
		return ok && msg.MessageRecipient() == sender && msg.MessageIdentifier() == ack.MessageID
	})
	return nil
}

// clearPendingTransactions drops contract submissions matched by confirmed.
func (t *transition) clearPendingTransactions(confirmed func(types.Event) bool) {
	kept := t.state.PendingTransactions[:0:0]
	for _, ev := range t.state.PendingTransactions {
		if confirmed(ev) {
			continue
		}
		kept = append(kept, ev)
	}
	t.state.PendingTransactions = kept
}

// clearQueuedMessages drops queued messages matched by done.
func (t *transition) clearQueuedMessages(done func(types.Event) bool) {
	kept := t.state.QueuedMessages[:0:0]
	for _, ev := range t.state.QueuedMessages {
		if done(ev) {
			continue
		}
		kept = append(kept, ev)
	}
	t.state.QueuedMessages = kept
}

package dispatch

import (
	"errors"
	"fmt"

	"channeld/core/types"
	"channeld/crypto"
)

// ErrNotDeliverable is returned for messages that have no inbound state
// change on the receiving node.
var ErrNotDeliverable = errors.New("dispatch: message has no inbound state change")

// SignedMessage is a protocol message ready for the transport collaborator.
type SignedMessage struct {
	Sender    types.Address
	Message   types.SendMessageEvent
	Signature types.Signature
}

// Recipient returns the peer the message is addressed to.
func (m SignedMessage) Recipient() types.Address { return m.Message.MessageRecipient() }

// Sign signs the payload of ev with signer.
func Sign(signer crypto.Signer, ev types.SendMessageEvent) (SignedMessage, error) {
	if signer == nil {
		return SignedMessage{}, errors.New("dispatch: signer not configured")
	}
	sig, err := signer.Sign(ev.SigningData())
	if err != nil {
		return SignedMessage{}, fmt.Errorf("dispatch: sign %s: %w", ev.EventType(), err)
	}
	return SignedMessage{Sender: signer.Address(), Message: ev, Signature: sig}, nil
}

// StateChange converts a signed message into the state change its recipient
// feeds to its own reducer. Transport adapters call it after decoding the
// wire form.
func (m SignedMessage) StateChange() (types.StateChange, error) {
	sig := append(types.Signature(nil), m.Signature...)
	switch msg := m.Message.(type) {
	case *types.SendLockedTransfer:
		transfer := msg.Transfer.Clone()
		transfer.BalanceProof.Signature = sig
		return &types.ReceiveLockedTransfer{Sender: m.Sender, Transfer: transfer}, nil
	case *types.SendSecretRequest:
		req := msg.Request
		req.Signature = sig
		return &types.ReceiveSecretRequest{Sender: m.Sender, Request: req}, nil
	case *types.SendSecretReveal:
		reveal := msg.Reveal
		reveal.Signature = sig
		return &types.ReceiveSecretReveal{Sender: m.Sender, Reveal: reveal}, nil
	case *types.SendUnlock:
		unlock := msg.Unlock
		unlock.BalanceProof.Signature = sig
		return &types.ReceiveUnlock{Sender: m.Sender, Unlock: unlock}, nil
	case *types.SendLockExpired:
		expired := msg.Expired
		expired.BalanceProof.Signature = sig
		return &types.ReceiveLockExpired{Sender: m.Sender, Expired: expired}, nil
	case *types.SendWithdrawRequest:
		req := msg.Request
		req.Signature = sig
		return &types.ReceiveWithdrawRequest{Sender: m.Sender, Request: req}, nil
	case *types.SendWithdrawConfirmation:
		conf := msg.Confirmation
		conf.Signature = sig
		return &types.ReceiveWithdrawConfirmation{Sender: m.Sender, Confirmation: conf}, nil
	case *types.SendProcessed:
		ack := msg.Ack
		ack.Signature = sig
		return &types.ReceiveProcessed{Sender: m.Sender, Ack: ack}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotDeliverable, m.Message.EventType())
	}
}

// Delivered builds the acknowledgement a recipient returns once the
// transport handed it message id. The result is applied on the original
// sender's node.
func Delivered(recipient crypto.Signer, id types.MessageID) (*types.ReceiveDelivered, error) {
	ack := types.Ack{MessageID: id}
	sig, err := recipient.Sign(ack.DeliveredSigningData())
	if err != nil {
		return nil, fmt.Errorf("dispatch: sign delivered: %w", err)
	}
	ack.Signature = sig
	return &types.ReceiveDelivered{Sender: recipient.Address(), Ack: ack}, nil
}

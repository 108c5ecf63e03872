package validation

import (
	"channeld/core/types"
)

// ActionWithdraw checks that we can raise our total withdraw to total.
func ActionWithdraw(channel *types.NettingChannelState, total types.TokenAmount) error {
	if channel.Status != types.ChannelOpened {
		return fail(CodeChannelNotOpen, "channel %s is %s", channel.CanonicalIdentifier, channel.Status)
	}
	current := channel.OurState.TotalWithdraw()
	if !total.Gt(current) {
		return fail(CodeInvalidWithdraw, "total withdraw %s does not exceed %s", total, current)
	}
	amount, _ := total.Sub(current)
	if distributable := channel.OurDistributable(); amount.Gt(distributable) {
		return fail(CodeInsufficientCapacity, "withdraw of %s exceeds distributable %s", amount, distributable)
	}
	return nil
}

// WithdrawRequest validates a partner's request to withdraw from channel.
func WithdrawRequest(channel *types.NettingChannelState, sender types.Address, msg *types.WithdrawMessage, block types.BlockNumber) error {
	if channel.Status != types.ChannelOpened {
		return fail(CodeChannelNotOpen, "channel %s is %s", channel.CanonicalIdentifier, channel.Status)
	}
	partner := channel.PartnerState
	if sender != partner.Address || msg.Participant != sender {
		return fail(CodeWrongSender, "withdraw for %s sent by %s", msg.Participant.Hex(), sender.Hex())
	}
	if msg.CanonicalIdentifier != channel.CanonicalIdentifier {
		return fail(CodeCanonicalMismatch, "withdraw for %s on channel %s", msg.CanonicalIdentifier, channel.CanonicalIdentifier)
	}
	if block > msg.Expiration {
		return fail(CodeWithdrawExpired, "withdraw expired at %d, block %d", msg.Expiration, block)
	}
	if err := VerifySigner(msg.SigningData(), msg.Signature, sender); err != nil {
		return err
	}
	if msg.Nonce <= partner.Nonce {
		return fail(CodeStaleNonce, "nonce %d does not exceed %d", msg.Nonce, partner.Nonce)
	}
	current := partner.TotalWithdraw()
	if !msg.TotalWithdraw.Gt(current) {
		return fail(CodeInvalidWithdraw, "total withdraw %s does not exceed %s", msg.TotalWithdraw, current)
	}
	amount, _ := msg.TotalWithdraw.Sub(current)
	if distributable := channel.PartnerDistributable(); amount.Gt(distributable) {
		return fail(CodeInsufficientCapacity, "withdraw of %s exceeds distributable %s", amount, distributable)
	}
	return nil
}

// WithdrawConfirmation validates the partner's confirmation of one of our
// pending withdraws and returns that withdraw.
func WithdrawConfirmation(channel *types.NettingChannelState, sender types.Address, msg *types.WithdrawMessage, block types.BlockNumber) (types.PendingWithdraw, error) {
	if channel.Status != types.ChannelOpened {
		return types.PendingWithdraw{}, fail(CodeChannelNotOpen, "channel %s is %s", channel.CanonicalIdentifier, channel.Status)
	}
	partner := channel.PartnerState
	if sender != partner.Address {
		return types.PendingWithdraw{}, fail(CodeWrongSender, "confirmation sent by %s", sender.Hex())
	}
	if msg.Participant != channel.OurState.Address {
		return types.PendingWithdraw{}, fail(CodeWrongSender, "confirmation for %s", msg.Participant.Hex())
	}
	if msg.CanonicalIdentifier != channel.CanonicalIdentifier {
		return types.PendingWithdraw{}, fail(CodeCanonicalMismatch, "confirmation for %s on channel %s", msg.CanonicalIdentifier, channel.CanonicalIdentifier)
	}
	pending, _, ok := channel.OurState.PendingWithdraw(msg.TotalWithdraw)
	if !ok || pending.Expiration != msg.Expiration {
		return types.PendingWithdraw{}, fail(CodeInvalidWithdraw, "no pending withdraw of %s expiring at %d", msg.TotalWithdraw, msg.Expiration)
	}
	if block > pending.Expiration {
		return types.PendingWithdraw{}, fail(CodeWithdrawExpired, "withdraw expired at %d, block %d", pending.Expiration, block)
	}
	if err := VerifySigner(msg.SigningData(), msg.Signature, sender); err != nil {
		return types.PendingWithdraw{}, err
	}
	if msg.Nonce <= partner.Nonce {
		return types.PendingWithdraw{}, fail(CodeStaleNonce, "nonce %d does not exceed %d", msg.Nonce, partner.Nonce)
	}
	return pending, nil
}

package machine

import (
	"channeld/core/types"
	"channeld/core/validation"
)

// targetInit requests the secret from the initiator when there is enough
// time left to reveal it on chain should the payer not unlock.
func (t *transition) targetInit(task *types.TransferTask, payer *types.NettingChannelState) {
	if t.state.BlockNumber+types.BlockNumber(payer.RevealTimeout) >= task.Expiration {
		return
	}
	task.SecretRequested = true
	t.emit(&types.SendSecretRequest{
		Recipient: task.Initiator,
		Request: types.SecretRequest{
			MessageID:  t.nextMessageID(),
			PaymentID:  task.PaymentID,
			SecretHash: task.SecretHash,
			Amount:     task.Amount,
			Expiration: task.Expiration,
		},
	})
}

// targetSecretRevealed stores the initiator's secret and proves knowledge of
// it to the payer, which answers with an Unlock.
func (t *transition) targetSecretRevealed(task *types.TransferTask, sender types.Address, secret types.Secret) {
	if sender != task.Initiator {
		t.emit(&types.ErrorUnexpectedReveal{
			Violation:  rejected(sender, validation.CodeWrongSender, "reveal from %s, initiator is %s", sender.Hex(), task.Initiator.Hex()),
			SecretHash: task.SecretHash,
		})
		return
	}
	if task.Status != types.TransferInit {
		return
	}
	task.Secret = secret
	task.Status = types.TransferSecretRevealed
	if channel, ok := t.state.Channel(*task.PayerChannel); ok {
		if _, pending := channel.PartnerState.PendingLocks[task.SecretHash]; pending {
			channel.PartnerState.RevealedSecrets[task.SecretHash] = secret
		}
	}
	t.emit(&types.SendSecretReveal{
		Recipient: task.Payer,
		Reveal:    types.SecretReveal{MessageID: t.nextMessageID(), Secret: secret},
	})
}

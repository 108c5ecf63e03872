package types

import (
	"sort"
)

// ChannelStatus is the lifecycle stage of a netting channel.
type ChannelStatus string

const (
	ChannelOpened   ChannelStatus = "opened"
	ChannelClosing  ChannelStatus = "closing"
	ChannelClosed   ChannelStatus = "closed"
	ChannelSettling ChannelStatus = "settling"
	ChannelSettled  ChannelStatus = "settled"
)

// Lock is a hash time lock: Amount is claimable with the preimage of
// SecretHash up to and including block Expiration.
type Lock struct {
	Amount     TokenAmount `json:"amount"`
	Expiration BlockNumber `json:"expiration"`
	SecretHash SecretHash  `json:"secrethash"`
}

// IsExpiredAt reports whether the lock can no longer be claimed at block.
func (l Lock) IsExpiredAt(block BlockNumber) bool {
	return block > l.Expiration
}

// BalanceProof is one side's claim of transferred and locked amounts. Proofs
// received from the partner carry the partner's signature; our own proofs
// are signed when the carrying message is dispatched.
type BalanceProof struct {
	CanonicalIdentifier CanonicalIdentifier `json:"canonicalIdentifier"`
	Nonce               Nonce               `json:"nonce"`
	TransferredAmount   TokenAmount         `json:"transferredAmount"`
	LockedAmount        TokenAmount         `json:"lockedAmount"`
	Locksroot           Locksroot           `json:"locksroot"`
	MessageHash         Hash                `json:"messageHash"`
	Sender              Address             `json:"sender"`
	Signature           Signature           `json:"signature,omitempty"`
}

// BalanceHash returns the digest committed to by the signature.
func (bp *BalanceProof) BalanceHash() BalanceHash {
	return HashBalanceData(bp.TransferredAmount, bp.LockedAmount, bp.Locksroot)
}

// Clone returns a deep copy.
func (bp *BalanceProof) Clone() *BalanceProof {
	if bp == nil {
		return nil
	}
	out := *bp
	out.Signature = append(Signature(nil), bp.Signature...)
	return &out
}

// PendingWithdraw is a withdraw request that has not yet been settled on chain.
type PendingWithdraw struct {
	TotalWithdraw TokenAmount `json:"totalWithdraw"`
	Expiration    BlockNumber `json:"expiration"`
	Nonce         Nonce       `json:"nonce"`
	// PartnerSignature is the confirmation signature collected for our own
	// withdraws. It is empty until ReceiveWithdrawConfirmation arrives.
	PartnerSignature Signature `json:"partnerSignature,omitempty"`
}

// ChannelEndState holds everything known about one participant of a channel.
type ChannelEndState struct {
	Address              Address           `json:"address"`
	ContractBalance      TokenAmount       `json:"contractBalance"`
	OnchainTotalWithdraw TokenAmount       `json:"onchainTotalWithdraw"`
	PendingWithdraws     []PendingWithdraw `json:"pendingWithdraws,omitempty"`
	BalanceProof         *BalanceProof     `json:"balanceProof,omitempty"`
	// Nonce is the highest nonce used by this side for balance proofs and
	// withdraw messages alike.
	Nonce        Nonce               `json:"nonce"`
	PendingLocks map[SecretHash]Lock `json:"pendingLocks"`
	// RevealedSecrets holds secrets known off chain for locks that are
	// still pending.
	RevealedSecrets map[SecretHash]Secret `json:"revealedSecrets"`
	// RegisteredSecrets holds secrets registered on chain before the
	// corresponding lock expired.
	RegisteredSecrets map[SecretHash]Secret `json:"registeredSecrets"`
	OnchainLocksroot  Locksroot             `json:"onchainLocksroot"`
	OnchainNonce      Nonce                 `json:"onchainNonce"`
}

// NewChannelEndState returns an end with empty collections.
func NewChannelEndState(addr Address, deposit TokenAmount) *ChannelEndState {
	return &ChannelEndState{
		Address:           addr,
		ContractBalance:   deposit,
		PendingLocks:      make(map[SecretHash]Lock),
		RevealedSecrets:   make(map[SecretHash]Secret),
		RegisteredSecrets: make(map[SecretHash]Secret),
	}
}

// TransferredAmount returns the amount this side has unconditionally paid.
func (e *ChannelEndState) TransferredAmount() TokenAmount {
	if e == nil || e.BalanceProof == nil {
		return TokenAmount{}
	}
	return e.BalanceProof.TransferredAmount
}

// LockedAmount returns the sum of all pending locks.
func (e *ChannelEndState) LockedAmount() TokenAmount {
	if e == nil {
		return TokenAmount{}
	}
	total := TokenAmount{}
	for _, hash := range e.SortedSecretHashes() {
		total, _ = total.Add(e.PendingLocks[hash].Amount)
	}
	return total
}

// TotalWithdraw returns the largest withdraw total requested or confirmed.
func (e *ChannelEndState) TotalWithdraw() TokenAmount {
	if e == nil {
		return TokenAmount{}
	}
	total := e.OnchainTotalWithdraw
	for _, pending := range e.PendingWithdraws {
		total = total.Max(pending.TotalWithdraw)
	}
	return total
}

// Locksroot returns the digest of the pending lock set.
func (e *ChannelEndState) Locksroot() Locksroot {
	if e == nil {
		return ComputeLocksroot(nil)
	}
	return ComputeLocksroot(e.PendingLocks)
}

// SortedSecretHashes returns the pending lock keys in ascending byte order.
func (e *ChannelEndState) SortedSecretHashes() []SecretHash {
	keys := make([]SecretHash, 0, len(e.PendingLocks))
	for hash := range e.PendingLocks {
		keys = append(keys, hash)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Cmp(keys[j]) < 0 })
	return keys
}

// PendingWithdraw returns the pending withdraw with the given total.
func (e *ChannelEndState) PendingWithdraw(total TokenAmount) (PendingWithdraw, int, bool) {
	for idx, pending := range e.PendingWithdraws {
		if pending.TotalWithdraw.Eq(total) {
			return pending, idx, true
		}
	}
	return PendingWithdraw{}, -1, false
}

// Clone returns a deep copy.
func (e *ChannelEndState) Clone() *ChannelEndState {
	if e == nil {
		return nil
	}
	out := *e
	out.BalanceProof = e.BalanceProof.Clone()
	out.PendingWithdraws = make([]PendingWithdraw, len(e.PendingWithdraws))
	for idx, pending := range e.PendingWithdraws {
		pending.PartnerSignature = append(Signature(nil), pending.PartnerSignature...)
		out.PendingWithdraws[idx] = pending
	}
	out.PendingLocks = make(map[SecretHash]Lock, len(e.PendingLocks))
	for k, v := range e.PendingLocks {
		out.PendingLocks[k] = v
	}
	out.RevealedSecrets = make(map[SecretHash]Secret, len(e.RevealedSecrets))
	for k, v := range e.RevealedSecrets {
		out.RevealedSecrets[k] = v
	}
	out.RegisteredSecrets = make(map[SecretHash]Secret, len(e.RegisteredSecrets))
	for k, v := range e.RegisteredSecrets {
		out.RegisteredSecrets[k] = v
	}
	return &out
}

// Distributable returns how much sender can still commit to receiver:
// deposit + received - sent - withdrawn - locked. It is zero if the terms
// would go negative.
func Distributable(sender, receiver *ChannelEndState) TokenAmount {
	credit, overflow := sender.ContractBalance.Add(receiver.TransferredAmount())
	if overflow {
		return TokenAmount{}
	}
	debit, overflow := SumAmounts(sender.TransferredAmount(), sender.TotalWithdraw(), sender.LockedAmount())
	if overflow {
		return TokenAmount{}
	}
	return credit.SaturatingSub(debit)
}

// NettingChannelState is a bilateral payment channel.
type NettingChannelState struct {
	CanonicalIdentifier CanonicalIdentifier `json:"canonicalIdentifier"`
	TokenAddress        Address             `json:"tokenAddress"`
	RevealTimeout       BlockTimeout        `json:"revealTimeout"`
	SettleTimeout       BlockTimeout        `json:"settleTimeout"`
	OurState            *ChannelEndState    `json:"ourState"`
	PartnerState        *ChannelEndState    `json:"partnerState"`
	Status              ChannelStatus       `json:"status"`
	OpenedBlock         BlockNumber         `json:"openedBlock"`
	ClosedBlock         BlockNumber         `json:"closedBlock,omitempty"`
	SettledBlock        BlockNumber         `json:"settledBlock,omitempty"`
	Closer              Address             `json:"closer,omitempty"`
	UpdateSent          bool                `json:"updateSent,omitempty"`
	SettleSent          bool                `json:"settleSent,omitempty"`
	BatchUnlockSent     bool                `json:"batchUnlockSent,omitempty"`
}

// ID returns the channel identifier.
func (c *NettingChannelState) ID() ChannelID { return c.CanonicalIdentifier.ChannelID }

// PartnerAddress returns the counterparty address.
func (c *NettingChannelState) PartnerAddress() Address { return c.PartnerState.Address }

// End returns the side owned by addr.
func (c *NettingChannelState) End(addr Address) (*ChannelEndState, bool) {
	switch addr {
	case c.OurState.Address:
		return c.OurState, true
	case c.PartnerState.Address:
		return c.PartnerState, true
	default:
		return nil, false
	}
}

// OurDistributable returns the amount we can still lock or pay.
func (c *NettingChannelState) OurDistributable() TokenAmount {
	return Distributable(c.OurState, c.PartnerState)
}

// PartnerDistributable returns the amount the partner can still lock or pay.
func (c *NettingChannelState) PartnerDistributable() TokenAmount {
	return Distributable(c.PartnerState, c.OurState)
}

// Capacity returns our balance in the channel ignoring pending locks:
// deposit + received - sent - withdrawn.
func (c *NettingChannelState) Capacity() TokenAmount {
	credit, _ := c.OurState.ContractBalance.Add(c.PartnerState.TransferredAmount())
	debit, _ := c.OurState.TransferredAmount().Add(c.OurState.TotalWithdraw())
	return credit.SaturatingSub(debit)
}

// Clone returns a deep copy.
func (c *NettingChannelState) Clone() *NettingChannelState {
	if c == nil {
		return nil
	}
	out := *c
	out.OurState = c.OurState.Clone()
	out.PartnerState = c.PartnerState.Clone()
	return &out
}

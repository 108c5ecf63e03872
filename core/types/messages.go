package types

import (
	"github.com/ethereum/go-ethereum/crypto"
)

// LockedTransfer offers a hash time lock to the recipient. Route lists the
// hops from the initiator's first partner up to and including the target.
type LockedTransfer struct {
	MessageID    MessageID    `json:"messageId"`
	PaymentID    PaymentID    `json:"paymentId"`
	TokenAddress Address      `json:"tokenAddress"`
	Recipient    Address      `json:"recipient"`
	Lock         Lock         `json:"lock"`
	Initiator    Address      `json:"initiator"`
	Target       Address      `json:"target"`
	Route        []Address    `json:"route"`
	BalanceProof BalanceProof `json:"balanceProof"`
}

// MessageHash returns the digest of every field not covered by the balance
// proof itself.
func (m *LockedTransfer) MessageHash() Hash {
	route := make([]byte, 0, len(m.Route)*20)
	for _, hop := range m.Route {
		route = append(route, hop[:]...)
	}
	return crypto.Keccak256Hash(packCommand(cmdLockedTransfer,
		Bytes32(uint64(m.MessageID)),
		Bytes32(uint64(m.PaymentID)),
		m.TokenAddress[:],
		m.Recipient[:],
		EncodeLock(m.Lock),
		m.Initiator[:],
		m.Target[:],
		route,
	))
}

// SigningData returns the signed balance proof payload.
func (m *LockedTransfer) SigningData() []byte {
	return PackBalanceProof(&m.BalanceProof, MessageTypeBalanceProof)
}

// NextHop returns the hop following addr on the route.
func (m *LockedTransfer) NextHop(addr Address) (Address, bool) {
	for idx, hop := range m.Route {
		if hop == addr && idx+1 < len(m.Route) {
			return m.Route[idx+1], true
		}
	}
	return Address{}, false
}

// Clone returns a deep copy.
func (m LockedTransfer) Clone() LockedTransfer {
	m.Route = append([]Address(nil), m.Route...)
	m.BalanceProof.Signature = append(Signature(nil), m.BalanceProof.Signature...)
	return m
}

// Unlock releases a lock whose secret is known by moving its amount into the
// transferred amount.
type Unlock struct {
	MessageID    MessageID    `json:"messageId"`
	PaymentID    PaymentID    `json:"paymentId"`
	Secret       Secret       `json:"secret"`
	BalanceProof BalanceProof `json:"balanceProof"`
}

// MessageHash returns the digest of the non balance proof fields.
func (m *Unlock) MessageHash() Hash {
	return crypto.Keccak256Hash(packCommand(cmdUnlock,
		Bytes32(uint64(m.MessageID)),
		Bytes32(uint64(m.PaymentID)),
		m.Secret[:],
	))
}

// SigningData returns the signed balance proof payload.
func (m *Unlock) SigningData() []byte {
	return PackBalanceProof(&m.BalanceProof, MessageTypeBalanceProof)
}

// LockExpired removes an expired lock from the sender's pending set.
type LockExpired struct {
	MessageID    MessageID    `json:"messageId"`
	Recipient    Address      `json:"recipient"`
	SecretHash   SecretHash   `json:"secrethash"`
	BalanceProof BalanceProof `json:"balanceProof"`
}

// MessageHash returns the digest of the non balance proof fields.
func (m *LockExpired) MessageHash() Hash {
	return crypto.Keccak256Hash(packCommand(cmdLockExpired,
		Bytes32(uint64(m.MessageID)),
		m.Recipient[:],
		m.SecretHash[:],
	))
}

// SigningData returns the signed balance proof payload.
func (m *LockExpired) SigningData() []byte {
	return PackBalanceProof(&m.BalanceProof, MessageTypeBalanceProof)
}

// SecretRequest asks the initiator for the secret of a received lock.
type SecretRequest struct {
	MessageID  MessageID   `json:"messageId"`
	PaymentID  PaymentID   `json:"paymentId"`
	SecretHash SecretHash  `json:"secrethash"`
	Amount     TokenAmount `json:"amount"`
	Expiration BlockNumber `json:"expiration"`
	Signature  Signature   `json:"signature,omitempty"`
}

// SigningData returns the signed payload.
func (m *SecretRequest) SigningData() []byte {
	amount := m.Amount.Bytes32()
	return packCommand(cmdSecretRequest,
		Bytes32(uint64(m.MessageID)),
		Bytes32(uint64(m.PaymentID)),
		m.SecretHash[:],
		amount[:],
		Bytes32(uint64(m.Expiration)),
	)
}

// SecretReveal discloses a secret to a neighbour.
type SecretReveal struct {
	MessageID MessageID `json:"messageId"`
	Secret    Secret    `json:"secret"`
	Signature Signature `json:"signature,omitempty"`
}

// SigningData returns the signed payload.
func (m *SecretReveal) SigningData() []byte {
	return packCommand(cmdSecretReveal, Bytes32(uint64(m.MessageID)), m.Secret[:])
}

// WithdrawMessage carries the fields shared by withdraw request,
// confirmation and expiry messages.
type WithdrawMessage struct {
	MessageID           MessageID           `json:"messageId"`
	CanonicalIdentifier CanonicalIdentifier `json:"canonicalIdentifier"`
	Participant         Address             `json:"participant"`
	TotalWithdraw       TokenAmount         `json:"totalWithdraw"`
	Nonce               Nonce               `json:"nonce"`
	Expiration          BlockNumber         `json:"expiration"`
	Signature           Signature           `json:"signature,omitempty"`
}

// SigningData returns the payload checked by the token network contract.
func (m *WithdrawMessage) SigningData() []byte {
	return PackWithdraw(m.CanonicalIdentifier, m.Participant, m.TotalWithdraw, m.Expiration, MessageTypeWithdraw)
}

// ExpiredSigningData returns the payload signed for a withdraw expiry.
func (m *WithdrawMessage) ExpiredSigningData() []byte {
	return PackWithdraw(m.CanonicalIdentifier, m.Participant, m.TotalWithdraw, m.Expiration, MessageTypeWithdrawExpired)
}

// Ack is the body of Processed and Delivered messages.
type Ack struct {
	MessageID MessageID `json:"messageId"`
	Signature Signature `json:"signature,omitempty"`
}

// ProcessedSigningData returns the payload signed for a Processed message.
func (m *Ack) ProcessedSigningData() []byte {
	return packCommand(cmdProcessed, Bytes32(uint64(m.MessageID)))
}

// DeliveredSigningData returns the payload signed for a Delivered message.
func (m *Ack) DeliveredSigningData() []byte {
	return packCommand(cmdDelivered, Bytes32(uint64(m.MessageID)))
}

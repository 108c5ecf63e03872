package types

// Event is an outbound effect requested by the reducer. Events are treated
// as immutable once emitted; the same value may sit in the pending queues of
// several state copies.
type Event interface {
	EventType() string
	isEvent()
}

// ContractSendEvent is handed to the blockchain submission collaborator.
type ContractSendEvent interface {
	Event
	isContractSend()
}

// SendMessageEvent is signed and handed to the transport collaborator.
type SendMessageEvent interface {
	Event
	MessageRecipient() Address
	MessageIdentifier() MessageID
	// SigningData returns the payload the node signs before handoff.
	SigningData() []byte
}

// ViolationEvent reports rejected input. The reducer leaves state untouched
// when emitting one.
type ViolationEvent interface {
	Event
	ViolationCode() string
	ViolationReason() string
}

// --- contract submissions ---

// ContractSendChannelClose closes a channel with the partner's latest proof.
type ContractSendChannelClose struct {
	CanonicalIdentifier CanonicalIdentifier `json:"canonicalIdentifier"`
	BalanceProof        *BalanceProof       `json:"balanceProof,omitempty"`
}

// ContractSendChannelUpdateTransfer submits the partner's latest proof after
// the partner closed.
type ContractSendChannelUpdateTransfer struct {
	CanonicalIdentifier CanonicalIdentifier `json:"canonicalIdentifier"`
	BalanceProof        *BalanceProof       `json:"balanceProof"`
}

// ContractSendChannelSettle settles a closed channel after the settle window.
type ContractSendChannelSettle struct {
	CanonicalIdentifier CanonicalIdentifier `json:"canonicalIdentifier"`
}

// ContractSendChannelWithdraw submits a withdraw confirmed by the partner.
type ContractSendChannelWithdraw struct {
	CanonicalIdentifier CanonicalIdentifier `json:"canonicalIdentifier"`
	TotalWithdraw       TokenAmount         `json:"totalWithdraw"`
	Expiration          BlockNumber         `json:"expiration"`
	PartnerSignature    Signature           `json:"partnerSignature"`
}

// ContractSendSecretReveal registers a secret on chain before a payer lock
// expires.
type ContractSendSecretReveal struct {
	Secret     Secret      `json:"secret"`
	SecretHash SecretHash  `json:"secrethash"`
	Expiration BlockNumber `json:"expiration"`
}

// ContractSendChannelBatchUnlock claims the locks of Sender whose secrets were
// registered before they expired.
type ContractSendChannelBatchUnlock struct {
	CanonicalIdentifier CanonicalIdentifier `json:"canonicalIdentifier"`
	Sender              Address             `json:"sender"`
}

// --- protocol messages ---

type SendLockedTransfer struct {
	Recipient Address        `json:"recipient"`
	Transfer  LockedTransfer `json:"transfer"`
}

type SendSecretRequest struct {
	Recipient Address       `json:"recipient"`
	Request   SecretRequest `json:"request"`
}

type SendSecretReveal struct {
	Recipient Address      `json:"recipient"`
	Reveal    SecretReveal `json:"reveal"`
}

type SendUnlock struct {
	Recipient Address `json:"recipient"`
	Unlock    Unlock  `json:"unlock"`
}

type SendLockExpired struct {
	Recipient Address     `json:"recipient"`
	Expired   LockExpired `json:"expired"`
}

type SendWithdrawRequest struct {
	Recipient Address         `json:"recipient"`
	Request   WithdrawMessage `json:"request"`
}

type SendWithdrawConfirmation struct {
	Recipient    Address         `json:"recipient"`
	Confirmation WithdrawMessage `json:"confirmation"`
}

type SendWithdrawExpired struct {
	Recipient Address         `json:"recipient"`
	Expired   WithdrawMessage `json:"expired"`
}

// SendProcessed acknowledges a received message. It is never queued.
type SendProcessed struct {
	Recipient Address `json:"recipient"`
	Ack       Ack     `json:"ack"`
}

// --- informational ---

type EventPaymentSentSuccess struct {
	TokenNetworkAddress Address     `json:"tokenNetworkAddress"`
	PaymentID           PaymentID   `json:"paymentId"`
	Amount              TokenAmount `json:"amount"`
	Target              Address     `json:"target"`
	SecretHash          SecretHash  `json:"secrethash"`
}

type EventPaymentSentFailed struct {
	TokenNetworkAddress Address    `json:"tokenNetworkAddress"`
	PaymentID           PaymentID  `json:"paymentId"`
	Target              Address    `json:"target"`
	SecretHash          SecretHash `json:"secrethash"`
	Reason              string     `json:"reason"`
}

type EventPaymentReceivedSuccess struct {
	TokenNetworkAddress Address     `json:"tokenNetworkAddress"`
	PaymentID           PaymentID   `json:"paymentId"`
	Amount              TokenAmount `json:"amount"`
	Initiator           Address     `json:"initiator"`
	SecretHash          SecretHash  `json:"secrethash"`
}

// EventUnlockSuccess reports that we unlocked our lock towards the payee.
type EventUnlockSuccess struct {
	PaymentID  PaymentID  `json:"paymentId"`
	SecretHash SecretHash `json:"secrethash"`
}

// EventUnlockFailed reports that our lock towards the payee expired.
type EventUnlockFailed struct {
	PaymentID  PaymentID  `json:"paymentId"`
	SecretHash SecretHash `json:"secrethash"`
	Reason     string     `json:"reason"`
}

// EventUnlockClaimSuccess reports that the payer unlocked its lock to us.
type EventUnlockClaimSuccess struct {
	PaymentID  PaymentID  `json:"paymentId"`
	SecretHash SecretHash `json:"secrethash"`
}

// EventUnlockClaimFailed reports that the payer's lock to us expired.
type EventUnlockClaimFailed struct {
	PaymentID  PaymentID  `json:"paymentId"`
	SecretHash SecretHash `json:"secrethash"`
	Reason     string     `json:"reason"`
}

type EventRouteFailed struct {
	SecretHash SecretHash `json:"secrethash"`
	Route      []Address  `json:"route"`
	Reason     string     `json:"reason"`
}

// Violation is embedded by every rejected-input event.
type Violation struct {
	Sender Address `json:"sender,omitempty"`
	Code   string  `json:"code"`
	Reason string  `json:"reason"`
}

func (v *Violation) ViolationCode() string   { return v.Code }
func (v *Violation) ViolationReason() string { return v.Reason }

type ErrorInvalidReceivedLockedTransfer struct {
	Violation
	PaymentID  PaymentID  `json:"paymentId"`
	SecretHash SecretHash `json:"secrethash"`
}

type ErrorInvalidReceivedUnlock struct {
	Violation
	SecretHash SecretHash `json:"secrethash"`
}

type ErrorInvalidReceivedLockExpired struct {
	Violation
	SecretHash SecretHash `json:"secrethash"`
}

type ErrorInvalidReceivedWithdrawRequest struct {
	Violation
	TotalWithdraw TokenAmount `json:"totalWithdraw"`
}

type ErrorInvalidReceivedWithdrawConfirmation struct {
	Violation
	TotalWithdraw TokenAmount `json:"totalWithdraw"`
}

type ErrorInvalidSecretRequest struct {
	Violation
	PaymentID  PaymentID  `json:"paymentId"`
	SecretHash SecretHash `json:"secrethash"`
}

type ErrorInvalidActionWithdraw struct {
	Violation
	TotalWithdraw TokenAmount `json:"totalWithdraw"`
}

type ErrorInvalidActionInitInitiator struct {
	Violation
	PaymentID PaymentID `json:"paymentId"`
}

type ErrorInvalidActionClose struct {
	Violation
}

// ErrorUnexpectedReveal reports a secret that arrived too late or from the
// wrong party.
type ErrorUnexpectedReveal struct {
	Violation
	SecretHash SecretHash `json:"secrethash"`
}

// ErrorInvalidReceivedAck reports an unverifiable Processed or Delivered.
type ErrorInvalidReceivedAck struct {
	Violation
	MessageID MessageID `json:"messageId"`
}

func (*ContractSendChannelClose) EventType() string          { return "ContractSendChannelClose" }
func (*ContractSendChannelUpdateTransfer) EventType() string { return "ContractSendChannelUpdateTransfer" }
func (*ContractSendChannelSettle) EventType() string         { return "ContractSendChannelSettle" }
func (*ContractSendChannelWithdraw) EventType() string       { return "ContractSendChannelWithdraw" }
func (*ContractSendSecretReveal) EventType() string          { return "ContractSendSecretReveal" }
func (*ContractSendChannelBatchUnlock) EventType() string    { return "ContractSendChannelBatchUnlock" }
func (*SendLockedTransfer) EventType() string                { return "SendLockedTransfer" }
func (*SendSecretRequest) EventType() string                 { return "SendSecretRequest" }
func (*SendSecretReveal) EventType() string                  { return "SendSecretReveal" }
func (*SendUnlock) EventType() string                        { return "SendUnlock" }
func (*SendLockExpired) EventType() string                   { return "SendLockExpired" }
func (*SendWithdrawRequest) EventType() string               { return "SendWithdrawRequest" }
func (*SendWithdrawConfirmation) EventType() string          { return "SendWithdrawConfirmation" }
func (*SendWithdrawExpired) EventType() string               { return "SendWithdrawExpired" }
func (*SendProcessed) EventType() string                     { return "SendProcessed" }
func (*EventPaymentSentSuccess) EventType() string           { return "EventPaymentSentSuccess" }
func (*EventPaymentSentFailed) EventType() string            { return "EventPaymentSentFailed" }
func (*EventPaymentReceivedSuccess) EventType() string       { return "EventPaymentReceivedSuccess" }
func (*EventUnlockSuccess) EventType() string                { return "EventUnlockSuccess" }
func (*EventUnlockFailed) EventType() string                 { return "EventUnlockFailed" }
func (*EventUnlockClaimSuccess) EventType() string           { return "EventUnlockClaimSuccess" }
func (*EventUnlockClaimFailed) EventType() string            { return "EventUnlockClaimFailed" }
func (*EventRouteFailed) EventType() string                  { return "EventRouteFailed" }
func (*ErrorInvalidReceivedLockedTransfer) EventType() string {
	return "ErrorInvalidReceivedLockedTransfer"
}
func (*ErrorInvalidReceivedUnlock) EventType() string      { return "ErrorInvalidReceivedUnlock" }
func (*ErrorInvalidReceivedLockExpired) EventType() string { return "ErrorInvalidReceivedLockExpired" }
func (*ErrorInvalidReceivedWithdrawRequest) EventType() string {
	return "ErrorInvalidReceivedWithdrawRequest"
}
func (*ErrorInvalidReceivedWithdrawConfirmation) EventType() string {
	return "ErrorInvalidReceivedWithdrawConfirmation"
}
func (*ErrorInvalidSecretRequest) EventType() string       { return "ErrorInvalidSecretRequest" }
func (*ErrorInvalidActionWithdraw) EventType() string      { return "ErrorInvalidActionWithdraw" }
func (*ErrorInvalidActionInitInitiator) EventType() string { return "ErrorInvalidActionInitInitiator" }
func (*ErrorInvalidActionClose) EventType() string         { return "ErrorInvalidActionClose" }
func (*ErrorUnexpectedReveal) EventType() string           { return "ErrorUnexpectedReveal" }
func (*ErrorInvalidReceivedAck) EventType() string         { return "ErrorInvalidReceivedAck" }

func (*ContractSendChannelClose) isEvent()                 {}
func (*ContractSendChannelUpdateTransfer) isEvent()        {}
func (*ContractSendChannelSettle) isEvent()                {}
func (*ContractSendChannelWithdraw) isEvent()              {}
func (*ContractSendSecretReveal) isEvent()                 {}
func (*ContractSendChannelBatchUnlock) isEvent()           {}
func (*SendLockedTransfer) isEvent()                       {}
func (*SendSecretRequest) isEvent()                        {}
func (*SendSecretReveal) isEvent()                         {}
func (*SendUnlock) isEvent()                               {}
func (*SendLockExpired) isEvent()                          {}
func (*SendWithdrawRequest) isEvent()                      {}
func (*SendWithdrawConfirmation) isEvent()                 {}
func (*SendWithdrawExpired) isEvent()                      {}
func (*SendProcessed) isEvent()                            {}
func (*EventPaymentSentSuccess) isEvent()                  {}
func (*EventPaymentSentFailed) isEvent()                   {}
func (*EventPaymentReceivedSuccess) isEvent()              {}
func (*EventUnlockSuccess) isEvent()                       {}
func (*EventUnlockFailed) isEvent()                        {}
func (*EventUnlockClaimSuccess) isEvent()                  {}
func (*EventUnlockClaimFailed) isEvent()                   {}
func (*EventRouteFailed) isEvent()                         {}
func (*ErrorInvalidReceivedLockedTransfer) isEvent()       {}
func (*ErrorInvalidReceivedUnlock) isEvent()               {}
func (*ErrorInvalidReceivedLockExpired) isEvent()          {}
func (*ErrorInvalidReceivedWithdrawRequest) isEvent()      {}
func (*ErrorInvalidReceivedWithdrawConfirmation) isEvent() {}
func (*ErrorInvalidSecretRequest) isEvent()                {}
func (*ErrorInvalidActionWithdraw) isEvent()               {}
func (*ErrorInvalidActionInitInitiator) isEvent()          {}
func (*ErrorInvalidActionClose) isEvent()                  {}
func (*ErrorUnexpectedReveal) isEvent()                    {}
func (*ErrorInvalidReceivedAck) isEvent()                  {}

func (*ContractSendChannelClose) isContractSend()          {}
func (*ContractSendChannelUpdateTransfer) isContractSend() {}
func (*ContractSendChannelSettle) isContractSend()         {}
func (*ContractSendChannelWithdraw) isContractSend()       {}
func (*ContractSendSecretReveal) isContractSend()          {}
func (*ContractSendChannelBatchUnlock) isContractSend()    {}

func (e *SendLockedTransfer) MessageRecipient() Address       { return e.Recipient }
func (e *SendSecretRequest) MessageRecipient() Address        { return e.Recipient }
func (e *SendSecretReveal) MessageRecipient() Address         { return e.Recipient }
func (e *SendUnlock) MessageRecipient() Address               { return e.Recipient }
func (e *SendLockExpired) MessageRecipient() Address          { return e.Recipient }
func (e *SendWithdrawRequest) MessageRecipient() Address      { return e.Recipient }
func (e *SendWithdrawConfirmation) MessageRecipient() Address { return e.Recipient }
func (e *SendWithdrawExpired) MessageRecipient() Address      { return e.Recipient }
func (e *SendProcessed) MessageRecipient() Address            { return e.Recipient }

func (e *SendLockedTransfer) MessageIdentifier() MessageID       { return e.Transfer.MessageID }
func (e *SendSecretRequest) MessageIdentifier() MessageID        { return e.Request.MessageID }
func (e *SendSecretReveal) MessageIdentifier() MessageID         { return e.Reveal.MessageID }
func (e *SendUnlock) MessageIdentifier() MessageID               { return e.Unlock.MessageID }
func (e *SendLockExpired) MessageIdentifier() MessageID          { return e.Expired.MessageID }
func (e *SendWithdrawRequest) MessageIdentifier() MessageID      { return e.Request.MessageID }
func (e *SendWithdrawConfirmation) MessageIdentifier() MessageID { return e.Confirmation.MessageID }
func (e *SendWithdrawExpired) MessageIdentifier() MessageID      { return e.Expired.MessageID }
func (e *SendProcessed) MessageIdentifier() MessageID            { return e.Ack.MessageID }

func (e *SendLockedTransfer) SigningData() []byte       { return e.Transfer.SigningData() }
func (e *SendSecretRequest) SigningData() []byte        { return e.Request.SigningData() }
func (e *SendSecretReveal) SigningData() []byte         { return e.Reveal.SigningData() }
func (e *SendUnlock) SigningData() []byte               { return e.Unlock.SigningData() }
func (e *SendLockExpired) SigningData() []byte          { return e.Expired.SigningData() }
func (e *SendWithdrawRequest) SigningData() []byte      { return e.Request.SigningData() }
func (e *SendWithdrawConfirmation) SigningData() []byte { return e.Confirmation.SigningData() }
func (e *SendWithdrawExpired) SigningData() []byte      { return e.Expired.ExpiredSigningData() }
func (e *SendProcessed) SigningData() []byte            { return e.Ack.ProcessedSigningData() }

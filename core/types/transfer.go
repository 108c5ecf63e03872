package types

// TransferRole is the part this node plays in a mediated transfer.
type TransferRole string

const (
	RoleInitiator TransferRole = "initiator"
	RoleMediator  TransferRole = "mediator"
	RoleTarget    TransferRole = "target"
)

// TransferStatus is the sub-state of a transfer task.
//
// Initiators move Init → RouteConfirmed → LockedTransferSent → SecretRevealed
// → Completed. Mediators follow the same path once the payer lock is
// received. Targets move from Init straight to SecretRevealed. Any role ends
// in Expired when its lock passes expiration unrevealed, or in Failed on a
// validation failure.
type TransferStatus string

const (
	TransferInit               TransferStatus = "init"
	TransferRouteConfirmed     TransferStatus = "route_confirmed"
	TransferLockedTransferSent TransferStatus = "locked_transfer_sent"
	TransferSecretRevealed     TransferStatus = "secret_revealed"
	TransferCompleted          TransferStatus = "completed"
	TransferExpired            TransferStatus = "expired"
	TransferFailed             TransferStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s TransferStatus) Terminal() bool {
	switch s {
	case TransferCompleted, TransferExpired, TransferFailed:
		return true
	default:
		return false
	}
}

// TransferDescription is the user's payment order.
type TransferDescription struct {
	TokenNetworkAddress Address     `json:"tokenNetworkAddress"`
	PaymentID           PaymentID   `json:"paymentId"`
	Amount              TokenAmount `json:"amount"`
	Initiator           Address     `json:"initiator"`
	Target              Address     `json:"target"`
	// Secret may be left empty, in which case one is drawn from the
	// chain state's generator.
	Secret      Secret       `json:"secret"`
	SecretHash  SecretHash   `json:"secrethash"`
	LockTimeout BlockTimeout `json:"lockTimeout,omitempty"`
}

// TransferTask tracks one payment through this node.
type TransferTask struct {
	Role                TransferRole   `json:"role"`
	Status              TransferStatus `json:"status"`
	TokenNetworkAddress Address        `json:"tokenNetworkAddress"`
	PaymentID           PaymentID      `json:"paymentId"`
	SecretHash          SecretHash     `json:"secrethash"`
	Secret              Secret         `json:"secret"`
	Amount              TokenAmount    `json:"amount"`
	Initiator           Address        `json:"initiator"`
	Target              Address        `json:"target"`
	Route               []Address      `json:"route"`
	Expiration          BlockNumber    `json:"expiration"`

	// PayerChannel is the channel the lock was received on. Unset for
	// initiators.
	PayerChannel *CanonicalIdentifier `json:"payerChannel,omitempty"`
	Payer        Address              `json:"payer,omitempty"`
	// PayeeChannel is the channel our own lock was sent on. Unset for
	// targets.
	PayeeChannel *CanonicalIdentifier `json:"payeeChannel,omitempty"`
	Payee        Address              `json:"payee,omitempty"`

	// Transfer is the locked transfer received (target, mediator) or
	// sent (initiator).
	Transfer *LockedTransfer `json:"transfer,omitempty"`

	SecretRequested   bool   `json:"secretRequested,omitempty"`
	OnchainRevealSent bool   `json:"onchainRevealSent,omitempty"`
	PayeeUnlocked     bool   `json:"payeeUnlocked,omitempty"`
	PayerUnlocked     bool   `json:"payerUnlocked,omitempty"`
	FailureReason     string `json:"failureReason,omitempty"`
}

// HasSecret reports whether the preimage is known.
func (t *TransferTask) HasSecret() bool { return !t.Secret.IsZero() }

// Clone returns a deep copy.
func (t *TransferTask) Clone() *TransferTask {
	if t == nil {
		return nil
	}
	out := *t
	out.Route = append([]Address(nil), t.Route...)
	if t.PayerChannel != nil {
		id := *t.PayerChannel
		out.PayerChannel = &id
	}
	if t.PayeeChannel != nil {
		id := *t.PayeeChannel
		out.PayeeChannel = &id
	}
	if t.Transfer != nil {
		transfer := t.Transfer.Clone()
		out.Transfer = &transfer
	}
	return &out
}

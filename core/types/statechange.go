package types

// StateChange is an inbound fact fed to the reducer. The set of variants is
// closed: every implementation lives in this file and is registered in the
// codec table.
type StateChange interface {
	StateChangeType() string
	isStateChange()
}

// PeerStateChange is a state change carrying a message from a peer.
type PeerStateChange interface {
	StateChange
	MessageSender() Address
}

// ActionInitChain is the first record of every log.
type ActionInitChain struct {
	ChainID     ChainID     `json:"chainId"`
	BlockNumber BlockNumber `json:"blockNumber"`
	BlockHash   BlockHash   `json:"blockHash"`
	OurAddress  Address     `json:"ourAddress"`
	Seed        Hash        `json:"seed"`
}

// Block announces a new chain head.
type Block struct {
	Number BlockNumber `json:"number"`
	Hash   BlockHash   `json:"hash"`
}

// ContractReceiveTokenNetworkCreated registers a token network.
type ContractReceiveTokenNetworkCreated struct {
	TokenNetworkAddress Address     `json:"tokenNetworkAddress"`
	TokenAddress        Address     `json:"tokenAddress"`
	BlockNumber         BlockNumber `json:"blockNumber"`
}

// ContractReceiveChannelOpened reports a channel in which we participate.
type ContractReceiveChannelOpened struct {
	CanonicalIdentifier CanonicalIdentifier `json:"canonicalIdentifier"`
	Participant1        Address             `json:"participant1"`
	Participant2        Address             `json:"participant2"`
	SettleTimeout       BlockTimeout        `json:"settleTimeout"`
	RevealTimeout       BlockTimeout        `json:"revealTimeout"`
	BlockNumber         BlockNumber         `json:"blockNumber"`
}

// ContractReceiveChannelDeposit reports a participant's new total deposit.
type ContractReceiveChannelDeposit struct {
	CanonicalIdentifier CanonicalIdentifier `json:"canonicalIdentifier"`
	Participant         Address             `json:"participant"`
	TotalDeposit        TokenAmount         `json:"totalDeposit"`
	BlockNumber         BlockNumber         `json:"blockNumber"`
}

// ContractReceiveChannelWithdraw reports a participant's new total withdraw.
type ContractReceiveChannelWithdraw struct {
	CanonicalIdentifier CanonicalIdentifier `json:"canonicalIdentifier"`
	Participant         Address             `json:"participant"`
	TotalWithdraw       TokenAmount         `json:"totalWithdraw"`
	BlockNumber         BlockNumber         `json:"blockNumber"`
}

// ContractReceiveChannelClosed reports that either side closed the channel.
type ContractReceiveChannelClosed struct {
	CanonicalIdentifier CanonicalIdentifier `json:"canonicalIdentifier"`
	TransactionFrom     Address             `json:"transactionFrom"`
	BlockNumber         BlockNumber         `json:"blockNumber"`
}

// ContractReceiveUpdateTransfer reports that the non-closing side's balance
// proof was accepted on chain.
type ContractReceiveUpdateTransfer struct {
	CanonicalIdentifier CanonicalIdentifier `json:"canonicalIdentifier"`
	Nonce               Nonce               `json:"nonce"`
	BlockNumber         BlockNumber         `json:"blockNumber"`
}

// ContractReceiveChannelSettled reports the settlement with the locksroots
// left on chain for each side.
type ContractReceiveChannelSettled struct {
	CanonicalIdentifier     CanonicalIdentifier `json:"canonicalIdentifier"`
	OurOnchainLocksroot     Locksroot           `json:"ourOnchainLocksroot"`
	PartnerOnchainLocksroot Locksroot           `json:"partnerOnchainLocksroot"`
	BlockNumber             BlockNumber         `json:"blockNumber"`
}

// ContractReceiveChannelBatchUnlock reports that the locks of Sender were
// unlocked on chain.
type ContractReceiveChannelBatchUnlock struct {
	CanonicalIdentifier CanonicalIdentifier `json:"canonicalIdentifier"`
	Receiver            Address             `json:"receiver"`
	Sender              Address             `json:"sender"`
	Locksroot           Locksroot           `json:"locksroot"`
	UnlockedAmount      TokenAmount         `json:"unlockedAmount"`
	ReturnedTokens      TokenAmount         `json:"returnedTokens"`
	BlockNumber         BlockNumber         `json:"blockNumber"`
}

// ContractReceiveSecretReveal reports a secret registered on chain.
type ContractReceiveSecretReveal struct {
	SecretHash  SecretHash  `json:"secrethash"`
	Secret      Secret      `json:"secret"`
	BlockNumber BlockNumber `json:"blockNumber"`
}

// ActionInitInitiator starts a payment along Route.
type ActionInitInitiator struct {
	Transfer TransferDescription `json:"transfer"`
	Route    []Address           `json:"route"`
}

// ActionChannelClose asks to close a channel unilaterally.
type ActionChannelClose struct {
	CanonicalIdentifier CanonicalIdentifier `json:"canonicalIdentifier"`
}

// ActionChannelWithdraw asks to raise our total withdraw.
type ActionChannelWithdraw struct {
	CanonicalIdentifier CanonicalIdentifier `json:"canonicalIdentifier"`
	TotalWithdraw       TokenAmount         `json:"totalWithdraw"`
}

// ReceiveLockedTransfer carries a locked transfer from a partner.
type ReceiveLockedTransfer struct {
	Sender   Address        `json:"sender"`
	Transfer LockedTransfer `json:"transfer"`
}

// ReceiveSecretRequest carries a target's request for the secret.
type ReceiveSecretRequest struct {
	Sender  Address       `json:"sender"`
	Request SecretRequest `json:"request"`
}

// ReceiveSecretReveal carries a secret disclosed by a neighbour.
type ReceiveSecretReveal struct {
	Sender Address      `json:"sender"`
	Reveal SecretReveal `json:"reveal"`
}

// ReceiveUnlock carries a partner's unlock of one of its locks.
type ReceiveUnlock struct {
	Sender Address `json:"sender"`
	Unlock Unlock  `json:"unlock"`
}

// ReceiveLockExpired carries a partner's removal of an expired lock.
type ReceiveLockExpired struct {
	Sender  Address     `json:"sender"`
	Expired LockExpired `json:"expired"`
}

// ReceiveWithdrawRequest carries a partner's request to withdraw.
type ReceiveWithdrawRequest struct {
	Sender  Address         `json:"sender"`
	Request WithdrawMessage `json:"request"`
}

// ReceiveWithdrawConfirmation carries the partner's signature over our
// withdraw request.
type ReceiveWithdrawConfirmation struct {
	Sender       Address         `json:"sender"`
	Confirmation WithdrawMessage `json:"confirmation"`
}

// ReceiveProcessed acknowledges that a peer processed one of our messages.
type ReceiveProcessed struct {
	Sender Address `json:"sender"`
	Ack    Ack     `json:"ack"`
}

// ReceiveDelivered acknowledges that a peer received one of our messages.
type ReceiveDelivered struct {
	Sender Address `json:"sender"`
	Ack    Ack     `json:"ack"`
}

func (*ActionInitChain) StateChangeType() string                   { return "ActionInitChain" }
func (*Block) StateChangeType() string                             { return "Block" }
func (*ContractReceiveTokenNetworkCreated) StateChangeType() string { return "ContractReceiveTokenNetworkCreated" }
func (*ContractReceiveChannelOpened) StateChangeType() string      { return "ContractReceiveChannelOpened" }
func (*ContractReceiveChannelDeposit) StateChangeType() string     { return "ContractReceiveChannelDeposit" }
func (*ContractReceiveChannelWithdraw) StateChangeType() string    { return "ContractReceiveChannelWithdraw" }
func (*ContractReceiveChannelClosed) StateChangeType() string      { return "ContractReceiveChannelClosed" }
func (*ContractReceiveUpdateTransfer) StateChangeType() string     { return "ContractReceiveUpdateTransfer" }
func (*ContractReceiveChannelSettled) StateChangeType() string     { return "ContractReceiveChannelSettled" }
func (*ContractReceiveChannelBatchUnlock) StateChangeType() string { return "ContractReceiveChannelBatchUnlock" }
func (*ContractReceiveSecretReveal) StateChangeType() string       { return "ContractReceiveSecretReveal" }
func (*ActionInitInitiator) StateChangeType() string               { return "ActionInitInitiator" }
func (*ActionChannelClose) StateChangeType() string                { return "ActionChannelClose" }
func (*ActionChannelWithdraw) StateChangeType() string             { return "ActionChannelWithdraw" }
func (*ReceiveLockedTransfer) StateChangeType() string             { return "ReceiveLockedTransfer" }
func (*ReceiveSecretRequest) StateChangeType() string              { return "ReceiveSecretRequest" }
func (*ReceiveSecretReveal) StateChangeType() string               { return "ReceiveSecretReveal" }
func (*ReceiveUnlock) StateChangeType() string                     { return "ReceiveUnlock" }
func (*ReceiveLockExpired) StateChangeType() string                { return "ReceiveLockExpired" }
func (*ReceiveWithdrawRequest) StateChangeType() string            { return "ReceiveWithdrawRequest" }
func (*ReceiveWithdrawConfirmation) StateChangeType() string       { return "ReceiveWithdrawConfirmation" }
func (*ReceiveProcessed) StateChangeType() string                  { return "ReceiveProcessed" }
func (*ReceiveDelivered) StateChangeType() string                  { return "ReceiveDelivered" }

func (*ActionInitChain) isStateChange()                   {}
func (*Block) isStateChange()                             {}
func (*ContractReceiveTokenNetworkCreated) isStateChange() {}
func (*ContractReceiveChannelOpened) isStateChange()      {}
func (*ContractReceiveChannelDeposit) isStateChange()     {}
func (*ContractReceiveChannelWithdraw) isStateChange()    {}
func (*ContractReceiveChannelClosed) isStateChange()      {}
func (*ContractReceiveUpdateTransfer) isStateChange()     {}
func (*ContractReceiveChannelSettled) isStateChange()     {}
func (*ContractReceiveChannelBatchUnlock) isStateChange() {}
func (*ContractReceiveSecretReveal) isStateChange()       {}
func (*ActionInitInitiator) isStateChange()               {}
func (*ActionChannelClose) isStateChange()                {}
func (*ActionChannelWithdraw) isStateChange()             {}
func (*ReceiveLockedTransfer) isStateChange()             {}
func (*ReceiveSecretRequest) isStateChange()              {}
func (*ReceiveSecretReveal) isStateChange()               {}
func (*ReceiveUnlock) isStateChange()                     {}
func (*ReceiveLockExpired) isStateChange()                {}
func (*ReceiveWithdrawRequest) isStateChange()            {}
func (*ReceiveWithdrawConfirmation) isStateChange()       {}
func (*ReceiveProcessed) isStateChange()                  {}
func (*ReceiveDelivered) isStateChange()                  {}

func (s *ReceiveLockedTransfer) MessageSender() Address       { return s.Sender }
func (s *ReceiveSecretRequest) MessageSender() Address        { return s.Sender }
func (s *ReceiveSecretReveal) MessageSender() Address         { return s.Sender }
func (s *ReceiveUnlock) MessageSender() Address               { return s.Sender }
func (s *ReceiveLockExpired) MessageSender() Address          { return s.Sender }
func (s *ReceiveWithdrawRequest) MessageSender() Address      { return s.Sender }
func (s *ReceiveWithdrawConfirmation) MessageSender() Address { return s.Sender }
func (s *ReceiveProcessed) MessageSender() Address            { return s.Sender }
func (s *ReceiveDelivered) MessageSender() Address            { return s.Sender }

package types

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/crypto"
)

// Random is a deterministic generator for message identifiers, payment
// identifiers and secrets. It is part of the state so replay reproduces
// every drawn value.
type Random struct {
	Seed    Hash   `json:"seed"`
	Counter uint64 `json:"counter"`
}

func (r *Random) next() Hash {
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], r.Counter)
	r.Counter++
	return crypto.Keccak256Hash(r.Seed[:], counter[:])
}

// NextUint64 draws a non-zero 64 bit value.
func (r *Random) NextUint64() uint64 {
	for {
		h := r.next()
		if v := binary.BigEndian.Uint64(h[:8]); v != 0 {
			return v
		}
	}
}

// NextMessageID draws a message identifier.
func (r *Random) NextMessageID() MessageID { return MessageID(r.NextUint64()) }

// NextSecret draws a secret.
func (r *Random) NextSecret() Secret { return Secret(r.next()) }

// TokenNetworkState holds every channel of one token network.
type TokenNetworkState struct {
	Address      Address                            `json:"address"`
	TokenAddress Address                            `json:"tokenAddress"`
	Channels     map[ChannelID]*NettingChannelState `json:"channels"`
}

// NewTokenNetworkState returns an empty token network.
func NewTokenNetworkState(addr, token Address) *TokenNetworkState {
	return &TokenNetworkState{
		Address:      addr,
		TokenAddress: token,
		Channels:     make(map[ChannelID]*NettingChannelState),
	}
}

// SortedChannelIDs returns the channel identifiers in ascending order.
func (tn *TokenNetworkState) SortedChannelIDs() []ChannelID {
	ids := make([]ChannelID, 0, len(tn.Channels))
	for id := range tn.Channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OpenChannelWith returns the lowest-id open channel with partner.
func (tn *TokenNetworkState) OpenChannelWith(partner Address) (*NettingChannelState, bool) {
	for _, id := range tn.SortedChannelIDs() {
		channel := tn.Channels[id]
		if channel.PartnerAddress() == partner && channel.Status == ChannelOpened {
			return channel, true
		}
	}
	return nil, false
}

// Clone returns a deep copy.
func (tn *TokenNetworkState) Clone() *TokenNetworkState {
	if tn == nil {
		return nil
	}
	out := &TokenNetworkState{
		Address:      tn.Address,
		TokenAddress: tn.TokenAddress,
		Channels:     make(map[ChannelID]*NettingChannelState, len(tn.Channels)),
	}
	for id, channel := range tn.Channels {
		out.Channels[id] = channel.Clone()
	}
	return out
}

// ChainState is the root of the node's view. Only the reducer mutates it.
type ChainState struct {
	ChainID        ChainID                        `json:"chainId"`
	BlockNumber    BlockNumber                    `json:"blockNumber"`
	BlockHash      BlockHash                      `json:"blockHash"`
	OurAddress     Address                        `json:"ourAddress"`
	TokenNetworks  map[Address]*TokenNetworkState `json:"tokenNetworks"`
	PaymentMapping map[SecretHash]*TransferTask   `json:"paymentMapping"`
	// QueuedMessages holds sent messages awaiting Processed or Delivered.
	QueuedMessages EventList `json:"queuedMessages"`
	// PendingTransactions holds contract submissions awaiting confirmation.
	PendingTransactions EventList `json:"pendingTransactions"`
	PRNG                Random    `json:"prng"`
	// Sequence is the log sequence of the last applied state change.
	Sequence uint64 `json:"sequence"`
}

// NewChainState returns the genesis state described by init.
func NewChainState(init *ActionInitChain) *ChainState {
	return &ChainState{
		ChainID:        init.ChainID,
		BlockNumber:    init.BlockNumber,
		BlockHash:      init.BlockHash,
		OurAddress:     init.OurAddress,
		TokenNetworks:  make(map[Address]*TokenNetworkState),
		PaymentMapping: make(map[SecretHash]*TransferTask),
		PRNG:           Random{Seed: init.Seed},
	}
}

// SortedTokenNetworks returns the token network addresses in ascending order.
func (s *ChainState) SortedTokenNetworks() []Address {
	addrs := make([]Address, 0, len(s.TokenNetworks))
	for addr := range s.TokenNetworks {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
	return addrs
}

// SortedSecretHashes returns the payment mapping keys in ascending order.
func (s *ChainState) SortedSecretHashes() []SecretHash {
	keys := make([]SecretHash, 0, len(s.PaymentMapping))
	for k := range s.PaymentMapping {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Cmp(keys[j]) < 0 })
	return keys
}

// Channel looks a channel up by canonical identifier.
func (s *ChainState) Channel(id CanonicalIdentifier) (*NettingChannelState, bool) {
	tn, ok := s.TokenNetworks[id.TokenNetworkAddress]
	if !ok {
		return nil, false
	}
	channel, ok := tn.Channels[id.ChannelID]
	return channel, ok
}

// Clone returns a deep copy. Events in the pending queues are shared.
func (s *ChainState) Clone() *ChainState {
	if s == nil {
		return nil
	}
	out := *s
	out.TokenNetworks = make(map[Address]*TokenNetworkState, len(s.TokenNetworks))
	for addr, tn := range s.TokenNetworks {
		out.TokenNetworks[addr] = tn.Clone()
	}
	out.PaymentMapping = make(map[SecretHash]*TransferTask, len(s.PaymentMapping))
	for hash, task := range s.PaymentMapping {
		out.PaymentMapping[hash] = task.Clone()
	}
	out.QueuedMessages = append(EventList(nil), s.QueuedMessages...)
	out.PendingTransactions = append(EventList(nil), s.PendingTransactions...)
	return &out
}

// EncodeChainState serialises the state. Map keys are emitted in sorted
// order, so equal states encode to equal bytes.
func EncodeChainState(s *ChainState) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("types: nil chain state")
	}
	return json.Marshal(s)
}

// DecodeChainState parses a state produced by EncodeChainState.
func DecodeChainState(raw []byte) (*ChainState, error) {
	var s ChainState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("types: decode chain state: %w", err)
	}
	s.normalize()
	return &s, nil
}

// normalize replaces nil collections left by decoding with empty ones.
func (s *ChainState) normalize() {
	if s.TokenNetworks == nil {
		s.TokenNetworks = make(map[Address]*TokenNetworkState)
	}
	if s.PaymentMapping == nil {
		s.PaymentMapping = make(map[SecretHash]*TransferTask)
	}
	for _, tn := range s.TokenNetworks {
		if tn.Channels == nil {
			tn.Channels = make(map[ChannelID]*NettingChannelState)
		}
		for _, channel := range tn.Channels {
			for _, end := range []*ChannelEndState{channel.OurState, channel.PartnerState} {
				if end.PendingLocks == nil {
					end.PendingLocks = make(map[SecretHash]Lock)
				}
				if end.RevealedSecrets == nil {
					end.RevealedSecrets = make(map[SecretHash]Secret)
				}
				if end.RegisteredSecrets == nil {
					end.RegisteredSecrets = make(map[SecretHash]Secret)
				}
			}
		}
	}
}

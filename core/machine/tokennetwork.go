package machine

import (
	"channeld/core/types"
)

// contractChannel resolves a channel named by a confirmed contract event.
// Chain sync only forwards events for channels it has reported as opened,
// so a miss is an invariant violation.
func (t *transition) contractChannel(id types.CanonicalIdentifier) (*types.NettingChannelState, error) {
	if id.ChainID != t.state.ChainID {
		return nil, invariant(t.tag, "chain id %d, node runs on %d", id.ChainID, t.state.ChainID)
	}
	tn, ok := t.state.TokenNetworks[id.TokenNetworkAddress]
	if !ok {
		return nil, invariant(t.tag, "unknown token network %s", id.TokenNetworkAddress.Hex())
	}
	channel, ok := tn.Channels[id.ChannelID]
	if !ok {
		return nil, invariant(t.tag, "unknown channel %s", id)
	}
	return channel, nil
}

// lookupChannel resolves a channel named by a peer message or a user action.
// Those inputs are untrusted, so a miss is reported to the caller.
func (t *transition) lookupChannel(id types.CanonicalIdentifier) (*types.NettingChannelState, bool) {
	if id.ChainID != t.state.ChainID {
		return nil, false
	}
	return t.state.Channel(id)
}

func (t *transition) handleTokenNetworkCreated(sc *types.ContractReceiveTokenNetworkCreated) error {
	if _, exists := t.state.TokenNetworks[sc.TokenNetworkAddress]; exists {
		return nil
	}
	t.state.TokenNetworks[sc.TokenNetworkAddress] = types.NewTokenNetworkState(sc.TokenNetworkAddress, sc.TokenAddress)
	return nil
}

func (t *transition) handleChannelOpened(sc *types.ContractReceiveChannelOpened) error {
	id := sc.CanonicalIdentifier
	if id.ChainID != t.state.ChainID {
		return invariant(t.tag, "chain id %d, node runs on %d", id.ChainID, t.state.ChainID)
	}
	tn, ok := t.state.TokenNetworks[id.TokenNetworkAddress]
	if !ok {
		return invariant(t.tag, "unknown token network %s", id.TokenNetworkAddress.Hex())
	}
	if _, exists := tn.Channels[id.ChannelID]; exists {
		return nil
	}
	var partner types.Address
	switch t.state.OurAddress {
	case sc.Participant1:
		partner = sc.Participant2
	case sc.Participant2:
		partner = sc.Participant1
	default:
		return invariant(t.tag, "channel %s does not involve %s", id, t.state.OurAddress.Hex())
	}
	if partner == t.state.OurAddress {
		return invariant(t.tag, "channel %s opened with ourselves", id)
	}
	reveal := sc.RevealTimeout
	if reveal == 0 {
		reveal = types.DefaultRevealTimeout
	}
	settle := sc.SettleTimeout
	if settle == 0 {
		settle = types.DefaultSettleTimeout
	}
	tn.Channels[id.ChannelID] = &types.NettingChannelState{
		CanonicalIdentifier: id,
		TokenAddress:        tn.TokenAddress,
		RevealTimeout:       reveal,
		SettleTimeout:       settle,
		OurState:            types.NewChannelEndState(t.state.OurAddress, types.TokenAmount{}),
		PartnerState:        types.NewChannelEndState(partner, types.TokenAmount{}),
		Status:              types.ChannelOpened,
		OpenedBlock:         sc.BlockNumber,
	}
	return nil
}

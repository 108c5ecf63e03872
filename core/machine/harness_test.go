package machine

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"channeld/core/types"
	"channeld/crypto"
	"channeld/dispatch"
)

const (
	testChainID       types.ChainID      = 1
	testGenesisBlock  types.BlockNumber  = 10
	testRevealTimeout types.BlockTimeout = 10
	testSettleTimeout types.BlockTimeout = 100
)

var (
	testTokenNetwork = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testToken        = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

type testNode struct {
	name   string
	signer *crypto.LocalSigner
	state  *types.ChainState
	log    []types.StateChange
	// emitted holds every event in application order.
	emitted []types.Event
}

func newTestNode(t *testing.T, name string) *testNode {
	t.Helper()
	key, err := crypto.PrivateKeyFromSeed(name)
	if err != nil {
		t.Fatalf("derive key for %s: %v", name, err)
	}
	signer, err := crypto.NewLocalSigner(key)
	if err != nil {
		t.Fatalf("signer for %s: %v", name, err)
	}
	n := &testNode{name: name, signer: signer}
	n.apply(t, &types.ActionInitChain{
		ChainID:     testChainID,
		BlockNumber: testGenesisBlock,
		OurAddress:  signer.Address(),
		Seed:        ethcrypto.Keccak256Hash([]byte(name)),
	})
	n.apply(t, &types.ContractReceiveTokenNetworkCreated{
		TokenNetworkAddress: testTokenNetwork,
		TokenAddress:        testToken,
		BlockNumber:         testGenesisBlock,
	})
	return n
}

func (n *testNode) addr() types.Address { return n.signer.Address() }

func (n *testNode) apply(t *testing.T, sc types.StateChange) []types.Event {
	t.Helper()
	next, events, err := Apply(n.state, sc)
	if err != nil {
		t.Fatalf("%s: apply %s: %v", n.name, sc.StateChangeType(), err)
	}
	if n.state != nil {
		checkNonces(t, n.state, next)
	}
	checkBalanceSafety(t, next)
	n.state = next
	n.log = append(n.log, sc)
	n.emitted = append(n.emitted, events...)
	return events
}

func (n *testNode) channel(t *testing.T, id types.ChannelID) *types.NettingChannelState {
	t.Helper()
	channel, ok := n.state.Channel(canonical(id))
	if !ok {
		t.Fatalf("%s: channel %d not found", n.name, id)
	}
	return channel
}

func (n *testNode) encoded(t *testing.T) string {
	t.Helper()
	raw, err := types.EncodeChainState(n.state)
	if err != nil {
		t.Fatalf("encode state: %v", err)
	}
	return string(raw)
}

func canonical(id types.ChannelID) types.CanonicalIdentifier {
	return types.CanonicalIdentifier{ChainID: testChainID, TokenNetworkAddress: testTokenNetwork, ChannelID: id}
}

// openChannel reports the channel as opened and funded on both nodes.
func openChannel(t *testing.T, id types.ChannelID, a, b *testNode, deposit uint64) {
	t.Helper()
	for _, n := range []*testNode{a, b} {
		n.apply(t, &types.ContractReceiveChannelOpened{
			CanonicalIdentifier: canonical(id),
			Participant1:        a.addr(),
			Participant2:        b.addr(),
			SettleTimeout:       testSettleTimeout,
			RevealTimeout:       testRevealTimeout,
			BlockNumber:         testGenesisBlock,
		})
		for _, participant := range []*testNode{a, b} {
			n.apply(t, &types.ContractReceiveChannelDeposit{
				CanonicalIdentifier: canonical(id),
				Participant:         participant.addr(),
				TotalDeposit:        types.NewAmount(deposit),
				BlockNumber:         testGenesisBlock,
			})
		}
	}
}

// network delivers signed messages between nodes until no node has anything
// left to send. Every delivered message is answered with Delivered, as the
// transport would.
type network struct {
	nodes map[types.Address]*testNode
	// received collects the non-message events each node emitted.
	received map[types.Address][]types.Event
}

func newNetwork(nodes ...*testNode) *network {
	nw := &network{nodes: make(map[types.Address]*testNode), received: make(map[types.Address][]types.Event)}
	for _, n := range nodes {
		nw.nodes[n.addr()] = n
	}
	return nw
}

type outbound struct {
	from *testNode
	ev   types.Event
}

func (nw *network) run(t *testing.T, from *testNode, events []types.Event) {
	t.Helper()
	queue := make([]outbound, 0, len(events))
	for _, ev := range events {
		queue = append(queue, outbound{from: from, ev: ev})
	}
	for steps := 0; len(queue) > 0; steps++ {
		if steps > 1000 {
			t.Fatalf("message exchange did not terminate")
		}
		next := queue[0]
		queue = queue[1:]
		msg, ok := next.ev.(types.SendMessageEvent)
		if !ok {
			nw.received[next.from.addr()] = append(nw.received[next.from.addr()], next.ev)
			continue
		}
		recipient, ok := nw.nodes[msg.MessageRecipient()]
		if !ok {
			continue
		}
		signed, err := dispatch.Sign(next.from.signer, msg)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		sc, err := signed.StateChange()
		if errors.Is(err, dispatch.ErrNotDeliverable) {
			continue
		}
		if err != nil {
			t.Fatalf("convert: %v", err)
		}
		for _, ev := range recipient.apply(t, sc) {
			queue = append(queue, outbound{from: recipient, ev: ev})
		}
		if _, isAck := msg.(*types.SendProcessed); isAck {
			continue
		}
		delivered, err := dispatch.Delivered(recipient.signer, msg.MessageIdentifier())
		if err != nil {
			t.Fatalf("delivered: %v", err)
		}
		for _, ev := range next.from.apply(t, delivered) {
			queue = append(queue, outbound{from: next.from, ev: ev})
		}
	}
}

func (nw *network) eventsOf(n *testNode) []types.Event { return nw.received[n.addr()] }

// checkBalanceSafety asserts that no side ever commits more than it owns.
func checkBalanceSafety(t *testing.T, state *types.ChainState) {
	t.Helper()
	for _, tn := range state.TokenNetworks {
		for _, channel := range tn.Channels {
			pairs := [][2]*types.ChannelEndState{
				{channel.OurState, channel.PartnerState},
				{channel.PartnerState, channel.OurState},
			}
			for _, pair := range pairs {
				end, other := pair[0], pair[1]
				committed, _ := end.TransferredAmount().Add(end.LockedAmount())
				owned, _ := end.ContractBalance.Add(other.TransferredAmount())
				if committed.Gt(owned) {
					t.Fatalf("channel %s: %s committed %s but owns %s", channel.CanonicalIdentifier, end.Address.Hex(), committed, owned)
				}
				if channel.Status == types.ChannelOpened && end.BalanceProof != nil && end.BalanceProof.Locksroot != end.Locksroot() {
					t.Fatalf("channel %s: locksroot of %s does not match its pending locks", channel.CanonicalIdentifier, end.Address.Hex())
				}
			}
		}
	}
}

// checkNonces asserts that balance proof nonces only move forward.
func checkNonces(t *testing.T, prev, next *types.ChainState) {
	t.Helper()
	for addr, tn := range prev.TokenNetworks {
		for id, before := range tn.Channels {
			after, ok := next.TokenNetworks[addr].Channels[id]
			if !ok {
				continue
			}
			ends := [][2]*types.ChannelEndState{
				{before.OurState, after.OurState},
				{before.PartnerState, after.PartnerState},
			}
			for _, pair := range ends {
				if pair[1].Nonce < pair[0].Nonce {
					t.Fatalf("nonce of %s went from %d to %d", pair[0].Address.Hex(), pair[0].Nonce, pair[1].Nonce)
				}
				oldBP, newBP := pair[0].BalanceProof, pair[1].BalanceProof
				if oldBP != nil && newBP != nil && newBP.Nonce != oldBP.Nonce && newBP.Nonce <= oldBP.Nonce {
					t.Fatalf("balance proof nonce of %s reused: %d after %d", pair[0].Address.Hex(), newBP.Nonce, oldBP.Nonce)
				}
			}
		}
	}
}

func findEvent[T types.Event](events []types.Event) (T, bool) {
	for _, ev := range events {
		if typed, ok := ev.(T); ok {
			return typed, true
		}
	}
	var zero T
	return zero, false
}

func countEvents[T types.Event](events []types.Event) int {
	n := 0
	for _, ev := range events {
		if _, ok := ev.(T); ok {
			n++
		}
	}
	return n
}

func payment(from *testNode, target types.Address, amount uint64, route ...types.Address) *types.ActionInitInitiator {
	return &types.ActionInitInitiator{
		Transfer: types.TransferDescription{
			TokenNetworkAddress: testTokenNetwork,
			Amount:              types.NewAmount(amount),
			Initiator:           from.addr(),
			Target:              target,
		},
		Route: route,
	}
}

// deliver signs the first message of type T in events as from and applies it
// on to. It returns the message and the events it produced.
func deliver[T types.SendMessageEvent](t *testing.T, from, to *testNode, events []types.Event) (T, []types.Event) {
	t.Helper()
	send, ok := findEvent[T](events)
	if !ok {
		var zero T
		t.Fatalf("no %T among %d events", zero, len(events))
	}
	return send, to.apply(t, signedStateChange(t, from, send))
}

func signedStateChange(t *testing.T, from *testNode, msg types.SendMessageEvent) types.StateChange {
	t.Helper()
	signed, err := dispatch.Sign(from.signer, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sc, err := signed.StateChange()
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	return sc
}

func violationCode(t *testing.T, events []types.Event) string {
	t.Helper()
	for _, ev := range events {
		if v, ok := ev.(types.ViolationEvent); ok {
			return v.ViolationCode()
		}
	}
	t.Fatalf("no violation among %d events", len(events))
	return ""
}

package types

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestTokenAmountOverflow(t *testing.T) {
	max := MustAmount("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	if _, overflow := max.Add(NewAmount(1)); !overflow {
		t.Fatalf("expected overflow at 2^256")
	}
	if _, underflow := NewAmount(1).Sub(NewAmount(2)); !underflow {
		t.Fatalf("expected underflow")
	}
	if got := NewAmount(1).SaturatingSub(NewAmount(2)); !got.IsZero() {
		t.Fatalf("saturating sub returned %s", got)
	}
	if _, overflow := SumAmounts(max, NewAmount(0), NewAmount(1)); !overflow {
		t.Fatalf("expected sum overflow")
	}
	if _, err := ParseAmount("twelve"); err == nil {
		t.Fatalf("expected malformed amount to be rejected")
	}
	if got := MustAmount("0x10"); !got.Eq(NewAmount(16)) {
		t.Fatalf("hex parse returned %s", got)
	}
}

func TestTokenAmountText(t *testing.T) {
	var a TokenAmount
	if err := a.UnmarshalText([]byte("123456789012345678901234567890")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	text, err := a.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(text) != "123456789012345678901234567890" {
		t.Fatalf("unexpected text %s", text)
	}
}

func TestLocksrootIgnoresInsertionOrder(t *testing.T) {
	locks := []Lock{
		{Amount: NewAmount(5), Expiration: 40, SecretHash: Secret{0x01}.Hash()},
		{Amount: NewAmount(7), Expiration: 41, SecretHash: Secret{0x02}.Hash()},
		{Amount: NewAmount(9), Expiration: 42, SecretHash: Secret{0x03}.Hash()},
	}
	forward := make(map[SecretHash]Lock)
	root := EmptyLocksroot
	for _, lock := range locks {
		root = LocksrootWith(forward, lock)
		forward[lock.SecretHash] = lock
	}
	backward := make(map[SecretHash]Lock)
	for i := len(locks) - 1; i >= 0; i-- {
		backward[locks[i].SecretHash] = locks[i]
	}
	if got := ComputeLocksroot(backward); got != root {
		t.Fatalf("locksroot depends on order: %s vs %s", got.Hex(), root.Hex())
	}
	if got := LocksrootWithout(forward, locks[1].SecretHash); got == root || got == EmptyLocksroot {
		t.Fatalf("removing a lock must change the locksroot")
	}
	if got := ComputeLocksroot(nil); got != EmptyLocksroot {
		t.Fatalf("empty set must hash to the empty locksroot")
	}
}

func TestHashBalanceDataZeroProof(t *testing.T) {
	if got := HashBalanceData(TokenAmount{}, TokenAmount{}, EmptyLocksroot); got != (BalanceHash{}) {
		t.Fatalf("zero proof must hash to zero, got %s", got.Hex())
	}
	if got := HashBalanceData(NewAmount(1), TokenAmount{}, EmptyLocksroot); got == (BalanceHash{}) {
		t.Fatalf("non-zero proof hashed to zero")
	}
}

func TestEncodeLockLayout(t *testing.T) {
	lock := Lock{Amount: NewAmount(0x0102), Expiration: 0x0a, SecretHash: common.HexToHash("0xff")}
	encoded := EncodeLock(lock)
	if len(encoded) != 96 {
		t.Fatalf("encoded lock is %d bytes", len(encoded))
	}
	if encoded[31] != 0x0a || encoded[62] != 0x01 || encoded[63] != 0x02 || encoded[95] != 0xff {
		t.Fatalf("unexpected layout %x", encoded)
	}
}

func TestDecodeUnknownVariant(t *testing.T) {
	if _, err := DecodeStateChange([]byte(`{"type":"ActionTeleport","data":{}}`)); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("expected ErrUnknownVariant, got %v", err)
	}
	if _, err := DecodeEvent([]byte(`{"type":"EventTeleported","data":{}}`)); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("expected ErrUnknownVariant, got %v", err)
	}
}

func TestVariantTablesAreComplete(t *testing.T) {
	for _, tag := range StateChangeTypes() {
		sc := stateChangeTable[tag]()
		if sc.StateChangeType() != tag {
			t.Fatalf("state change registered as %s reports %s", tag, sc.StateChangeType())
		}
	}
	for _, tag := range EventTypes() {
		ev := eventTable[tag]()
		if ev.EventType() != tag {
			t.Fatalf("event registered as %s reports %s", tag, ev.EventType())
		}
	}
}

func TestChainStateCloneIsIndependent(t *testing.T) {
	us := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	tokenNetwork := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	state := NewChainState(&ActionInitChain{ChainID: 1, BlockNumber: 5, OurAddress: us, Seed: Hash{0x42}})
	tn := NewTokenNetworkState(tokenNetwork, common.HexToAddress("0xb1"))
	tn.Channels[1] = &NettingChannelState{
		CanonicalIdentifier: CanonicalIdentifier{ChainID: 1, TokenNetworkAddress: tokenNetwork, ChannelID: 1},
		OurState:            NewChannelEndState(us, NewAmount(10)),
		PartnerState:        NewChannelEndState(common.HexToAddress("0xe2"), NewAmount(20)),
		Status:              ChannelOpened,
	}
	state.TokenNetworks[tokenNetwork] = tn

	before, err := EncodeChainState(state)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	clone := state.Clone()
	channel, _ := clone.Channel(tn.Channels[1].CanonicalIdentifier)
	channel.OurState.ContractBalance = NewAmount(99)
	channel.PartnerState.PendingLocks[Secret{0x01}.Hash()] = Lock{Amount: NewAmount(1)}
	clone.BlockNumber = 6
	clone.PRNG.NextUint64()

	after, err := EncodeChainState(state)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("mutating the clone changed the original")
	}
	decoded, err := DecodeChainState(after)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	again, err := EncodeChainState(decoded)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(after, again) {
		t.Fatalf("encoding is not canonical")
	}
}

func TestRandomIsDeterministic(t *testing.T) {
	a := Random{Seed: Hash{0x07}}
	b := Random{Seed: Hash{0x07}}
	for i := 0; i < 4; i++ {
		if a.NextUint64() != b.NextUint64() {
			t.Fatalf("draw %d differs", i)
		}
	}
	other := Random{Seed: Hash{0x08}}
	if a.NextSecret() == other.NextSecret() {
		t.Fatalf("different seeds produced the same secret")
	}
}

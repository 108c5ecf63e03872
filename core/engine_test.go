package core

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"channeld/core/machine"
	"channeld/core/types"
	"channeld/core/validation"
	"channeld/crypto"
	"channeld/dispatch"
	"channeld/storage"
	"channeld/storage/statelog"
)

var (
	testTokenNetwork = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testToken        = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	testChannel      = types.CanonicalIdentifier{ChainID: 1, TokenNetworkAddress: testTokenNetwork, ChannelID: 1}
)

func testSigner(t *testing.T, name string) *crypto.LocalSigner {
	t.Helper()
	key, err := crypto.PrivateKeyFromSeed(name)
	require.NoError(t, err)
	signer, err := crypto.NewLocalSigner(key)
	require.NoError(t, err)
	return signer
}

// setupChanges initialises a node and funds channel 1 between alice and bob.
func setupChanges(us, alice, bob common.Address) []types.StateChange {
	return []types.StateChange{
		&types.ActionInitChain{ChainID: 1, BlockNumber: 10, OurAddress: us, Seed: ethcrypto.Keccak256Hash(us.Bytes())},
		&types.ContractReceiveTokenNetworkCreated{TokenNetworkAddress: testTokenNetwork, TokenAddress: testToken, BlockNumber: 10},
		&types.ContractReceiveChannelOpened{
			CanonicalIdentifier: testChannel,
			Participant1:        alice,
			Participant2:        bob,
			SettleTimeout:       100,
			RevealTimeout:       10,
			BlockNumber:         10,
		},
		&types.ContractReceiveChannelDeposit{CanonicalIdentifier: testChannel, Participant: alice, TotalDeposit: types.NewAmount(100), BlockNumber: 10},
		&types.ContractReceiveChannelDeposit{CanonicalIdentifier: testChannel, Participant: bob, TotalDeposit: types.NewAmount(100), BlockNumber: 10},
	}
}

func newStore(t *testing.T) (*statelog.Store, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	s, err := statelog.Open(db)
	require.NoError(t, err)
	return s, db
}

func newEngine(t *testing.T, store storage.StateStore, cfg Config, opts ...Option) *Engine {
	t.Helper()
	e := New(store, cfg, opts...)
	_, err := e.Recover(context.Background())
	require.NoError(t, err)
	return e
}

func startEngine(t *testing.T, e *Engine) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			runErr = <-done
		})
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func submitAll(t *testing.T, e *Engine, changes []types.StateChange) {
	t.Helper()
	for _, sc := range changes {
		_, err := e.Submit(context.Background(), sc)
		require.NoError(t, err)
	}
}

func encode(t *testing.T, state *types.ChainState) string {
	t.Helper()
	raw, err := types.EncodeChainState(state)
	require.NoError(t, err)
	return string(raw)
}

// aliceTransfers returns two locked transfers alice sends to bob on channel 1,
// signed and converted to bob's state changes.
func aliceTransfers(t *testing.T, alice, bob *crypto.LocalSigner) []*types.ReceiveLockedTransfer {
	t.Helper()
	var state *types.ChainState
	for _, sc := range setupChanges(alice.Address(), alice.Address(), bob.Address()) {
		next, _, err := machine.Apply(state, sc)
		require.NoError(t, err)
		state = next
	}
	var out []*types.ReceiveLockedTransfer
	for _, amount := range []uint64{10, 20} {
		next, events, err := machine.Apply(state, &types.ActionInitInitiator{
			Transfer: types.TransferDescription{
				TokenNetworkAddress: testTokenNetwork,
				Amount:              types.NewAmount(amount),
				Initiator:           alice.Address(),
				Target:              bob.Address(),
			},
			Route: []types.Address{bob.Address()},
		})
		require.NoError(t, err)
		state = next
		var send *types.SendLockedTransfer
		for _, ev := range events {
			if s, ok := ev.(*types.SendLockedTransfer); ok {
				send = s
			}
		}
		require.NotNil(t, send)
		signed, err := dispatch.Sign(alice, send)
		require.NoError(t, err)
		sc, err := signed.StateChange()
		require.NoError(t, err)
		out = append(out, sc.(*types.ReceiveLockedTransfer))
	}
	return out
}

func TestConcurrentProducersSerialize(t *testing.T) {
	alice := testSigner(t, "alice")
	bob := testSigner(t, "bob")
	transfers := aliceTransfers(t, alice, bob)

	store, _ := newStore(t)
	e := newEngine(t, store, Config{QueueCapacity: 4, SnapshotEvery: 5})
	startEngine(t, e)
	submitAll(t, e, setupChanges(bob.Address(), alice.Address(), bob.Address()))

	var wg sync.WaitGroup
	errs := make(chan error, len(transfers))
	for _, transfer := range transfers {
		wg.Add(1)
		go func(sc *types.ReceiveLockedTransfer) {
			defer wg.Done()
			for attempt := 0; attempt < 1000; attempt++ {
				res, err := e.Submit(context.Background(), sc)
				if err != nil {
					errs <- err
					return
				}
				rejected := false
				for _, ev := range res.Events {
					if v, ok := ev.(*types.ErrorInvalidReceivedLockedTransfer); ok {
						if v.Code != string(validation.CodeLocksrootMismatch) {
							errs <- errors.New("unexpected rejection: " + v.Reason)
							return
						}
						rejected = true
					}
				}
				if !rejected {
					return
				}
				time.Sleep(time.Millisecond)
			}
			errs <- errors.New("transfer never accepted")
		}(transfer)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	state := e.CurrentState()
	channel, ok := state.Channel(testChannel)
	require.True(t, ok)
	want := types.ComputeLocksroot(map[types.SecretHash]types.Lock{
		transfers[0].Transfer.Lock.SecretHash: transfers[0].Transfer.Lock,
		transfers[1].Transfer.Lock.SecretHash: transfers[1].Transfer.Lock,
	})
	require.Equal(t, want, channel.PartnerState.Locksroot())
	require.Equal(t, want, channel.PartnerState.BalanceProof.Locksroot)
	require.True(t, channel.PartnerState.LockedAmount().Eq(types.NewAmount(30)))

	// The log holds every attempt in application order.
	var count uint64
	require.NoError(t, store.Records(1, 0, func(rec storage.LogRecord) error {
		count++
		require.Equal(t, count, rec.Sequence)
		return nil
	}))
	require.Equal(t, e.Sequence(), count)
}

func TestBackpressureBlocksProducers(t *testing.T) {
	store, _ := newStore(t)
	e := newEngine(t, store, Config{QueueCapacity: 1})
	us := testSigner(t, "alice").Address()

	first := make(chan error, 1)
	go func() {
		_, err := e.Submit(context.Background(), setupChanges(us, us, us)[0])
		first <- err
	}()
	require.Eventually(t, func() bool { return len(e.queue) == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := e.Submit(ctx, &types.Block{Number: 11})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	startEngine(t, e)
	require.NoError(t, <-first)
	res, err := e.Submit(context.Background(), &types.Block{Number: 11})
	require.NoError(t, err)
	require.Equal(t, uint64(2), res.Sequence)

	head, err := store.Head()
	require.NoError(t, err)
	require.Equal(t, uint64(2), head)
}

type flakyStore struct {
	*statelog.Store
	mu   sync.Mutex
	fail bool
}

func (s *flakyStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *flakyStore) Append(rec storage.LogRecord) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.Store.Append(rec)
}

func TestAppendFailureLeavesStateUnchanged(t *testing.T) {
	inner, _ := newStore(t)
	store := &flakyStore{Store: inner}
	e := newEngine(t, store, Config{QueueCapacity: 4})
	startEngine(t, e)
	alice := testSigner(t, "alice").Address()
	bob := testSigner(t, "bob").Address()
	submitAll(t, e, setupChanges(alice, alice, bob))

	before := encode(t, e.CurrentState())
	seq := e.Sequence()
	store.setFail(true)
	_, err := e.Submit(context.Background(), &types.Block{Number: 11})
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, seq+1, serr.Sequence)
	require.Equal(t, before, encode(t, e.CurrentState()))
	require.Equal(t, seq, e.Sequence())

	store.setFail(false)
	res, err := e.Submit(context.Background(), &types.Block{Number: 11})
	require.NoError(t, err)
	require.Equal(t, seq+1, res.Sequence)
	require.Equal(t, types.BlockNumber(11), e.CurrentState().BlockNumber)
}

func TestInvariantViolationHaltsEngine(t *testing.T) {
	store, _ := newStore(t)
	e := newEngine(t, store, Config{QueueCapacity: 4})
	stop := startEngine(t, e)
	alice := testSigner(t, "alice").Address()
	bob := testSigner(t, "bob").Address()
	submitAll(t, e, setupChanges(alice, alice, bob))
	head, _ := store.Head()

	unknown := testChannel
	unknown.ChannelID = 99
	_, err := e.Submit(context.Background(), &types.ContractReceiveChannelDeposit{CanonicalIdentifier: unknown, Participant: alice, TotalDeposit: types.NewAmount(1)})
	require.ErrorIs(t, err, machine.ErrInvariantViolation)
	require.ErrorIs(t, stop(), machine.ErrInvariantViolation)

	_, err = e.Submit(context.Background(), &types.Block{Number: 11})
	require.ErrorIs(t, err, ErrEngineHalted)
	after, _ := store.Head()
	require.Equal(t, head, after)
}

func TestRecoverFromSnapshotAndLog(t *testing.T) {
	store, _ := newStore(t)
	cfg := Config{QueueCapacity: 4, SnapshotEvery: 3, SnapshotRetain: 1}
	e := newEngine(t, store, cfg)
	stop := startEngine(t, e)
	alice := testSigner(t, "alice").Address()
	bob := testSigner(t, "bob").Address()
	submitAll(t, e, setupChanges(alice, alice, bob))
	submitAll(t, e, []types.StateChange{&types.Block{Number: 11}, &types.Block{Number: 12}, &types.Block{Number: 13}})
	require.Equal(t, uint64(8), e.Sequence())
	want := encode(t, e.CurrentState())
	require.ErrorIs(t, stop(), context.Canceled)

	snap, err := store.LatestSnapshot(0)
	require.NoError(t, err)
	require.Equal(t, uint64(6), snap.Sequence)
	older, err := store.LatestSnapshot(5)
	require.NoError(t, err)
	require.Nil(t, older, "older snapshots are pruned")

	// Replaying the log from genesis reproduces the snapshot.
	var replayed *types.ChainState
	require.NoError(t, store.Records(1, snap.Sequence, func(rec storage.LogRecord) error {
		next, _, err := machine.Apply(replayed, rec.StateChange)
		if err != nil {
			return err
		}
		next.Sequence = rec.Sequence
		replayed = next
		return nil
	}))
	require.Equal(t, encode(t, snap.State), encode(t, replayed))

	restarted := New(store, cfg)
	info, err := restarted.Recover(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(6), info.SnapshotSequence)
	require.Equal(t, uint64(2), info.Replayed)
	require.Equal(t, want, encode(t, restarted.CurrentState()))

	runs, err := store.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 2)
}

func TestRecoverSkipsCorruptSnapshot(t *testing.T) {
	store, db := newStore(t)
	cfg := Config{QueueCapacity: 4, SnapshotEvery: 3, SnapshotRetain: 2}
	e := newEngine(t, store, cfg)
	stop := startEngine(t, e)
	alice := testSigner(t, "alice").Address()
	bob := testSigner(t, "bob").Address()
	submitAll(t, e, setupChanges(alice, alice, bob))
	submitAll(t, e, []types.StateChange{&types.Block{Number: 11}, &types.Block{Number: 12}, &types.Block{Number: 13}})
	require.Equal(t, uint64(8), e.Sequence())
	want := encode(t, e.CurrentState())
	require.ErrorIs(t, stop(), context.Canceled)

	key := make([]byte, 5+8)
	copy(key, "snap/")
	binary.BigEndian.PutUint64(key[5:], 6)
	require.NoError(t, db.Put(key, []byte("garbage that fails its checksum")))

	restarted := New(store, cfg)
	info, err := restarted.Recover(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(3), info.SnapshotSequence)
	require.Equal(t, uint64(5), info.Replayed)
	require.Equal(t, want, encode(t, restarted.CurrentState()))
	require.NoError(t, restarted.Halted())
}

func TestRecoverRefusesCorruptLog(t *testing.T) {
	store, db := newStore(t)
	e := newEngine(t, store, Config{QueueCapacity: 4})
	stop := startEngine(t, e)
	alice := testSigner(t, "alice").Address()
	submitAll(t, e, setupChanges(alice, alice, alice)[:2])
	submitAll(t, e, []types.StateChange{&types.Block{Number: 11}})
	_ = stop()

	key := make([]byte, 4+8)
	copy(key, "log/")
	binary.BigEndian.PutUint64(key[4:], 2)
	require.NoError(t, db.Put(key, []byte("garbage that fails its checksum")))

	_, err := New(store, Config{}).Recover(context.Background())
	var rerr *RecoveryError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, uint64(2), rerr.Sequence)
	require.ErrorIs(t, err, storage.ErrCorrupt)
}

type recordingSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *recordingSink) Handle(_ context.Context, _ uint64, events []types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

func TestRecoverRedispatchesPendingMessages(t *testing.T) {
	alice := testSigner(t, "alice").Address()
	bob := testSigner(t, "bob").Address()
	store, _ := newStore(t)
	live := &recordingSink{}
	e := newEngine(t, store, Config{QueueCapacity: 4}, WithSink(live))
	stop := startEngine(t, e)
	submitAll(t, e, setupChanges(alice, alice, bob))
	_, err := e.Submit(context.Background(), &types.ActionInitInitiator{
		Transfer: types.TransferDescription{
			TokenNetworkAddress: testTokenNetwork,
			Amount:              types.NewAmount(5),
			Initiator:           alice,
			Target:              bob,
		},
		Route: []types.Address{bob},
	})
	require.NoError(t, err)
	_ = stop()
	require.NotEmpty(t, live.events)

	sink := &recordingSink{}
	info, err := New(store, Config{}, WithSink(sink)).Recover(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, info.Redispatched)
	require.Len(t, sink.events, 1)
	_, ok := sink.events[0].(*types.SendLockedTransfer)
	require.True(t, ok)
}

// stuckChain never completes a submission until its context ends.
type stuckChain struct{ entered chan struct{} }

func (c *stuckChain) SubmitTransaction(ctx context.Context, _ types.ContractSendEvent) error {
	select {
	case c.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestStuckChainSubmitterDoesNotStallIngestion(t *testing.T) {
	alice := testSigner(t, "alice").Address()
	bob := testSigner(t, "bob").Address()
	chain := &stuckChain{entered: make(chan struct{}, 1)}
	dispatcher := dispatch.New(nil, dispatch.WithChainSubmitter(chain), dispatch.WithChainRate(1, 1))
	defer dispatcher.Close()

	store, _ := newStore(t)
	e := newEngine(t, store, Config{QueueCapacity: 1}, WithSink(dispatcher))
	startEngine(t, e)
	submitAll(t, e, setupChanges(alice, alice, bob))

	_, err := e.Submit(context.Background(), &types.ActionChannelClose{CanonicalIdentifier: testChannel})
	require.NoError(t, err)
	select {
	case <-chain.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("close transaction never reached the chain submitter")
	}

	for n := types.BlockNumber(11); n <= 20; n++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := e.Submit(ctx, &types.Block{Number: n})
		cancel()
		require.NoError(t, err)
	}
	require.Equal(t, types.BlockNumber(20), e.CurrentState().BlockNumber)
}

func TestSubmitAfterStop(t *testing.T) {
	store, _ := newStore(t)
	e := newEngine(t, store, Config{})
	stop := startEngine(t, e)
	require.ErrorIs(t, stop(), context.Canceled)
	_, err := e.Submit(context.Background(), &types.Block{Number: 1})
	require.ErrorIs(t, err, ErrEngineStopped)
}

func TestRunRequiresRecover(t *testing.T) {
	store, _ := newStore(t)
	e := New(store, Config{})
	require.ErrorIs(t, e.Run(context.Background()), ErrNotRecovered)
}

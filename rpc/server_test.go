package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"channeld/core"
	"channeld/core/types"
	"channeld/storage"
	"channeld/storage/statelog"
)

var testChannel = types.CanonicalIdentifier{
	ChainID:             1,
	TokenNetworkAddress: common.HexToAddress("0x00000000000000000000000000000000000000a1"),
	ChannelID:           4,
}

func postStateChange(t *testing.T, url string, sc types.StateChange) *http.Response {
	t.Helper()
	raw, err := types.EncodeStateChange(sc)
	require.NoError(t, err)
	resp, err := http.Post(url+"/v1/statechanges", "application/json", strings.NewReader(string(raw)))
	require.NoError(t, err)
	return resp
}

type staticSource struct {
	seq    uint64
	state  *types.ChainState
	halted error
}

func (s *staticSource) Sequence() uint64                { return s.seq }
func (s *staticSource) CurrentState() *types.ChainState { return s.state.Clone() }
func (s *staticSource) Halted() error                   { return s.halted }

func testState() *types.ChainState {
	state := types.NewChainState(&types.ActionInitChain{
		ChainID:     1,
		BlockNumber: 42,
		OurAddress:  common.HexToAddress("0x00000000000000000000000000000000000000d1"),
	})
	tokenNetwork := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	state.TokenNetworks[tokenNetwork] = types.NewTokenNetworkState(tokenNetwork, common.HexToAddress("0xb1"))
	state.PendingTransactions = types.EventList{&types.ContractSendChannelSettle{}}
	return state
}

func TestHealthz(t *testing.T) {
	source := &staticSource{seq: 3, state: testState()}
	srv := httptest.NewServer(NewServer(source, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	source.halted = errors.New("invariant violation")
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	source := &staticSource{seq: 7, state: testState()}
	srv := httptest.NewServer(NewServer(source, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, uint64(7), status.Sequence)
	require.Equal(t, types.BlockNumber(42), status.BlockNumber)
	require.Equal(t, 1, status.TokenNetworks)
	require.Equal(t, 1, status.PendingTransactions)
	require.Empty(t, status.Halted)
}

func TestStatusBeforeGenesis(t *testing.T) {
	srv := httptest.NewServer(NewServer(&staticSource{}, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Zero(t, status.Sequence)
	require.Zero(t, status.TokenNetworks)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(NewServer(&staticSource{}, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(NewServer(&staticSource{}, hub).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/events", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	ev := &types.EventPaymentSentFailed{Reason: "no route"}
	require.NoError(t, hub.Notify(ctx, 12, ev))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame EventFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Equal(t, uint64(12), frame.Sequence)
	decoded, err := types.DecodeEvent(frame.Event)
	require.NoError(t, err)
	require.Equal(t, ev, decoded)
}

type fakeSubmitter struct {
	got []types.StateChange
	err error
}

func (f *fakeSubmitter) Submit(_ context.Context, sc types.StateChange) (core.Result, error) {
	if f.err != nil {
		return core.Result{}, f.err
	}
	f.got = append(f.got, sc)
	return core.Result{Sequence: uint64(len(f.got)), Events: []types.Event{&types.EventPaymentSentFailed{Reason: "expired"}}}, nil
}

func TestSubmitStateChange(t *testing.T) {
	sub := &fakeSubmitter{}
	srv := httptest.NewServer(NewServer(&staticSource{}, nil, WithSubmitter(sub)).Handler())
	defer srv.Close()

	resp := postStateChange(t, srv.URL, &types.ActionChannelClose{CanonicalIdentifier: testChannel})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, uint64(1), out.Sequence)
	require.Len(t, out.Events, 1)
	require.Len(t, sub.got, 1)
	require.Equal(t, testChannel, sub.got[0].(*types.ActionChannelClose).CanonicalIdentifier)
}

func TestSubmitRejectsNodeOnlyInput(t *testing.T) {
	sub := &fakeSubmitter{}
	srv := httptest.NewServer(NewServer(&staticSource{}, nil, WithSubmitter(sub)).Handler())
	defer srv.Close()

	inputs := []types.StateChange{
		&types.ActionInitChain{ChainID: 1, BlockNumber: 1},
		&types.Block{Number: 99},
		&types.ContractReceiveChannelOpened{CanonicalIdentifier: testChannel},
	}
	for _, sc := range inputs {
		resp := postStateChange(t, srv.URL, sc)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, sc.StateChangeType())
	}
	require.Empty(t, sub.got)
}

func TestRejectedGenesisKeepsEngineRunning(t *testing.T) {
	store, err := statelog.Open(storage.NewMemDB())
	require.NoError(t, err)
	engine := core.New(store, core.Config{QueueCapacity: 4})
	_, err = engine.Recover(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(ctx) }()
	defer func() {
		cancel()
		<-runErr
	}()

	us := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	_, err = engine.Submit(context.Background(), &types.ActionInitChain{ChainID: 1, BlockNumber: 10, OurAddress: us})
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(engine, nil, WithSubmitter(engine)).Handler())
	defer srv.Close()

	resp := postStateChange(t, srv.URL, &types.ActionInitChain{ChainID: 1, BlockNumber: 11, OurAddress: us})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postStateChange(t, srv.URL, &types.ActionChannelClose{CanonicalIdentifier: testChannel})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, uint64(2), out.Sequence)
	require.NoError(t, engine.Halted())
}

func TestSubmitRejectsUnknownVariant(t *testing.T) {
	sub := &fakeSubmitter{}
	srv := httptest.NewServer(NewServer(&staticSource{}, nil, WithSubmitter(sub)).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/statechanges", "application/json", strings.NewReader(`{"type":"Bogus","data":{}}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Empty(t, sub.got)
}

func TestSubmitReportsEngineErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{err: &core.StorageError{Op: "append", Sequence: 3, Err: errors.New("disk full")}, want: http.StatusServiceUnavailable},
		{err: core.ErrEngineHalted, want: http.StatusConflict},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(NewServer(&staticSource{}, nil, WithSubmitter(&fakeSubmitter{err: tc.err})).Handler())
		resp := postStateChange(t, srv.URL, &types.ActionChannelClose{CanonicalIdentifier: testChannel})
		resp.Body.Close()
		srv.Close()
		require.Equal(t, tc.want, resp.StatusCode, tc.err.Error())
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub(nil)
	_, frames := hub.subscribe()
	for i := 0; i <= subscriberBuffer; i++ {
		require.NoError(t, hub.Notify(context.Background(), uint64(i), &types.EventPaymentSentFailed{}))
	}
	require.Zero(t, hub.Subscribers())
	drained := 0
	for range frames {
		drained++
	}
	require.Equal(t, subscriberBuffer, drained)
}

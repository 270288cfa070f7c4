package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/utxowatch/chain"
	"github.com/btcsuite/utxowatch/events"
	"github.com/btcsuite/utxowatch/maturity"
	"github.com/btcsuite/utxowatch/netparams"
	"github.com/btcsuite/utxowatch/utxo"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	addrA = "kaspasim:alice"
	addrB = "kaspasim:bob"
	addrC = "kaspasim:carol"

	testTip = 1000
)

var (
	testNet = netparams.SimNetParams.ID

	errTestTransport = errors.New("transport failure")
)

// mockTransport is a mock implementation of the chain.Transport interface.
// Subscriptions go through the mock; the UTXO set and server info are plain
// state so tests can change what the node reports between calls.
type mockTransport struct {
	mock.Mock

	ntfns     chan interface{}
	connected atomic.Bool

	mtx       sync.Mutex
	remote    []*utxo.Entry
	info      chain.ServerInfo
	infoErr   error
	fetchErr  error
	fetches   int
	requested [][]string
}

// A compile-time assertion to ensure that mockTransport implements the
// Transport interface.
var _ chain.Transport = (*mockTransport)(nil)

func newMockTransport() *mockTransport {
	m := &mockTransport{
		ntfns: make(chan interface{}),
		info: chain.ServerInfo{
			ServerVersion:   "0.16.1",
			NetworkID:       testNet.String(),
			HasUtxoIndex:    true,
			IsSynced:        true,
			VirtualDAAScore: testTip,
		},
	}
	m.connected.Store(true)

	return m
}

// SubscribeAddresses implements the chain.Transport interface.
func (m *mockTransport) SubscribeAddresses(_ context.Context,
	addrs []string) error {

	args := m.Called(addrs)
	return args.Error(0)
}

// UnsubscribeAddresses implements the chain.Transport interface.
func (m *mockTransport) UnsubscribeAddresses(_ context.Context,
	addrs []string) error {

	args := m.Called(addrs)
	return args.Error(0)
}

// UtxosByAddresses implements the chain.Transport interface.
func (m *mockTransport) UtxosByAddresses(_ context.Context,
	addrs []string) ([]*utxo.Entry, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.fetches++
	m.requested = append(m.requested, addrs)
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}

	want := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		want[addr] = struct{}{}
	}

	var entries []*utxo.Entry
	for _, e := range m.remote {
		if _, ok := want[e.Address]; ok {
			entries = append(entries, e.Clone())
		}
	}
	return entries, nil
}

// ServerInfo implements the chain.Transport interface.
func (m *mockTransport) ServerInfo(context.Context) (*chain.ServerInfo,
	error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.infoErr != nil {
		return nil, m.infoErr
	}
	info := m.info
	return &info, nil
}

// Notifications implements the chain.Transport interface.
func (m *mockTransport) Notifications() <-chan interface{} {
	return m.ntfns
}

// IsConnected implements the chain.Transport interface.
func (m *mockTransport) IsConnected() bool {
	return m.connected.Load()
}

func (m *mockTransport) setRemote(entries ...*utxo.Entry) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.remote = entries
}

func (m *mockTransport) setTip(tip uint64) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.info.VirtualDAAScore = tip
}

func (m *mockTransport) fetchCount() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.fetches
}

// eventRecorder collects every event delivered to its listen callback.
type eventRecorder struct {
	mtx    sync.Mutex
	events []events.Event
}

func (r *eventRecorder) listen(args []any, _ map[string]any) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.events = append(r.events, args[len(args)-1].(events.Event))
	return nil
}

func (r *eventRecorder) reset() {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.events = nil
}

func (r *eventRecorder) kinds() []events.Kind {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	kinds := make([]events.Kind, 0, len(r.events))
	for _, ev := range r.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (r *eventRecorder) ofKind(kinds ...events.Kind) []events.Event {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	var matched []events.Event
	for _, ev := range r.events {
		for _, k := range kinds {
			if ev.Kind == k {
				matched = append(matched, ev)
			}
		}
	}
	return matched
}

// utxoEvents returns every event announcing an output entering or leaving
// the index.
func (r *eventRecorder) utxoEvents() []events.Event {
	return r.ofKind(events.UtxoAdded, events.UtxoRemoved, events.Discovery)
}

func testEntry(addr string, tx byte, amount btcutil.Amount, daa uint64,
	coinbase bool) *utxo.Entry {

	return &utxo.Entry{
		Outpoint:      wire.OutPoint{Hash: chainhash.Hash{tx}},
		Address:       addr,
		Amount:        amount,
		BlockDAAScore: daa,
		IsCoinbase:    coinbase,
	}
}

// testPolicy returns a policy where user outputs mature after 10 and
// coinbase outputs leave stasis after 50 and mature after 100.
func testPolicy(t *testing.T) *maturity.Policy {
	policy := maturity.NewPolicy()
	require.NoError(t, policy.SetRequiredConfirmations(
		testNet, maturity.User, 10,
	))
	require.NoError(t, policy.SetRequiredConfirmations(
		testNet, maturity.Coinbase, 100,
	))
	policy.SetStasisPeriod(testNet, 50)

	return policy
}

type testHarness struct {
	t         *testing.T
	proc      *Processor
	transport *mockTransport
	retry     *ticker.Force
	rec       *eventRecorder
}

// newTestHarness creates an idle processor tracking addrA and addrB on a
// transport that reports the given entries.
func newTestHarness(t *testing.T, remote ...*utxo.Entry) *testHarness {
	transport := newMockTransport()
	transport.setRemote(remote...)
	transport.On("SubscribeAddresses", mock.Anything).Return(nil)
	transport.On("UnsubscribeAddresses", mock.Anything).Return(nil)

	retry := ticker.NewForce(time.Hour)
	proc, err := New(&Config{
		Transport:   transport,
		NetworkID:   fn.Some(testNet),
		Policy:      testPolicy(t),
		URL:         "ws://127.0.0.1:18510",
		RetryTicker: retry,
		Registerer:  prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	rec := &eventRecorder{}
	_, err = proc.AddListener(rec.listen)
	require.NoError(t, err)

	require.NoError(t, proc.TrackAddresses(
		context.Background(), addrA, addrB,
	))

	t.Cleanup(func() {
		require.NoError(t, proc.Stop())
	})

	return &testHarness{
		t:         t,
		proc:      proc,
		transport: transport,
		retry:     retry,
		rec:       rec,
	}
}

func (h *testHarness) start() {
	h.t.Helper()

	require.NoError(h.t, h.proc.Start(context.Background()))
	require.Equal(h.t, StateActive, h.proc.State())
	h.rec.reset()
}

func (h *testHarness) apply(ntfn interface{}) {
	h.t.Helper()

	require.NoError(h.t, h.proc.Apply(context.Background(), ntfn))
}

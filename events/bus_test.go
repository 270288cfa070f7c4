package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// recorder collects the events delivered to its callback.
type recorder struct {
	name   string
	order  *[]string
	events []Event
	args   [][]any
	kwargs []map[string]any
}

func (r *recorder) callback(args []any, kwargs map[string]any) error {
	*r.order = append(*r.order, r.name)
	r.events = append(r.events, args[len(args)-1].(Event))
	r.args = append(r.args, args)
	r.kwargs = append(r.kwargs, kwargs)
	return nil
}

// TestParseTarget checks wildcard aliases and rejection of unknown targets.
func TestParseTarget(t *testing.T) {
	t.Parallel()

	rt := require.New(t)

	for _, s := range []string{"all", "*", " all "} {
		k, err := ParseTarget(s)
		rt.NoError(err)
		rt.Equal(All, k)
	}

	for _, k := range Kinds() {
		parsed, err := ParseTarget(k.String())
		rt.NoError(err)
		rt.Equal(k, parsed)
	}

	_, err := ParseTarget("not-a-real-event")
	rt.ErrorIs(err, ErrInvalidEventTarget)

	_, err = ParseTargets([]string{"connect", "bogus"})
	rt.ErrorIs(err, ErrInvalidEventTarget)

	_, err = ParseTargets(nil)
	rt.ErrorIs(err, ErrInvalidEventTarget)

	kinds, err := ParseTargets([]string{"connect", "disconnect"})
	rt.NoError(err)
	rt.Equal([]Kind{Connect, Disconnect}, kinds)

	bus := NewBus()
	_, err = bus.Subscribe(Kind("bogus"), func([]any, map[string]any) error {
		return nil
	}, nil, nil)
	rt.ErrorIs(err, ErrInvalidEventTarget)
}

// TestPublishOrder makes sure kind specific listeners run before wildcard
// listeners, each in registration order, and that the event is appended to
// the registered arguments.
func TestPublishOrder(t *testing.T) {
	t.Parallel()

	rt := require.New(t)

	var order []string
	wild := &recorder{name: "wild", order: &order}
	first := &recorder{name: "first", order: &order}
	second := &recorder{name: "second", order: &order}
	other := &recorder{name: "other", order: &order}

	bus := NewBus()
	_, err := bus.Subscribe(All, wild.callback, nil, nil)
	rt.NoError(err)
	_, err = bus.Subscribe(UtxoAdded, first.callback, []any{"ctx", 7},
		map[string]any{"wallet": "w1"})
	rt.NoError(err)
	_, err = bus.Subscribe(UtxoAdded, second.callback, nil, nil)
	rt.NoError(err)
	_, err = bus.Subscribe(BalanceChange, other.callback, nil, nil)
	rt.NoError(err)

	ev := Event{Kind: UtxoAdded, Data: &Utxo{Address: "A", Amount: 100}}
	rt.NoError(bus.Publish(ev))

	rt.Equal([]string{"first", "second", "wild"}, order)
	rt.Empty(other.events)

	rt.Equal([]any{"ctx", 7, ev}, first.args[0])
	rt.Equal(map[string]any{"wallet": "w1"}, first.kwargs[0])
	rt.Equal([]any{ev}, second.args[0])

	payload := second.events[0].Data.(*Utxo)
	rt.Equal("A", payload.Address)
	rt.EqualValues(100, payload.Amount)
}

// TestFailingListener ensures a listener that errors or panics is reported
// without preventing delivery to later listeners.
func TestFailingListener(t *testing.T) {
	t.Parallel()

	rt := require.New(t)

	var delivered int
	bus := NewBus()
	failHandle, err := bus.Subscribe(BalanceChange, func([]any,
		map[string]any) error {

		return errors.New("boom")
	}, nil, nil)
	rt.NoError(err)
	panicHandle, err := bus.Subscribe(BalanceChange, func([]any,
		map[string]any) error {

		panic("listener bug")
	}, nil, nil)
	rt.NoError(err)
	_, err = bus.Subscribe(All, func([]any, map[string]any) error {
		delivered++
		return nil
	}, nil, nil)
	rt.NoError(err)

	err = bus.Publish(Event{Kind: BalanceChange})
	rt.Error(err)
	rt.Equal(1, delivered)
	rt.ErrorIs(err, ErrListenerInvocationFailed)

	joined, ok := err.(interface{ Unwrap() []error })
	rt.True(ok)
	errs := joined.Unwrap()
	rt.Len(errs, 2)

	var lerr *ListenerError
	rt.ErrorAs(errs[0], &lerr)
	rt.Equal(failHandle, lerr.Handle)
	rt.Empty(lerr.Trace)
	rt.EqualError(lerr.Err, "boom")

	rt.ErrorAs(errs[1], &lerr)
	rt.Equal(panicHandle, lerr.Handle)
	rt.Equal(BalanceChange, lerr.Kind)
	rt.Contains(lerr.Err.Error(), "listener bug")
	rt.Contains(lerr.Trace, "goroutine")
}

// TestUnsubscribe covers removal by handle, by callback identity, by target
// and in bulk.
func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	rt := require.New(t)

	var order []string
	a := &recorder{name: "a", order: &order}
	b := &recorder{name: "b", order: &order}

	bus := NewBus()
	cbA := a.callback
	h, err := bus.Subscribe(Connect, cbA, nil, nil)
	rt.NoError(err)
	_, err = bus.Subscribe(Disconnect, cbA, nil, nil)
	rt.NoError(err)
	_, err = bus.Subscribe(Connect, b.callback, nil, nil)
	rt.NoError(err)

	rt.True(bus.Unsubscribe(h))
	rt.False(bus.Unsubscribe(h))
	rt.Equal(1, bus.Len(Connect))

	rt.NoError(bus.Publish(Event{Kind: Connect}))
	rt.Equal([]string{"b"}, order)

	// Removing a callback from every kind uses the wildcard target.
	fn := func([]any, map[string]any) error { return nil }
	_, err = bus.Subscribe(Connect, fn, nil, nil)
	rt.NoError(err)
	_, err = bus.Subscribe(All, fn, nil, nil)
	rt.NoError(err)
	rt.Equal(2, bus.UnsubscribeCallback(All, fn))
	rt.Equal(0, bus.Len(All))

	rt.Equal(1, bus.UnsubscribeKind(Disconnect))
	rt.Equal(0, bus.Len(Disconnect))

	rt.Equal(1, bus.UnsubscribeAll())
	rt.Equal(0, bus.Len(Connect))
}

// TestListenerMutatesBus checks that listeners may change registrations
// while an event is being delivered.
func TestListenerMutatesBus(t *testing.T) {
	t.Parallel()

	rt := require.New(t)

	var calls int
	bus := NewBus()
	var self Handle
	self, err := bus.Subscribe(All, func([]any, map[string]any) error {
		calls++
		bus.Unsubscribe(self)
		return nil
	}, nil, nil)
	rt.NoError(err)

	rt.NoError(bus.Publish(Event{Kind: Maturity}))
	rt.NoError(bus.Publish(Event{Kind: Maturity}))
	rt.Equal(1, calls)
}

// TestRegistrationArgsCopied checks that changing the args or kwargs after
// registering a listener does not change what it is invoked with.
func TestRegistrationArgsCopied(t *testing.T) {
	t.Parallel()

	rt := require.New(t)

	var order []string
	r := &recorder{name: "r", order: &order}

	args := []any{"wallet"}
	kwargs := map[string]any{"account": 0}

	bus := NewBus()
	_, err := bus.Subscribe(Maturity, r.callback, args, kwargs)
	rt.NoError(err)

	args[0] = "changed"
	kwargs["account"] = 1
	kwargs["extra"] = true

	rt.NoError(bus.Publish(Event{Kind: Maturity}))
	rt.Len(r.args, 1)
	rt.Equal("wallet", r.args[0][0])
	rt.Equal(map[string]any{"account": 0}, r.kwargs[0])

	// A listener registered without kwargs still receives none.
	var got map[string]any
	_, err = bus.Subscribe(Stasis, func(_ []any, kw map[string]any) error {
		got = kw
		return nil
	}, nil, nil)
	rt.NoError(err)
	rt.NoError(bus.Publish(Event{Kind: Stasis}))
	rt.Nil(got)
}

// TestSealedBus makes sure nothing is delivered once the bus is sealed.
func TestSealedBus(t *testing.T) {
	t.Parallel()

	rt := require.New(t)

	var calls int
	bus := NewBus()
	_, err := bus.Subscribe(All, func([]any, map[string]any) error {
		calls++
		return nil
	}, nil, nil)
	rt.NoError(err)

	bus.Seal()
	rt.True(bus.Sealed())
	rt.NoError(bus.Publish(Event{Kind: UtxoProcStop}))
	rt.Zero(calls)
}

// TestEventJSON checks the tagged kind/data shape of an encoded event.
func TestEventJSON(t *testing.T) {
	t.Parallel()

	rt := require.New(t)

	b, err := json.Marshal(Event{
		Kind: DaaScoreChange,
		Data: &DaaScoreInfo{CurrentDAAScore: 42},
	})
	rt.NoError(err)
	rt.JSONEq(`{"kind":"daa-score-change","data":{"currentDaaScore":42}}`,
		string(b))
}

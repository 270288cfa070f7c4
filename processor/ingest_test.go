package processor

import (
	"errors"
	"testing"

	"github.com/btcsuite/utxowatch/chain"
	"github.com/btcsuite/utxowatch/events"
	"github.com/btcsuite/utxowatch/utxo"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// TestUtxoAddedEvent checks that a single added output is announced exactly
// once to a listener of utxo-added events.
func TestUtxoAddedEvent(t *testing.T) {
	t.Parallel()

	rt := require.New(t)
	h := newTestHarness(t)
	h.start()

	var added []events.Event
	_, err := h.proc.AddEventListener("utxo-added",
		func(args []any, _ map[string]any) error {
			added = append(added, args[len(args)-1].(events.Event))
			return nil
		}, nil, nil,
	)
	rt.NoError(err)

	h.apply(chain.UtxoAdded{Entry: testEntry(addrA, 1, 100, 1000, false)})

	rt.Len(added, 1)
	rt.Equal(events.UtxoAdded, added[0].Kind)
	payload := added[0].Data.(*events.Utxo)
	rt.Equal(addrA, payload.Address)
	rt.EqualValues(100, payload.Amount)

	rt.Equal([]events.Kind{
		events.UtxoAdded, events.Pending, events.BalanceChange,
	}, h.rec.kinds())

	bal := h.rec.ofKind(events.BalanceChange)[0].Data.(*events.Balance)
	rt.Equal(addrA, bal.Address)
	rt.EqualValues(100, bal.Balance.Pending)
	rt.Equal(1, bal.Balance.PendingCount)
}

// TestIngestReplay checks that replayed and unknown notifications leave the
// index untouched and announce nothing.
func TestIngestReplay(t *testing.T) {
	t.Parallel()

	rt := require.New(t)

	entry := testEntry(addrA, 1, 100, 900, false)
	h := newTestHarness(t, entry)
	h.start()

	h.apply(chain.UtxoAdded{Entry: entry})
	h.apply(chain.UtxoRemoved{Entry: testEntry(addrA, 2, 1, 900, false)})
	h.apply(chain.UtxoAdded{Entry: testEntry(addrC, 3, 1, 900, false)})
	h.apply(chain.UtxoAdded{})
	h.apply(struct{}{})

	rt.Empty(h.rec.kinds())
	rt.Equal(1, h.proc.index.Len())
	rt.Empty(h.proc.UTXOs(addrC))

	// Removal only needs the outpoint.
	h.apply(chain.UtxoRemoved{Entry: &utxo.Entry{
		Outpoint: entry.Outpoint,
	}})
	rt.Zero(h.proc.index.Len())
	rt.Equal([]events.Kind{events.UtxoRemoved, events.BalanceChange},
		h.rec.kinds())
	rt.Equal(addrA,
		h.rec.ofKind(events.UtxoRemoved)[0].Data.(*events.Utxo).Address)
}

// TestIngestNetEffect checks that applying a sequence of additions and
// removals leaves exactly their net effect in the index and balances.
func TestIngestNetEffect(t *testing.T) {
	t.Parallel()

	rt := require.New(t)
	h := newTestHarness(t)
	h.start()

	e1 := testEntry(addrA, 1, 10, 990, false)
	e2 := testEntry(addrA, 2, 20, 995, false)
	e3 := testEntry(addrB, 3, 30, 1000, false)
	for _, n := range []interface{}{
		chain.UtxoAdded{Entry: e1},
		chain.UtxoAdded{Entry: e2},
		chain.UtxoRemoved{Entry: e1},
		chain.UtxoAdded{Entry: e3},
		chain.UtxoAdded{Entry: e1},
		chain.UtxoRemoved{Entry: e2},
	} {
		h.apply(n)
	}

	rt.Equal(2, h.proc.index.Len())
	rt.Len(h.proc.UTXOs(addrA), 1)
	rt.Equal(e1.Outpoint, h.proc.UTXOs(addrA)[0].Outpoint)

	total := h.proc.TotalBalance()
	rt.EqualValues(10, total.Mature)
	rt.EqualValues(30, total.Pending)
	rt.Len(h.rec.ofKind(events.UtxoAdded), 4)
	rt.Len(h.rec.ofKind(events.UtxoRemoved), 2)
}

// TestFailingListener checks that a listener that fails or panics does not
// keep the event from other listeners or stop processing.
func TestFailingListener(t *testing.T) {
	t.Parallel()

	rt := require.New(t)
	h := newTestHarness(t)
	h.start()

	_, err := h.proc.AddEventListener(events.UtxoAdded,
		func([]any, map[string]any) error {
			return errors.New("listener failure")
		}, nil, nil,
	)
	rt.NoError(err)
	_, err = h.proc.AddEventListener([]string{"utxo-added", "balance"},
		func([]any, map[string]any) error {
			panic("listener panic")
		}, nil, nil,
	)
	rt.NoError(err)

	var delivered int
	_, err = h.proc.AddEventListener(events.UtxoAdded,
		func([]any, map[string]any) error {
			delivered++
			return nil
		}, nil, nil,
	)
	rt.NoError(err)

	h.apply(chain.UtxoAdded{Entry: testEntry(addrA, 1, 100, 1000, false)})

	rt.Equal(1, delivered)
	rt.Len(h.proc.UTXOs(addrA), 1)
	rt.Equal([]events.Kind{
		events.UtxoAdded, events.Pending, events.BalanceChange,
	}, h.rec.kinds())
	rt.Equal(3.0, testutil.ToFloat64(h.proc.metrics.listenerFailures))

	// Processing continues with the next notification.
	h.apply(chain.UtxoAdded{Entry: testEntry(addrA, 2, 5, 1000, false)})
	rt.Equal(2, delivered)
}

// TestReorg checks that a reorg drops the outputs accepted above the new tip.
func TestReorg(t *testing.T) {
	t.Parallel()

	rt := require.New(t)

	settled := testEntry(addrA, 1, 100, 990, false)
	orphanA := testEntry(addrA, 2, 20, 998, false)
	orphanB := testEntry(addrB, 3, 30, 999, true)
	h := newTestHarness(t, settled, orphanA, orphanB)
	h.start()

	h.apply(chain.ReorgOccurred{TipDAAScore: 995})

	rt.Equal([]events.Kind{
		events.Reorg,
		events.UtxoRemoved,
		events.UtxoRemoved,
		events.DaaScoreChange,
		events.BalanceChange,
		events.BalanceChange,
	}, h.rec.kinds())

	info := h.rec.ofKind(events.Reorg)[0].Data.(*events.ReorgInfo)
	rt.EqualValues(995, info.TipDAAScore)
	rt.Equal(2, info.Removed)

	rt.Equal(1, h.proc.index.Len())
	rt.EqualValues(995, h.proc.CurrentDAAScore())

	balA, _ := h.proc.Balance(addrA)
	rt.EqualValues(0, balA.Mature)
	rt.EqualValues(100, balA.Pending)
	rt.Equal(1, balA.PendingCount)

	balB, _ := h.proc.Balance(addrB)
	rt.Zero(balB.Total())

	// The tip moves forward again from the reorg tip.
	h.rec.reset()
	h.apply(chain.DaaScoreChanged{DAAScore: 1000})
	rt.Len(h.rec.ofKind(events.Maturity), 1)
}

// TestReorgForward checks that a reorg onto a higher tip announces the
// tip change and the outputs it matures, and that they are not announced
// again by a later advance.
func TestReorgForward(t *testing.T) {
	t.Parallel()

	rt := require.New(t)

	entry := testEntry(addrA, 1, 100, 1000, false)
	h := newTestHarness(t)
	h.start()
	h.apply(chain.UtxoAdded{Entry: entry})
	h.rec.reset()

	h.apply(chain.ReorgOccurred{TipDAAScore: 1020})

	rt.Equal([]events.Kind{
		events.Reorg,
		events.DaaScoreChange,
		events.Maturity,
		events.BalanceChange,
	}, h.rec.kinds())

	score := h.rec.ofKind(events.DaaScoreChange)[0].Data.(*events.DaaScoreInfo)
	rt.EqualValues(1020, score.CurrentDAAScore)
	rt.EqualValues(1020, h.proc.CurrentDAAScore())

	bal, _ := h.proc.Balance(addrA)
	rt.EqualValues(100, bal.Mature)
	rt.Zero(bal.Pending)

	h.apply(chain.DaaScoreChanged{DAAScore: 1030})
	rt.Len(h.rec.ofKind(events.Maturity), 1)
}

// TestMaturityOnce checks that a tip advance announces each output's status
// change exactly once.
func TestMaturityOnce(t *testing.T) {
	t.Parallel()

	rt := require.New(t)
	h := newTestHarness(t)
	h.start()

	user := testEntry(addrA, 1, 100, 1000, false)
	coinbase := testEntry(addrB, 2, 500, 1000, true)
	h.apply(chain.UtxoAdded{Entry: user})
	h.apply(chain.UtxoAdded{Entry: coinbase})
	rt.Len(h.rec.ofKind(events.Pending), 1)
	rt.Len(h.rec.ofKind(events.Stasis), 1)

	statuses := func() []string {
		var s []string
		for _, ev := range h.rec.ofKind(events.Pending,
			events.Maturity, events.Stasis) {

			u := ev.Data.(*events.Utxo)
			s = append(s, u.Address+":"+u.Status)
		}
		return s
	}

	steps := []struct {
		score    uint64
		statuses []string
		daa      int
	}{
		{1005, nil, 1},
		{1010, []string{addrA + ":mature"}, 1},
		{1020, nil, 1},
		{1015, nil, 0},
		{1050, []string{addrB + ":pending"}, 1},
		{1099, nil, 1},
		{1100, []string{addrB + ":mature"}, 1},
		{2000, nil, 1},
	}
	for _, step := range steps {
		h.rec.reset()
		h.apply(chain.DaaScoreChanged{DAAScore: step.score})

		rt.Equal(step.statuses, statuses(), "score %d", step.score)
		rt.Len(h.rec.ofKind(events.DaaScoreChange), step.daa,
			"score %d", step.score)
	}

	total := h.proc.TotalBalance()
	rt.EqualValues(600, total.Mature)
	rt.Zero(total.Pending)
	rt.EqualValues(2000, h.proc.CurrentDAAScore())
	rt.Equal(2000.0, testutil.ToFloat64(h.proc.metrics.daaScore))
}

// TestIngestDiscardedWhileIdle checks that notifications applied before the
// processor is started are dropped.
func TestIngestDiscardedWhileIdle(t *testing.T) {
	t.Parallel()

	rt := require.New(t)
	h := newTestHarness(t)

	h.apply(chain.UtxoAdded{Entry: testEntry(addrA, 1, 100, 900, false)})
	h.apply(chain.DaaScoreChanged{DAAScore: 5000})

	rt.Zero(h.proc.index.Len())
	rt.Zero(h.proc.CurrentDAAScore())
	rt.Empty(h.rec.kinds())
	rt.Equal(2.0, testutil.ToFloat64(h.proc.metrics.discarded))
}

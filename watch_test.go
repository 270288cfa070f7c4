package main

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/utxowatch/events"
	"github.com/btcsuite/utxowatch/utxo"
	"github.com/stretchr/testify/require"
)

// TestBalanceWatcher checks that a low balance is reported once per drop.
func TestBalanceWatcher(t *testing.T) {
	t.Parallel()

	rt := require.New(t)

	var total utxo.Balance
	w := newBalanceWatcher(100, func() utxo.Balance { return total })

	deliver := func(mature btcutil.Amount) {
		total.Mature = mature
		ev := events.Event{
			Kind: events.BalanceChange,
			Data: &events.Balance{
				Address: "kaspasim:alice",
				Balance: total,
			},
		}
		rt.NoError(w.onBalance([]any{ev}, nil))
	}

	deliver(150)
	rt.False(w.low)

	deliver(99)
	rt.True(w.low)

	deliver(50)
	rt.True(w.low)

	deliver(100)
	rt.False(w.low)

	// Other events and a disabled threshold are ignored.
	rt.NoError(w.onBalance([]any{events.Event{Kind: events.Connect}}, nil))
	off := newBalanceWatcher(0, func() utxo.Balance {
		t.Fatal("total queried without a threshold")
		return utxo.Balance{}
	})
	total.Mature = 0
	rt.NoError(off.onBalance([]any{events.Event{
		Kind: events.BalanceChange,
		Data: &events.Balance{Balance: total},
	}}, nil))
	rt.False(off.low)
}

// TestLogEvent checks that logging never fails delivery.
func TestLogEvent(t *testing.T) {
	t.Parallel()

	rt := require.New(t)

	rt.NoError(logEvent([]any{"extra", events.Event{
		Kind: events.Maturity,
		Data: &events.Utxo{Address: "kaspasim:alice", Amount: 5},
	}}, nil))
	rt.NoError(logEvent([]any{events.Event{
		Kind: events.Error,
		Data: &events.ErrorInfo{Message: "boom"},
	}}, nil))
	rt.NoError(logEvent([]any{42}, nil))

	rt.Equal("0.25 KAS", kas(25e6))
}

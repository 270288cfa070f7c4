// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/utxowatch/events"
	"github.com/btcsuite/utxowatch/utxo"
)

// kas formats an amount in whole coins.
func kas(a btcutil.Amount) string {
	return strconv.FormatFloat(a.ToBTC(), 'f', -1, 64) + " KAS"
}

// logEvent logs every processor event.  Failures are logged as warnings and
// everything else at debug level, with output status changes at info.
func logEvent(args []any, _ map[string]any) error {
	ev, ok := args[len(args)-1].(events.Event)
	if !ok {
		return nil
	}

	switch ev.Kind {
	case events.Error, events.UtxoProcError, events.UtxoIndexNotEnabled:
		log.Warnf("%v: %v", ev.Kind, ev)

	case events.Connect, events.Disconnect, events.UtxoProcStart,
		events.UtxoProcStop, events.Reorg:

		log.Infof("%v", ev)

	case events.Maturity, events.Discovery:
		u := ev.Data.(*events.Utxo)
		log.Infof("%v %v:%d for %v (%v)", ev.Kind, u.TransactionID,
			u.Index, u.Address, kas(u.Amount))

	default:
		log.Debugf("%v", ev)
	}

	return nil
}

// balanceWatcher warns when the aggregate mature balance drops below a
// threshold and reports when it recovers.  It is only called from the
// processor's event delivery so it needs no locking.
type balanceWatcher struct {
	threshold btcutil.Amount
	total     func() utxo.Balance
	low       bool
}

func newBalanceWatcher(threshold btcutil.Amount,
	total func() utxo.Balance) *balanceWatcher {

	return &balanceWatcher{
		threshold: threshold,
		total:     total,
	}
}

// onBalance is the balance event listener.
func (w *balanceWatcher) onBalance(args []any, _ map[string]any) error {
	ev, ok := args[len(args)-1].(events.Event)
	if !ok || ev.Kind != events.BalanceChange {
		return nil
	}

	bal := ev.Data.(*events.Balance)
	log.Infof("Balance of %v: %v mature (%d %s), %v pending (%d %s)",
		bal.Address, kas(bal.Balance.Mature), bal.Balance.MatureCount,
		pickNoun(bal.Balance.MatureCount, "output", "outputs"),
		kas(bal.Balance.Pending), bal.Balance.PendingCount,
		pickNoun(bal.Balance.PendingCount, "output", "outputs"))

	if w.threshold == 0 {
		return nil
	}

	mature := w.total().Mature
	switch {
	case mature < w.threshold && !w.low:
		w.low = true
		log.Warnf("Mature balance %v is below %v", kas(mature),
			kas(w.threshold))

	case mature >= w.threshold && w.low:
		w.low = false
		log.Infof("Mature balance %v is back above %v", kas(mature),
			kas(w.threshold))
	}

	return nil
}

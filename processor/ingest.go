// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package processor

import (
	"context"
	"sort"

	"github.com/btcsuite/utxowatch/chain"
	"github.com/btcsuite/utxowatch/events"
	"github.com/btcsuite/utxowatch/maturity"
	"github.com/btcsuite/utxowatch/utxo"
	"github.com/davecgh/go-spew/spew"
)

// Notification type labels used by the metrics.
const (
	labelAdded    = "utxo_added"
	labelRemoved  = "utxo_removed"
	labelReorg    = "reorg"
	labelDaaScore = "daa_score"
)

// handleNotification applies a single transport notification.  UTXO
// notifications are only applied while active; in any other state they are
// discarded since the next resync recovers them.
func (p *Processor) handleNotification(ctx context.Context, n interface{}) {
	log.Tracef("Handling notification %v", newLogClosure(func() string {
		return spew.Sdump(n)
	}))

	switch n := n.(type) {
	case chain.ConnectionStateChanged:
		if !n.Connected {
			p.handleDisconnect()
			return
		}
		if p.State() == StateReconnecting {
			p.tryResync(ctx)
		}

	case chain.UtxoAdded:
		if p.discard(n) {
			return
		}
		p.applyAdded(n.Entry)
		p.metrics.notifications.WithLabelValues(labelAdded).Inc()

	case chain.UtxoRemoved:
		if p.discard(n) {
			return
		}
		p.applyRemoved(n.Entry)
		p.metrics.notifications.WithLabelValues(labelRemoved).Inc()

	case chain.ReorgOccurred:
		if p.discard(n) {
			return
		}
		p.applyReorg(n.TipDAAScore)
		p.metrics.notifications.WithLabelValues(labelReorg).Inc()

	case chain.DaaScoreChanged:
		if p.discard(n) {
			return
		}
		p.applyDaaScore(n.DAAScore)
		p.metrics.notifications.WithLabelValues(labelDaaScore).Inc()

	default:
		log.Warnf("Ignoring unknown notification type %T", n)
		return
	}

	p.metrics.observe(p.index, p.tracker)
}

// discard reports whether a chain notification must be dropped because the
// processor is not active.
func (p *Processor) discard(n interface{}) bool {
	if state := p.State(); state != StateActive {
		log.Debugf("Discarding %T while %s", n, state)
		p.metrics.discarded.Inc()
		return true
	}
	return false
}

// statusKind maps a maturity status to the event announcing it.
func statusKind(s maturity.Status) events.Kind {
	switch s {
	case maturity.Mature:
		return events.Maturity
	case maturity.Stasis:
		return events.Stasis
	default:
		return events.Pending
	}
}

// applyAdded inserts a new output.  A replayed outpoint is skipped.
func (p *Processor) applyAdded(entry *utxo.Entry) {
	if entry == nil {
		return
	}
	if !p.index.HasAddress(entry.Address) {
		log.Debugf("Skipping output %v of untracked address %s",
			entry.Outpoint, entry.Address)
		return
	}

	if err := p.index.Insert(entry.Clone()); err != nil {
		log.Debugf("Skipping output: %v", err)
		return
	}

	status := p.tracker.Status(entry)
	p.publish(events.UtxoAdded, events.NewUtxo(entry, status))
	p.publish(statusKind(status), events.NewUtxo(entry, status))
	p.recompute(entry.Address)
}

// applyRemoved removes a spent output.  An unknown outpoint is skipped.
func (p *Processor) applyRemoved(entry *utxo.Entry) {
	if entry == nil {
		return
	}

	removed, err := p.index.Remove(entry.Outpoint)
	if err != nil {
		log.Debugf("Skipping removal: %v", err)
		return
	}

	p.publish(events.UtxoRemoved, events.NewUtxo(
		removed, p.tracker.Status(removed),
	))
	p.recompute(removed.Address)
}

// applyReorg drops every output accepted above the new tip and moves the
// tip to it.
func (p *Processor) applyReorg(tip uint64) {
	var orphaned []*utxo.Entry
	for _, addr := range p.index.Addresses() {
		for _, entry := range p.index.Snapshot(addr) {
			if entry.BlockDAAScore > tip {
				orphaned = append(orphaned, entry)
			}
		}
	}

	log.Infof("Reorg to DAA score %d orphaned %d outputs", tip,
		len(orphaned))

	p.publish(events.Reorg, &events.ReorgInfo{
		TipDAAScore: tip,
		Removed:     len(orphaned),
	})

	touched := make(map[string]struct{})
	for _, entry := range orphaned {
		status := p.tracker.Status(entry)
		if _, err := p.index.Remove(entry.Outpoint); err != nil {
			log.Debugf("Skipping removal: %v", err)
			continue
		}
		touched[entry.Address] = struct{}{}
		p.publish(events.UtxoRemoved, events.NewUtxo(entry, status))
	}

	oldTip := p.tracker.Tip()
	changed, transitions := p.tracker.Advance(tip)
	if tip != oldTip {
		p.publish(events.DaaScoreChange, &events.DaaScoreInfo{
			CurrentDAAScore: tip,
		})
	}

	// A heavier chain may move the tip forward.  Rewinds are not
	// announced since the orphaned outputs already were.
	if tip > oldTip {
		for _, t := range transitions {
			p.publish(statusKind(t.To), events.NewUtxo(t.Entry, t.To))
		}
	}

	for _, addr := range changed {
		touched[addr] = struct{}{}
	}
	p.publishBalances(touched)
}

// applyDaaScore advances the tip and announces every output whose maturity
// status changed.  Scores that do not move the tip forward are ignored since
// rewinds are announced by reorgs.
func (p *Processor) applyDaaScore(score uint64) {
	if score <= p.tracker.Tip() {
		return
	}

	changed, transitions := p.tracker.Advance(score)
	p.publish(events.DaaScoreChange, &events.DaaScoreInfo{
		CurrentDAAScore: score,
	})

	for _, t := range transitions {
		p.publish(statusKind(t.To), events.NewUtxo(t.Entry, t.To))
	}

	touched := make(map[string]struct{}, len(changed))
	for _, addr := range changed {
		touched[addr] = struct{}{}
	}
	p.publishBalances(touched)
}

// recompute re-derives the balance of an address and publishes it when it
// changed.
func (p *Processor) recompute(addr string) {
	bal, changed := p.tracker.Recompute(addr)
	if !changed {
		return
	}
	p.publish(events.BalanceChange, &events.Balance{
		Address: addr,
		Balance: bal,
	})
}

// publishBalances publishes the current balance of every address in the
// set, in lexicographic order.  Addresses that are no longer tracked are
// skipped.
func (p *Processor) publishBalances(addrs map[string]struct{}) {
	sorted := make([]string, 0, len(addrs))
	for addr := range addrs {
		sorted = append(sorted, addr)
	}
	sort.Strings(sorted)

	for _, addr := range sorted {
		if !p.index.HasAddress(addr) {
			continue
		}

		// Recompute is a no-op when Advance already stored the
		// balance, so fetch it afterwards for the payload.
		p.tracker.Recompute(addr)
		bal, _ := p.tracker.Balance(addr)
		p.publish(events.BalanceChange, &events.Balance{
			Address: addr,
			Balance: bal,
		})
	}
}

// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utxo

import (
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/utxowatch/maturity"
	"github.com/btcsuite/utxowatch/netparams"
)

// Balance describes the funds of an address, or of every tracked address in
// aggregate, split by maturity.  Outputs in coinbase stasis are counted as
// pending so that Mature+Pending always equals Total.
type Balance struct {
	Mature       btcutil.Amount `json:"mature"`
	Pending      btcutil.Amount `json:"pending"`
	MatureCount  int            `json:"matureUtxoCount"`
	PendingCount int            `json:"pendingUtxoCount"`
	StasisCount  int            `json:"stasisUtxoCount"`
}

// Total returns the sum of mature and pending funds.
func (b Balance) Total() btcutil.Amount {
	return b.Mature + b.Pending
}

// add returns the component-wise sum of two balances.
func (b Balance) add(o Balance) Balance {
	return Balance{
		Mature:       b.Mature + o.Mature,
		Pending:      b.Pending + o.Pending,
		MatureCount:  b.MatureCount + o.MatureCount,
		PendingCount: b.PendingCount + o.PendingCount,
		StasisCount:  b.StasisCount + o.StasisCount,
	}
}

// sub returns the component-wise difference of two balances.
func (b Balance) sub(o Balance) Balance {
	return Balance{
		Mature:       b.Mature - o.Mature,
		Pending:      b.Pending - o.Pending,
		MatureCount:  b.MatureCount - o.MatureCount,
		PendingCount: b.PendingCount - o.PendingCount,
		StasisCount:  b.StasisCount - o.StasisCount,
	}
}

// Transition records an entry whose maturity status changed when the tip
// moved.
type Transition struct {
	Entry *Entry
	From  maturity.Status
	To    maturity.Status
}

// Tracker derives per-address and aggregate balances from an Index.  A
// mutation of one address only recomputes that address; the aggregate is
// maintained by applying the per-address delta.
type Tracker struct {
	index  *Index
	policy *maturity.Policy

	mtx      sync.RWMutex
	net      netparams.NetworkID
	tip      uint64
	balances map[string]Balance
	total    Balance

	// seen is the policy version the balances were last derived with.
	seen uint64
}

// NewTracker returns a tracker over the index that evaluates maturity with
// the policy of the given network.
func NewTracker(index *Index, policy *maturity.Policy,
	net netparams.NetworkID) *Tracker {

	return &Tracker{
		index:    index,
		policy:   policy,
		net:      net,
		balances: make(map[string]Balance),
		seen:     policy.Version(),
	}
}

// compute evaluates the entries at the tip.
func (t *Tracker) compute(entries []*Entry, net netparams.NetworkID,
	tip uint64) Balance {

	var b Balance
	for _, entry := range entries {
		switch t.policy.Status(net, entry, tip) {
		case maturity.Mature:
			b.Mature += entry.Amount
			b.MatureCount++
		case maturity.Stasis:
			b.Pending += entry.Amount
			b.StasisCount++
		default:
			b.Pending += entry.Amount
			b.PendingCount++
		}
	}
	return b
}

// Recompute re-derives the balance of a single address from the index and
// returns it along with whether it differs from the previous value.
func (t *Tracker) Recompute(addr string) (Balance, bool) {
	entries := t.index.Snapshot(addr)

	t.mtx.Lock()
	defer t.mtx.Unlock()

	return t.recomputeLocked(addr, entries)
}

// recomputeLocked stores the balance of the entries for the address.
//
// The caller must hold the write lock.
func (t *Tracker) recomputeLocked(addr string, entries []*Entry) (Balance,
	bool) {

	b := t.compute(entries, t.net, t.tip)
	old, ok := t.balances[addr]
	t.balances[addr] = b
	t.total = t.total.sub(old).add(b)

	return b, !ok || old != b
}

// Forget drops the balance of an address that is no longer tracked.
func (t *Tracker) Forget(addr string) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if old, ok := t.balances[addr]; ok {
		t.total = t.total.sub(old)
		delete(t.balances, addr)
	}
}

// Reset forgets every balance and rewinds the tip.
func (t *Tracker) Reset() {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	t.balances = make(map[string]Balance)
	t.total = Balance{}
	t.tip = 0
}

// Tip returns the latest known DAA score.
func (t *Tracker) Tip() uint64 {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	return t.tip
}

// Network returns the network whose policy is applied.
func (t *Tracker) Network() netparams.NetworkID {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	return t.net
}

// SetNetwork switches the network whose policy is applied.  Balances are not
// re-derived until the next RecomputeAll or Advance.
func (t *Tracker) SetNetwork(net netparams.NetworkID) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	t.net = net
}

// Status returns the maturity status of the entry at the current tip.
func (t *Tracker) Status(entry *Entry) maturity.Status {
	t.mtx.RLock()
	net, tip := t.net, t.tip
	t.mtx.RUnlock()

	return t.policy.Status(net, entry, tip)
}

// RecomputeAll re-derives every tracked address at the current tip and
// returns the addresses whose balance changed.
func (t *Tracker) RecomputeAll() []string {
	t.mtx.RLock()
	tip := t.tip
	t.mtx.RUnlock()

	changed, _ := t.Advance(tip)
	return changed
}

// Advance moves the tip and re-derives every tracked address.  It returns
// the addresses whose balance changed and every entry whose maturity status
// changed, in address then insertion order.  Moving the tip backwards is
// allowed since a reorg may lower it.
func (t *Tracker) Advance(tip uint64) ([]string, []Transition) {
	addrs := t.index.Addresses()
	snapshots := make([][]*Entry, len(addrs))
	for i, addr := range addrs {
		snapshots[i] = t.index.Snapshot(addr)
	}

	t.mtx.Lock()
	defer t.mtx.Unlock()

	var (
		changed     []string
		transitions []Transition
		oldTip      = t.tip
		version     = t.policy.Version()
	)
	t.tip = tip
	for i, addr := range addrs {
		for _, entry := range snapshots[i] {
			from := t.policy.Status(t.net, entry, oldTip)
			to := t.policy.Status(t.net, entry, tip)
			if from != to {
				transitions = append(transitions, Transition{
					Entry: entry,
					From:  from,
					To:    to,
				})
			}
		}

		if _, ok := t.recomputeLocked(addr, snapshots[i]); ok {
			changed = append(changed, addr)
		}
	}
	t.seen = version

	return changed, transitions
}

// refresh re-derives every balance when the policy changed since they were
// last derived, so reads always reflect the live requirements.
func (t *Tracker) refresh() {
	version := t.policy.Version()

	t.mtx.RLock()
	fresh := t.seen == version
	t.mtx.RUnlock()
	if fresh {
		return
	}

	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.seen == version {
		return
	}

	// The index is read under the write lock so a concurrent writer
	// cannot store a balance derived from an older snapshot afterwards.
	for _, addr := range t.index.Addresses() {
		t.recomputeLocked(addr, t.index.Snapshot(addr))
	}
	t.seen = version
}

// Balance returns the balance of the address under the live policy.
func (t *Tracker) Balance(addr string) (Balance, bool) {
	t.refresh()

	t.mtx.RLock()
	defer t.mtx.RUnlock()

	b, ok := t.balances[addr]
	return b, ok
}

// Total returns the aggregate balance over every tracked address.
func (t *Tracker) Total() Balance {
	t.refresh()

	t.mtx.RLock()
	defer t.mtx.RUnlock()

	return t.total
}

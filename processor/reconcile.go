// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package processor

import (
	"context"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/utxowatch/events"
	"github.com/btcsuite/utxowatch/utxo"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"
)

// fetchUtxos requests the UTXO set of the addresses from the node in batches
// of the configured size, running up to maxConcurrentFetches requests at
// once.  Only entries owned by one of the requested addresses are returned.
func (p *Processor) fetchUtxos(ctx context.Context,
	addrs []string) ([]*utxo.Entry, error) {

	if len(addrs) == 0 {
		return nil, nil
	}

	size := p.cfg.FetchBatchSize
	batches := make([][]string, 0, (len(addrs)+size-1)/size)
	for start := 0; start < len(addrs); start += size {
		end := start + size
		if end > len(addrs) {
			end = len(addrs)
		}
		batches = append(batches, addrs[start:end])
	}

	results := make([][]*utxo.Entry, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, batch := range batches {
		g.Go(func() error {
			entries, err := p.transport.UtxosByAddresses(gctx, batch)
			if err != nil {
				return err
			}
			results[i] = entries

			log.Debugf("Fetched %d outputs for %d addresses",
				len(entries), len(batch))

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	requested := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		requested[addr] = struct{}{}
	}

	return fn.Filter(fn.Flatten(results), func(e *utxo.Entry) bool {
		if e == nil {
			return false
		}
		_, ok := requested[e.Address]
		return ok
	}), nil
}

// utxoDiff is the difference between the retained index and the UTXO set
// reported by the node.
type utxoDiff struct {
	stale []*utxo.Entry
	fresh []*utxo.Entry
}

// diffUtxos compares the retained entries against the authoritative remote
// set.  An outpoint reported with different contents is replaced, so it is
// both stale and fresh.  Fresh entries keep the order the node reported
// them in.
func diffUtxos(local map[wire.OutPoint]*utxo.Entry,
	remote []*utxo.Entry) utxoDiff {

	var (
		diff utxoDiff
		seen = make(map[wire.OutPoint]struct{}, len(remote))
	)
	for _, entry := range remote {
		if _, ok := seen[entry.Outpoint]; ok {
			continue
		}
		seen[entry.Outpoint] = struct{}{}

		old, ok := local[entry.Outpoint]
		switch {
		case !ok:
			diff.fresh = append(diff.fresh, entry)

		case !old.Equal(entry):
			diff.stale = append(diff.stale, old)
			diff.fresh = append(diff.fresh, entry)
		}
	}

	for op, entry := range local {
		if _, ok := seen[op]; !ok {
			diff.stale = append(diff.stale, entry)
		}
	}

	return diff
}

// resync replaces the retained index with the UTXO set the node reports for
// every tracked address, publishing one event per real difference.  The
// remote set is fetched before anything is mutated, so a failed fetch leaves
// the index untouched.
//
// Outputs found by the initial synchronization are announced as discoveries,
// later differences as plain additions and removals.
func (p *Processor) resync(ctx context.Context, tip uint64, initial bool) error {
	addrs := p.index.Addresses()
	remote, err := p.fetchUtxos(ctx, addrs)
	if err != nil {
		return err
	}

	diff := diffUtxos(p.index.Outpoints(), remote)

	log.Debugf("Resync at DAA score %d: %d stale, %d fresh outputs", tip,
		len(diff.stale), len(diff.fresh))

	touched := make(map[string]struct{})
	for _, entry := range diff.stale {
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
	for _, addr := range changed {
		touched[addr] = struct{}{}
	}
	if tip != oldTip {
		p.publish(events.DaaScoreChange, &events.DaaScoreInfo{
			CurrentDAAScore: tip,
		})
	}
	if !initial {
		for _, t := range transitions {
			p.publish(statusKind(t.To), events.NewUtxo(t.Entry, t.To))
		}
	}

	kind := events.UtxoAdded
	if initial {
		kind = events.Discovery
	}
	for _, entry := range diff.fresh {
		if err := p.index.Insert(entry.Clone()); err != nil {
			log.Debugf("Skipping output: %v", err)
			continue
		}
		touched[entry.Address] = struct{}{}
		p.publish(kind, events.NewUtxo(entry, p.tracker.Status(entry)))
	}

	p.publishBalances(touched)
	p.metrics.observe(p.index, p.tracker)

	return nil
}

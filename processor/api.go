// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package processor

import (
	"context"
	"fmt"

	"github.com/btcsuite/utxowatch/events"
	"github.com/btcsuite/utxowatch/maturity"
	"github.com/btcsuite/utxowatch/netparams"
	"github.com/btcsuite/utxowatch/utxo"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// SetCoinbaseTransactionMaturityDAA sets the depth coinbase outputs need on
// the network under the default policy.  It affects every processor created
// without an explicit policy from its next recompute.
func SetCoinbaseTransactionMaturityDAA(net netparams.NetworkID, depth uint64) {
	// The class is always valid.
	_ = maturity.Default.SetRequiredConfirmations(
		net, maturity.Coinbase, depth,
	)
}

// SetUserTransactionMaturityDAA sets the depth user outputs need on the
// network under the default policy.
func SetUserTransactionMaturityDAA(net netparams.NetworkID, depth uint64) {
	_ = maturity.Default.SetRequiredConfirmations(
		net, maturity.User, depth,
	)
}

// NetworkID returns the network the processor applies maturity for, if set.
func (p *Processor) NetworkID() fn.Option[netparams.NetworkID] {
	p.netMtx.RLock()
	defer p.netMtx.RUnlock()

	return p.network
}

// SetNetworkID switches the network whose maturity policy is applied and
// publishes the balances that changed as a result.
func (p *Processor) SetNetworkID(ctx context.Context,
	net netparams.NetworkID) error {

	return p.exec(ctx, func(context.Context) error {
		p.netMtx.Lock()
		p.network = fn.Some(net)
		p.netMtx.Unlock()

		if p.tracker.Network() == net {
			return nil
		}

		log.Infof("Applying maturity policy of %v", net)

		p.tracker.SetNetwork(net)
		touched := make(map[string]struct{})
		for _, addr := range p.tracker.RecomputeAll() {
			touched[addr] = struct{}{}
		}
		p.publishBalances(touched)
		p.metrics.observe(p.index, p.tracker)

		return nil
	})
}

// parseTargets accepts a single target name, a list of names, or kinds.
func parseTargets(target any) ([]events.Kind, error) {
	switch t := target.(type) {
	case string:
		k, err := events.ParseTarget(t)
		if err != nil {
			return nil, err
		}
		return []events.Kind{k}, nil

	case []string:
		return events.ParseTargets(t)

	case events.Kind:
		return parseTargets(string(t))

	case []events.Kind:
		return parseTargets(fn.Map(t, func(k events.Kind) string {
			return string(k)
		}))

	default:
		return nil, fmt.Errorf("%w: unsupported target type %T",
			events.ErrInvalidEventTarget, target)
	}
}

// AddEventListener registers cb for the target, which is an event kind name,
// a list of names, or the wildcard "all".  The args and kwargs are passed to
// every invocation ahead of the event.  Nothing is registered when any
// target is invalid.
func (p *Processor) AddEventListener(target any, cb events.Callback,
	args []any, kwargs map[string]any) ([]events.Handle, error) {

	kinds, err := parseTargets(target)
	if err != nil {
		return nil, err
	}

	handles := make([]events.Handle, 0, len(kinds))
	for _, kind := range kinds {
		h, err := p.bus.Subscribe(kind, cb, args, kwargs)
		if err != nil {
			for _, h := range handles {
				p.bus.Unsubscribe(h)
			}
			return nil, err
		}
		handles = append(handles, h)
	}

	return handles, nil
}

// AddListener registers cb for every event.
func (p *Processor) AddListener(cb events.Callback) (events.Handle, error) {
	return p.bus.Subscribe(events.All, cb, nil, nil)
}

// RemoveEventListener removes cb from the target.  A nil cb removes every
// listener of the target.  When the target is the wildcard, cb is removed
// from every kind it was registered under.  It returns the number of
// removed registrations.
func (p *Processor) RemoveEventListener(target any,
	cb events.Callback) (int, error) {

	kinds, err := parseTargets(target)
	if err != nil {
		return 0, err
	}

	var removed int
	for _, kind := range kinds {
		if cb == nil {
			removed += p.bus.UnsubscribeKind(kind)
			continue
		}
		removed += p.bus.UnsubscribeCallback(kind, cb)
	}

	return removed, nil
}

// RemoveListener removes every registration of cb.
func (p *Processor) RemoveListener(cb events.Callback) int {
	return p.bus.UnsubscribeCallback(events.All, cb)
}

// RemoveAllEventListeners removes every registration.
func (p *Processor) RemoveAllEventListeners() int {
	return p.bus.UnsubscribeAll()
}

// Balance returns the balance of a tracked address.
func (p *Processor) Balance(addr string) (utxo.Balance, bool) {
	return p.tracker.Balance(addr)
}

// TotalBalance returns the aggregate balance of every tracked address.
func (p *Processor) TotalBalance() utxo.Balance {
	return p.tracker.Total()
}

// CurrentDAAScore returns the latest known virtual DAA score.
func (p *Processor) CurrentDAAScore() uint64 {
	return p.tracker.Tip()
}

// UTXOs returns the outputs of the address in the order they were indexed.
func (p *Processor) UTXOs(addr string) []*utxo.Entry {
	return p.index.Snapshot(addr)
}

// MatureUTXOs returns the spendable outputs of the address.
func (p *Processor) MatureUTXOs(addr string) []*utxo.Entry {
	return fn.Filter(p.index.Snapshot(addr), func(e *utxo.Entry) bool {
		return p.tracker.Status(e) == maturity.Mature
	})
}

// PendingUTXOs returns the outputs of the address that are not yet
// spendable, including coinbase outputs in stasis.
func (p *Processor) PendingUTXOs(addr string) []*utxo.Entry {
	return fn.Filter(p.index.Snapshot(addr), func(e *utxo.Entry) bool {
		return p.tracker.Status(e) != maturity.Mature
	})
}

// TrackAddresses starts tracking the addresses.  While active they are
// subscribed and their outputs fetched and announced as discoveries right
// away; otherwise they are picked up by the next synchronization.  When the
// subscription or fetch fails none of the addresses is tracked.
func (p *Processor) TrackAddresses(ctx context.Context, addrs ...string) error {
	return p.exec(ctx, func(ctx context.Context) error {
		var added []string
		for _, addr := range addrs {
			if addr != "" && p.index.AddAddress(addr) {
				added = append(added, addr)
			}
		}
		if len(added) == 0 {
			return nil
		}

		log.Debugf("Tracking %d new addresses", len(added))

		if p.State() != StateActive {
			p.metrics.observe(p.index, p.tracker)
			return nil
		}

		ctx, cancel := p.withTimeout(ctx)
		defer cancel()

		rollback := func() {
			for _, addr := range added {
				p.index.RemoveAddress(addr)
			}
		}

		if err := p.subscribe(ctx, added); err != nil {
			rollback()
			return err
		}

		entries, err := p.fetchUtxos(ctx, added)
		if err != nil {
			if uerr := p.transport.UnsubscribeAddresses(
				ctx, added,
			); uerr != nil {
				log.Warnf("Unable to unsubscribe: %v", uerr)
			}
			rollback()
			return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
		}

		touched := make(map[string]struct{}, len(added))
		for _, addr := range added {
			touched[addr] = struct{}{}
		}
		for _, entry := range entries {
			if err := p.index.Insert(entry.Clone()); err != nil {
				log.Debugf("Skipping output: %v", err)
				continue
			}
			p.publish(events.Discovery, events.NewUtxo(
				entry, p.tracker.Status(entry),
			))
		}
		p.publishBalances(touched)
		p.metrics.observe(p.index, p.tracker)

		return nil
	})
}

// UntrackAddresses stops tracking the addresses and drops their outputs
// without announcing them as removed.  While active the addresses are also
// unsubscribed; a failed unsubscription is only logged.
func (p *Processor) UntrackAddresses(ctx context.Context,
	addrs ...string) error {

	return p.exec(ctx, func(ctx context.Context) error {
		var dropped []string
		for _, addr := range addrs {
			if !p.index.HasAddress(addr) {
				continue
			}
			entries := p.index.RemoveAddress(addr)
			p.tracker.Forget(addr)
			dropped = append(dropped, addr)

			log.Debugf("Untracked %s with %d outputs", addr,
				len(entries))
		}
		p.metrics.observe(p.index, p.tracker)

		if len(dropped) == 0 || p.State() != StateActive {
			return nil
		}

		ctx, cancel := p.withTimeout(ctx)
		defer cancel()

		err := p.transport.UnsubscribeAddresses(ctx, dropped)
		if err != nil {
			log.Warnf("Unable to unsubscribe %d addresses: %v",
				len(dropped), err)
		}

		return nil
	})
}

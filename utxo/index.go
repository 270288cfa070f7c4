// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package utxo keeps the in-memory view of the unspent outputs paying to a
// set of tracked addresses and derives balances from it.
//
// The Index is the sole owner of every Entry.  Each tracked address keeps a
// set of references to the outpoints it owns, and both mappings are always
// updated together under a single write lock so readers never observe an
// outpoint without its owning address or an address referencing a removed
// outpoint.
package utxo

import (
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/wire"
)

// addrEntry is the secondary index of a single address.  The value of each
// outpoint is the insertion sequence number, used to order snapshots.
type addrEntry struct {
	outpoints map[wire.OutPoint]uint64
}

// Index maps outpoints to entries and addresses to the outpoints they own.
// It is safe for concurrent use, although the processor only ever mutates it
// from a single goroutine.
type Index struct {
	mtx     sync.RWMutex
	entries map[wire.OutPoint]*Entry
	addrs   map[string]*addrEntry
	seq     uint64
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		entries: make(map[wire.OutPoint]*Entry),
		addrs:   make(map[string]*addrEntry),
	}
}

// addrEntryLocked returns the address entry, creating it when missing.
//
// The caller must hold the write lock.
func (idx *Index) addrEntryLocked(addr string) *addrEntry {
	ae, ok := idx.addrs[addr]
	if !ok {
		ae = &addrEntry{outpoints: make(map[wire.OutPoint]uint64)}
		idx.addrs[addr] = ae
	}
	return ae
}

// AddAddress starts tracking an address with an empty outpoint set.  Adding
// an address that is already tracked is a no-op.  It returns whether the
// address was newly added.
func (idx *Index) AddAddress(addr string) bool {
	idx.mtx.Lock()
	defer idx.mtx.Unlock()

	_, ok := idx.addrs[addr]
	idx.addrEntryLocked(addr)
	return !ok
}

// RemoveAddress stops tracking an address and drops every entry it owns.
// The dropped entries are returned in insertion order.
func (idx *Index) RemoveAddress(addr string) []*Entry {
	idx.mtx.Lock()
	defer idx.mtx.Unlock()

	ae, ok := idx.addrs[addr]
	if !ok {
		return nil
	}

	removed := idx.snapshotLocked(ae)
	for op := range ae.outpoints {
		delete(idx.entries, op)
	}
	delete(idx.addrs, addr)

	return removed
}

// HasAddress returns whether the address is tracked.
func (idx *Index) HasAddress(addr string) bool {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()

	_, ok := idx.addrs[addr]
	return ok
}

// Addresses returns every tracked address in lexicographic order.
func (idx *Index) Addresses() []string {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()

	addrs := make([]string, 0, len(idx.addrs))
	for addr := range idx.addrs {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	return addrs
}

// Insert adds the entry to the index and to the outpoint set of its address.
// Inserting an outpoint that is already present fails with
// ErrDuplicateOutpoint and leaves the index untouched.
func (idx *Index) Insert(entry *Entry) error {
	idx.mtx.Lock()
	defer idx.mtx.Unlock()

	if _, ok := idx.entries[entry.Outpoint]; ok {
		str := fmt.Sprintf("outpoint %v already indexed",
			entry.Outpoint)
		return indexError(ErrDuplicateOutpoint, str, nil)
	}

	idx.seq++
	idx.entries[entry.Outpoint] = entry
	idx.addrEntryLocked(entry.Address).outpoints[entry.Outpoint] = idx.seq

	return nil
}

// Remove deletes the outpoint from the index and from its address, returning
// the removed entry.  Removing an unknown outpoint fails with ErrNotFound.
func (idx *Index) Remove(op wire.OutPoint) (*Entry, error) {
	idx.mtx.Lock()
	defer idx.mtx.Unlock()

	entry, ok := idx.entries[op]
	if !ok {
		str := fmt.Sprintf("outpoint %v not indexed", op)
		return nil, indexError(ErrNotFound, str, nil)
	}

	delete(idx.entries, op)
	if ae, ok := idx.addrs[entry.Address]; ok {
		delete(ae.outpoints, op)
	}

	return entry, nil
}

// Lookup returns the entry of an outpoint, if indexed.
func (idx *Index) Lookup(op wire.OutPoint) (*Entry, bool) {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()

	entry, ok := idx.entries[op]
	return entry, ok
}

// snapshotLocked returns copies of the entries of an address ordered by
// insertion.
//
// The caller must hold at least the read lock.
func (idx *Index) snapshotLocked(ae *addrEntry) []*Entry {
	type seqEntry struct {
		seq   uint64
		entry *Entry
	}
	ordered := make([]seqEntry, 0, len(ae.outpoints))
	for op, seq := range ae.outpoints {
		ordered = append(ordered, seqEntry{seq, idx.entries[op]})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].seq < ordered[j].seq
	})

	entries := make([]*Entry, len(ordered))
	for i, se := range ordered {
		entries[i] = se.entry.Clone()
	}
	return entries
}

// Snapshot returns an immutable copy of every entry of the address, ordered
// by insertion.
func (idx *Index) Snapshot(addr string) []*Entry {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()

	ae, ok := idx.addrs[addr]
	if !ok {
		return nil
	}
	return idx.snapshotLocked(ae)
}

// Outpoints returns the set of every indexed outpoint with its entry.  The
// returned map is owned by the caller.
func (idx *Index) Outpoints() map[wire.OutPoint]*Entry {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()

	set := make(map[wire.OutPoint]*Entry, len(idx.entries))
	for op, entry := range idx.entries {
		set[op] = entry
	}
	return set
}

// Len returns the number of indexed outpoints.
func (idx *Index) Len() int {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()

	return len(idx.entries)
}

// AddressLen returns the number of outpoints owned by the address.
func (idx *Index) AddressLen(addr string) int {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()

	if ae, ok := idx.addrs[addr]; ok {
		return len(ae.outpoints)
	}
	return 0
}

// Clear drops every entry while keeping the tracked addresses.  It is used
// before a full resync.
func (idx *Index) Clear() {
	idx.mtx.Lock()
	defer idx.mtx.Unlock()

	idx.entries = make(map[wire.OutPoint]*Entry)
	for _, ae := range idx.addrs {
		ae.outpoints = make(map[wire.OutPoint]uint64)
	}
}

// Reset drops every entry and every tracked address.
func (idx *Index) Reset() {
	idx.mtx.Lock()
	defer idx.mtx.Unlock()

	idx.entries = make(map[wire.OutPoint]*Entry)
	idx.addrs = make(map[string]*addrEntry)
}

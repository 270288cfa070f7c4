// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package maturity decides when a tracked output becomes spendable.
//
// Depth is measured in DAA score units, the monotonic chain position counter
// reported by the node, rather than in blocks or wall-clock time.  A Policy
// holds the required depth per network and per transaction class.  Changes
// take effect immediately for every later evaluation, including evaluations
// of outputs that were indexed before the change.
package maturity

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/utxowatch/netparams"
)

// Class is the transaction class an output originates from.
type Class uint8

const (
	// User is an output of an ordinary transaction.
	User Class = iota

	// Coinbase is an output of a coinbase transaction.
	Coinbase
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case User:
		return "user"
	case Coinbase:
		return "coinbase"
	default:
		return fmt.Sprintf("Class(%d)", uint8(c))
	}
}

// ClassOf returns the class of an output given its coinbase flag.
func ClassOf(isCoinbase bool) Class {
	if isCoinbase {
		return Coinbase
	}
	return User
}

// Status is the derived maturity state of an output.
type Status uint8

const (
	// Mature outputs are spendable.
	Mature Status = iota

	// Pending outputs are known but still accumulating depth.
	Pending

	// Stasis is the early phase of a coinbase output during which it is
	// likely to be reorganized out.  It is reported as pending in
	// balances.
	Stasis
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Mature:
		return "mature"
	case Pending:
		return "pending"
	case Stasis:
		return "stasis"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Output is the view of an output the policy needs.
type Output interface {
	DAAScore() uint64
	Coinbase() bool
}

// depths are the requirements configured for a single network.
type depths struct {
	coinbase uint64
	stasis   uint64
	user     uint64
}

// Policy maps a network id to the confirmation depth required per class.  It
// is safe for concurrent use.
type Policy struct {
	mtx      sync.RWMutex
	networks map[netparams.NetworkID]depths

	// version is bumped by every setter so holders of derived state can
	// tell that it went stale.
	version atomic.Uint64
}

// NewPolicy returns a policy seeded with the defaults of every network known
// to netparams.
func NewPolicy() *Policy {
	p := &Policy{
		networks: make(map[netparams.NetworkID]depths),
	}
	for _, params := range netparams.All() {
		p.networks[params.ID] = depthsFromParams(params)
	}
	return p
}

// Default is the process-wide policy used by processors that are not given
// one explicitly.
var Default = NewPolicy()

func depthsFromParams(params *netparams.Params) depths {
	return depths{
		coinbase: params.CoinbaseMaturity,
		stasis:   params.CoinbaseStasis,
		user:     params.UserMaturity,
	}
}

// lookup returns the depths of the network, falling back to the defaults of
// the network family for ids that were never configured.
//
// The caller must hold the read lock.
func (p *Policy) lookup(net netparams.NetworkID) depths {
	if d, ok := p.networks[net]; ok {
		return d
	}
	if net.Type == netparams.Testnet {
		return depthsFromParams(&netparams.TestNet10Params)
	}
	return depthsFromParams(&netparams.MainNetParams)
}

// SetRequiredConfirmations overwrites the depth required for outputs of the
// class on the network.
func (p *Policy) SetRequiredConfirmations(net netparams.NetworkID,
	class Class, depth uint64) error {

	p.mtx.Lock()
	defer p.mtx.Unlock()

	d := p.lookup(net)
	switch class {
	case Coinbase:
		d.coinbase = depth
	case User:
		d.user = depth
	default:
		return fmt.Errorf("unknown transaction class %v", class)
	}
	p.networks[net] = d
	p.version.Add(1)

	return nil
}

// SetStasisPeriod overwrites the coinbase stasis period of the network.
func (p *Policy) SetStasisPeriod(net netparams.NetworkID, depth uint64) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	d := p.lookup(net)
	d.stasis = depth
	p.networks[net] = d
	p.version.Add(1)
}

// Version returns a counter that changes whenever a requirement is set.
func (p *Policy) Version() uint64 {
	return p.version.Load()
}

// RequiredDepth returns the depth currently required for the class.
func (p *Policy) RequiredDepth(net netparams.NetworkID, class Class) uint64 {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	d := p.lookup(net)
	if class == Coinbase {
		return d.coinbase
	}
	return d.user
}

// StasisPeriod returns the coinbase stasis period of the network.
func (p *Policy) StasisPeriod(net netparams.NetworkID) uint64 {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	return p.lookup(net).stasis
}

// age returns how far the tip is past the output's DAA score and whether the
// tip is at or past it at all.
func age(out Output, tip uint64) (uint64, bool) {
	if tip < out.DAAScore() {
		return 0, false
	}
	return tip - out.DAAScore(), true
}

// IsMature reports whether the output has reached the depth required for its
// class at the given tip.
func (p *Policy) IsMature(net netparams.NetworkID, out Output,
	tip uint64) bool {

	depth := p.RequiredDepth(net, ClassOf(out.Coinbase()))
	a, ok := age(out, tip)
	if !ok {
		return depth == 0
	}
	return a >= depth
}

// Status derives the maturity state of the output at the given tip.
func (p *Policy) Status(net netparams.NetworkID, out Output,
	tip uint64) Status {

	p.mtx.RLock()
	d := p.lookup(net)
	p.mtx.RUnlock()

	a, ok := age(out, tip)
	if out.Coinbase() {
		switch {
		case d.coinbase == 0:
			return Mature
		case !ok || a < min(d.stasis, d.coinbase):
			return Stasis
		case a < d.coinbase:
			return Pending
		}
		return Mature
	}

	if d.user == 0 || (ok && a >= d.user) {
		return Mature
	}
	return Pending
}

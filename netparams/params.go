// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NetworkType identifies the family of a network.  Networks of the same type
// may be split into several numbered suffixes, e.g. testnet-10 and testnet-11.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Devnet  NetworkType = "devnet"
	Simnet  NetworkType = "simnet"
)

// ErrInvalidNetworkID is returned when a network id string cannot be parsed.
var ErrInvalidNetworkID = errors.New("invalid network id")

// NetworkID identifies a network the processor may be attached to.  The
// suffix is only meaningful for testnets.
type NetworkID struct {
	Type   NetworkType
	Suffix uint32
}

// String returns the canonical form of the network id, e.g. "testnet-10".
func (n NetworkID) String() string {
	if n.Suffix != 0 {
		return fmt.Sprintf("%s-%d", n.Type, n.Suffix)
	}
	return string(n.Type)
}

// MarshalText implements encoding.TextMarshaler.
func (n NetworkID) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *NetworkID) UnmarshalText(text []byte) error {
	id, err := ParseNetworkID(string(text))
	if err != nil {
		return err
	}
	*n = id
	return nil
}

// ParseNetworkID parses network ids of the form "mainnet", "testnet-10",
// "devnet" and "simnet".  Testnets require a numeric suffix.
func ParseNetworkID(s string) (NetworkID, error) {
	name, suffix, hasSuffix := strings.Cut(strings.ToLower(s), "-")

	var id NetworkID
	switch NetworkType(name) {
	case Mainnet, Devnet, Simnet:
		if hasSuffix {
			return id, fmt.Errorf("%w: %q takes no suffix",
				ErrInvalidNetworkID, s)
		}
		id.Type = NetworkType(name)

	case Testnet:
		if !hasSuffix {
			return id, fmt.Errorf("%w: %q requires a suffix",
				ErrInvalidNetworkID, s)
		}
		n, err := strconv.ParseUint(suffix, 10, 32)
		if err != nil || n == 0 {
			return id, fmt.Errorf("%w: bad suffix in %q",
				ErrInvalidNetworkID, s)
		}
		id.Type = Testnet
		id.Suffix = uint32(n)

	default:
		return id, fmt.Errorf("%w: %q", ErrInvalidNetworkID, s)
	}

	return id, nil
}

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	ID NetworkID

	// RPCClientPort is the default port of the node's JSON wRPC
	// endpoint.
	RPCClientPort string

	// CoinbaseMaturity is the number of DAA score units a coinbase output
	// must age before it is considered spendable.
	CoinbaseMaturity uint64

	// CoinbaseStasis is the number of DAA score units during which a fresh
	// coinbase output is withheld from the wallet entirely, since it is
	// still likely to be reorganized out.
	CoinbaseStasis uint64

	// UserMaturity is the number of DAA score units an ordinary output
	// must age before it is considered spendable.
	UserMaturity uint64
}

// MainNetParams contains parameters specific to the main network.
var MainNetParams = Params{
	ID:               NetworkID{Type: Mainnet},
	RPCClientPort:    "18110",
	CoinbaseMaturity: 1000,
	CoinbaseStasis:   500,
	UserMaturity:     10,
}

// TestNet10Params contains parameters specific to testnet-10.
var TestNet10Params = Params{
	ID:               NetworkID{Type: Testnet, Suffix: 10},
	RPCClientPort:    "18210",
	CoinbaseMaturity: 1000,
	CoinbaseStasis:   500,
	UserMaturity:     10,
}

// TestNet11Params contains parameters specific to testnet-11, which runs at
// ten blocks per second and therefore needs proportionally deeper maturity.
var TestNet11Params = Params{
	ID:               NetworkID{Type: Testnet, Suffix: 11},
	RPCClientPort:    "18310",
	CoinbaseMaturity: 10000,
	CoinbaseStasis:   5000,
	UserMaturity:     100,
}

// DevNetParams contains parameters specific to the development network.
var DevNetParams = Params{
	ID:               NetworkID{Type: Devnet},
	RPCClientPort:    "18610",
	CoinbaseMaturity: 1000,
	CoinbaseStasis:   500,
	UserMaturity:     10,
}

// SimNetParams contains parameters specific to the simulation test network.
var SimNetParams = Params{
	ID:               NetworkID{Type: Simnet},
	RPCClientPort:    "18510",
	CoinbaseMaturity: 100,
	CoinbaseStasis:   50,
	UserMaturity:     10,
}

// registered holds every known network keyed by its canonical id.
var registered = map[NetworkID]*Params{
	MainNetParams.ID:   &MainNetParams,
	TestNet10Params.ID: &TestNet10Params,
	TestNet11Params.ID: &TestNet11Params,
	DevNetParams.ID:    &DevNetParams,
	SimNetParams.ID:    &SimNetParams,
}

// Lookup returns the parameters registered for the network id.
func Lookup(id NetworkID) (*Params, bool) {
	p, ok := registered[id]
	return p, ok
}

// All returns the parameters of every known network.
func All() []*Params {
	return []*Params{
		&MainNetParams, &TestNet10Params, &TestNet11Params,
		&DevNetParams, &SimNetParams,
	}
}

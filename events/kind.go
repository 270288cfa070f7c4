// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package events

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidEventTarget is returned when a subscription target does not name
// a known event kind or the wildcard.
var ErrInvalidEventTarget = errors.New("invalid event target")

// Kind identifies the type of an event.  Kinds are rendered in kebab-case.
type Kind string

// These constants enumerate every event the processor publishes.
const (
	// All is the wildcard target.  It is never the kind of a published
	// event.
	All Kind = "all"

	Connect             Kind = "connect"
	Disconnect          Kind = "disconnect"
	UtxoIndexNotEnabled Kind = "utxo-index-not-enabled"
	SyncState           Kind = "sync-state"
	ServerStatus        Kind = "server-status"
	UtxoProcStart       Kind = "utxo-proc-start"
	UtxoProcStop        Kind = "utxo-proc-stop"
	UtxoProcError       Kind = "utxo-proc-error"
	DaaScoreChange      Kind = "daa-score-change"
	Pending             Kind = "pending"
	Reorg               Kind = "reorg"
	Stasis              Kind = "stasis"
	Maturity            Kind = "maturity"
	Discovery           Kind = "discovery"
	BalanceChange       Kind = "balance"
	UtxoAdded           Kind = "utxo-added"
	UtxoRemoved         Kind = "utxo-removed"
	Error               Kind = "error"
)

// kinds holds every publishable kind in declaration order.
var kinds = []Kind{
	Connect, Disconnect, UtxoIndexNotEnabled, SyncState, ServerStatus,
	UtxoProcStart, UtxoProcStop, UtxoProcError, DaaScoreChange, Pending,
	Reorg, Stasis, Maturity, Discovery, BalanceChange, UtxoAdded,
	UtxoRemoved, Error,
}

var knownKinds = func() map[Kind]struct{} {
	m := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		m[k] = struct{}{}
	}
	return m
}()

// Kinds returns every publishable event kind.
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// String returns the kebab-case name of the kind.
func (k Kind) String() string {
	return string(k)
}

// Valid returns whether k is a publishable kind.
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// ParseTarget parses a subscription target.  Both "all" and "*" select the
// wildcard.
func ParseTarget(s string) (Kind, error) {
	switch s = strings.TrimSpace(s); s {
	case "all", "*":
		return All, nil
	}

	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEventTarget, s)
	}
	return k, nil
}

// ParseTargets parses every target, failing on the first invalid one.  An
// empty list is rejected.
func ParseTargets(targets []string) ([]Kind, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no targets", ErrInvalidEventTarget)
	}

	parsed := make([]Kind, 0, len(targets))
	for _, s := range targets {
		k, err := ParseTarget(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, k)
	}
	return parsed, nil
}

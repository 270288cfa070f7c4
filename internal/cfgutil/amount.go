// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// AmountFlag embeds a btcutil.Amount and implements the flags.Marshaler and
// Unmarshaler interfaces so it can be used as a config struct field.  Values
// are given in whole coins, optionally followed by the KAS unit, or in sompi
// when suffixed with "sompi".
type AmountFlag struct {
	btcutil.Amount
}

// NewAmountFlag creates an AmountFlag with a default btcutil.Amount.
func NewAmountFlag(defaultValue btcutil.Amount) *AmountFlag {
	return &AmountFlag{defaultValue}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (a *AmountFlag) MarshalFlag() (string, error) {
	return strconv.FormatFloat(a.ToBTC(), 'f', -1, 64) + " KAS", nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (a *AmountFlag) UnmarshalFlag(value string) error {
	value = strings.TrimSpace(value)

	if sompi, ok := strings.CutSuffix(value, "sompi"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(sompi), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", value, err)
		}
		if n < 0 {
			return fmt.Errorf("negative amount %q", value)
		}
		a.Amount = btcutil.Amount(n)
		return nil
	}

	value = strings.TrimSpace(strings.TrimSuffix(value, "KAS"))
	coins, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", value, err)
	}
	amount, err := btcutil.NewAmount(coins)
	if err != nil {
		return err
	}
	if amount < 0 {
		return fmt.Errorf("negative amount %q", value)
	}
	a.Amount = amount

	return nil
}

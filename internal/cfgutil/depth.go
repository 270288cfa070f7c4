// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import "strconv"

// DepthFlag is a DAA score depth implementing the flags.Marshaler and
// flags.Unmarshaler interfaces.  It records whether it was set, since a zero
// depth is a valid setting that must not be mistaken for the network
// default.
type DepthFlag struct {
	Value uint64
	set   bool
}

// IsSet returns whether the depth was given through the flags.Unmarshaler
// interface.
func (d *DepthFlag) IsSet() bool { return d.set }

// MarshalFlag implements the flags.Marshaler interface.
func (d *DepthFlag) MarshalFlag() (string, error) {
	return strconv.FormatUint(d.Value, 10), nil
}

// UnmarshalFlag implements the flags.Unmarshaler interface.
func (d *DepthFlag) UnmarshalFlag(value string) error {
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return err
	}
	d.Value = v
	d.set = true
	return nil
}

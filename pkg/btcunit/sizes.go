// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides a set of types for dealing with bitcoin
// transaction size and fee rate units.
package btcunit

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
)

// WeightUnit is a transaction size expressed in weight units as defined
// by BIP141. Non-witness bytes count four weight units each, witness
// bytes one.
type WeightUnit uint64

// ToVBytes converts the weight to virtual bytes, rounding up.
func (w WeightUnit) ToVBytes() VByte {
	return VByte(
		(uint64(w) + blockchain.WitnessScaleFactor - 1) /
			blockchain.WitnessScaleFactor,
	)
}

// String returns a human-readable string of the weight.
func (w WeightUnit) String() string {
	return fmt.Sprintf("%d wu", uint64(w))
}

// VByte is a transaction size expressed in virtual bytes.
type VByte uint64

// ToWeight converts the virtual size to weight units.
func (v VByte) ToWeight() WeightUnit {
	return WeightUnit(uint64(v) * blockchain.WitnessScaleFactor)
}

// String returns a human-readable string of the virtual size.
func (v VByte) String() string {
	return fmt.Sprintf("%d vB", uint64(v))
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

// floatStringPrecision is the number of decimal places to use when
// converting a fee rate to a string. Three decimal places keep low fee
// rates (e.g. 1 sat/kvb = 0.001 sat/vB) from being rounded to zero.
const floatStringPrecision = 3

// SatPerVByte represents a fee rate in satoshis per virtual byte.
type SatPerVByte float64

// NewSatPerVByte computes the fee rate paid by a fee over a virtual
// size. A zero size yields a zero rate.
func NewSatPerVByte(fee btcutil.Amount, size VByte) SatPerVByte {
	if size == 0 {
		return 0
	}
	return SatPerVByte(float64(fee) / float64(size))
}

// FeePerKWeight converts the fee rate to sat/kw.
func (s SatPerVByte) FeePerKWeight() SatPerKWeight {
	return SatPerKWeight(
		float64(s) * 1000 / blockchain.WitnessScaleFactor,
	)
}

// String returns a human-readable string of the fee rate.
func (s SatPerVByte) String() string {
	return fmt.Sprintf("%.*f sat/vB", floatStringPrecision, float64(s))
}

// SatPerKWeight represents a fee rate in satoshis per kilo weight unit.
type SatPerKWeight btcutil.Amount

// FeeForWeight calculates the fee resulting from this fee rate and the
// given weight.
func (s SatPerKWeight) FeeForWeight(w WeightUnit) btcutil.Amount {
	return btcutil.Amount(s) * btcutil.Amount(w) / 1000
}

// String returns a human-readable string of the fee rate.
func (s SatPerKWeight) String() string {
	return fmt.Sprintf("%d sat/kw", int64(s))
}

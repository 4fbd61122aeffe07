// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// TestWeightConversions checks the weight to vsize round trip, including
// the round-up on partial virtual bytes.
func TestWeightConversions(t *testing.T) {
	t.Parallel()

	require.Equal(t, VByte(100), WeightUnit(400).ToVBytes())
	require.Equal(t, VByte(101), WeightUnit(401).ToVBytes())
	require.Equal(t, VByte(0), WeightUnit(0).ToVBytes())
	require.Equal(t, WeightUnit(400), VByte(100).ToWeight())

	require.Equal(t, "401 wu", WeightUnit(401).String())
	require.Equal(t, "101 vB", VByte(101).String())
}

// TestFeeRates checks fee rate derivation and unit conversion.
func TestFeeRates(t *testing.T) {
	t.Parallel()

	// 10_000 sats over 200 vbytes is 50 sat/vB.
	rate := NewSatPerVByte(btcutil.Amount(10_000), VByte(200))
	require.Equal(t, SatPerVByte(50), rate)
	require.Equal(t, "50.000 sat/vB", rate.String())

	// A zero size must not divide.
	require.Equal(
		t, SatPerVByte(0),
		NewSatPerVByte(btcutil.Amount(10_000), VByte(0)),
	)

	// 50 sat/vB is 12_500 sat/kw, which over 800 weight units pays
	// back the original fee.
	kw := rate.FeePerKWeight()
	require.Equal(t, SatPerKWeight(12_500), kw)
	require.Equal(
		t, btcutil.Amount(10_000), kw.FeeForWeight(WeightUnit(800)),
	)
	require.Equal(t, "12500 sat/kw", kw.String())

	// Sub-satoshi rates keep their precision in the string form.
	low := NewSatPerVByte(btcutil.Amount(1), VByte(1000))
	require.Equal(t, "0.001 sat/vB", low.String())
}

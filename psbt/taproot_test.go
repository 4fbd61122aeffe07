// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestTaprootBip32DerivationRoundTrip tests that a derivation entry with
// leaf hashes survives the value encoding unchanged.
func TestTaprootBip32DerivationRoundTrip(t *testing.T) {
	t.Parallel()

	// Arrange.
	keys := testKeys(t, 1)
	xOnly := keys[0].PubKey().SerializeCompressed()[1:]

	leafA := bytes.Repeat([]byte{0xaa}, 32)
	leafB := bytes.Repeat([]byte{0xbb}, 32)
	derivation := &TaprootBip32Derivation{
		XOnlyPubKey:          xOnly,
		LeafHashes:           [][]byte{leafA, leafB},
		MasterKeyFingerprint: 0x01020304,
		Bip32Path:            []uint32{86, 0, 5},
	}

	// Act.
	value, err := SerializeTaprootBip32Derivation(derivation)
	require.NoError(t, err)

	parsed, err := ReadTaprootBip32Derivation(xOnly, value)
	require.NoError(t, err)

	// Assert.
	require.Equal(t, derivation, parsed)
}

// TestTaprootBip32DerivationHostileCount tests that a leaf hash count
// larger than the value it is embedded in is rejected as a format error
// instead of being allocated for.
func TestTaprootBip32DerivationHostileCount(t *testing.T) {
	t.Parallel()

	keys := testKeys(t, 1)
	xOnly := keys[0].PubKey().SerializeCompressed()[1:]

	testCases := []struct {
		name  string
		value func(t *testing.T) []byte
	}{{
		name: "count far beyond the value length",
		value: func(t *testing.T) []byte {
			// A 9-byte varint announcing 2^45 hashes, followed
			// by only a fingerprint.
			var buf bytes.Buffer
			err := wire.WriteVarInt(&buf, 0, 1<<45)
			require.NoError(t, err)
			buf.Write([]byte{0x01, 0x02, 0x03, 0x04})

			return buf.Bytes()
		},
	}, {
		name: "count exceeding the bytes present",
		value: func(t *testing.T) []byte {
			// Two hashes announced, one present.
			var buf bytes.Buffer
			err := wire.WriteVarInt(&buf, 0, 2)
			require.NoError(t, err)
			buf.Write(bytes.Repeat([]byte{0xaa}, 32))
			buf.Write([]byte{0x01, 0x02, 0x03, 0x04})

			return buf.Bytes()
		},
	}, {
		name: "truncated varint",
		value: func(t *testing.T) []byte {
			return []byte{0xff, 0x00, 0x00, 0x00, 0x00}
		},
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := ReadTaprootBip32Derivation(
				xOnly, tc.value(t),
			)
			require.ErrorIs(t, err, ErrInvalidPsbtFormat)
		})
	}
}

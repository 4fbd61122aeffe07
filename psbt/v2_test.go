// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func uint32Ptr(v uint32) *uint32 {
	return &v
}

// TestV2ConstructSignExtract drives a version 2 packet from creation
// through extraction, proving the explicit transaction fields reproduce
// the same transaction a version 0 flow would.
func TestV2ConstructSignExtract(t *testing.T) {
	t.Parallel()

	// Arrange: A P2WPKH output to spend.
	keys := testKeys(t, 1)
	pubKey := keys[0].PubKey()
	pkScript := p2wpkhScript(t, pubKey)
	_, op := fundingTx(t, pkScript, testFundingAmount)

	// Act: Create an empty v2 packet and grow it via the updater.
	packet := NewV2(2, nil)
	u, err := NewUpdater(packet)
	require.NoError(t, err)

	require.NoError(t, u.AddInput(
		&op.Hash, op.Index, uint32Ptr(wire.MaxTxInSequenceNum),
		&PInput{},
	))
	require.NoError(t, u.AddOutput(
		testFundingAmount-10_000, pkScript, &POutput{},
	))
	require.NoError(t, u.AddInWitnessUtxo(
		wire.NewTxOut(testFundingAmount, pkScript), 0,
	))

	// Act: Serialize and reparse to prove the v2 wire format holds all
	// of it.
	var buf bytes.Buffer
	require.NoError(t, packet.Serialize(&buf))
	reparsed, err := NewFromRawBytes(bytes.NewReader(buf.Bytes()), false)
	require.NoError(t, err)
	require.True(t, reparsed.IsV2())
	require.Nil(t, reparsed.UnsignedTx)

	// Act: Sign, finalize and extract.
	signer, err := NewSigner(reparsed, NewMemoryBackend(keys...))
	require.NoError(t, err)
	require.NoError(t, signer.Sign(0, pubKey.SerializeCompressed()))
	require.NoError(t, FinalizeAll(reparsed))

	finalTx, err := Extract(reparsed)
	require.NoError(t, err)

	// Assert: The final transaction spends the funded outpoint and
	// passes script execution.
	require.Equal(t, op, finalTx.TxIn[0].PreviousOutPoint)
	executeScripts(t, finalTx, PrevOutputFetcher(reparsed))
}

// TestV2NotModifiable tests that structural changes respect the
// modifiable flags.
func TestV2NotModifiable(t *testing.T) {
	t.Parallel()

	// Arrange: A v2 packet with all modifiable bits cleared.
	packet := NewV2(2, nil)
	locked := uint8(0)
	packet.TxModifiable = &locked

	u, err := NewUpdater(packet)
	require.NoError(t, err)

	// Act/Assert: Adding inputs and outputs is rejected.
	hash := chainhash.Hash{0x01}
	err = u.AddInput(&hash, 0, nil, &PInput{})
	require.ErrorIs(t, err, ErrNotModifiable)

	err = u.AddOutput(1000, []byte{0x51}, &POutput{})
	require.ErrorIs(t, err, ErrNotModifiable)

	// Act/Assert: A version 0 packet rejects v2 structural changes
	// outright.
	keys := testKeys(t, 1)
	_, op := fundingTx(
		t, p2wpkhScript(t, keys[0].PubKey()), testFundingAmount,
	)
	v0 := spendingPacket(t, op)
	u0, err := NewUpdater(v0)
	require.NoError(t, err)

	err = u0.AddInput(&hash, 0, nil, &PInput{})
	require.ErrorIs(t, err, ErrVersionMismatch)
}

// TestEffectiveLocktime tests the BIP370 lock time resolution rules.
func TestEffectiveLocktime(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name             string
		fallback         *uint32
		heights          []*uint32
		times            []*uint32
		expectedLocktime uint32
		expectedErr      error
	}{
		{
			name:             "no requirements, no fallback",
			heights:          []*uint32{nil, nil},
			times:            []*uint32{nil, nil},
			expectedLocktime: 0,
		},
		{
			name:             "no requirements, fallback",
			fallback:         uint32Ptr(650_000),
			heights:          []*uint32{nil, nil},
			times:            []*uint32{nil, nil},
			expectedLocktime: 650_000,
		},
		{
			name:             "height requirements take maximum",
			heights:          []*uint32{uint32Ptr(100), uint32Ptr(200)},
			times:            []*uint32{nil, nil},
			expectedLocktime: 200,
		},
		{
			name:    "height preferred over time",
			heights: []*uint32{uint32Ptr(100), uint32Ptr(300)},
			times: []*uint32{
				uint32Ptr(1_600_000_000),
				uint32Ptr(1_700_000_000),
			},
			expectedLocktime: 300,
		},
		{
			name:    "time only",
			heights: []*uint32{nil, nil},
			times: []*uint32{
				uint32Ptr(1_600_000_000),
				uint32Ptr(1_700_000_000),
			},
			expectedLocktime: 1_700_000_000,
		},
		{
			name:    "mixed requirements fall back to common type",
			heights: []*uint32{uint32Ptr(100), nil},
			times: []*uint32{
				uint32Ptr(1_600_000_000),
				uint32Ptr(1_700_000_000),
			},
			expectedLocktime: 1_700_000_000,
		},
		{
			name:        "incompatible requirements",
			heights:     []*uint32{uint32Ptr(100), nil},
			times:       []*uint32{nil, uint32Ptr(1_700_000_000)},
			expectedErr: ErrUnsatisfiableLocktime,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: A v2 packet with the given lock time
			// requirements on two inputs.
			packet := NewV2(2, tc.fallback)
			for i := range tc.heights {
				hash := chainhash.Hash{byte(i + 1)}
				in := PInput{
					PrevoutHash:  &hash,
					PrevoutIndex: uint32Ptr(0),
				}
				in.RequiredHeightLocktime = tc.heights[i]
				in.RequiredTimeLocktime = tc.times[i]
				packet.Inputs = append(packet.Inputs, in)
			}

			// Act: Resolve the effective lock time.
			locktime, err := packet.effectiveLocktime()

			// Assert: The expected value or error.
			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expectedLocktime, locktime)
		})
	}
}

// TestVersionMixingRejected tests that version 2 fields in a version 0
// packet fail validation and vice versa.
func TestVersionMixingRejected(t *testing.T) {
	t.Parallel()

	// Arrange: A valid v0 packet.
	keys := testKeys(t, 1)
	_, op := fundingTx(
		t, p2wpkhScript(t, keys[0].PubKey()), testFundingAmount,
	)
	packet := spendingPacket(t, op)

	// Act: Inject a v2-only field into the input.
	packet.Inputs[0].Sequence = uint32Ptr(1)

	// Assert: Validation rejects the mix.
	require.Error(t, packet.SanityCheck())

	// Arrange/Act: A v2 packet claiming an embedded transaction.
	v2 := NewV2(2, nil)
	v2.UnsignedTx = wire.NewMsgTx(2)

	// Assert: Validation rejects the mix.
	require.Error(t, v2.SanityCheck())
}

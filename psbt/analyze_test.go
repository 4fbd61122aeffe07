// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"testing"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

// TestAnalyzeProgress tests that the analysis tracks an input through the
// ready, signed and finalized stages.
func TestAnalyzeProgress(t *testing.T) {
	t.Parallel()

	// Arrange: A P2WPKH spend with its UTXO attached.
	keys := testKeys(t, 1)
	pkScript := p2wpkhScript(t, keys[0].PubKey())
	prevTx, op := fundingTx(t, pkScript, testFundingAmount)

	packet := spendingPacket(t, op)
	updater, err := NewUpdater(packet)
	require.NoError(t, err)
	err = updater.AddInWitnessUtxo(prevTx.TxOut[0], 0)
	require.NoError(t, err)

	// Act + Assert: Unsigned, the input is ready and the fee known.
	analysis, err := packet.Analyze()
	require.NoError(t, err)
	require.Len(t, analysis.Inputs, 1)
	require.True(t, analysis.Inputs[0].HasUtxo)
	require.Zero(t, analysis.Inputs[0].PartialSigs)
	require.False(t, analysis.AllFinal)
	require.True(t, analysis.HasFee)
	require.Equal(t, btcutil.Amount(10_000), analysis.Fee)
	require.NotZero(t, analysis.EstimatedVSize)
	require.Greater(t, float64(analysis.FeeRate), 0.0)

	// Signing bumps the signature count.
	signer, err := NewSigner(packet, NewMemoryBackend(keys[0]))
	require.NoError(t, err)
	err = signer.Sign(0, keys[0].PubKey().SerializeCompressed())
	require.NoError(t, err)

	analysis, err = packet.Analyze()
	require.NoError(t, err)
	require.Equal(t, 1, analysis.Inputs[0].PartialSigs)
	require.False(t, analysis.Inputs[0].IsFinal)

	// Finalizing flips the input and the packet to final.
	require.NoError(t, Finalize(packet, 0))

	analysis, err = packet.Analyze()
	require.NoError(t, err)
	require.True(t, analysis.Inputs[0].IsFinal)
	require.True(t, analysis.AllFinal)
}

// TestAnalyzeEstimateCoversActual tests that the predicted weight of the
// unsigned packet is an upper bound on, and close to, the weight of the
// transaction actually produced.
func TestAnalyzeEstimateCoversActual(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		setup func(t *testing.T) *signingScenario

		// slack is the tolerated overestimate in weight units. ECDSA
		// signatures can encode a few bytes shorter than their
		// worst case, schnorr signatures cannot.
		slack int64
	}{{
		name: "p2wpkh",
		setup: func(t *testing.T) *signingScenario {
			keys := testKeys(t, 1)
			pkScript := p2wpkhScript(t, keys[0].PubKey())
			prevTx, op := fundingTx(
				t, pkScript, testFundingAmount,
			)

			packet := spendingPacket(t, op)
			u, err := NewUpdater(packet)
			require.NoError(t, err)
			err = u.AddInWitnessUtxo(prevTx.TxOut[0], 0)
			require.NoError(t, err)

			return &signingScenario{
				packet:  packet,
				backend: NewMemoryBackend(keys...),
				signKeys: [][]byte{
					keys[0].PubKey().
						SerializeCompressed(),
				},
			}
		},
		slack: 4,
	}, {
		name:  "taproot key spend",
		setup: taprootKeySpendScenario,
		slack: 0,
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: An unsigned packet and its estimate.
			scenario := tc.setup(t)
			packet := scenario.packet

			analysis, err := packet.Analyze()
			require.NoError(t, err)
			require.NotZero(t, analysis.EstimatedWeight)

			// Act: Drive the packet to a final transaction.
			signer, err := NewSigner(packet, scenario.backend)
			require.NoError(t, err)
			for _, key := range scenario.signKeys {
				require.NoError(t, signer.Sign(0, key))
			}
			require.NoError(t, FinalizeAll(packet))

			finalTx, err := Extract(packet)
			require.NoError(t, err)

			// Assert: The estimate bounds the actual weight.
			actual := blockchain.GetTransactionWeight(
				btcutil.NewTx(finalTx),
			)
			estimated := int64(analysis.EstimatedWeight)
			require.GreaterOrEqual(t, estimated, actual)
			require.LessOrEqual(t, estimated-actual, tc.slack)
		})
	}
}

// TestAnalyzeUnestimatable tests that an input whose satisfaction size is
// unknown leaves the size estimate unset without failing the analysis.
func TestAnalyzeUnestimatable(t *testing.T) {
	t.Parallel()

	// Arrange: A bare OP_TRUE output, a script form the estimator has
	// no satisfaction model for.
	pkScript := []byte{txscript.OP_TRUE}
	prevTx, op := fundingTx(t, pkScript, testFundingAmount)

	packet := spendingPacket(t, op)
	packet.Inputs[0].NonWitnessUtxo = prevTx

	// Act.
	analysis, err := packet.Analyze()
	require.NoError(t, err)

	// Assert: Progress and fee are reported, the size is not.
	require.True(t, analysis.Inputs[0].HasUtxo)
	require.Zero(t, analysis.EstimatedWeight)
	require.Zero(t, analysis.EstimatedVSize)
	require.True(t, analysis.HasFee)
	require.Zero(t, analysis.FeeRate)
}

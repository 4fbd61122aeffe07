// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

// TestAddInSighashTypeValidation tests that only flag combinations the
// input's spend generation allows are accepted.
func TestAddInSighashTypeValidation(t *testing.T) {
	t.Parallel()

	// Arrange: One P2WPKH input and one taproot key spend input.
	keys := testKeys(t, 1)
	pkScript := p2wpkhScript(t, keys[0].PubKey())
	prevTx, op := fundingTx(t, pkScript, testFundingAmount)

	ecdsaPacket := spendingPacket(t, op)
	u, err := NewUpdater(ecdsaPacket)
	require.NoError(t, err)
	require.NoError(t, u.AddInWitnessUtxo(prevTx.TxOut[0], 0))

	outputKey := txscript.ComputeTaprootOutputKey(keys[0].PubKey(), nil)
	trScript := p2trScript(t, outputKey)
	trPrevTx, trOp := fundingTx(t, trScript, testFundingAmount)

	taprootPacket := spendingPacket(t, trOp)
	uTr, err := NewUpdater(taprootPacket)
	require.NoError(t, err)
	require.NoError(t, uTr.AddInWitnessUtxo(trPrevTx.TxOut[0], 0))

	// Act/Assert: Valid ECDSA combinations are accepted; the taproot
	// only SIGHASH_DEFAULT and undefined flag values are rejected.
	require.NoError(t, u.AddInSighashType(txscript.SigHashAll, 0))
	require.NoError(t, u.AddInSighashType(
		txscript.SigHashSingle|txscript.SigHashAnyOneCanPay, 0,
	))

	err = u.AddInSighashType(txscript.SigHashDefault, 0)
	require.ErrorIs(t, err, ErrInvalidSigHashFlags)
	err = u.AddInSighashType(txscript.SigHashType(0x04), 0)
	require.ErrorIs(t, err, ErrInvalidSigHashFlags)
	err = u.AddInSighashType(
		txscript.SigHashAll|txscript.SigHashType(0x40), 0,
	)
	require.ErrorIs(t, err, ErrInvalidSigHashFlags)

	// The rejected values must not stick.
	require.Equal(
		t, txscript.SigHashSingle|txscript.SigHashAnyOneCanPay,
		ecdsaPacket.Inputs[0].SighashType,
	)

	// SIGHASH_DEFAULT is fine on the taproot input.
	require.NoError(t, uTr.AddInSighashType(txscript.SigHashDefault, 0))
	err = uTr.AddInSighashType(txscript.SigHashType(0x04), 0)
	require.ErrorIs(t, err, ErrInvalidSigHashFlags)

	// An out of range index is reported as such.
	err = u.AddInSighashType(txscript.SigHashAll, 1)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sighash

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// ecdsaHashTypes are the flag combinations valid for pre-taproot inputs.
var ecdsaHashTypes = []txscript.SigHashType{
	txscript.SigHashAll,
	txscript.SigHashNone,
	txscript.SigHashSingle,
	txscript.SigHashAll | txscript.SigHashAnyOneCanPay,
	txscript.SigHashNone | txscript.SigHashAnyOneCanPay,
	txscript.SigHashSingle | txscript.SigHashAnyOneCanPay,
}

// taprootHashTypes is the BIP341 set.
var taprootHashTypes = append(
	[]txscript.SigHashType{txscript.SigHashDefault}, ecdsaHashTypes...,
)

// testTx builds a three-input, three-output transaction along with a
// fetcher for its previous outputs. Each prevout uses a distinct script
// form.
func testTx(t *testing.T) (*wire.MsgTx, *txscript.MultiPrevOutFetcher,
	[][]byte) {

	t.Helper()

	tx := wire.NewMsgTx(2)
	tx.LockTime = 700_000

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	scriptCodes := make([][]byte, 3)

	for i := 0; i < 3; i++ {
		privKey, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		pubKey := privKey.PubKey()

		p2pkh, err := txscript.NewScriptBuilder().
			AddOp(txscript.OP_DUP).
			AddOp(txscript.OP_HASH160).
			AddData(btcutil.Hash160(pubKey.SerializeCompressed())).
			AddOp(txscript.OP_EQUALVERIFY).
			AddOp(txscript.OP_CHECKSIG).
			Script()
		require.NoError(t, err)
		scriptCodes[i] = p2pkh

		var pkScript []byte
		switch i {
		case 0:
			pkScript = p2pkh
		case 1:
			pkScript, err = txscript.NewScriptBuilder().
				AddOp(txscript.OP_0).
				AddData(btcutil.Hash160(
					pubKey.SerializeCompressed(),
				)).
				Script()
			require.NoError(t, err)
		case 2:
			outputKey := txscript.ComputeTaprootOutputKey(
				pubKey, nil,
			)
			pkScript, err = txscript.NewScriptBuilder().
				AddOp(txscript.OP_1).
				AddData(schnorr.SerializePubKey(outputKey)).
				Script()
			require.NoError(t, err)
		}

		op := wire.OutPoint{
			Hash:  chainhash.Hash{byte(i + 1)},
			Index: uint32(i),
		}
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: op,
			Sequence:         wire.MaxTxInSequenceNum - uint32(i),
		})
		fetcher.AddPrevOut(op, wire.NewTxOut(
			int64(100_000*(i+1)), pkScript,
		))

		tx.AddTxOut(wire.NewTxOut(
			int64(90_000*(i+1)), p2pkh,
		))
	}

	return tx, fetcher, scriptCodes
}

// TestTxHashesMatchTxscript tests that the shared hash cache agrees with
// the txscript implementation field by field.
func TestTxHashesMatchTxscript(t *testing.T) {
	t.Parallel()

	// Arrange: A transaction with resolvable prevouts.
	tx, fetcher, _ := testTx(t)

	// Act: Compute both caches.
	hashes, err := NewTxHashes(tx, fetcher)
	require.NoError(t, err)

	expected := txscript.NewTxSigHashes(tx, fetcher)

	// Assert: Every shared hash matches.
	require.Equal(t, expected.HashPrevOutsV0, hashes.HashPrevOutsV0)
	require.Equal(t, expected.HashSequenceV0, hashes.HashSequenceV0)
	require.Equal(t, expected.HashOutputsV0, hashes.HashOutputsV0)
	require.Equal(t, expected.HashPrevOutsV1, hashes.HashPrevOutsV1)
	require.Equal(t, expected.HashSequenceV1, hashes.HashSequenceV1)
	require.Equal(
		t, expected.HashInputAmountsV1, hashes.HashInputAmountsV1,
	)
	require.Equal(
		t, expected.HashInputScriptsV1, hashes.HashInputScriptsV1,
	)
	require.Equal(t, expected.HashOutputsV1, hashes.HashOutputsV1)
}

// TestLegacyMatchesTxscript cross-checks the legacy digest against
// txscript.CalcSignatureHash for every valid flag combination and input.
func TestLegacyMatchesTxscript(t *testing.T) {
	t.Parallel()

	tx, _, scriptCodes := testTx(t)

	for _, hashType := range ecdsaHashTypes {
		for idx := range tx.TxIn {
			digest, err := Legacy(
				tx, scriptCodes[idx], idx, hashType,
			)
			require.NoError(t, err)

			expected, err := txscript.CalcSignatureHash(
				scriptCodes[idx], hashType, tx, idx,
			)
			require.NoError(t, err)
			require.Equal(
				t, expected, digest,
				"mismatch for type %v input %d", hashType,
				idx,
			)
		}
	}
}

// TestLegacyDoesNotMutate tests that digest computation leaves the
// transaction untouched.
func TestLegacyDoesNotMutate(t *testing.T) {
	t.Parallel()

	tx, _, scriptCodes := testTx(t)
	before := tx.TxHash()

	_, err := Legacy(tx, scriptCodes[0], 0, txscript.SigHashSingle)
	require.NoError(t, err)

	require.Equal(t, before, tx.TxHash())
	require.Nil(t, tx.TxIn[0].SignatureScript)
}

// TestWitnessV0MatchesTxscript cross-checks the BIP143 digest against
// txscript.CalcWitnessSigHash.
func TestWitnessV0MatchesTxscript(t *testing.T) {
	t.Parallel()

	tx, fetcher, scriptCodes := testTx(t)
	hashes, err := NewTxHashes(tx, fetcher)
	require.NoError(t, err)

	txscriptHashes := txscript.NewTxSigHashes(tx, fetcher)

	for _, hashType := range ecdsaHashTypes {
		for idx := range tx.TxIn {
			amount := fetcher.FetchPrevOutput(
				tx.TxIn[idx].PreviousOutPoint,
			).Value

			digest, err := WitnessV0(
				hashes, scriptCodes[idx], tx, idx, hashType,
				amount,
			)
			require.NoError(t, err)

			expected, err := txscript.CalcWitnessSigHash(
				scriptCodes[idx], txscriptHashes, hashType,
				tx, idx, amount,
			)
			require.NoError(t, err)
			require.Equal(
				t, expected, digest,
				"mismatch for type %v input %d", hashType,
				idx,
			)
		}
	}
}

// TestTaprootMatchesTxscript cross-checks the BIP341 key spend digest
// against txscript.CalcTaprootSignatureHash.
func TestTaprootMatchesTxscript(t *testing.T) {
	t.Parallel()

	tx, fetcher, _ := testTx(t)
	hashes, err := NewTxHashes(tx, fetcher)
	require.NoError(t, err)

	txscriptHashes := txscript.NewTxSigHashes(tx, fetcher)

	for _, hashType := range taprootHashTypes {
		for idx := range tx.TxIn {
			digest, err := TaprootKeySpend(
				hashes, fetcher, tx, idx, hashType,
			)
			require.NoError(t, err)

			expected, err := txscript.CalcTaprootSignatureHash(
				txscriptHashes, hashType, tx, idx, fetcher,
			)
			require.NoError(t, err)
			require.Equal(
				t, expected, digest,
				"mismatch for type %v input %d", hashType,
				idx,
			)
		}
	}
}

// TestTapscriptMatchesTxscript cross-checks the BIP342 script path digest
// against txscript.CalcTapscriptSignaturehash.
func TestTapscriptMatchesTxscript(t *testing.T) {
	t.Parallel()

	tx, fetcher, _ := testTx(t)
	hashes, err := NewTxHashes(tx, fetcher)
	require.NoError(t, err)

	txscriptHashes := txscript.NewTxSigHashes(tx, fetcher)

	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	leafScript, err := txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(privKey.PubKey())).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	leaf := txscript.NewBaseTapLeaf(leafScript)
	leafHash := leaf.TapHash()

	for _, hashType := range taprootHashTypes {
		for idx := range tx.TxIn {
			digest, err := TaprootScriptSpend(
				hashes, fetcher, tx, idx, hashType,
				leafHash[:],
			)
			require.NoError(t, err)

			expected, err := txscript.CalcTapscriptSignaturehash(
				txscriptHashes, hashType, tx, idx, fetcher,
				leaf,
			)
			require.NoError(t, err)
			require.Equal(
				t, expected, digest,
				"mismatch for type %v input %d", hashType,
				idx,
			)
		}
	}
}

// TestErrorCases tests the input validation of the digest functions.
func TestErrorCases(t *testing.T) {
	t.Parallel()

	tx, fetcher, scriptCodes := testTx(t)
	hashes, err := NewTxHashes(tx, fetcher)
	require.NoError(t, err)

	// Index out of range.
	_, err = Legacy(tx, scriptCodes[0], 3, txscript.SigHashAll)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = WitnessV0(
		hashes, scriptCodes[0], tx, -1, txscript.SigHashAll, 0,
	)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = TaprootKeySpend(
		hashes, fetcher, tx, 7, txscript.SigHashDefault,
	)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	// SIGHASH_SINGLE without a matching output.
	shortTx := tx.Copy()
	shortTx.TxOut = shortTx.TxOut[:1]
	_, err = Legacy(shortTx, scriptCodes[1], 1, txscript.SigHashSingle)
	require.ErrorIs(t, err, ErrUnsupportedHashType)
	_, err = TaprootKeySpend(
		hashes, fetcher, shortTx, 1, txscript.SigHashSingle,
	)
	require.ErrorIs(t, err, ErrUnsupportedHashType)

	// Hash types outside the BIP341 set.
	_, err = TaprootKeySpend(
		hashes, fetcher, tx, 0, txscript.SigHashType(0x04),
	)
	require.ErrorIs(t, err, ErrUnsupportedHashType)

	// Unresolvable prevout.
	emptyFetcher := txscript.NewMultiPrevOutFetcher(nil)
	_, err = NewTxHashes(tx, emptyFetcher)
	require.ErrorIs(t, err, ErrMissingPrevOut)
}

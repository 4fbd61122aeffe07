// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

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

const testFundingAmount = 100_000_000

// testKeys generates n fresh key pairs.
func testKeys(t *testing.T, n int) []*btcec.PrivateKey {
	t.Helper()

	keys := make([]*btcec.PrivateKey, n)
	for i := range keys {
		privKey, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		keys[i] = privKey
	}

	return keys
}

// p2pkhScript builds the canonical P2PKH script for the given key.
func p2pkhScript(t *testing.T, pubKey *btcec.PublicKey) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(pubKey.SerializeCompressed())).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	return script
}

// p2pkScript builds a bare pay-to-pubkey script.
func p2pkScript(t *testing.T, pubKey *btcec.PublicKey) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddData(pubKey.SerializeCompressed()).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	return script
}

// p2wpkhScript builds the version 0 witness program of the given key.
func p2wpkhScript(t *testing.T, pubKey *btcec.PublicKey) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(pubKey.SerializeCompressed())).
		Script()
	require.NoError(t, err)

	return script
}

// p2wshScript builds the version 0 witness program committing to the
// given witness script.
func p2wshScript(t *testing.T, witnessScript []byte) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(chainhash.HashB(witnessScript)).
		Script()
	require.NoError(t, err)

	return script
}

// p2shScript builds a pay-to-script-hash script for the given redeem
// script.
func p2shScript(t *testing.T, redeemScript []byte) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(redeemScript)).
		AddOp(txscript.OP_EQUAL).
		Script()
	require.NoError(t, err)

	return script
}

// p2trScript builds the version 1 witness program of the given taproot
// output key.
func p2trScript(t *testing.T, outputKey *btcec.PublicKey) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_1).
		AddData(schnorr.SerializePubKey(outputKey)).
		Script()
	require.NoError(t, err)

	return script
}

// multisigScript builds an m-of-n CHECKMULTISIG script over the given
// keys.
func multisigScript(t *testing.T, m int,
	pubKeys ...*btcec.PublicKey) []byte {

	t.Helper()

	builder := txscript.NewScriptBuilder().
		AddInt64(int64(m))
	for _, pubKey := range pubKeys {
		builder.AddData(pubKey.SerializeCompressed())
	}
	script, err := builder.
		AddInt64(int64(len(pubKeys))).
		AddOp(txscript.OP_CHECKMULTISIG).
		Script()
	require.NoError(t, err)

	return script
}

// fundingTx builds a coinbase-like transaction paying the given amount to
// the given script and returns it with the outpoint of that output.
func fundingTx(t *testing.T, pkScript []byte,
	amount int64) (*wire.MsgTx, wire.OutPoint) {

	t.Helper()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		SignatureScript:  []byte{0x51},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(wire.NewTxOut(amount, pkScript))

	return tx, wire.OutPoint{Hash: tx.TxHash(), Index: 0}
}

// spendingPacket builds a version 0 packet spending the given outpoint to
// a throwaway P2WPKH output, leaving room for a fee.
func spendingPacket(t *testing.T, op wire.OutPoint) *Packet {
	t.Helper()

	destKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	dest := p2wpkhScript(t, destKey.PubKey())

	packet, err := New(
		[]*wire.OutPoint{&op},
		[]*wire.TxOut{wire.NewTxOut(testFundingAmount-10_000, dest)},
		2, 0, []uint32{wire.MaxTxInSequenceNum},
	)
	require.NoError(t, err)

	return packet
}

// executeScripts runs the script engine over every input of the final
// transaction, proving the packet produced consensus-valid spends.
func executeScripts(t *testing.T, finalTx *wire.MsgTx,
	prevOuts *txscript.MultiPrevOutFetcher) {

	t.Helper()

	hashCache := txscript.NewTxSigHashes(finalTx, prevOuts)
	for i, txIn := range finalTx.TxIn {
		prevOut := prevOuts.FetchPrevOutput(txIn.PreviousOutPoint)
		require.NotNil(t, prevOut)

		vm, err := txscript.NewEngine(
			prevOut.PkScript, finalTx, i,
			txscript.StandardVerifyFlags, nil, hashCache,
			prevOut.Value, prevOuts,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d failed script "+
			"execution", i)
	}
}

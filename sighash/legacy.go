// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sighash

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Legacy computes the original, pre-segwit signature hash for the input at
// the given index. The scriptCode is the script being satisfied: the
// previous output's pkScript for bare spends, or the redeem script for
// P2SH spends.
//
// A transformed copy of the transaction is serialized and double-SHA256
// hashed together with the hash type. SIGHASH_SINGLE with an input index
// beyond the last output is rejected with ErrUnsupportedHashType rather
// than reproducing the historical "hash of one" consensus quirk, since a
// signature produced that way commits to nothing.
func Legacy(tx *wire.MsgTx, scriptCode []byte, idx int,
	hashType txscript.SigHashType) ([]byte, error) {

	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, fmt.Errorf("%w: input %d of %d",
			ErrIndexOutOfRange, idx, len(tx.TxIn))
	}

	if baseHashType(hashType) == txscript.SigHashSingle &&
		idx >= len(tx.TxOut) {

		return nil, fmt.Errorf("%w: SIGHASH_SINGLE input %d has no "+
			"matching output", ErrUnsupportedHashType, idx)
	}

	// Any instances of OP_CODESEPARATOR are deleted from the script
	// placed into the signed input, per the legacy signing rules.
	scriptCode, err := removeOpcode(
		scriptCode, txscript.OP_CODESEPARATOR,
	)
	if err != nil {
		return nil, err
	}

	txCopy := shallowCopyTx(tx)

	if isAnyoneCanPay(hashType) {
		// Only the input being signed survives, carrying the script
		// being satisfied.
		txCopy.TxIn = txCopy.TxIn[idx : idx+1]
		txCopy.TxIn[0].SignatureScript = scriptCode
	} else {
		for i := range txCopy.TxIn {
			if i == idx {
				txCopy.TxIn[i].SignatureScript = scriptCode
				continue
			}

			txCopy.TxIn[i].SignatureScript = nil

			// Letting other inputs change their sequence numbers
			// is part of what NONE and SINGLE relinquish.
			switch baseHashType(hashType) {
			case txscript.SigHashNone, txscript.SigHashSingle:
				txCopy.TxIn[i].Sequence = 0
			}
		}
	}

	switch baseHashType(hashType) {
	case txscript.SigHashNone:
		txCopy.TxOut = nil

	case txscript.SigHashSingle:
		// Keep only outputs up to and including the matching one,
		// with all earlier ones blanked to value -1.
		txCopy.TxOut = txCopy.TxOut[:idx+1]
		for i := 0; i < idx; i++ {
			txCopy.TxOut[i].Value = -1
			txCopy.TxOut[i].PkScript = nil
		}
	}

	var buf bytes.Buffer
	if err := txCopy.SerializeNoWitness(&buf); err != nil {
		return nil, err
	}
	err = binary.Write(&buf, binary.LittleEndian, uint32(hashType))
	if err != nil {
		return nil, err
	}

	hash := chainhash.DoubleHashB(buf.Bytes())
	return hash, nil
}

// shallowCopyTx creates a shallow copy of the transaction: the slices of
// inputs and outputs are fresh, as are the wire.TxIn/TxOut structs, but
// the byte slices inside them still alias the original. This is enough for
// the blanking transforms above, which only reassign fields.
func shallowCopyTx(tx *wire.MsgTx) *wire.MsgTx {
	txCopy := wire.MsgTx{
		Version:  tx.Version,
		TxIn:     make([]*wire.TxIn, len(tx.TxIn)),
		TxOut:    make([]*wire.TxOut, len(tx.TxOut)),
		LockTime: tx.LockTime,
	}

	for i, txIn := range tx.TxIn {
		inCopy := *txIn
		inCopy.Witness = nil
		txCopy.TxIn[i] = &inCopy
	}
	for i, txOut := range tx.TxOut {
		outCopy := *txOut
		txCopy.TxOut[i] = &outCopy
	}

	return &txCopy
}

// removeOpcode strips all instances of the given opcode from the script,
// preserving everything else byte for byte. Malformed scripts are rejected.
func removeOpcode(script []byte, opcode byte) ([]byte, error) {
	// Fast path: nothing to remove.
	if bytes.IndexByte(script, opcode) < 0 {
		return script, nil
	}

	var (
		result     = make([]byte, 0, len(script))
		tokenizer  = txscript.MakeScriptTokenizer(0, script)
		prevOffset int32
	)
	for tokenizer.Next() {
		if tokenizer.Opcode() != opcode {
			result = append(
				result,
				script[prevOffset:tokenizer.ByteIndex()]...,
			)
		}
		prevOffset = tokenizer.ByteIndex()
	}
	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedHashType, err)
	}

	return result, nil
}

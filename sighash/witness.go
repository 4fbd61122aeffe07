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

// WitnessV0 computes the BIP143 signature hash for the input at the given
// index, committing to the value of the spent output. The scriptCode is
// either the canonical P2PKH script derived from a P2WPKH program, or the
// witness script for P2WSH spends.
//
// The shared hashes are taken from the cache so per-input work is constant
// regardless of the transaction size.
func WitnessV0(hashes *TxHashes, scriptCode []byte, tx *wire.MsgTx,
	idx int, hashType txscript.SigHashType,
	amount int64) ([]byte, error) {

	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, fmt.Errorf("%w: input %d of %d",
			ErrIndexOutOfRange, idx, len(tx.TxIn))
	}

	var buf bytes.Buffer

	err := binary.Write(&buf, binary.LittleEndian, uint32(tx.Version))
	if err != nil {
		return nil, err
	}

	// hashPrevouts and hashSequence are zeroed when the flags make the
	// respective commitments input-local.
	var zeroHash chainhash.Hash
	if isAnyoneCanPay(hashType) {
		buf.Write(zeroHash[:])
	} else {
		buf.Write(hashes.HashPrevOutsV0[:])
	}

	switch {
	case isAnyoneCanPay(hashType),
		baseHashType(hashType) == txscript.SigHashNone,
		baseHashType(hashType) == txscript.SigHashSingle:

		buf.Write(zeroHash[:])

	default:
		buf.Write(hashes.HashSequenceV0[:])
	}

	txIn := tx.TxIn[idx]
	buf.Write(txIn.PreviousOutPoint.Hash[:])
	err = binary.Write(
		&buf, binary.LittleEndian, txIn.PreviousOutPoint.Index,
	)
	if err != nil {
		return nil, err
	}

	if err := wire.WriteVarBytes(&buf, 0, scriptCode); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.LittleEndian, amount); err != nil {
		return nil, err
	}
	err = binary.Write(&buf, binary.LittleEndian, txIn.Sequence)
	if err != nil {
		return nil, err
	}

	switch {
	case baseHashType(hashType) == txscript.SigHashSingle &&
		idx < len(tx.TxOut):

		var outBuf bytes.Buffer
		err := wire.WriteTxOut(&outBuf, 0, 0, tx.TxOut[idx])
		if err != nil {
			return nil, err
		}
		outHash := chainhash.DoubleHashH(outBuf.Bytes())
		buf.Write(outHash[:])

	case baseHashType(hashType) != txscript.SigHashSingle &&
		baseHashType(hashType) != txscript.SigHashNone:

		buf.Write(hashes.HashOutputsV0[:])

	default:
		// SIGHASH_NONE, or SIGHASH_SINGLE with no matching output.
		buf.Write(zeroHash[:])
	}

	err = binary.Write(&buf, binary.LittleEndian, tx.LockTime)
	if err != nil {
		return nil, err
	}
	err = binary.Write(&buf, binary.LittleEndian, uint32(hashType))
	if err != nil {
		return nil, err
	}

	return chainhash.DoubleHashB(buf.Bytes()), nil
}

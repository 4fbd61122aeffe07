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

// TxHashes caches the intermediate hashes that are shared between all
// inputs of a transaction. Computing them once turns per-input digest
// computation from O(n) into O(1), keeping whole-transaction signing
// linear in the input count.
//
// The V0 fields are the double-SHA256 midstate hashes of BIP143, the V1
// fields are the single-SHA256 hashes of BIP341. A TxHashes value is
// immutable after construction and safe for concurrent readers.
type TxHashes struct {
	// HashPrevOutsV0 is the double-SHA256 of the serialized outpoints of
	// all inputs.
	HashPrevOutsV0 chainhash.Hash

	// HashSequenceV0 is the double-SHA256 of the serialized sequence
	// numbers of all inputs.
	HashSequenceV0 chainhash.Hash

	// HashOutputsV0 is the double-SHA256 of the serialized outputs.
	HashOutputsV0 chainhash.Hash

	// HashPrevOutsV1 is the single-SHA256 of the serialized outpoints of
	// all inputs.
	HashPrevOutsV1 chainhash.Hash

	// HashSequenceV1 is the single-SHA256 of the serialized sequence
	// numbers of all inputs.
	HashSequenceV1 chainhash.Hash

	// HashInputAmountsV1 is the single-SHA256 of the values of all spent
	// outputs.
	HashInputAmountsV1 chainhash.Hash

	// HashInputScriptsV1 is the single-SHA256 of the pkScripts of all
	// spent outputs.
	HashInputScriptsV1 chainhash.Hash

	// HashOutputsV1 is the single-SHA256 of the serialized outputs.
	HashOutputsV1 chainhash.Hash
}

// NewTxHashes computes the shared hash cache for the given transaction.
// The prevOuts fetcher must be able to resolve the spent output of every
// input, since the BIP341 hashes commit to all input amounts and scripts.
// ErrMissingPrevOut is returned if any previous output is unknown.
func NewTxHashes(tx *wire.MsgTx,
	prevOuts txscript.PrevOutputFetcher) (*TxHashes, error) {

	var (
		hashes TxHashes

		prevOutBuf, seqBuf, amountBuf bytes.Buffer
		scriptBuf, outputBuf          bytes.Buffer
	)

	for _, txIn := range tx.TxIn {
		prevOut := prevOuts.FetchPrevOutput(txIn.PreviousOutPoint)
		if prevOut == nil {
			return nil, fmt.Errorf("%w: %v", ErrMissingPrevOut,
				txIn.PreviousOutPoint)
		}

		prevOutBuf.Write(txIn.PreviousOutPoint.Hash[:])
		err := binary.Write(
			&prevOutBuf, binary.LittleEndian,
			txIn.PreviousOutPoint.Index,
		)
		if err != nil {
			return nil, err
		}

		err = binary.Write(&seqBuf, binary.LittleEndian, txIn.Sequence)
		if err != nil {
			return nil, err
		}

		err = binary.Write(
			&amountBuf, binary.LittleEndian, prevOut.Value,
		)
		if err != nil {
			return nil, err
		}

		err = wire.WriteVarBytes(&scriptBuf, 0, prevOut.PkScript)
		if err != nil {
			return nil, err
		}
	}

	for _, txOut := range tx.TxOut {
		if err := wire.WriteTxOut(&outputBuf, 0, 0, txOut); err != nil {
			return nil, err
		}
	}

	hashes.HashPrevOutsV0 = chainhash.DoubleHashH(prevOutBuf.Bytes())
	hashes.HashSequenceV0 = chainhash.DoubleHashH(seqBuf.Bytes())
	hashes.HashOutputsV0 = chainhash.DoubleHashH(outputBuf.Bytes())

	hashes.HashPrevOutsV1 = chainhash.HashH(prevOutBuf.Bytes())
	hashes.HashSequenceV1 = chainhash.HashH(seqBuf.Bytes())
	hashes.HashInputAmountsV1 = chainhash.HashH(amountBuf.Bytes())
	hashes.HashInputScriptsV1 = chainhash.HashH(scriptBuf.Bytes())
	hashes.HashOutputsV1 = chainhash.HashH(outputBuf.Bytes())

	log.Tracef("Built sighash cache for tx %v (%d inputs)", tx.TxHash(),
		len(tx.TxIn))

	return &hashes, nil
}

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

// The spend-type byte of the BIP341 digest encodes the extension flag in
// the high bits and the annex-present bit in the lowest bit. Annexes are
// not produced here, so only the extension flag varies.
const (
	sigHashExtFlagBase      = 0
	sigHashExtFlagTapscript = 1
)

// TaprootKeySpend computes the BIP341 signature hash for a key path spend
// of the input at the given index. SigHashDefault behaves like SigHashAll
// but yields a distinct digest by way of the hash type byte.
func TaprootKeySpend(hashes *TxHashes, prevOuts txscript.PrevOutputFetcher,
	tx *wire.MsgTx, idx int,
	hashType txscript.SigHashType) ([]byte, error) {

	return taprootSigHash(
		hashes, prevOuts, tx, idx, hashType, sigHashExtFlagBase, nil,
	)
}

// TaprootScriptSpend computes the BIP341/BIP342 signature hash for a
// script path spend, extending the base digest with the tapleaf hash of
// the script being executed.
func TaprootScriptSpend(hashes *TxHashes, prevOuts txscript.PrevOutputFetcher,
	tx *wire.MsgTx, idx int, hashType txscript.SigHashType,
	leafHash []byte) ([]byte, error) {

	return taprootSigHash(
		hashes, prevOuts, tx, idx, hashType, sigHashExtFlagTapscript,
		leafHash,
	)
}

// taprootSigHash assembles the common BIP341 digest and applies the
// tagged hash. All multi-input commitments are single-SHA256 hashes taken
// from the shared cache; the tag compression makes the final digest
// domain-separated from every other use of SHA256 in the protocol.
func taprootSigHash(hashes *TxHashes, prevOuts txscript.PrevOutputFetcher,
	tx *wire.MsgTx, idx int, hashType txscript.SigHashType,
	extFlag byte, leafHash []byte) ([]byte, error) {

	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, fmt.Errorf("%w: input %d of %d",
			ErrIndexOutOfRange, idx, len(tx.TxIn))
	}

	if !validTaprootHashType(hashType) {
		return nil, fmt.Errorf("%w: %v is not valid for taproot",
			ErrUnsupportedHashType, hashType)
	}

	if baseHashType(hashType) == txscript.SigHashSingle &&
		idx >= len(tx.TxOut) {

		return nil, fmt.Errorf("%w: SIGHASH_SINGLE input %d has no "+
			"matching output", ErrUnsupportedHashType, idx)
	}

	var buf bytes.Buffer

	// The digest starts with a zero epoch byte, then the hash type and
	// the transaction-wide fields.
	buf.WriteByte(0x00)
	buf.WriteByte(byte(hashType))

	err := binary.Write(&buf, binary.LittleEndian, uint32(tx.Version))
	if err != nil {
		return nil, err
	}
	err = binary.Write(&buf, binary.LittleEndian, tx.LockTime)
	if err != nil {
		return nil, err
	}

	if !isAnyoneCanPay(hashType) {
		buf.Write(hashes.HashPrevOutsV1[:])
		buf.Write(hashes.HashInputAmountsV1[:])
		buf.Write(hashes.HashInputScriptsV1[:])
		buf.Write(hashes.HashSequenceV1[:])
	}

	if baseHashType(hashType) != txscript.SigHashNone &&
		baseHashType(hashType) != txscript.SigHashSingle {

		buf.Write(hashes.HashOutputsV1[:])
	}

	spendType := extFlag << 1
	buf.WriteByte(spendType)

	txIn := tx.TxIn[idx]
	if isAnyoneCanPay(hashType) {
		prevOut := prevOuts.FetchPrevOutput(txIn.PreviousOutPoint)
		if prevOut == nil {
			return nil, fmt.Errorf("%w: %v", ErrMissingPrevOut,
				txIn.PreviousOutPoint)
		}

		buf.Write(txIn.PreviousOutPoint.Hash[:])
		err = binary.Write(
			&buf, binary.LittleEndian,
			txIn.PreviousOutPoint.Index,
		)
		if err != nil {
			return nil, err
		}

		err = binary.Write(
			&buf, binary.LittleEndian, prevOut.Value,
		)
		if err != nil {
			return nil, err
		}
		err = wire.WriteVarBytes(&buf, 0, prevOut.PkScript)
		if err != nil {
			return nil, err
		}

		err = binary.Write(&buf, binary.LittleEndian, txIn.Sequence)
		if err != nil {
			return nil, err
		}
	} else {
		err = binary.Write(&buf, binary.LittleEndian, uint32(idx))
		if err != nil {
			return nil, err
		}
	}

	if baseHashType(hashType) == txscript.SigHashSingle {
		var outBuf bytes.Buffer
		err := wire.WriteTxOut(&outBuf, 0, 0, tx.TxOut[idx])
		if err != nil {
			return nil, err
		}
		outHash := chainhash.HashH(outBuf.Bytes())
		buf.Write(outHash[:])
	}

	// The tapscript extension commits to the executing leaf, a key
	// version of zero and a codesep position of no-codesep.
	if extFlag == sigHashExtFlagTapscript {
		buf.Write(leafHash)
		buf.WriteByte(0x00)
		err = binary.Write(
			&buf, binary.LittleEndian, uint32(0xffffffff),
		)
		if err != nil {
			return nil, err
		}
	}

	digest := chainhash.TaggedHash(chainhash.TagTapSighash, buf.Bytes())
	return digest[:], nil
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// readTxOut is a limited version of wire.ReadTxOut, because the latter is
// not exported.
func readTxOut(txout []byte) (*wire.TxOut, error) {
	if len(txout) < 10 {
		return nil, ErrInvalidPsbtFormat
	}

	valueSer := binary.LittleEndian.Uint64(txout[:8])

	r := bytes.NewReader(txout[8:])
	scriptPubKey, err := wire.ReadVarBytes(
		r, 0, txscript.MaxScriptSize, "pkScript",
	)
	if err != nil {
		return nil, ErrInvalidPsbtFormat
	}

	// The value must be consumed exactly, trailing garbage is not a
	// valid encoding.
	if r.Len() != 0 {
		return nil, ErrInvalidPsbtFormat
	}

	return wire.NewTxOut(int64(valueSer), scriptPubKey), nil
}

// TxOutsEqual returns true if two transaction outputs are equal.
func TxOutsEqual(out1, out2 *wire.TxOut) bool {
	if out1 == nil || out2 == nil {
		return out1 == out2
	}

	return out1.Value == out2.Value &&
		bytes.Equal(out1.PkScript, out2.PkScript)
}

// SumUtxoInputValues tries to extract the sum of all inputs specified in the
// UTXO fields of the PSBT. An error is returned if an input has no UTXO
// information attached or the information is inconsistent.
func SumUtxoInputValues(packet *Packet) (int64, error) {
	var sum int64
	for idx := range packet.Inputs {
		utxo, err := packet.SpentOutput(idx)
		if err != nil {
			return 0, err
		}

		sum += utxo.Value
	}

	return sum, nil
}

// PrevOutputFetcher returns a txscript.PrevOutFetcher built from the UTXO
// information in a PSBT packet. Inputs without any UTXO information are
// skipped.
func PrevOutputFetcher(packet *Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx := range packet.Inputs {
		op, err := packet.InputOutpoint(idx)
		if err != nil {
			continue
		}

		utxo, err := packet.SpentOutput(idx)
		if err != nil {
			continue
		}

		fetcher.AddPrevOut(op, utxo)
	}

	return fetcher
}

// hash160 is RIPEMD160 over SHA256, the hash committed to by P2PKH and
// P2SH outputs.
func hash160(b []byte) []byte {
	return btcutil.Hash160(b)
}

func isPayToPubKeyHash(script []byte) bool {
	return txscript.GetScriptClass(script) == txscript.PubKeyHashTy
}

func isPayToPubKey(script []byte) bool {
	return txscript.GetScriptClass(script) == txscript.PubKeyTy
}

func isMultisigScript(script []byte) bool {
	return txscript.GetScriptClass(script) == txscript.MultiSigTy
}

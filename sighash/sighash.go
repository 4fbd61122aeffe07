// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sighash computes the exact byte messages that are signed for the
// individual inputs of a bitcoin transaction, across the three spending
// generations: the legacy pre-segwit scheme, the segwit v0 scheme of BIP143
// and the taproot scheme of BIP341.
//
// All functions in this package are pure: they never mutate the passed
// transaction, perform no I/O and hold no state. The only shared state is
// the explicit TxHashes cache, which callers compute once per transaction
// and pass (read-only) into every per-input call.
package sighash

import (
	"errors"

	"github.com/btcsuite/btcd/txscript"
)

var (
	// ErrIndexOutOfRange is returned when the requested input index does
	// not exist in the transaction.
	ErrIndexOutOfRange = errors.New("input index out of range")

	// ErrUnsupportedHashType is returned when the sighash flag
	// combination is invalid for the given input, e.g. SIGHASH_SINGLE
	// with an input index beyond the output count, or a taproot hash
	// type outside the defined set.
	ErrUnsupportedHashType = errors.New("unsupported sighash type")

	// ErrMissingPrevOut is returned when the previous output data needed
	// to compute a digest is not available.
	ErrMissingPrevOut = errors.New("missing previous output data")
)

// sigHashMask defines the number of bits of the hash type which are used to
// identify which outputs are signed.
const sigHashMask = 0x1f

// baseHashType returns the output-selection part of the hash type, with the
// ANYONECANPAY bit stripped.
func baseHashType(hashType txscript.SigHashType) txscript.SigHashType {
	return hashType & sigHashMask
}

// isAnyoneCanPay returns true if the hash type has the ANYONECANPAY bit
// set, restricting the signature's scope to the single input.
func isAnyoneCanPay(hashType txscript.SigHashType) bool {
	return hashType&txscript.SigHashAnyOneCanPay != 0
}

// validTaprootHashType returns true if the hash type is one of the values
// BIP341 defines. Everything else makes a taproot signature invalid by
// consensus and is rejected up front.
func validTaprootHashType(hashType txscript.SigHashType) bool {
	switch hashType {
	case txscript.SigHashDefault, txscript.SigHashAll,
		txscript.SigHashNone, txscript.SigHashSingle,
		txscript.SigHashAll | txscript.SigHashAnyOneCanPay,
		txscript.SigHashNone | txscript.SigHashAnyOneCanPay,
		txscript.SigHashSingle | txscript.SigHashAnyOneCanPay:

		return true

	default:
		return false
	}
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// NotFinalizedError is returned by Extract when the packet still holds an
// unfinalized input, identifying the first offending index.
type NotFinalizedError struct {
	// Index is the first input that is not finalized.
	Index int
}

// Error implements the error interface.
func (e *NotFinalizedError) Error() string {
	return fmt.Sprintf("input %d is not finalized", e.Index)
}

// Unwrap ties the error to ErrIncompletePSBT for errors.Is matching.
func (e *NotFinalizedError) Unwrap() error {
	return ErrIncompletePSBT
}

// Extract produces the fully signed network-ready transaction from a
// packet whose inputs are all finalized, performing the Extractor role.
// The packet itself is not modified, so a failed or repeated extraction
// always sees the same state.
func Extract(p *Packet) (*wire.MsgTx, error) {
	for i := range p.Inputs {
		if !p.Inputs[i].isFinalized() {
			return nil, &NotFinalizedError{Index: i}
		}
	}

	finalTx, err := p.UnsignedTransaction()
	if err != nil {
		return nil, err
	}

	// Version 0 packets hand out the embedded transaction itself; work
	// on a copy so the packet stays untouched.
	if !p.IsV2() {
		finalTx = finalTx.Copy()
	}

	for i := range p.Inputs {
		pIn := &p.Inputs[i]
		txIn := finalTx.TxIn[i]

		if pIn.FinalScriptSig != nil {
			txIn.SignatureScript = pIn.FinalScriptSig
		}
		if pIn.FinalScriptWitness != nil {
			witness, err := parseWitness(pIn.FinalScriptWitness)
			if err != nil {
				return nil, err
			}
			txIn.Witness = witness
		}
	}

	return finalTx, nil
}

// parseWitness decodes the serialized witness stack of a final witness
// field.
func parseWitness(serialized []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(serialized)

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, ErrInvalidPsbtFormat
	}
	if count > maxWitnessElements {
		return nil, ErrInvalidPsbtFormat
	}

	witness := make(wire.TxWitness, count)
	for i := uint64(0); i < count; i++ {
		witness[i], err = wire.ReadVarBytes(
			r, 0, txscriptMaxElementSize, "witness element",
		)
		if err != nil {
			return nil, ErrInvalidPsbtFormat
		}
	}
	if r.Len() != 0 {
		return nil, ErrInvalidPsbtFormat
	}

	return witness, nil
}

const (
	// maxWitnessElements bounds the element count of a parsed witness
	// stack.
	maxWitnessElements = 500000

	// txscriptMaxElementSize bounds the size of a single witness
	// element. Tapscripts can push elements beyond the pre-taproot
	// element limit, so this is bounded by the value length limit of
	// the format rather than a script rule.
	txscriptMaxElementSize = MaxPsbtValueLength
)

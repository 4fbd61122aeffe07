// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"github.com/btcsuite/btcd/wire"
)

// New constructs a version 0 Packet from the given outpoints and outputs,
// performing the Creator role. The unsigned transaction is assembled with
// the requested version and locktime, every input is given the matching
// sequence number from nSequences and an empty input record, and every
// output an empty output record.
//
// The lengths of inputs and nSequences must match.
func New(inputs []*wire.OutPoint, outputs []*wire.TxOut, version int32,
	nLockTime uint32, nSequences []uint32) (*Packet, error) {

	if len(inputs) != len(nSequences) {
		return nil, ErrInvalidPsbtFormat
	}

	unsignedTx := wire.NewMsgTx(version)
	unsignedTx.LockTime = nLockTime
	for i, in := range inputs {
		unsignedTx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: *in,
			Sequence:         nSequences[i],
		})
	}
	for _, out := range outputs {
		unsignedTx.AddTxOut(out)
	}

	return NewFromUnsignedTx(unsignedTx)
}

// NewV2 constructs an empty version 2 Packet with the given transaction
// version and optional fallback locktime. Both the input and output
// modifiable flags are set so that an Updater may add inputs and outputs
// until the packet is locked down.
func NewV2(txVersion int32, fallbackLocktime *uint32) *Packet {
	modifiable := TxModifiableInputs | TxModifiableOutputs

	return &Packet{
		PsbtVersion:      PsbtVersion2,
		TxVersion:        txVersion,
		FallbackLocktime: fallbackLocktime,
		TxModifiable:     &modifiable,
		Unknowns:         nil,
	}
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"sort"
)

// InPlaceSort modifies the passed packet's wire TX inputs and outputs to be
// sorted based on BIP 69. The sorting relies on the fact that the attached
// packet input and output records follow the wire transaction's input and
// output ordering, and keeps the two in sync.
//
// WARNING: This function must NOT be called with packets that were produced
// by other parties and already carry signatures, since BIP 69 sorting
// changes the transaction and invalidates them.
func InPlaceSort(packet *Packet) error {
	// To make sure we don't run into any problems with the wire and
	// packet records getting out of sync, we enforce validity first.
	if err := packet.Validate(); err != nil {
		return err
	}

	sort.Sort(&sortableInputs{p: packet})
	sort.Sort(&sortableOutputs{p: packet})

	return nil
}

// sortableInputs is a simple wrapper around a packet that implements the
// sort.Interface for sorting the inputs of a packet, keeping the wire
// transaction (for version 0 packets) and the input records in sync.
type sortableInputs struct {
	p *Packet
}

func (s *sortableInputs) Len() int { return len(s.p.Inputs) }

// Swap swaps two inputs.
func (s *sortableInputs) Swap(i, j int) {
	if !s.p.IsV2() {
		tx := s.p.UnsignedTx
		tx.TxIn[i], tx.TxIn[j] = tx.TxIn[j], tx.TxIn[i]
	}
	s.p.Inputs[i], s.p.Inputs[j] = s.p.Inputs[j], s.p.Inputs[i]
}

// Less is the input comparison function of BIP 69: first by txid, then by
// output index.
func (s *sortableInputs) Less(i, j int) bool {
	opI, errI := s.p.InputOutpoint(i)
	opJ, errJ := s.p.InputOutpoint(j)
	if errI != nil || errJ != nil {
		return false
	}

	// Input hashes are the same, so compare the index.
	ihash := opI.Hash
	jhash := opJ.Hash
	if ihash == jhash {
		return opI.Index < opJ.Index
	}

	// At this point, the hashes are not equal, so reverse them to
	// big-endian and return the result of the comparison.
	const hashSize = len(ihash)
	for b := 0; b < hashSize/2; b++ {
		ihash[b], ihash[hashSize-1-b] = ihash[hashSize-1-b], ihash[b]
		jhash[b], jhash[hashSize-1-b] = jhash[hashSize-1-b], jhash[b]
	}

	return bytes.Compare(ihash[:], jhash[:]) < 0
}

// sortableOutputs is a simple wrapper around a packet that implements the
// sort.Interface for sorting the outputs of a packet.
type sortableOutputs struct {
	p *Packet
}

func (s *sortableOutputs) Len() int { return len(s.p.Outputs) }

// Swap swaps two outputs.
func (s *sortableOutputs) Swap(i, j int) {
	if !s.p.IsV2() {
		tx := s.p.UnsignedTx
		tx.TxOut[i], tx.TxOut[j] = tx.TxOut[j], tx.TxOut[i]
	}
	s.p.Outputs[i], s.p.Outputs[j] = s.p.Outputs[j], s.p.Outputs[i]
}

// Less is the output comparison function of BIP 69: first by amount, then
// by script.
func (s *sortableOutputs) Less(i, j int) bool {
	valueI, scriptI := s.outputKey(i)
	valueJ, scriptJ := s.outputKey(j)

	if valueI == valueJ {
		return bytes.Compare(scriptI, scriptJ) < 0
	}

	return valueI < valueJ
}

// outputKey returns the amount and script of the given output, regardless
// of the packet version.
func (s *sortableOutputs) outputKey(i int) (int64, []byte) {
	if !s.p.IsV2() {
		out := s.p.UnsignedTx.TxOut[i]
		return out.Value, out.PkScript
	}

	pOut := &s.p.Outputs[i]
	var value int64
	if pOut.Amount != nil {
		value = *pOut.Amount
	}

	return value, pOut.PkScript
}

// sortXpubs sorts a slice of xpubs by the lexicographic order of their raw
// extended keys so that serialization is deterministic.
func sortXpubs(xpubs []*Xpub) {
	sort.Slice(xpubs, func(i, j int) bool {
		return xpubs[i].SortBefore(xpubs[j])
	})
}

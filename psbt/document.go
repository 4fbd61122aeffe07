// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrMissingPrevoutInfo is returned when an input carries neither a
	// non-witness UTXO nor a witness UTXO, so its spent amount and
	// script cannot be resolved.
	ErrMissingPrevoutInfo = errors.New(
		"input is missing prevout information",
	)

	// ErrUnsatisfiableLocktime is returned when the version 2 inputs
	// state lock time requirements that no single transaction lock time
	// can satisfy.
	ErrUnsatisfiableLocktime = errors.New(
		"input locktime requirements cannot be satisfied",
	)
)

// IsV2 returns true if the packet uses the version 2 format with explicit
// transaction fields instead of an embedded unsigned transaction.
func (p *Packet) IsV2() bool {
	return p.PsbtVersion == 2
}

// InputOutpoint returns the previous outpoint spent by the given input,
// resolved from the embedded transaction for version 0 packets or from the
// explicit per-input fields for version 2.
func (p *Packet) InputOutpoint(idx int) (wire.OutPoint, error) {
	if idx < 0 || idx >= len(p.Inputs) {
		return wire.OutPoint{}, ErrIndexOutOfRange
	}

	if !p.IsV2() {
		return p.UnsignedTx.TxIn[idx].PreviousOutPoint, nil
	}

	pIn := &p.Inputs[idx]
	if pIn.PrevoutHash == nil || pIn.PrevoutIndex == nil {
		return wire.OutPoint{}, ErrMissingPrevoutInfo
	}

	return wire.OutPoint{
		Hash:  *pIn.PrevoutHash,
		Index: *pIn.PrevoutIndex,
	}, nil
}

// SpentOutput returns the output being spent by the given input, resolved
// through either the witness UTXO or the non-witness UTXO field. When both
// are present they must agree; the full previous transaction takes priority
// for the lookup.
func (p *Packet) SpentOutput(idx int) (*wire.TxOut, error) {
	if idx < 0 || idx >= len(p.Inputs) {
		return nil, ErrIndexOutOfRange
	}

	pIn := &p.Inputs[idx]
	switch {
	case pIn.NonWitnessUtxo != nil:
		op, err := p.InputOutpoint(idx)
		if err != nil {
			return nil, err
		}

		// The full previous transaction must actually be the
		// transaction the input spends from.
		txHash := pIn.NonWitnessUtxo.TxHash()
		if !txHash.IsEqual(&op.Hash) {
			return nil, ErrInvalidPrevOutNonWitnessTransaction
		}

		if int(op.Index) >= len(pIn.NonWitnessUtxo.TxOut) {
			return nil, ErrInvalidPrevOutNonWitnessTransaction
		}
		utxo := pIn.NonWitnessUtxo.TxOut[op.Index]

		// When the witness UTXO is also attached, both must describe
		// the same output.
		if pIn.WitnessUtxo != nil &&
			!TxOutsEqual(utxo, pIn.WitnessUtxo) {

			return nil, ErrInvalidPrevOutNonWitnessTransaction
		}

		return utxo, nil

	case pIn.WitnessUtxo != nil:
		return pIn.WitnessUtxo, nil

	default:
		return nil, ErrMissingPrevoutInfo
	}
}

// SpentAmount returns the effective amount spent by the given input.
func (p *Packet) SpentAmount(idx int) (btcutil.Amount, error) {
	utxo, err := p.SpentOutput(idx)
	if err != nil {
		return 0, err
	}

	return btcutil.Amount(utxo.Value), nil
}

// SignScript resolves the effective spending script of the given input: the
// spent output's pkScript with any pay-to-script-hash and
// pay-to-witness-script-hash indirection resolved through the attached
// redeem and witness scripts.
func (p *Packet) SignScript(idx int) ([]byte, error) {
	utxo, err := p.SpentOutput(idx)
	if err != nil {
		return nil, err
	}

	pIn := &p.Inputs[idx]
	script := utxo.PkScript

	// A pay-to-script-hash output is resolved through the redeem script,
	// which must hash to the committed script hash.
	if txscript.IsPayToScriptHash(script) {
		if pIn.RedeemScript == nil {
			return nil, fmt.Errorf("%w: input %d needs a redeem "+
				"script", ErrMissingPrevoutInfo, idx)
		}
		scriptHash := btcutil.Hash160(pIn.RedeemScript)
		if !bytes.Equal(scriptHash, script[2:22]) {
			return nil, fmt.Errorf("%w: redeem script does not "+
				"match script hash of input %d",
				ErrInvalidPsbtFormat, idx)
		}

		script = pIn.RedeemScript
	}

	// A pay-to-witness-script-hash program (possibly nested within the
	// redeem script we just unwrapped) is resolved through the witness
	// script.
	if txscript.IsPayToWitnessScriptHash(script) {
		if pIn.WitnessScript == nil {
			return nil, fmt.Errorf("%w: input %d needs a witness "+
				"script", ErrMissingPrevoutInfo, idx)
		}
		witnessHash := chainhash.HashB(pIn.WitnessScript)
		if !bytes.Equal(witnessHash, script[2:34]) {
			return nil, fmt.Errorf("%w: witness script does not "+
				"match witness program of input %d",
				ErrInvalidPsbtFormat, idx)
		}

		script = pIn.WitnessScript
	}

	return script, nil
}

// DerivationFor returns the recorded BIP32 derivation entry of the given
// public key on the given input, or nil if the input has no entry for the
// key.
func (p *Packet) DerivationFor(idx int, pubKey []byte) *Bip32Derivation {
	if idx < 0 || idx >= len(p.Inputs) {
		return nil
	}

	for _, d := range p.Inputs[idx].Bip32Derivation {
		if bytes.Equal(d.PubKey, pubKey) {
			return d
		}
	}

	return nil
}

// InputSequence returns the effective sequence number of the given input.
func (p *Packet) InputSequence(idx int) (uint32, error) {
	if idx < 0 || idx >= len(p.Inputs) {
		return 0, ErrIndexOutOfRange
	}

	if !p.IsV2() {
		return p.UnsignedTx.TxIn[idx].Sequence, nil
	}

	if seq := p.Inputs[idx].Sequence; seq != nil {
		return *seq, nil
	}

	return wire.MaxTxInSequenceNum, nil
}

// effectiveLocktime computes the lock time of a version 2 packet from the
// per-input requirements per BIP370: the field type supported by all inputs
// that state a requirement is chosen, preferring height, and the maximum
// stated value wins. Without any requirements the fallback (or zero) is
// used.
func (p *Packet) effectiveLocktime() (uint32, error) {
	var (
		maxHeight, maxTime uint32
		haveHeight         bool
		haveTime           bool
		heightOK           = true
		timeOK             = true
	)

	for i := range p.Inputs {
		pIn := &p.Inputs[i]
		inHeight := pIn.RequiredHeightLocktime
		inTime := pIn.RequiredTimeLocktime

		if inHeight == nil && inTime == nil {
			continue
		}

		if inHeight != nil {
			haveHeight = true
			if *inHeight > maxHeight {
				maxHeight = *inHeight
			}
		} else {
			// The input only accepts a time based locktime.
			heightOK = false
		}

		if inTime != nil {
			haveTime = true
			if *inTime > maxTime {
				maxTime = *inTime
			}
		} else {
			// The input only accepts a height based locktime.
			timeOK = false
		}
	}

	switch {
	case haveHeight && heightOK:
		return maxHeight, nil

	case haveTime && timeOK:
		return maxTime, nil

	case haveHeight || haveTime:
		return 0, ErrUnsatisfiableLocktime
	}

	if p.FallbackLocktime != nil {
		return *p.FallbackLocktime, nil
	}

	return 0, nil
}

// UnsignedTransaction returns the effective unsigned transaction of the
// packet. For version 0 this is the embedded transaction; for version 2 it
// is constructed from the explicit global and per-input/per-output fields.
// The returned transaction carries no signature scripts or witnesses.
func (p *Packet) UnsignedTransaction() (*wire.MsgTx, error) {
	if !p.IsV2() {
		return p.UnsignedTx, nil
	}

	lockTime, err := p.effectiveLocktime()
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(p.TxVersion)
	tx.LockTime = lockTime

	for i := range p.Inputs {
		op, err := p.InputOutpoint(i)
		if err != nil {
			return nil, err
		}

		sequence, err := p.InputSequence(i)
		if err != nil {
			return nil, err
		}

		txIn := wire.NewTxIn(&op, nil, nil)
		txIn.Sequence = sequence
		tx.AddTxIn(txIn)
	}

	for i := range p.Outputs {
		pOut := &p.Outputs[i]
		if pOut.Amount == nil || pOut.PkScript == nil {
			return nil, fmt.Errorf("%w: output %d is missing its "+
				"amount or script", ErrInvalidPsbtFormat, i)
		}

		tx.AddTxOut(wire.NewTxOut(*pOut.Amount, pOut.PkScript))
	}

	return tx, nil
}

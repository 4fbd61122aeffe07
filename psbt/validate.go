// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"fmt"
)

// ValidationError describes a violated structural invariant of a packet. It
// names the map the offending field lives in (Index is -1 for global
// fields), the field itself and the reason the packet was rejected.
type ValidationError struct {
	// Index is the input or output index the error refers to, or -1 for
	// a global field.
	Index int

	// Field is the name of the offending field.
	Field string

	// Reason describes why the packet was rejected.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid psbt: global field %s: %s",
			e.Field, e.Reason)
	}

	return fmt.Sprintf("invalid psbt: field %s at index %d: %s",
		e.Field, e.Index, e.Reason)
}

// Unwrap allows errors.Is checks against ErrInvalidPsbtFormat.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidPsbtFormat
}

// newValidationError is a small convenience constructor.
func newValidationError(index int, field, reason string) error {
	return &ValidationError{Index: index, Field: field, Reason: reason}
}

// Validate checks the structural invariants of the packet:
//
//  1. key uniqueness within every map,
//  2. input/output record counts matching the declared transaction shape,
//  3. no version 2 fields in a version 0 packet and vice versa,
//  4. finalized inputs carrying no stale pre-signature fields,
//  5. spendable inputs carrying consistent prevout information.
//
// A nil return means the packet is accepted.
func (p *Packet) Validate() error {
	switch p.PsbtVersion {
	case 0:
		if p.UnsignedTx == nil {
			return newValidationError(
				-1, "unsigned tx",
				"version 0 requires the unsigned transaction",
			)
		}
		if !validateUnsignedTX(p.UnsignedTx) {
			return newValidationError(
				-1, "unsigned tx",
				"embedded transaction must be unsigned",
			)
		}
		if p.FallbackLocktime != nil || p.TxModifiable != nil {
			return newValidationError(
				-1, "fallback locktime",
				"field requires a version 2 packet",
			)
		}

		// Invariant 2: one input/output record per transaction
		// input/output.
		if len(p.Inputs) != len(p.UnsignedTx.TxIn) {
			return newValidationError(
				-1, "inputs", "input record count does not "+
					"match the unsigned transaction",
			)
		}
		if len(p.Outputs) != len(p.UnsignedTx.TxOut) {
			return newValidationError(
				-1, "outputs", "output record count does "+
					"not match the unsigned transaction",
			)
		}

	case 2:
		if p.UnsignedTx != nil {
			return newValidationError(
				-1, "unsigned tx",
				"version 2 forbids an embedded transaction",
			)
		}

	default:
		return newValidationError(
			-1, "version", fmt.Sprintf("unsupported psbt "+
				"version %d", p.PsbtVersion),
		)
	}

	if err := p.validateGlobalUniqueness(); err != nil {
		return err
	}

	for idx := range p.Inputs {
		if err := p.validateInput(idx); err != nil {
			return err
		}
	}

	for idx := range p.Outputs {
		if err := p.validateOutput(idx); err != nil {
			return err
		}
	}

	return nil
}

// validateGlobalUniqueness enforces invariant 1 for the global map entries
// that are represented as slices in memory.
func (p *Packet) validateGlobalUniqueness() error {
	seenXpubs := make(map[string]struct{}, len(p.Xpubs))
	for _, xpub := range p.Xpubs {
		key := string(xpub.ExtendedKey)
		if _, ok := seenXpubs[key]; ok {
			return newValidationError(
				-1, "xpub", "duplicate extended public key",
			)
		}
		seenXpubs[key] = struct{}{}
	}

	return validateUnknownUniqueness(-1, p.Unknowns)
}

// validateUnknownUniqueness enforces key uniqueness for preserved unknown
// entries of one map.
func validateUnknownUniqueness(index int, unknowns []*Unknown) error {
	seen := make(map[string]struct{}, len(unknowns))
	for _, u := range unknowns {
		if _, ok := seen[string(u.Key)]; ok {
			return newValidationError(
				index, "unknown", "duplicate key",
			)
		}
		seen[string(u.Key)] = struct{}{}
	}

	return nil
}

// validateInput checks the per-input invariants of the input at the given
// index.
func (p *Packet) validateInput(idx int) error {
	pIn := &p.Inputs[idx]

	// Invariant 3: no version mixing.
	if !p.IsV2() && pIn.hasV2Fields() {
		return newValidationError(
			idx, "prevout", "version 2 input fields present in "+
				"a version 0 packet",
		)
	}
	if p.IsV2() {
		if pIn.PrevoutHash == nil || pIn.PrevoutIndex == nil {
			return newValidationError(
				idx, "prevout", "version 2 input requires "+
					"explicit prevout txid and index",
			)
		}
	}

	// Invariant 1: key uniqueness for the map entries kept as slices.
	seenSigs := make(map[string]struct{}, len(pIn.PartialSigs))
	for _, sig := range pIn.PartialSigs {
		if _, ok := seenSigs[string(sig.PubKey)]; ok {
			return newValidationError(
				idx, "partial signature",
				"duplicate public key",
			)
		}
		seenSigs[string(sig.PubKey)] = struct{}{}
	}

	seenDerivs := make(map[string]struct{}, len(pIn.Bip32Derivation))
	for _, d := range pIn.Bip32Derivation {
		if _, ok := seenDerivs[string(d.PubKey)]; ok {
			return newValidationError(
				idx, "bip32 derivation",
				"duplicate public key",
			)
		}
		seenDerivs[string(d.PubKey)] = struct{}{}
	}

	seenLeafSigs := make(
		map[string]struct{}, len(pIn.TaprootScriptSpendSig),
	)
	for _, sig := range pIn.TaprootScriptSpendSig {
		key := string(sig.XOnlyPubKey) + string(sig.LeafHash)
		if _, ok := seenLeafSigs[key]; ok {
			return newValidationError(
				idx, "taproot script spend signature",
				"duplicate public key and leaf hash",
			)
		}
		seenLeafSigs[key] = struct{}{}
	}

	if err := validateUnknownUniqueness(idx, pIn.Unknowns); err != nil {
		return err
	}

	// Invariant 4: finalization fields are mutually exclusive with the
	// pre-signature fields, plus the general input self-consistency
	// checks.
	if !pIn.IsSane() {
		return newValidationError(
			idx, "input", "conflicting input fields",
		)
	}

	// Invariant 5: when prevout information is attached it must be
	// internally consistent. An input without any prevout info is still
	// structurally valid; it just cannot be signed yet.
	if pIn.NonWitnessUtxo != nil || pIn.WitnessUtxo != nil {
		if _, err := p.SpentOutput(idx); err != nil {
			return newValidationError(
				idx, "utxo", err.Error(),
			)
		}
	}

	return nil
}

// validateOutput checks the per-output invariants of the output at the
// given index.
func (p *Packet) validateOutput(idx int) error {
	pOut := &p.Outputs[idx]

	// Invariant 3: no version mixing.
	if !p.IsV2() && pOut.hasV2Fields() {
		return newValidationError(
			idx, "output", "version 2 output fields present in "+
				"a version 0 packet",
		)
	}
	if p.IsV2() {
		if pOut.Amount == nil || pOut.PkScript == nil {
			return newValidationError(
				idx, "output", "version 2 output requires "+
					"explicit amount and script",
			)
		}
	}

	seenDerivs := make(map[string]struct{}, len(pOut.Bip32Derivation))
	for _, d := range pOut.Bip32Derivation {
		if _, ok := seenDerivs[string(d.PubKey)]; ok {
			return newValidationError(
				idx, "bip32 derivation",
				"duplicate public key",
			)
		}
		seenDerivs[string(d.PubKey)] = struct{}{}
	}

	return validateUnknownUniqueness(idx, pOut.Unknowns)
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrIncompatibleBase is returned when two packets to be combined do
	// not describe the same underlying transaction.
	ErrIncompatibleBase = errors.New("packets describe different " +
		"transactions")
)

// CombineConflictError describes two packets carrying contradictory values
// for the same single-valued field, identifying the input or output index
// (-1 for a global field) and the field name.
type CombineConflictError struct {
	// Index is the input or output index the conflict occurred at, or -1
	// for a conflict in the global map.
	Index int

	// Field names the conflicting field.
	Field string
}

// Error implements the error interface.
func (e *CombineConflictError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("conflicting values for global field %s",
			e.Field)
	}
	return fmt.Sprintf("conflicting values for field %s at index %d",
		e.Field, e.Index)
}

// Combine merges the contributions of two packets describing the same
// transaction into a new packet, performing the Combiner role. Neither
// argument is modified. Signature maps are unioned by public key;
// single-valued fields must agree wherever both packets set them, with
// disagreement reported as a *CombineConflictError.
//
// Combine is commutative up to ordering of unioned map entries and
// associative, so a set of packets may be folded in any order.
func Combine(a, b *Packet) (*Packet, error) {
	if err := compatibleBase(a, b); err != nil {
		return nil, err
	}

	result, err := clonePacket(a)
	if err != nil {
		return nil, err
	}

	if err := combineGlobals(result, b); err != nil {
		return nil, err
	}

	for i := range result.Inputs {
		err := combineInputs(&result.Inputs[i], &b.Inputs[i], i)
		if err != nil {
			return nil, err
		}
	}
	for i := range result.Outputs {
		err := combineOutputs(&result.Outputs[i], &b.Outputs[i], i)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// CombineAll folds a list of packets into a single combined packet. At
// least one packet is required.
func CombineAll(packets ...*Packet) (*Packet, error) {
	if len(packets) == 0 {
		return nil, ErrInvalidPsbtFormat
	}

	result, err := clonePacket(packets[0])
	if err != nil {
		return nil, err
	}
	for _, p := range packets[1:] {
		result, err = Combine(result, p)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// clonePacket deep copies a packet through a serialization round trip. The
// codec is loss-free for sane packets, so this is the simplest way to
// guarantee the copy shares no memory with the original.
func clonePacket(p *Packet) (*Packet, error) {
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return nil, err
	}

	return NewFromRawBytes(&buf, false)
}

// compatibleBase checks that both packets describe the same transaction
// skeleton: same format version, and for version 0 the same unsigned
// transaction, for version 2 the same explicit transaction fields and
// per-input prevouts.
func compatibleBase(a, b *Packet) error {
	if a.PsbtVersion != b.PsbtVersion {
		return ErrIncompatibleBase
	}
	if len(a.Inputs) != len(b.Inputs) ||
		len(a.Outputs) != len(b.Outputs) {

		return ErrIncompatibleBase
	}

	if !a.IsV2() {
		// The txid commits to every field of the unsigned
		// transaction, witnesses being absent by construction.
		hashA, hashB := a.UnsignedTx.TxHash(), b.UnsignedTx.TxHash()
		if !hashA.IsEqual(&hashB) {
			return ErrIncompatibleBase
		}
		return nil
	}

	if a.TxVersion != b.TxVersion {
		return ErrIncompatibleBase
	}
	if !equalUint32Ptr(a.FallbackLocktime, b.FallbackLocktime) {
		return ErrIncompatibleBase
	}
	for i := range a.Inputs {
		opA, err := a.InputOutpoint(i)
		if err != nil {
			return err
		}
		opB, err := b.InputOutpoint(i)
		if err != nil {
			return err
		}
		if opA != opB {
			return ErrIncompatibleBase
		}

		// The sequence number is part of the transaction effect, so
		// two packets disagreeing on it describe different
		// transactions. An absent field means the default sequence.
		seqA, err := a.InputSequence(i)
		if err != nil {
			return err
		}
		seqB, err := b.InputSequence(i)
		if err != nil {
			return err
		}
		if seqA != seqB {
			return ErrIncompatibleBase
		}
	}
	for i := range a.Outputs {
		outA, outB := &a.Outputs[i], &b.Outputs[i]
		if !equalInt64Ptr(outA.Amount, outB.Amount) ||
			!bytes.Equal(outA.PkScript, outB.PkScript) {

			return ErrIncompatibleBase
		}
	}

	return nil
}

func equalUint32Ptr(a, b *uint32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// combineGlobals merges the global map of b into the result packet.
func combineGlobals(result, b *Packet) error {
	for _, xpub := range b.Xpubs {
		existing := findXpub(result.Xpubs, xpub)
		switch {
		case existing == nil:
			result.Xpubs = append(result.Xpubs, cloneXpub(xpub))

		case existing.MasterKeyFingerprint !=
			xpub.MasterKeyFingerprint ||
			!equalPaths(existing.Bip32Path, xpub.Bip32Path):

			return &CombineConflictError{Index: -1, Field: "xpub"}
		}
	}

	// The modifiable flags shrink monotonically as signatures are added,
	// so the intersection is the safe merge.
	if b.TxModifiable != nil {
		if result.TxModifiable == nil {
			flags := *b.TxModifiable
			result.TxModifiable = &flags
		} else {
			merged := *result.TxModifiable & *b.TxModifiable
			sigHashSingle := (*result.TxModifiable |
				*b.TxModifiable) & TxModifiableSigHashSingle
			merged |= sigHashSingle
			result.TxModifiable = &merged
		}
	}

	var err error
	result.Unknowns, err = combineUnknowns(
		result.Unknowns, b.Unknowns, -1,
	)
	return err
}

func findXpub(xpubs []*Xpub, target *Xpub) *Xpub {
	for _, x := range xpubs {
		if bytes.Equal(x.ExtendedKey, target.ExtendedKey) {
			return x
		}
	}
	return nil
}

func cloneXpub(x *Xpub) *Xpub {
	clone := &Xpub{
		ExtendedKey:          bytes.Clone(x.ExtendedKey),
		MasterKeyFingerprint: x.MasterKeyFingerprint,
		Bip32Path:            make([]uint32, len(x.Bip32Path)),
	}
	copy(clone.Bip32Path, x.Bip32Path)
	return clone
}

func equalPaths(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// combineBytes merges a single-valued byte field, reporting disagreement
// between two set values as a conflict.
func combineBytes(dst *[]byte, src []byte, idx int, field string) error {
	switch {
	case src == nil:
		return nil

	case *dst == nil:
		*dst = bytes.Clone(src)
		return nil

	case !bytes.Equal(*dst, src):
		return &CombineConflictError{Index: idx, Field: field}

	default:
		return nil
	}
}

// combineUnknowns merges two unknown key-value lists, keeping unknown data
// intact across the combine. The same key carrying different values is a
// conflict: silently preferring one side could corrupt a field this
// implementation cannot interpret.
func combineUnknowns(dst, src []*Unknown, idx int) ([]*Unknown, error) {
	for _, u := range src {
		var existing *Unknown
		for _, d := range dst {
			if bytes.Equal(d.Key, u.Key) {
				existing = d
				break
			}
		}

		switch {
		case existing == nil:
			dst = append(dst, &Unknown{
				Key:   bytes.Clone(u.Key),
				Value: bytes.Clone(u.Value),
			})

		case !bytes.Equal(existing.Value, u.Value):
			return nil, &CombineConflictError{
				Index: idx, Field: "unknown",
			}
		}
	}

	return dst, nil
}

// combineInputs merges the contributions of input src into dst. A
// finalized input wins over unfinalized contributions for the same index.
func combineInputs(dst, src *PInput, idx int) error {
	// If one side is finalized, its final fields carry over and the
	// pre-signature data of the other side is irrelevant.
	if src.isFinalized() && !dst.isFinalized() {
		dst.FinalScriptSig = bytes.Clone(src.FinalScriptSig)
		dst.FinalScriptWitness = bytes.Clone(src.FinalScriptWitness)
		clearPresigFields(dst)
	}

	if src.NonWitnessUtxo != nil && dst.NonWitnessUtxo == nil {
		dst.NonWitnessUtxo = src.NonWitnessUtxo.Copy()
	}
	if src.WitnessUtxo != nil && dst.WitnessUtxo == nil {
		utxo := *src.WitnessUtxo
		utxo.PkScript = bytes.Clone(src.WitnessUtxo.PkScript)
		dst.WitnessUtxo = &utxo
	}

	// Both sides carry the same effective sequence by the base
	// compatibility check; keep the explicit encoding when only one
	// side spells it out.
	if dst.Sequence == nil && src.Sequence != nil {
		seq := *src.Sequence
		dst.Sequence = &seq
	}

	// A finalized input no longer carries pre-signature fields, so only
	// the unknown entries of the other side remain relevant.
	if dst.isFinalized() {
		var err error
		dst.Unknowns, err = combineUnknowns(
			dst.Unknowns, src.Unknowns, idx,
		)
		return err
	}

	if src.SighashType != 0 {
		if dst.SighashType != 0 && dst.SighashType != src.SighashType {
			return &CombineConflictError{
				Index: idx, Field: "sighash type",
			}
		}
		dst.SighashType = src.SighashType
	}

	err := combineBytes(&dst.RedeemScript, src.RedeemScript, idx,
		"redeem script")
	if err != nil {
		return err
	}
	err = combineBytes(&dst.WitnessScript, src.WitnessScript, idx,
		"witness script")
	if err != nil {
		return err
	}

	// Signature maps are unioned by key. Two different signatures for
	// the same key over the same sighash cannot both be honest
	// contributions, so they conflict.
	for _, sig := range src.PartialSigs {
		existing := findPartialSig(dst.PartialSigs, sig.PubKey)
		switch {
		case existing == nil:
			dst.PartialSigs = append(dst.PartialSigs, &PartialSig{
				PubKey:    bytes.Clone(sig.PubKey),
				Signature: bytes.Clone(sig.Signature),
			})

		case !bytes.Equal(existing.Signature, sig.Signature):
			return &CombineConflictError{
				Index: idx, Field: "partial signature",
			}
		}
	}

	for _, d := range src.Bip32Derivation {
		existing := findDerivation(dst.Bip32Derivation, d.PubKey)
		switch {
		case existing == nil:
			dst.Bip32Derivation = append(
				dst.Bip32Derivation, cloneDerivation(d),
			)

		case existing.MasterKeyFingerprint != d.MasterKeyFingerprint ||
			!equalPaths(existing.Bip32Path, d.Bip32Path):

			return &CombineConflictError{
				Index: idx, Field: "bip32 derivation",
			}
		}
	}

	err = combineBytes(&dst.TaprootKeySpendSig, src.TaprootKeySpendSig,
		idx, "taproot key spend signature")
	if err != nil {
		return err
	}
	err = combineBytes(&dst.TaprootInternalKey, src.TaprootInternalKey,
		idx, "taproot internal key")
	if err != nil {
		return err
	}
	err = combineBytes(&dst.TaprootMerkleRoot, src.TaprootMerkleRoot,
		idx, "taproot merkle root")
	if err != nil {
		return err
	}

	for _, sig := range src.TaprootScriptSpendSig {
		existing := findTaprootSig(dst.TaprootScriptSpendSig, sig)
		switch {
		case existing == nil:
			sigCopy := *sig
			sigCopy.XOnlyPubKey = bytes.Clone(sig.XOnlyPubKey)
			sigCopy.LeafHash = bytes.Clone(sig.LeafHash)
			sigCopy.Signature = bytes.Clone(sig.Signature)
			dst.TaprootScriptSpendSig = append(
				dst.TaprootScriptSpendSig, &sigCopy,
			)

		case !bytes.Equal(existing.Signature, sig.Signature):
			return &CombineConflictError{
				Index: idx, Field: "taproot script spend " +
					"signature",
			}
		}
	}

	for _, leaf := range src.TaprootLeafScript {
		existing := findLeafScript(
			dst.TaprootLeafScript, leaf.ControlBlock,
		)
		switch {
		case existing == nil:
			leafCopy := *leaf
			leafCopy.ControlBlock = bytes.Clone(leaf.ControlBlock)
			leafCopy.Script = bytes.Clone(leaf.Script)
			dst.TaprootLeafScript = append(
				dst.TaprootLeafScript, &leafCopy,
			)

		case !bytes.Equal(existing.Script, leaf.Script) ||
			existing.LeafVersion != leaf.LeafVersion:

			return &CombineConflictError{
				Index: idx, Field: "taproot leaf script",
			}
		}
	}

	for _, d := range src.TaprootBip32Derivation {
		existing := findTaprootDerivation(
			dst.TaprootBip32Derivation, d.XOnlyPubKey,
		)
		switch {
		case existing == nil:
			dst.TaprootBip32Derivation = append(
				dst.TaprootBip32Derivation,
				cloneTaprootDerivation(d),
			)

		case existing.MasterKeyFingerprint != d.MasterKeyFingerprint ||
			!equalPaths(existing.Bip32Path, d.Bip32Path):

			return &CombineConflictError{
				Index: idx, Field: "taproot bip32 derivation",
			}
		}
	}

	// The version 2 lock time requirements tighten to the stricter of
	// the two contributions.
	err = combineMaxUint32(
		&dst.RequiredTimeLocktime, src.RequiredTimeLocktime,
	)
	if err != nil {
		return err
	}
	err = combineMaxUint32(
		&dst.RequiredHeightLocktime, src.RequiredHeightLocktime,
	)
	if err != nil {
		return err
	}

	dst.Unknowns, err = combineUnknowns(dst.Unknowns, src.Unknowns, idx)
	return err
}

func combineMaxUint32(dst **uint32, src *uint32) error {
	if src == nil {
		return nil
	}
	if *dst == nil || **dst < *src {
		v := *src
		*dst = &v
	}
	return nil
}

func findPartialSig(sigs []*PartialSig, pubKey []byte) *PartialSig {
	for _, s := range sigs {
		if bytes.Equal(s.PubKey, pubKey) {
			return s
		}
	}
	return nil
}

func findDerivation(ds []*Bip32Derivation, pubKey []byte) *Bip32Derivation {
	for _, d := range ds {
		if bytes.Equal(d.PubKey, pubKey) {
			return d
		}
	}
	return nil
}

func cloneDerivation(d *Bip32Derivation) *Bip32Derivation {
	clone := &Bip32Derivation{
		PubKey:               bytes.Clone(d.PubKey),
		MasterKeyFingerprint: d.MasterKeyFingerprint,
		Bip32Path:            make([]uint32, len(d.Bip32Path)),
	}
	copy(clone.Bip32Path, d.Bip32Path)
	return clone
}

func findTaprootSig(sigs []*TaprootScriptSpendSig,
	target *TaprootScriptSpendSig) *TaprootScriptSpendSig {

	for _, s := range sigs {
		if s.EqualKey(target) {
			return s
		}
	}
	return nil
}

func findLeafScript(leaves []*TaprootTapLeafScript,
	controlBlock []byte) *TaprootTapLeafScript {

	for _, l := range leaves {
		if bytes.Equal(l.ControlBlock, controlBlock) {
			return l
		}
	}
	return nil
}

func findTaprootDerivation(ds []*TaprootBip32Derivation,
	xOnlyPubKey []byte) *TaprootBip32Derivation {

	for _, d := range ds {
		if bytes.Equal(d.XOnlyPubKey, xOnlyPubKey) {
			return d
		}
	}
	return nil
}

func cloneTaprootDerivation(d *TaprootBip32Derivation) *TaprootBip32Derivation {
	clone := &TaprootBip32Derivation{
		XOnlyPubKey:          bytes.Clone(d.XOnlyPubKey),
		LeafHashes:           make([][]byte, len(d.LeafHashes)),
		MasterKeyFingerprint: d.MasterKeyFingerprint,
		Bip32Path:            make([]uint32, len(d.Bip32Path)),
	}
	for i, h := range d.LeafHashes {
		clone.LeafHashes[i] = bytes.Clone(h)
	}
	copy(clone.Bip32Path, d.Bip32Path)
	return clone
}

// combineOutputs merges the contributions of output src into dst.
func combineOutputs(dst, src *POutput, idx int) error {
	err := combineBytes(&dst.RedeemScript, src.RedeemScript, idx,
		"redeem script")
	if err != nil {
		return err
	}
	err = combineBytes(&dst.WitnessScript, src.WitnessScript, idx,
		"witness script")
	if err != nil {
		return err
	}

	for _, d := range src.Bip32Derivation {
		existing := findDerivation(dst.Bip32Derivation, d.PubKey)
		switch {
		case existing == nil:
			dst.Bip32Derivation = append(
				dst.Bip32Derivation, cloneDerivation(d),
			)

		case existing.MasterKeyFingerprint != d.MasterKeyFingerprint ||
			!equalPaths(existing.Bip32Path, d.Bip32Path):

			return &CombineConflictError{
				Index: idx, Field: "bip32 derivation",
			}
		}
	}

	err = combineBytes(&dst.TaprootInternalKey, src.TaprootInternalKey,
		idx, "taproot internal key")
	if err != nil {
		return err
	}
	err = combineBytes(&dst.TaprootTree, src.TaprootTree, idx,
		"taproot tree")
	if err != nil {
		return err
	}

	for _, d := range src.TaprootBip32Derivation {
		existing := findTaprootDerivation(
			dst.TaprootBip32Derivation, d.XOnlyPubKey,
		)
		switch {
		case existing == nil:
			dst.TaprootBip32Derivation = append(
				dst.TaprootBip32Derivation,
				cloneTaprootDerivation(d),
			)

		case existing.MasterKeyFingerprint != d.MasterKeyFingerprint ||
			!equalPaths(existing.Bip32Path, d.Bip32Path):

			return &CombineConflictError{
				Index: idx, Field: "taproot bip32 derivation",
			}
		}
	}

	dst.Unknowns, err = combineUnknowns(dst.Unknowns, src.Unknowns, idx)
	return err
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrNotModifiable is returned when a version 2 structural change is
	// attempted on a packet whose modifiable flags forbid it.
	ErrNotModifiable = errors.New("packet does not permit this " +
		"modification")

	// ErrUnsuitableInput is returned when a supplied previous transaction
	// does not actually create the output an input claims to spend.
	ErrUnsuitableInput = errors.New("provided transaction does not " +
		"match input outpoint")
)

// Updater performs the Updater role: it enriches an existing Packet with
// the information later roles need, validating every added field against
// the packet before committing it. A failed method call leaves the packet
// unchanged.
type Updater struct {
	// Upsbt is the packet being updated, exported so callers can hand it
	// to the next role when done.
	Upsbt *Packet
}

// NewUpdater returns an Updater for the given packet, after checking that
// the packet is sane.
func NewUpdater(p *Packet) (*Updater, error) {
	if err := p.SanityCheck(); err != nil {
		return nil, err
	}

	return &Updater{Upsbt: p}, nil
}

// AddInNonWitnessUtxo attaches the full transaction creating the output
// spent by the given input. The transaction's txid must match the input's
// outpoint hash, and the outpoint index must be in range.
func (u *Updater) AddInNonWitnessUtxo(tx *wire.MsgTx, inIndex int) error {
	if inIndex < 0 || inIndex >= len(u.Upsbt.Inputs) {
		return ErrIndexOutOfRange
	}

	op, err := u.Upsbt.InputOutpoint(inIndex)
	if err != nil {
		return err
	}
	txHash := tx.TxHash()
	if !txHash.IsEqual(&op.Hash) {
		return ErrUnsuitableInput
	}
	if op.Index >= uint32(len(tx.TxOut)) {
		return ErrUnsuitableInput
	}

	u.Upsbt.Inputs[inIndex].NonWitnessUtxo = tx
	return nil
}

// AddInWitnessUtxo attaches the single output spent by the given input.
// If a non-witness UTXO is already present, the output must match the one
// at the spent index.
func (u *Updater) AddInWitnessUtxo(txout *wire.TxOut, inIndex int) error {
	if inIndex < 0 || inIndex >= len(u.Upsbt.Inputs) {
		return ErrIndexOutOfRange
	}

	pIn := &u.Upsbt.Inputs[inIndex]
	if pIn.NonWitnessUtxo != nil {
		op, err := u.Upsbt.InputOutpoint(inIndex)
		if err != nil {
			return err
		}
		if op.Index >= uint32(len(pIn.NonWitnessUtxo.TxOut)) {
			return ErrUnsuitableInput
		}
		existing := pIn.NonWitnessUtxo.TxOut[op.Index]
		if !TxOutsEqual(existing, txout) {
			return ErrUnsuitableInput
		}
	}

	pIn.WitnessUtxo = txout
	return nil
}

// AddInRedeemScript sets the redeem script for the given input.
func (u *Updater) AddInRedeemScript(redeemScript []byte,
	inIndex int) error {

	if inIndex < 0 || inIndex >= len(u.Upsbt.Inputs) {
		return ErrIndexOutOfRange
	}

	u.Upsbt.Inputs[inIndex].RedeemScript = redeemScript
	return nil
}

// AddInWitnessScript sets the witness script for the given input.
func (u *Updater) AddInWitnessScript(witnessScript []byte,
	inIndex int) error {

	if inIndex < 0 || inIndex >= len(u.Upsbt.Inputs) {
		return ErrIndexOutOfRange
	}

	u.Upsbt.Inputs[inIndex].WitnessScript = witnessScript
	return nil
}

// AddInBip32Derivation records the BIP32 derivation path of a public key
// that will sign the given input. Re-adding a path for an already known
// public key is rejected with ErrDuplicateKey.
func (u *Updater) AddInBip32Derivation(masterKeyFingerprint uint32,
	bip32Path []uint32, pubKeyData []byte, inIndex int) error {

	if inIndex < 0 || inIndex >= len(u.Upsbt.Inputs) {
		return ErrIndexOutOfRange
	}

	bip32Derivation := &Bip32Derivation{
		PubKey:               pubKeyData,
		MasterKeyFingerprint: masterKeyFingerprint,
		Bip32Path:            bip32Path,
	}
	if !validatePubkey(bip32Derivation.PubKey) {
		return ErrInvalidPsbtFormat
	}

	pIn := &u.Upsbt.Inputs[inIndex]
	for _, x := range pIn.Bip32Derivation {
		if bytes.Equal(x.PubKey, bip32Derivation.PubKey) {
			return ErrDuplicateKey
		}
	}

	pIn.Bip32Derivation = append(pIn.Bip32Derivation, bip32Derivation)
	return nil
}

// AddInSighashType records the sighash type the signer of the given input
// must use. For taproot inputs the type must be in the BIP341 set, for all
// others a valid legacy flag combination.
func (u *Updater) AddInSighashType(sighashType txscript.SigHashType,
	inIndex int) error {

	if inIndex < 0 || inIndex >= len(u.Upsbt.Inputs) {
		return ErrIndexOutOfRange
	}

	// When the spent output is known the flag set narrows to the one the
	// spend generation allows. SIGHASH_DEFAULT is encoded as zero and
	// only meaningful for taproot.
	taproot := false
	if utxo, err := u.Upsbt.SpentOutput(inIndex); err == nil {
		taproot = txscript.IsPayToTaproot(utxo.PkScript)
	}

	switch sighashType {
	case txscript.SigHashDefault:
		if !taproot {
			return ErrInvalidSigHashFlags
		}

	case txscript.SigHashAll, txscript.SigHashNone,
		txscript.SigHashSingle,
		txscript.SigHashAll | txscript.SigHashAnyOneCanPay,
		txscript.SigHashNone | txscript.SigHashAnyOneCanPay,
		txscript.SigHashSingle | txscript.SigHashAnyOneCanPay:

	default:
		return ErrInvalidSigHashFlags
	}

	u.Upsbt.Inputs[inIndex].SighashType = sighashType
	return nil
}

// AddInTaprootInternalKey sets the 32-byte x-only taproot internal key of
// the given input.
func (u *Updater) AddInTaprootInternalKey(internalKey []byte,
	inIndex int) error {

	if inIndex < 0 || inIndex >= len(u.Upsbt.Inputs) {
		return ErrIndexOutOfRange
	}
	if !validateXOnlyPubkey(internalKey) {
		return ErrInvalidKeyData
	}

	u.Upsbt.Inputs[inIndex].TaprootInternalKey = internalKey
	return nil
}

// AddInTaprootMerkleRoot sets the 32-byte merkle root of the taproot
// script tree committed to by the given input's output key.
func (u *Updater) AddInTaprootMerkleRoot(merkleRoot []byte,
	inIndex int) error {

	if inIndex < 0 || inIndex >= len(u.Upsbt.Inputs) {
		return ErrIndexOutOfRange
	}
	if len(merkleRoot) != taprootLeafHashLength {
		return ErrInvalidKeyData
	}

	u.Upsbt.Inputs[inIndex].TaprootMerkleRoot = merkleRoot
	return nil
}

// AddInTaprootLeafScript adds a leaf script with its control block to the
// given input. Duplicate entries for the same control block are rejected.
func (u *Updater) AddInTaprootLeafScript(leaf *TaprootTapLeafScript,
	inIndex int) error {

	if inIndex < 0 || inIndex >= len(u.Upsbt.Inputs) {
		return ErrIndexOutOfRange
	}
	if !leaf.checkValid() {
		return ErrInvalidKeyData
	}

	pIn := &u.Upsbt.Inputs[inIndex]
	for _, x := range pIn.TaprootLeafScript {
		if bytes.Equal(x.ControlBlock, leaf.ControlBlock) {
			return ErrDuplicateKey
		}
	}

	pIn.TaprootLeafScript = append(pIn.TaprootLeafScript, leaf)
	return nil
}

// AddInTaprootBip32Derivation records the derivation path and leaf hashes
// of an x-only key involved in the given input.
func (u *Updater) AddInTaprootBip32Derivation(d *TaprootBip32Derivation,
	inIndex int) error {

	if inIndex < 0 || inIndex >= len(u.Upsbt.Inputs) {
		return ErrIndexOutOfRange
	}
	if !validateXOnlyPubkey(d.XOnlyPubKey) {
		return ErrInvalidKeyData
	}

	pIn := &u.Upsbt.Inputs[inIndex]
	for _, x := range pIn.TaprootBip32Derivation {
		if bytes.Equal(x.XOnlyPubKey, d.XOnlyPubKey) {
			return ErrDuplicateKey
		}
	}

	pIn.TaprootBip32Derivation = append(pIn.TaprootBip32Derivation, d)
	return nil
}

// AddOutRedeemScript sets the redeem script for the given output.
func (u *Updater) AddOutRedeemScript(redeemScript []byte,
	outIndex int) error {

	if outIndex < 0 || outIndex >= len(u.Upsbt.Outputs) {
		return ErrIndexOutOfRange
	}

	u.Upsbt.Outputs[outIndex].RedeemScript = redeemScript
	return nil
}

// AddOutWitnessScript sets the witness script for the given output.
func (u *Updater) AddOutWitnessScript(witnessScript []byte,
	outIndex int) error {

	if outIndex < 0 || outIndex >= len(u.Upsbt.Outputs) {
		return ErrIndexOutOfRange
	}

	u.Upsbt.Outputs[outIndex].WitnessScript = witnessScript
	return nil
}

// AddOutBip32Derivation records the BIP32 derivation path of a public key
// controlling the given output.
func (u *Updater) AddOutBip32Derivation(masterKeyFingerprint uint32,
	bip32Path []uint32, pubKeyData []byte, outIndex int) error {

	if outIndex < 0 || outIndex >= len(u.Upsbt.Outputs) {
		return ErrIndexOutOfRange
	}

	bip32Derivation := &Bip32Derivation{
		PubKey:               pubKeyData,
		MasterKeyFingerprint: masterKeyFingerprint,
		Bip32Path:            bip32Path,
	}
	if !validatePubkey(bip32Derivation.PubKey) {
		return ErrInvalidPsbtFormat
	}

	pOut := &u.Upsbt.Outputs[outIndex]
	for _, x := range pOut.Bip32Derivation {
		if bytes.Equal(x.PubKey, bip32Derivation.PubKey) {
			return ErrDuplicateKey
		}
	}

	pOut.Bip32Derivation = append(pOut.Bip32Derivation, bip32Derivation)
	return nil
}

// AddOutTaprootInternalKey sets the taproot internal key of the given
// output.
func (u *Updater) AddOutTaprootInternalKey(internalKey []byte,
	outIndex int) error {

	if outIndex < 0 || outIndex >= len(u.Upsbt.Outputs) {
		return ErrIndexOutOfRange
	}
	if !validateXOnlyPubkey(internalKey) {
		return ErrInvalidKeyData
	}

	u.Upsbt.Outputs[outIndex].TaprootInternalKey = internalKey
	return nil
}

// AddInput appends a new input to a version 2 packet. The packet must
// have the inputs modifiable flag set. If the new input carries a
// required lock time, it must be satisfiable alongside the existing ones.
func (u *Updater) AddInput(prevoutHash *chainhash.Hash, prevoutIndex uint32,
	sequence *uint32, pIn *PInput) error {

	p := u.Upsbt
	if !p.IsV2() {
		return ErrVersionMismatch
	}
	if p.TxModifiable == nil ||
		*p.TxModifiable&TxModifiableInputs == 0 {

		return ErrNotModifiable
	}

	newIn := *pIn
	newIn.PrevoutHash = prevoutHash
	newIn.PrevoutIndex = &prevoutIndex
	newIn.Sequence = sequence

	p.Inputs = append(p.Inputs, newIn)

	// Adding an input may make the lock time requirements of the packet
	// contradictory, so re-derive the effective lock time.
	if _, err := p.effectiveLocktime(); err != nil {
		p.Inputs = p.Inputs[:len(p.Inputs)-1]
		return err
	}

	return nil
}

// AddOutput appends a new output to a version 2 packet. The packet must
// have the outputs modifiable flag set.
func (u *Updater) AddOutput(amount int64, pkScript []byte,
	pOut *POutput) error {

	p := u.Upsbt
	if !p.IsV2() {
		return ErrVersionMismatch
	}
	if p.TxModifiable == nil ||
		*p.TxModifiable&TxModifiableOutputs == 0 {

		return ErrNotModifiable
	}

	newOut := *pOut
	newOut.Amount = &amount
	newOut.PkScript = pkScript

	p.Outputs = append(p.Outputs, newOut)
	return nil
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrInsufficientSignatures is returned when an input's script
	// requires more signatures than the packet holds for it.
	ErrInsufficientSignatures = errors.New("insufficient signatures " +
		"to satisfy script")
)

// InputFinalizeError records the failure to finalize a single input.
type InputFinalizeError struct {
	// Index is the input the failure occurred at.
	Index int

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *InputFinalizeError) Error() string {
	return fmt.Sprintf("input %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying failure.
func (e *InputFinalizeError) Unwrap() error {
	return e.Err
}

// FinalizeError aggregates the per-input failures of a FinalizeAll run.
// Inputs that could be finalized stay finalized even when others fail.
type FinalizeError struct {
	// Failures holds one entry per input that could not be finalized.
	Failures []*InputFinalizeError
}

// Error implements the error interface.
func (e *FinalizeError) Error() string {
	return fmt.Sprintf("could not finalize %d inputs, first failure: %v",
		len(e.Failures), e.Failures[0])
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *FinalizeError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Finalize converts the signatures and scripts of the input at the given
// index into its final scriptSig and witness, performing the Finalizer
// role for that input. The finalized form is fully determined by the
// input's contents; two packets with the same data finalize identically.
// After success the input's pre-signature fields are cleared.
//
// Finalizing an already finalized input is a no-op. On failure the input
// is left unchanged.
func Finalize(p *Packet, idx int) error {
	if idx < 0 || idx >= len(p.Inputs) {
		return ErrIndexOutOfRange
	}

	pIn := &p.Inputs[idx]
	if pIn.isFinalized() {
		return nil
	}
	if !pIn.IsSane() {
		return ErrInvalidPsbtFormat
	}

	utxo, err := p.SpentOutput(idx)
	if err != nil {
		return err
	}

	var (
		finalScriptSig []byte
		finalWitness   wire.TxWitness
	)
	switch {
	case txscript.IsPayToTaproot(utxo.PkScript):
		finalWitness, err = finalizeTaproot(pIn)

	default:
		finalScriptSig, finalWitness, err = finalizeEcdsa(p, idx, utxo)
	}
	if err != nil {
		return &InputFinalizeError{Index: idx, Err: err}
	}

	pIn.FinalScriptSig = finalScriptSig
	if finalWitness != nil {
		pIn.FinalScriptWitness = serializeWitness(finalWitness)
	}
	clearPresigFields(pIn)

	log.Debugf("Finalized input %d", idx)

	return nil
}

// MaybeFinalize attempts to finalize the input at the given index,
// returning true if the input is finalized afterwards. Already finalized
// inputs report success without modification.
func MaybeFinalize(p *Packet, idx int) (bool, error) {
	if idx < 0 || idx >= len(p.Inputs) {
		return false, ErrIndexOutOfRange
	}
	if p.Inputs[idx].isFinalized() {
		return true, nil
	}

	if err := Finalize(p, idx); err != nil {
		return false, err
	}

	return true, nil
}

// FinalizeAll finalizes every input of the packet. Failures are collected
// per input and returned as a single *FinalizeError; inputs that could be
// finalized keep their final form regardless of other inputs failing.
func FinalizeAll(p *Packet) error {
	var failures []*InputFinalizeError
	for idx := range p.Inputs {
		err := Finalize(p, idx)
		if err == nil {
			continue
		}

		var inErr *InputFinalizeError
		if !errors.As(err, &inErr) {
			inErr = &InputFinalizeError{Index: idx, Err: err}
		}
		failures = append(failures, inErr)
	}

	if len(failures) > 0 {
		return &FinalizeError{Failures: failures}
	}

	return nil
}

// clearPresigFields removes all fields of an input that only serve
// signature production, leaving the UTXO data, the final fields and any
// unknown entries.
func clearPresigFields(pIn *PInput) {
	pIn.PartialSigs = nil
	pIn.SighashType = 0
	pIn.RedeemScript = nil
	pIn.WitnessScript = nil
	pIn.Bip32Derivation = nil
	pIn.TaprootKeySpendSig = nil
	pIn.TaprootScriptSpendSig = nil
	pIn.TaprootLeafScript = nil
	pIn.TaprootBip32Derivation = nil
	pIn.TaprootInternalKey = nil
	pIn.TaprootMerkleRoot = nil
}

// serializeWitness encodes a witness stack in the wire format used by the
// final witness field: the element count followed by length-prefixed
// elements.
func serializeWitness(witness wire.TxWitness) []byte {
	var buf bytes.Buffer

	// Writing to a bytes.Buffer cannot fail.
	_ = wire.WriteVarInt(&buf, 0, uint64(len(witness)))
	for _, item := range witness {
		_ = wire.WriteVarBytes(&buf, 0, item)
	}

	return buf.Bytes()
}

// finalizeTaproot builds the final witness of a taproot input, preferring
// the key spend path when a key spend signature is present.
func finalizeTaproot(pIn *PInput) (wire.TxWitness, error) {
	if pIn.TaprootKeySpendSig != nil {
		return wire.TxWitness{pIn.TaprootKeySpendSig}, nil
	}

	// Script path: pick the first leaf for which all referenced keys
	// have produced signatures.
	for _, leaf := range pIn.TaprootLeafScript {
		witness, err := taprootLeafWitness(pIn, leaf)
		if err != nil {
			continue
		}
		return witness, nil
	}

	return nil, ErrInsufficientSignatures
}

// taprootLeafWitness assembles the script path witness for the given
// leaf: the signatures for the leaf's keys in reverse script order,
// followed by the script and its control block.
func taprootLeafWitness(pIn *PInput,
	leaf *TaprootTapLeafScript) (wire.TxWitness, error) {

	tapLeaf := txscript.NewTapLeaf(leaf.LeafVersion, leaf.Script)
	leafHash := tapLeaf.TapHash()

	// Collect the x-only keys referenced by the script in the order
	// they appear.
	keys, err := leafScriptKeys(leaf.Script)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, ErrInsufficientSignatures
	}

	sigs := make([][]byte, 0, len(keys))
	for _, key := range keys {
		sig := findTaprootSigForLeaf(
			pIn.TaprootScriptSpendSig, key, leafHash[:],
		)
		if sig == nil {
			return nil, ErrInsufficientSignatures
		}
		sigs = append(sigs, serializeTaprootSignature(
			sig.Signature, sig.SigHash,
		))
	}

	// Script execution consumes the witness stack top-down, so the
	// signature for the last key checked comes first.
	witness := make(wire.TxWitness, 0, len(sigs)+2)
	for i := len(sigs) - 1; i >= 0; i-- {
		witness = append(witness, sigs[i])
	}
	witness = append(witness, leaf.Script, leaf.ControlBlock)

	return witness, nil
}

// leafScriptKeys extracts the 32-byte data pushes of a tapscript, which
// for the supported single-sig and multi-sig leaves are exactly the keys
// whose signatures the script consumes.
func leafScriptKeys(script []byte) ([][]byte, error) {
	var keys [][]byte
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		if len(tokenizer.Data()) == schnorrKeyLength {
			keys = append(keys, tokenizer.Data())
		}
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

func findTaprootSigForLeaf(sigs []*TaprootScriptSpendSig, xOnlyKey,
	leafHash []byte) *TaprootScriptSpendSig {

	for _, s := range sigs {
		if bytes.Equal(s.XOnlyPubKey, xOnlyKey) &&
			bytes.Equal(s.LeafHash, leafHash) {

			return s
		}
	}
	return nil
}

// finalizeEcdsa builds the final scriptSig and witness of a pre-taproot
// input according to its spend path.
func finalizeEcdsa(p *Packet, idx int,
	utxo *wire.TxOut) ([]byte, wire.TxWitness, error) {

	pIn := &p.Inputs[idx]

	script, err := p.SignScript(idx)
	if err != nil {
		return nil, nil, err
	}

	pkScript := utxo.PkScript
	switch {
	// Native P2WPKH: the witness is the classic signature plus key
	// pair, no scriptSig.
	case txscript.IsPayToWitnessPubKeyHash(pkScript):
		witness, err := pubKeyHashWitness(pIn, pkScript[2:22])
		if err != nil {
			return nil, nil, err
		}
		return nil, witness, nil

	// Native P2WSH: the witness satisfies the witness script and ends
	// with the script itself.
	case txscript.IsPayToWitnessScriptHash(pkScript):
		witness, err := witnessScriptWitness(pIn, script)
		if err != nil {
			return nil, nil, err
		}
		return nil, witness, nil

	case txscript.IsPayToScriptHash(pkScript):
		return finalizeNestedScriptHash(p, idx, script)

	default:
		// Bare output: the scriptSig alone satisfies the pkScript.
		scriptSig, err := bareScriptSig(pIn, pkScript)
		if err != nil {
			return nil, nil, err
		}
		return scriptSig, nil, nil
	}
}

// finalizeNestedScriptHash handles the P2SH cases: a wrapped witness
// program combines a push-only scriptSig with a witness, a plain redeem
// script is satisfied entirely in the scriptSig.
func finalizeNestedScriptHash(p *Packet, idx int,
	script []byte) ([]byte, wire.TxWitness, error) {

	pIn := &p.Inputs[idx]
	redeemScript := pIn.RedeemScript

	switch {
	case txscript.IsPayToWitnessPubKeyHash(redeemScript):
		witness, err := pubKeyHashWitness(pIn, redeemScript[2:22])
		if err != nil {
			return nil, nil, err
		}

		scriptSig, err := txscript.NewScriptBuilder().
			AddData(redeemScript).Script()
		if err != nil {
			return nil, nil, err
		}

		return scriptSig, witness, nil

	case txscript.IsPayToWitnessScriptHash(redeemScript):
		witness, err := witnessScriptWitness(pIn, script)
		if err != nil {
			return nil, nil, err
		}

		scriptSig, err := txscript.NewScriptBuilder().
			AddData(redeemScript).Script()
		if err != nil {
			return nil, nil, err
		}

		return scriptSig, witness, nil

	default:
		// Classic P2SH: satisfy the redeem script, then push the
		// script itself.
		builder, err := satisfyScript(pIn, redeemScript)
		if err != nil {
			return nil, nil, err
		}

		scriptSig, err := builder.AddData(redeemScript).Script()
		if err != nil {
			return nil, nil, err
		}

		return scriptSig, nil, nil
	}
}

// pubKeyHashWitness builds the two element witness of a P2WPKH spend,
// requiring exactly one partial signature whose key matches the program's
// key hash.
func pubKeyHashWitness(pIn *PInput,
	pubKeyHash []byte) (wire.TxWitness, error) {

	sig := sigForKeyHash(pIn.PartialSigs, pubKeyHash)
	if sig == nil {
		return nil, ErrInsufficientSignatures
	}

	return wire.TxWitness{sig.Signature, sig.PubKey}, nil
}

// witnessScriptWitness builds the witness satisfying a witness script,
// with the script as the final element.
func witnessScriptWitness(pIn *PInput,
	witnessScript []byte) (wire.TxWitness, error) {

	items, err := scriptStackItems(pIn, witnessScript)
	if err != nil {
		return nil, err
	}

	witness := make(wire.TxWitness, 0, len(items)+1)
	witness = append(witness, items...)
	witness = append(witness, witnessScript)

	return witness, nil
}

// bareScriptSig builds the scriptSig satisfying a bare (non-P2SH)
// pkScript.
func bareScriptSig(pIn *PInput, pkScript []byte) ([]byte, error) {
	builder, err := satisfyScript(pIn, pkScript)
	if err != nil {
		return nil, err
	}

	return builder.Script()
}

// satisfyScript returns a script builder holding the data pushes that
// satisfy the given script: a single signature for P2PK, signature plus
// key for P2PKH, and the dummy-prefixed signature list for bare
// multisig.
func satisfyScript(pIn *PInput,
	script []byte) (*txscript.ScriptBuilder, error) {

	builder := txscript.NewScriptBuilder()

	switch {
	case isPayToPubKeyHash(script):
		sig := sigForKeyHash(pIn.PartialSigs, script[3:23])
		if sig == nil {
			return nil, ErrInsufficientSignatures
		}
		return builder.AddData(sig.Signature).AddData(sig.PubKey), nil

	case isPayToPubKey(script):
		pubKey, err := singlePushData(script)
		if err != nil {
			return nil, err
		}
		sig := findPartialSig(pIn.PartialSigs, pubKey)
		if sig == nil {
			return nil, ErrInsufficientSignatures
		}
		return builder.AddData(sig.Signature), nil

	case isMultisigScript(script):
		sigs, err := multisigSignatures(pIn, script)
		if err != nil {
			return nil, err
		}

		// CHECKMULTISIG pops one spurious element.
		builder.AddOp(txscript.OP_0)
		for _, sig := range sigs {
			builder.AddData(sig)
		}
		return builder, nil

	default:
		return nil, ErrUnsupportedScriptType
	}
}

// multisigSignatures collects the held signatures for an m-of-n multisig
// script in the order the keys appear in the script, erroring out if
// fewer than m are available. Extra signatures beyond m are dropped.
func multisigSignatures(pIn *PInput, script []byte) ([][]byte, error) {
	required, pubKeys, err := parseMultisigScript(script)
	if err != nil {
		return nil, err
	}

	sigs := make([][]byte, 0, required)
	for _, pubKey := range pubKeys {
		if len(sigs) == required {
			break
		}
		if sig := findPartialSig(pIn.PartialSigs, pubKey); sig != nil {
			sigs = append(sigs, sig.Signature)
		}
	}
	if len(sigs) < required {
		return nil, ErrInsufficientSignatures
	}

	return sigs, nil
}

// parseMultisigScript extracts the required signature count and the
// public keys of a multisig script.
func parseMultisigScript(script []byte) (int, [][]byte, error) {
	var (
		required  int
		pubKeys   [][]byte
		tokenizer = txscript.MakeScriptTokenizer(0, script)
	)

	// First opcode is the required count as a small integer.
	if !tokenizer.Next() {
		return 0, nil, ErrUnsupportedScriptType
	}
	op := tokenizer.Opcode()
	if op < txscript.OP_1 || op > txscript.OP_16 {
		return 0, nil, ErrUnsupportedScriptType
	}
	required = int(op-txscript.OP_1) + 1

	for tokenizer.Next() {
		if data := tokenizer.Data(); data != nil {
			pubKeys = append(pubKeys, data)
		}
	}
	if err := tokenizer.Err(); err != nil {
		return 0, nil, err
	}

	return required, pubKeys, nil
}

// sigForKeyHash returns the partial signature whose public key hashes to
// the given 20 bytes, or nil.
func sigForKeyHash(sigs []*PartialSig, keyHash []byte) *PartialSig {
	for _, sig := range sigs {
		if bytes.Equal(hash160(sig.PubKey), keyHash) {
			return sig
		}
	}
	return nil
}

// scriptStackItems produces the satisfying data pushes of a witness
// script as raw stack items.
func scriptStackItems(pIn *PInput, script []byte) ([][]byte, error) {
	switch {
	case isPayToPubKey(script):
		pubKey, err := singlePushData(script)
		if err != nil {
			return nil, err
		}
		sig := findPartialSig(pIn.PartialSigs, pubKey)
		if sig == nil {
			return nil, ErrInsufficientSignatures
		}
		return [][]byte{sig.Signature}, nil

	case isPayToPubKeyHash(script):
		sig := sigForKeyHash(pIn.PartialSigs, script[3:23])
		if sig == nil {
			return nil, ErrInsufficientSignatures
		}
		return [][]byte{sig.Signature, sig.PubKey}, nil

	case isMultisigScript(script):
		sigs, err := multisigSignatures(pIn, script)
		if err != nil {
			return nil, err
		}

		// The dummy element consumed by CHECKMULTISIG is an empty
		// witness item.
		items := make([][]byte, 0, len(sigs)+1)
		items = append(items, nil)
		items = append(items, sigs...)
		return items, nil

	default:
		return nil, ErrUnsupportedScriptType
	}
}

// singlePushData returns the only data push of a script, as found in
// P2PK outputs.
func singlePushData(script []byte) ([]byte, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		if data := tokenizer.Data(); data != nil {
			return data, nil
		}
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}

	return nil, ErrUnsupportedScriptType
}

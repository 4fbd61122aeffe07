// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcpsbt/pkg/btcunit"
)

// Estimated witness and signature script sizes for the standard single
// key spend types. ECDSA signatures are counted at their maximum
// encoding.
const (
	// sigSize is a worst-case DER signature with appended sighash
	// flag.
	sigSize = 73

	// schnorrSigSize is a bare 64-byte schnorr signature.
	schnorrSigSize = 64

	// compressedPubKeySize is a compressed secp256k1 public key.
	compressedPubKeySize = 33

	// p2pkhSigScriptSize pushes a signature and a compressed key.
	p2pkhSigScriptSize = 1 + sigSize + 1 + compressedPubKeySize

	// p2pkSigScriptSize pushes only a signature.
	p2pkSigScriptSize = 1 + sigSize

	// p2wpkhWitnessSize is the item count followed by a signature item
	// and a compressed key item.
	p2wpkhWitnessSize = 1 + 1 + sigSize + 1 + compressedPubKeySize
)

// ErrUnestimatableInput is returned when the satisfaction size of an
// input cannot be predicted from the information present in the packet.
var ErrUnestimatableInput = errors.New("cannot estimate input size")

// InputSummary describes the signing progress of a single input.
type InputSummary struct {
	// HasUtxo is true when the packet carries the output this input
	// spends.
	HasUtxo bool

	// PartialSigs counts the signatures collected so far, ECDSA and
	// schnorr alike.
	PartialSigs int

	// IsFinal is true once the input carries its final signature
	// script or witness.
	IsFinal bool
}

// Analysis summarizes how far along a packet is and what the resulting
// transaction is expected to cost.
type Analysis struct {
	// Inputs holds one summary per packet input.
	Inputs []InputSummary

	// AllFinal is true when every input is finalized and the
	// transaction can be extracted.
	AllFinal bool

	// EstimatedWeight is the predicted weight of the fully signed
	// transaction. Zero when any input could not be estimated.
	EstimatedWeight btcunit.WeightUnit

	// EstimatedVSize is the virtual size derived from the estimated
	// weight.
	EstimatedVSize btcunit.VByte

	// Fee is the difference between the spent and created amounts.
	// Only valid when HasFee is true, which requires UTXO information
	// for every input.
	Fee btcutil.Amount

	// HasFee reports whether Fee could be computed.
	HasFee bool

	// FeeRate is the fee over the estimated virtual size. Only set
	// when both are known.
	FeeRate btcunit.SatPerVByte
}

// Analyze inspects a packet and reports the signing progress of each
// input along with a fee and size estimate for the final transaction.
// Inputs whose satisfaction cannot be predicted leave the size estimate
// unset rather than failing the whole analysis.
func (p *Packet) Analyze() (*Analysis, error) {
	if err := p.SanityCheck(); err != nil {
		return nil, err
	}

	tx, err := p.UnsignedTransaction()
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		Inputs:   make([]InputSummary, len(p.Inputs)),
		AllFinal: true,
	}

	// The stripped serialization already accounts for the empty
	// signature script of every input, one varint byte each.
	weight := btcunit.WeightUnit(tx.SerializeSizeStripped() * 4)

	var (
		haveWitness bool
		estimateOK  = true
	)
	for i := range p.Inputs {
		pIn := &p.Inputs[i]

		analysis.Inputs[i] = InputSummary{
			HasUtxo: pIn.NonWitnessUtxo != nil ||
				pIn.WitnessUtxo != nil,
			PartialSigs: len(pIn.PartialSigs) +
				len(pIn.TaprootScriptSpendSig),
			IsFinal: pIn.isFinalized(),
		}
		if pIn.TaprootKeySpendSig != nil {
			analysis.Inputs[i].PartialSigs++
		}
		if !analysis.Inputs[i].IsFinal {
			analysis.AllFinal = false
		}

		sigScript, witness, err := p.estimateInputSize(i)
		switch {
		case errors.Is(err, ErrUnestimatableInput):
			estimateOK = false
			continue

		case err != nil:
			return nil, err
		}

		if sigScript > 0 {
			extra := wire.VarIntSerializeSize(
				uint64(sigScript),
			) - 1 + sigScript

			weight += btcunit.WeightUnit(extra * 4)
		}
		if witness > 0 {
			haveWitness = true
			weight += btcunit.WeightUnit(witness)
		}
	}

	// Marker and flag bytes, present whenever any input has witness
	// data.
	if haveWitness {
		weight += 2
	}

	if estimateOK {
		analysis.EstimatedWeight = weight
		analysis.EstimatedVSize = weight.ToVBytes()
	}

	fee, err := p.GetTxFee()
	if err == nil {
		analysis.Fee = fee
		analysis.HasFee = true

		if estimateOK {
			analysis.FeeRate = btcunit.NewSatPerVByte(
				fee, analysis.EstimatedVSize,
			)
		}
	}

	return analysis, nil
}

// estimateInputSize predicts the size of the signature script and the
// serialized witness stack of the input at the given index. Finalized
// inputs report their actual sizes.
func (p *Packet) estimateInputSize(idx int) (int, int, error) {
	pIn := &p.Inputs[idx]

	if pIn.isFinalized() {
		return len(pIn.FinalScriptSig),
			len(pIn.FinalScriptWitness), nil
	}

	path, err := p.inputSpendPath(idx)
	if err != nil {
		return 0, 0, ErrUnestimatableInput
	}

	switch path {
	case spendPathLegacy:
		script := pIn.RedeemScript
		if script == nil {
			utxo, err := p.SpentOutput(idx)
			if err != nil {
				return 0, 0, ErrUnestimatableInput
			}
			script = utxo.PkScript
		}

		size, err := sigScriptSatisfactionSize(script)
		if err != nil {
			return 0, 0, err
		}

		// Spending a P2SH output additionally pushes the redeem
		// script itself.
		if pIn.RedeemScript != nil {
			size += dataPushSize(len(pIn.RedeemScript))
		}
		return size, 0, nil

	case spendPathWitnessV0, spendPathNestedWitnessV0:
		var witnessSize int
		if pIn.WitnessScript != nil {
			witnessSize, err = witnessSatisfactionSize(
				pIn.WitnessScript,
			)
			if err != nil {
				return 0, 0, err
			}
		} else {
			witnessSize = p2wpkhWitnessSize
		}

		var sigScriptSize int
		if path == spendPathNestedWitnessV0 {
			sigScriptSize = dataPushSize(len(pIn.RedeemScript))
		}
		return sigScriptSize, witnessSize, nil

	case spendPathTaprootKey:
		return 0, 1 + 1 + taprootSigSize(pIn.SighashType), nil

	case spendPathTaprootScript:
		witnessSize, err := tapscriptSatisfactionSize(pIn)
		if err != nil {
			return 0, 0, err
		}
		return 0, witnessSize, nil
	}

	return 0, 0, ErrUnestimatableInput
}

// sigScriptSatisfactionSize returns the size of a signature script
// satisfying the given script when spent directly or as a redeem script.
func sigScriptSatisfactionSize(script []byte) (int, error) {
	switch {
	case isPayToPubKeyHash(script):
		return p2pkhSigScriptSize, nil

	case isPayToPubKey(script):
		return p2pkSigScriptSize, nil

	case isMultisigScript(script):
		numSigs, _, err := parseMultisigScript(script)
		if err != nil {
			return 0, ErrUnestimatableInput
		}

		// OP_0 dummy plus one signature push per required key.
		return 1 + numSigs*(1+sigSize), nil
	}

	return 0, ErrUnestimatableInput
}

// witnessSatisfactionSize returns the serialized size of a witness stack
// satisfying the given witness script, including the item count.
func witnessSatisfactionSize(script []byte) (int, error) {
	scriptItem := wire.VarIntSerializeSize(uint64(len(script))) +
		len(script)

	switch {
	case isPayToPubKeyHash(script):
		return 1 + 1 + sigSize + 1 + compressedPubKeySize +
			scriptItem, nil

	case isPayToPubKey(script):
		return 1 + 1 + sigSize + scriptItem, nil

	case isMultisigScript(script):
		numSigs, _, err := parseMultisigScript(script)
		if err != nil {
			return 0, ErrUnestimatableInput
		}

		// Empty dummy item, the signature items and the script.
		return 1 + 1 + numSigs*(1+sigSize) + scriptItem, nil
	}

	return 0, ErrUnestimatableInput
}

// tapscriptSatisfactionSize estimates the witness size of a script path
// spend using the first leaf the packet carries.
func tapscriptSatisfactionSize(pIn *PInput) (int, error) {
	if len(pIn.TaprootLeafScript) == 0 {
		return 0, ErrUnestimatableInput
	}
	leaf := pIn.TaprootLeafScript[0]

	keys, err := leafScriptKeys(leaf.Script)
	if err != nil || len(keys) == 0 {
		return 0, ErrUnestimatableInput
	}

	sigItem := 1 + taprootSigSize(pIn.SighashType)
	scriptItem := wire.VarIntSerializeSize(uint64(len(leaf.Script))) +
		len(leaf.Script)
	controlItem := wire.VarIntSerializeSize(
		uint64(len(leaf.ControlBlock)),
	) + len(leaf.ControlBlock)

	return 1 + len(keys)*sigItem + scriptItem + controlItem, nil
}

// taprootSigSize is the schnorr signature size with the sighash flag
// byte that non-default hash types append.
func taprootSigSize(hashType txscript.SigHashType) int {
	if hashType != 0 {
		return schnorrSigSize + 1
	}
	return schnorrSigSize
}

// dataPushSize returns the size of the canonical data push of a payload
// of the given length, including the opcode bytes.
func dataPushSize(length int) int {
	switch {
	case length < 76:
		return 1 + length

	case length < 256:
		// OP_PUSHDATA1.
		return 2 + length

	default:
		// OP_PUSHDATA2.
		return 3 + length
	}
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// lockTimeThreshold is the value below which a lock time is interpreted as a
// block height rather than a unix timestamp.
const lockTimeThreshold = 500000000

// PInput is a struct encapsulating all the data that can be attached to any
// specific input of the PSBT.
type PInput struct {
	// NonWitnessUtxo is the full transaction creating the output spent by
	// this input.
	NonWitnessUtxo *wire.MsgTx

	// WitnessUtxo is just the output spent by this input.
	WitnessUtxo *wire.TxOut

	// PartialSigs holds the ECDSA signatures collected so far, one per
	// public key.
	PartialSigs []*PartialSig

	// SighashType is the sighash flag signers of this input are requested
	// to use.
	SighashType txscript.SigHashType

	// RedeemScript is the script hashed into a pay-to-script-hash output
	// spent by this input.
	RedeemScript []byte

	// WitnessScript is the script hashed into a
	// pay-to-witness-script-hash program spent by this input.
	WitnessScript []byte

	// Bip32Derivation holds the key derivation info for the keys involved
	// in spending this input.
	Bip32Derivation []*Bip32Derivation

	// FinalScriptSig is the fully constructed signature script. Only set
	// once the input is finalized.
	FinalScriptSig []byte

	// FinalScriptWitness is the fully constructed, serialized witness
	// stack. Only set once the input is finalized.
	FinalScriptWitness []byte

	// PrevoutHash is the txid of the transaction whose output this input
	// spends. Version 2 packets only, where it is mandatory.
	PrevoutHash *chainhash.Hash

	// PrevoutIndex is the index of the spent output. Version 2 packets
	// only, where it is mandatory.
	PrevoutIndex *uint32

	// Sequence is the sequence number for this input. Version 2 packets
	// only; absent means the default sequence.
	Sequence *uint32

	// RequiredTimeLocktime is the minimum time-based lock time this input
	// requires of the final transaction. Version 2 packets only.
	RequiredTimeLocktime *uint32

	// RequiredHeightLocktime is the minimum height-based lock time this
	// input requires of the final transaction. Version 2 packets only.
	RequiredHeightLocktime *uint32

	// TaprootKeySpendSig is the schnorr signature for a taproot key path
	// spend, with an optional sighash flag byte appended.
	TaprootKeySpendSig []byte

	// TaprootScriptSpendSig holds the schnorr signatures collected for a
	// taproot script path spend.
	TaprootScriptSpendSig []*TaprootScriptSpendSig

	// TaprootLeafScript holds the tapscript leaves this input may be
	// spent through, along with their control blocks.
	TaprootLeafScript []*TaprootTapLeafScript

	// TaprootBip32Derivation holds the derivation info for the x-only
	// keys involved in spending this input.
	TaprootBip32Derivation []*TaprootBip32Derivation

	// TaprootInternalKey is the x-only internal key of the spent taproot
	// output.
	TaprootInternalKey []byte

	// TaprootMerkleRoot is the merkle root of the tapscript tree the
	// spent taproot output commits to.
	TaprootMerkleRoot []byte

	// Unknowns holds any key-value pairs with key types this package does
	// not know about, including proprietary entries. They are preserved
	// verbatim for forward compatibility.
	Unknowns []*Unknown
}

// NewPsbtInput creates an instance of PInput given either a nonWitnessUtxo
// or a witnessUtxo.
func NewPsbtInput(nonWitnessUtxo *wire.MsgTx,
	witnessUtxo *wire.TxOut) *PInput {

	return &PInput{
		NonWitnessUtxo: nonWitnessUtxo,
		WitnessUtxo:    witnessUtxo,
		PartialSigs:    []*PartialSig{},
	}
}

// isFinalized returns true if the input carries a final signature script or
// witness.
func (pi *PInput) isFinalized() bool {
	return pi.FinalScriptSig != nil || pi.FinalScriptWitness != nil
}

// hasV2Fields returns true if any of the version 2 only fields is set.
func (pi *PInput) hasV2Fields() bool {
	return pi.PrevoutHash != nil || pi.PrevoutIndex != nil ||
		pi.Sequence != nil || pi.RequiredTimeLocktime != nil ||
		pi.RequiredHeightLocktime != nil
}

// IsSane returns true only if there are no conflicting values in the input.
func (pi *PInput) IsSane() bool {
	// A finalized input must not carry any of the pre-signature fields
	// anymore; the finalizer removed them.
	if pi.isFinalized() {
		if len(pi.PartialSigs) > 0 || pi.RedeemScript != nil ||
			pi.WitnessScript != nil ||
			len(pi.Bip32Derivation) > 0 ||
			pi.TaprootKeySpendSig != nil ||
			len(pi.TaprootScriptSpendSig) > 0 {

			return false
		}
	}

	// If both UTXO variants are present, they must describe the same
	// output. Both being present is explicitly allowed (and for segwit v0
	// even recommended, see CVE-2020-14199), so this is a consistency
	// check, not an exclusivity check.
	if pi.NonWitnessUtxo != nil && pi.WitnessUtxo != nil &&
		pi.PrevoutIndex != nil {

		idx := *pi.PrevoutIndex
		if int(idx) >= len(pi.NonWitnessUtxo.TxOut) {
			return false
		}
		if !TxOutsEqual(pi.NonWitnessUtxo.TxOut[idx], pi.WitnessUtxo) {
			return false
		}
	}

	return true
}

// deserialize attempts to deserialize a new PInput from the passed io.Reader.
func (pi *PInput) deserialize(r io.Reader) error {
	inputKeys := newKeySet()
	for {
		pair, err := getKVPair(r)
		if err != nil {
			return err
		}

		// A nil pair means the separator was read and the map is done.
		if pair == nil {
			break
		}

		if !inputKeys.addKey(pair.keyType, pair.keyData) {
			return ErrDuplicateKey
		}

		switch InputType(pair.keyType) {
		case NonWitnessUtxoType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			tx := wire.NewMsgTx(2)
			err := tx.Deserialize(bytes.NewReader(pair.valueData))
			if err != nil {
				return err
			}
			pi.NonWitnessUtxo = tx

		case WitnessUtxoType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			txOut, err := readTxOut(pair.valueData)
			if err != nil {
				return err
			}
			pi.WitnessUtxo = txOut

		case PartialSigType:
			newPartialSig := PartialSig{
				PubKey:    pair.keyData,
				Signature: pair.valueData,
			}
			if !newPartialSig.checkValid() {
				return ErrInvalidPsbtFormat
			}
			pi.PartialSigs = append(pi.PartialSigs, &newPartialSig)

		case SighashInputType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			if len(pair.valueData) != 4 {
				return ErrInvalidKeyData
			}
			pi.SighashType = txscript.SigHashType(
				binary.LittleEndian.Uint32(pair.valueData),
			)

		case RedeemScriptInputType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			pi.RedeemScript = pair.valueData

		case WitnessScriptInputType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			pi.WitnessScript = pair.valueData

		case Bip32DerivationInputType:
			if !validatePubkey(pair.keyData) {
				return ErrInvalidPsbtFormat
			}
			master, derivationPath, err := ReadBip32Derivation(
				pair.valueData,
			)
			if err != nil {
				return err
			}

			pi.Bip32Derivation = append(
				pi.Bip32Derivation, &Bip32Derivation{
					PubKey:               pair.keyData,
					MasterKeyFingerprint: master,
					Bip32Path:            derivationPath,
				},
			)

		case FinalScriptSigType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			pi.FinalScriptSig = pair.valueData

		case FinalScriptWitnessType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			pi.FinalScriptWitness = pair.valueData

		case PrevoutHashType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			hash, err := chainhash.NewHash(pair.valueData)
			if err != nil {
				return ErrInvalidKeyData
			}
			pi.PrevoutHash = hash

		case PrevoutIndexType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			if len(pair.valueData) != 4 {
				return ErrInvalidKeyData
			}
			index := binary.LittleEndian.Uint32(pair.valueData)
			pi.PrevoutIndex = &index

		case SequenceType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			if len(pair.valueData) != 4 {
				return ErrInvalidKeyData
			}
			sequence := binary.LittleEndian.Uint32(pair.valueData)
			pi.Sequence = &sequence

		case RequiredTimeLocktimeType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			if len(pair.valueData) != 4 {
				return ErrInvalidKeyData
			}
			lockTime := binary.LittleEndian.Uint32(pair.valueData)
			if lockTime < lockTimeThreshold {
				return ErrInvalidPsbtFormat
			}
			pi.RequiredTimeLocktime = &lockTime

		case RequiredHeightLocktimeType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			if len(pair.valueData) != 4 {
				return ErrInvalidKeyData
			}
			lockTime := binary.LittleEndian.Uint32(pair.valueData)
			if lockTime == 0 || lockTime >= lockTimeThreshold {
				return ErrInvalidPsbtFormat
			}
			pi.RequiredHeightLocktime = &lockTime

		case TaprootKeySpendSignatureType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			if !checkTaprootKeySpendSig(pair.valueData) {
				return ErrInvalidKeyData
			}
			pi.TaprootKeySpendSig = pair.valueData

		case TaprootScriptSpendSignatureType:
			// The key data is <xonlypubkey><leafhash>.
			if len(pair.keyData) != schnorrKeyLength+
				taprootLeafHashLength {

				return ErrInvalidKeyData
			}

			newPartialSig := TaprootScriptSpendSig{
				XOnlyPubKey: pair.keyData[:schnorrKeyLength],
				LeafHash:    pair.keyData[schnorrKeyLength:],
			}

			// The signature is either 64 or 65 bytes, the optional
			// trailing byte being the sighash flag.
			switch len(pair.valueData) {
			case schnorrSigMinLength:
				newPartialSig.Signature = pair.valueData
				newPartialSig.SigHash = txscript.SigHashDefault

			case schnorrSigMaxLength:
				newPartialSig.Signature = pair.valueData[0:schnorrSigMinLength]
				newPartialSig.SigHash = txscript.SigHashType(
					pair.valueData[schnorrSigMinLength],
				)

			default:
				return ErrInvalidKeyData
			}

			if !newPartialSig.checkValid() {
				return ErrInvalidKeyData
			}

			pi.TaprootScriptSpendSig = append(
				pi.TaprootScriptSpendSig, &newPartialSig,
			)

		case TaprootLeafScriptType:
			if len(pair.valueData) < 1 {
				return ErrInvalidKeyData
			}

			newLeafScript := TaprootTapLeafScript{
				ControlBlock: pair.keyData,
				Script:       pair.valueData[:len(pair.valueData)-1],
				LeafVersion: txscript.TapscriptLeafVersion(
					pair.valueData[len(pair.valueData)-1],
				),
			}

			if !newLeafScript.checkValid() {
				return ErrInvalidKeyData
			}

			pi.TaprootLeafScript = append(
				pi.TaprootLeafScript, &newLeafScript,
			)

		case TaprootBip32DerivationInputType:
			if !validateXOnlyPubkey(pair.keyData) {
				return ErrInvalidKeyData
			}
			taprootDerivation, err := ReadTaprootBip32Derivation(
				pair.keyData, pair.valueData,
			)
			if err != nil {
				return err
			}

			pi.TaprootBip32Derivation = append(
				pi.TaprootBip32Derivation, taprootDerivation,
			)

		case TaprootInternalKeyInputType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			if !validateXOnlyPubkey(pair.valueData) {
				return ErrInvalidKeyData
			}
			pi.TaprootInternalKey = pair.valueData

		case TaprootMerkleRootType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			pi.TaprootMerkleRoot = pair.valueData

		default:
			// A fall through case for any proprietary or unknown
			// types; the entry is preserved verbatim.
			keyCodeAndData := append(
				[]byte{pair.keyType}, pair.keyData...,
			)
			pi.Unknowns = append(pi.Unknowns, &Unknown{
				Key:   keyCodeAndData,
				Value: pair.valueData,
			})
		}
	}

	return nil
}

// serialize attempts to serialize the target PInput into the passed
// io.Writer.
func (pi *PInput) serialize(w io.Writer) error {
	if !pi.IsSane() {
		return ErrInvalidPsbtFormat
	}

	if pi.NonWitnessUtxo != nil {
		var buf bytes.Buffer
		if err := pi.NonWitnessUtxo.Serialize(&buf); err != nil {
			return err
		}

		err := serializeKVPairWithType(
			w, uint8(NonWitnessUtxoType), nil, buf.Bytes(),
		)
		if err != nil {
			return err
		}
	}

	if pi.WitnessUtxo != nil {
		var buf bytes.Buffer
		err := wire.WriteTxOut(&buf, 0, 0, pi.WitnessUtxo)
		if err != nil {
			return err
		}

		err = serializeKVPairWithType(
			w, uint8(WitnessUtxoType), nil, buf.Bytes(),
		)
		if err != nil {
			return err
		}
	}

	if !pi.isFinalized() {
		sort.Sort(PartialSigSorter(pi.PartialSigs))
		for _, ps := range pi.PartialSigs {
			err := serializeKVPairWithType(
				w, uint8(PartialSigType), ps.PubKey,
				ps.Signature,
			)
			if err != nil {
				return err
			}
		}

		if pi.SighashType != 0 {
			var shtBytes [4]byte
			binary.LittleEndian.PutUint32(
				shtBytes[:], uint32(pi.SighashType),
			)

			err := serializeKVPairWithType(
				w, uint8(SighashInputType), nil, shtBytes[:],
			)
			if err != nil {
				return err
			}
		}

		if pi.RedeemScript != nil {
			err := serializeKVPairWithType(
				w, uint8(RedeemScriptInputType), nil,
				pi.RedeemScript,
			)
			if err != nil {
				return err
			}
		}

		if pi.WitnessScript != nil {
			err := serializeKVPairWithType(
				w, uint8(WitnessScriptInputType), nil,
				pi.WitnessScript,
			)
			if err != nil {
				return err
			}
		}

		sort.Sort(Bip32Sorter(pi.Bip32Derivation))
		for _, kd := range pi.Bip32Derivation {
			err := serializeKVPairWithType(
				w, uint8(Bip32DerivationInputType),
				kd.PubKey,
				SerializeBIP32Derivation(
					kd.MasterKeyFingerprint,
					kd.Bip32Path,
				),
			)
			if err != nil {
				return err
			}
		}

		if pi.TaprootKeySpendSig != nil {
			err := serializeKVPairWithType(
				w, uint8(TaprootKeySpendSignatureType), nil,
				pi.TaprootKeySpendSig,
			)
			if err != nil {
				return err
			}
		}

		sort.Slice(pi.TaprootScriptSpendSig, func(i, j int) bool {
			return pi.TaprootScriptSpendSig[i].SortBefore(
				pi.TaprootScriptSpendSig[j],
			)
		})
		for _, scriptSpend := range pi.TaprootScriptSpendSig {
			keyData := append(
				[]byte{}, scriptSpend.XOnlyPubKey...,
			)
			keyData = append(keyData, scriptSpend.LeafHash...)
			value := append([]byte{}, scriptSpend.Signature...)
			if scriptSpend.SigHash != txscript.SigHashDefault {
				value = append(value, byte(scriptSpend.SigHash))
			}
			err := serializeKVPairWithType(
				w, uint8(TaprootScriptSpendSignatureType),
				keyData, value,
			)
			if err != nil {
				return err
			}
		}

		sort.Slice(pi.TaprootLeafScript, func(i, j int) bool {
			return pi.TaprootLeafScript[i].SortBefore(
				pi.TaprootLeafScript[j],
			)
		})
		for _, leafScript := range pi.TaprootLeafScript {
			value := append([]byte{}, leafScript.Script...)
			value = append(value, byte(leafScript.LeafVersion))
			err := serializeKVPairWithType(
				w, uint8(TaprootLeafScriptType),
				leafScript.ControlBlock, value,
			)
			if err != nil {
				return err
			}
		}

		sort.Slice(pi.TaprootBip32Derivation, func(i, j int) bool {
			return pi.TaprootBip32Derivation[i].SortBefore(
				pi.TaprootBip32Derivation[j],
			)
		})
		for _, derivation := range pi.TaprootBip32Derivation {
			value, err := SerializeTaprootBip32Derivation(
				derivation,
			)
			if err != nil {
				return err
			}
			err = serializeKVPairWithType(
				w, uint8(TaprootBip32DerivationInputType),
				derivation.XOnlyPubKey, value,
			)
			if err != nil {
				return err
			}
		}

		if pi.TaprootInternalKey != nil {
			err := serializeKVPairWithType(
				w, uint8(TaprootInternalKeyInputType), nil,
				pi.TaprootInternalKey,
			)
			if err != nil {
				return err
			}
		}

		if pi.TaprootMerkleRoot != nil {
			err := serializeKVPairWithType(
				w, uint8(TaprootMerkleRootType), nil,
				pi.TaprootMerkleRoot,
			)
			if err != nil {
				return err
			}
		}
	}

	if pi.PrevoutHash != nil {
		err := serializeKVPairWithType(
			w, uint8(PrevoutHashType), nil, pi.PrevoutHash[:],
		)
		if err != nil {
			return err
		}
	}

	if pi.PrevoutIndex != nil {
		var idxBytes [4]byte
		binary.LittleEndian.PutUint32(idxBytes[:], *pi.PrevoutIndex)
		err := serializeKVPairWithType(
			w, uint8(PrevoutIndexType), nil, idxBytes[:],
		)
		if err != nil {
			return err
		}
	}

	if pi.Sequence != nil {
		var seqBytes [4]byte
		binary.LittleEndian.PutUint32(seqBytes[:], *pi.Sequence)
		err := serializeKVPairWithType(
			w, uint8(SequenceType), nil, seqBytes[:],
		)
		if err != nil {
			return err
		}
	}

	if pi.RequiredTimeLocktime != nil {
		var ltBytes [4]byte
		binary.LittleEndian.PutUint32(
			ltBytes[:], *pi.RequiredTimeLocktime,
		)
		err := serializeKVPairWithType(
			w, uint8(RequiredTimeLocktimeType), nil, ltBytes[:],
		)
		if err != nil {
			return err
		}
	}

	if pi.RequiredHeightLocktime != nil {
		var ltBytes [4]byte
		binary.LittleEndian.PutUint32(
			ltBytes[:], *pi.RequiredHeightLocktime,
		)
		err := serializeKVPairWithType(
			w, uint8(RequiredHeightLocktimeType), nil, ltBytes[:],
		)
		if err != nil {
			return err
		}
	}

	if pi.FinalScriptSig != nil {
		err := serializeKVPairWithType(
			w, uint8(FinalScriptSigType), nil, pi.FinalScriptSig,
		)
		if err != nil {
			return err
		}
	}

	if pi.FinalScriptWitness != nil {
		err := serializeKVPairWithType(
			w, uint8(FinalScriptWitnessType), nil,
			pi.FinalScriptWitness,
		)
		if err != nil {
			return err
		}
	}

	// Unknown is a special case; we don't have a key type, only a key and
	// a value field.
	for _, kv := range pi.Unknowns {
		if err := serializeKVpair(w, kv.Key, kv.Value); err != nil {
			return err
		}
	}

	separator := []byte{0x00}
	if _, err := w.Write(separator); err != nil {
		return err
	}

	return nil
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"encoding/binary"
	"io"
	"sort"
)

// POutput is a struct encapsulating all the data that can be attached to any
// specific output of the PSBT.
type POutput struct {
	// RedeemScript is the redeem script of a pay-to-script-hash output
	// being created.
	RedeemScript []byte

	// WitnessScript is the witness script of a
	// pay-to-witness-script-hash output being created.
	WitnessScript []byte

	// Bip32Derivation holds the key derivation info for the keys
	// controlling this output.
	Bip32Derivation []*Bip32Derivation

	// Amount is the explicit output amount in satoshis. Version 2
	// packets only, where it is mandatory.
	Amount *int64

	// PkScript is the explicit output script. Version 2 packets only,
	// where it is mandatory.
	PkScript []byte

	// TaprootInternalKey is the x-only internal key of a taproot output
	// being created.
	TaprootInternalKey []byte

	// TaprootTree is the serialized tapscript tree of a taproot output
	// being created, as a depth-first list of leaves.
	TaprootTree []byte

	// TaprootBip32Derivation holds the derivation info for the x-only
	// keys controlling this output.
	TaprootBip32Derivation []*TaprootBip32Derivation

	// Unknowns holds any key-value pairs with key types this package
	// does not know about, including proprietary entries.
	Unknowns []*Unknown
}

// NewPsbtOutput creates an instance of PsbtOutput; the three parameters
// redeemScript, witnessScript and bip32Derivation are all allowed to be
// `nil`.
func NewPsbtOutput(redeemScript []byte, witnessScript []byte,
	bip32Derivation []*Bip32Derivation) *POutput {

	return &POutput{
		RedeemScript:    redeemScript,
		WitnessScript:   witnessScript,
		Bip32Derivation: bip32Derivation,
	}
}

// hasV2Fields returns true if any of the version 2 only fields is set.
func (po *POutput) hasV2Fields() bool {
	return po.Amount != nil || po.PkScript != nil
}

// deserialize attempts to recreate a POutput object from the passed
// io.Reader.
func (po *POutput) deserialize(r io.Reader) error {
	outputKeys := newKeySet()
	for {
		pair, err := getKVPair(r)
		if err != nil {
			return err
		}

		// A nil pair means the separator was read and the map is done.
		if pair == nil {
			break
		}

		if !outputKeys.addKey(pair.keyType, pair.keyData) {
			return ErrDuplicateKey
		}

		switch OutputType(pair.keyType) {
		case RedeemScriptOutputType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			po.RedeemScript = pair.valueData

		case WitnessScriptOutputType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			po.WitnessScript = pair.valueData

		case Bip32DerivationOutputType:
			if !validatePubkey(pair.keyData) {
				return ErrInvalidKeyData
			}
			master, derivationPath, err := ReadBip32Derivation(
				pair.valueData,
			)
			if err != nil {
				return err
			}

			po.Bip32Derivation = append(
				po.Bip32Derivation, &Bip32Derivation{
					PubKey:               pair.keyData,
					MasterKeyFingerprint: master,
					Bip32Path:            derivationPath,
				},
			)

		case AmountOutputType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			if len(pair.valueData) != 8 {
				return ErrInvalidKeyData
			}
			amount := int64(
				binary.LittleEndian.Uint64(pair.valueData),
			)
			po.Amount = &amount

		case PkScriptOutputType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			po.PkScript = pair.valueData

		case TaprootInternalKeyOutputType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			if !validateXOnlyPubkey(pair.valueData) {
				return ErrInvalidKeyData
			}
			po.TaprootInternalKey = pair.valueData

		case TaprootTreeType:
			if pair.keyData != nil {
				return ErrInvalidKeyData
			}
			po.TaprootTree = pair.valueData

		case TaprootBip32DerivationOutputType:
			if !validateXOnlyPubkey(pair.keyData) {
				return ErrInvalidKeyData
			}
			taprootDerivation, err := ReadTaprootBip32Derivation(
				pair.keyData, pair.valueData,
			)
			if err != nil {
				return err
			}

			po.TaprootBip32Derivation = append(
				po.TaprootBip32Derivation, taprootDerivation,
			)

		default:
			// Unknown and proprietary types are preserved
			// verbatim.
			keyCodeAndData := append(
				[]byte{pair.keyType}, pair.keyData...,
			)
			po.Unknowns = append(po.Unknowns, &Unknown{
				Key:   keyCodeAndData,
				Value: pair.valueData,
			})
		}
	}

	return nil
}

// serialize attempts to write out the target POutput into the passed
// io.Writer.
func (po *POutput) serialize(w io.Writer) error {
	if po.RedeemScript != nil {
		err := serializeKVPairWithType(
			w, uint8(RedeemScriptOutputType), nil, po.RedeemScript,
		)
		if err != nil {
			return err
		}
	}

	if po.WitnessScript != nil {
		err := serializeKVPairWithType(
			w, uint8(WitnessScriptOutputType), nil,
			po.WitnessScript,
		)
		if err != nil {
			return err
		}
	}

	sort.Sort(Bip32Sorter(po.Bip32Derivation))
	for _, kd := range po.Bip32Derivation {
		err := serializeKVPairWithType(
			w, uint8(Bip32DerivationOutputType), kd.PubKey,
			SerializeBIP32Derivation(
				kd.MasterKeyFingerprint, kd.Bip32Path,
			),
		)
		if err != nil {
			return err
		}
	}

	if po.Amount != nil {
		var amtBytes [8]byte
		binary.LittleEndian.PutUint64(amtBytes[:], uint64(*po.Amount))
		err := serializeKVPairWithType(
			w, uint8(AmountOutputType), nil, amtBytes[:],
		)
		if err != nil {
			return err
		}
	}

	if po.PkScript != nil {
		err := serializeKVPairWithType(
			w, uint8(PkScriptOutputType), nil, po.PkScript,
		)
		if err != nil {
			return err
		}
	}

	if po.TaprootInternalKey != nil {
		err := serializeKVPairWithType(
			w, uint8(TaprootInternalKeyOutputType), nil,
			po.TaprootInternalKey,
		)
		if err != nil {
			return err
		}
	}

	if po.TaprootTree != nil {
		err := serializeKVPairWithType(
			w, uint8(TaprootTreeType), nil, po.TaprootTree,
		)
		if err != nil {
			return err
		}
	}

	sort.Slice(po.TaprootBip32Derivation, func(i, j int) bool {
		return po.TaprootBip32Derivation[i].SortBefore(
			po.TaprootBip32Derivation[j],
		)
	})
	for _, derivation := range po.TaprootBip32Derivation {
		value, err := SerializeTaprootBip32Derivation(derivation)
		if err != nil {
			return err
		}
		err = serializeKVPairWithType(
			w, uint8(TaprootBip32DerivationOutputType),
			derivation.XOnlyPubKey, value,
		)
		if err != nil {
			return err
		}
	}

	// Unknown is a special case; we don't have a key type, only a key
	// and a value field.
	for _, kv := range po.Unknowns {
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

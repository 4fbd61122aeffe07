// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

const (
	// PsbtVersion0 is the original BIP-174 format version, carrying a
	// complete unsigned transaction in the global map.
	PsbtVersion0 uint32 = 0

	// PsbtVersion2 is the BIP-370 format version, carrying the
	// transaction fields explicitly instead of an embedded transaction.
	PsbtVersion2 uint32 = 2
)

// Flag bits of the version 2 transaction modifiable bitfield.
const (
	// TxModifiableInputs signals that inputs may still be added to or
	// removed from the packet.
	TxModifiableInputs uint8 = 1 << 0

	// TxModifiableOutputs signals that outputs may still be added to or
	// removed from the packet.
	TxModifiableOutputs uint8 = 1 << 1

	// TxModifiableSigHashSingle signals that the packet holds signatures
	// made with SIGHASH_SINGLE, tying input and output ordering.
	TxModifiableSigHashSingle uint8 = 1 << 2
)

// GlobalType is the set of key types defined for the global key-value map of
// a partially signed transaction, per BIP-174 and the BIP-370 additions.
type GlobalType uint8

const (
	// UnsignedTxType identifies the raw unsigned transaction. Only
	// present in version 0 packets, where it is mandatory.
	UnsignedTxType GlobalType = 0

	// XpubType identifies an extended public key plus the derivation path
	// used to derive the keys appearing in the packet.
	XpubType GlobalType = 1

	// TxVersionType identifies the explicit transaction version of a
	// version 2 packet.
	TxVersionType GlobalType = 2

	// FallbackLocktimeType identifies the transaction lock time to use if
	// no inputs specify a required lock time. Version 2 only.
	FallbackLocktimeType GlobalType = 3

	// InputCountType identifies the declared number of inputs of a
	// version 2 packet.
	InputCountType GlobalType = 4

	// OutputCountType identifies the declared number of outputs of a
	// version 2 packet.
	OutputCountType GlobalType = 5

	// TxModifiableType identifies the flag bitfield signalling which
	// parts of a version 2 packet may still be modified.
	TxModifiableType GlobalType = 6

	// VersionType identifies the explicit PSBT version number. Absent
	// for version 0 packets.
	VersionType GlobalType = 0xfb

	// ProprietaryGlobalType identifies a vendor-specific global entry.
	ProprietaryGlobalType GlobalType = 0xfc
)

// InputType is the set of key types defined for the per-input key-value maps,
// per BIP-174 with the BIP-370 (v2) and BIP-371 (taproot) additions.
type InputType uint8

const (
	// NonWitnessUtxoType identifies the full transaction creating the
	// output being spent by this input.
	NonWitnessUtxoType InputType = 0

	// WitnessUtxoType identifies just the output being spent, as an
	// amount and script pair.
	WitnessUtxoType InputType = 1

	// PartialSigType identifies an ECDSA partial signature, keyed by the
	// compressed or uncompressed public key it was produced for.
	PartialSigType InputType = 2

	// SighashInputType identifies the sighash flag the signer is
	// requested to use for this input.
	SighashInputType InputType = 3

	// RedeemScriptInputType identifies the redeem script needed to spend
	// a pay-to-script-hash output.
	RedeemScriptInputType InputType = 4

	// WitnessScriptInputType identifies the witness script needed to
	// spend a pay-to-witness-script-hash output.
	WitnessScriptInputType InputType = 5

	// Bip32DerivationInputType identifies a BIP32 derivation path entry,
	// keyed by public key.
	Bip32DerivationInputType InputType = 6

	// FinalScriptSigType identifies the fully constructed signature
	// script, present only once an input is finalized.
	FinalScriptSigType InputType = 7

	// FinalScriptWitnessType identifies the fully constructed witness
	// stack, present only once an input is finalized.
	FinalScriptWitnessType InputType = 8

	// PrevoutHashType identifies the txid of the previous transaction
	// whose output is spent by this input. Version 2 only, mandatory.
	PrevoutHashType InputType = 0x0e

	// PrevoutIndexType identifies the index of the spent output within
	// its transaction. Version 2 only, mandatory.
	PrevoutIndexType InputType = 0x0f

	// SequenceType identifies the sequence number of this input. Version
	// 2 only.
	SequenceType InputType = 0x10

	// RequiredTimeLocktimeType identifies a minimum time-based lock time
	// this input requires of the final transaction. Version 2 only.
	RequiredTimeLocktimeType InputType = 0x11

	// RequiredHeightLocktimeType identifies a minimum height-based lock
	// time this input requires of the final transaction. Version 2 only.
	RequiredHeightLocktimeType InputType = 0x12

	// TaprootKeySpendSignatureType identifies the schnorr signature for a
	// taproot key path spend.
	TaprootKeySpendSignatureType InputType = 0x13

	// TaprootScriptSpendSignatureType identifies a schnorr signature for
	// a taproot script path spend, keyed by x-only public key and leaf
	// hash.
	TaprootScriptSpendSignatureType InputType = 0x14

	// TaprootLeafScriptType identifies a tapscript leaf plus the control
	// block proving its inclusion in the taproot commitment.
	TaprootLeafScriptType InputType = 0x15

	// TaprootBip32DerivationInputType identifies a BIP32 derivation path
	// entry for an x-only public key, including the leaf hashes the key
	// appears in.
	TaprootBip32DerivationInputType InputType = 0x16

	// TaprootInternalKeyInputType identifies the x-only internal key the
	// taproot output key commits to.
	TaprootInternalKeyInputType InputType = 0x17

	// TaprootMerkleRootType identifies the merkle root of the tapscript
	// tree committed to by the taproot output key.
	TaprootMerkleRootType InputType = 0x18

	// ProprietaryInputType identifies a vendor-specific input entry.
	ProprietaryInputType InputType = 0xfc
)

// OutputType is the set of key types defined for the per-output key-value
// maps, per BIP-174 with the BIP-370 (v2) and BIP-371 (taproot) additions.
type OutputType uint8

const (
	// RedeemScriptOutputType identifies the redeem script of a
	// pay-to-script-hash output being created.
	RedeemScriptOutputType OutputType = 0

	// WitnessScriptOutputType identifies the witness script of a
	// pay-to-witness-script-hash output being created.
	WitnessScriptOutputType OutputType = 1

	// Bip32DerivationOutputType identifies a BIP32 derivation path entry
	// for the output, keyed by public key.
	Bip32DerivationOutputType OutputType = 2

	// AmountOutputType identifies the explicit output amount of a version
	// 2 packet. Version 2 only, mandatory.
	AmountOutputType OutputType = 3

	// PkScriptOutputType identifies the explicit output script of a
	// version 2 packet. Version 2 only, mandatory.
	PkScriptOutputType OutputType = 4

	// TaprootInternalKeyOutputType identifies the x-only internal key of
	// a taproot output being created.
	TaprootInternalKeyOutputType OutputType = 5

	// TaprootTreeType identifies the serialized tapscript tree of a
	// taproot output being created.
	TaprootTreeType OutputType = 6

	// TaprootBip32DerivationOutputType identifies a BIP32 derivation path
	// entry for an x-only public key of the output.
	TaprootBip32DerivationOutputType OutputType = 7

	// ProprietaryOutputType identifies a vendor-specific output entry.
	ProprietaryOutputType OutputType = 0xfc
)

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package psbt is an implementation of Partially Signed Bitcoin
// Transactions (PSBT). The format is defined in BIP 174, with the version 2
// extensions of BIP 370 and the taproot fields of BIP 371:
// https://github.com/bitcoin/bips/blob/master/bip-0174.mediawiki
package psbt

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
)

// psbtMagicLength is the length of the magic bytes used to signal the start
// of a serialized PSBT packet.
const psbtMagicLength = 5

var (
	// psbtMagic is the ASCII marker "psbt" plus the 0xff separator.
	psbtMagic = [psbtMagicLength]byte{0x70, 0x73, 0x62, 0x74, 0xff}
)

var (
	// ErrInvalidPsbtFormat is a generic error for any situation in which
	// a provided Psbt serialization does not conform to the rules of
	// BIP174.
	ErrInvalidPsbtFormat = errors.New("invalid PSBT serialization format")

	// ErrDuplicateKey indicates that a passed Psbt serialization is
	// invalid due to having the same key repeated in the same key-value
	// pair.
	ErrDuplicateKey = errors.New("invalid PSBT due to duplicate key")

	// ErrInvalidKeyData indicates that a key-value pair in the PSBT
	// serialization contains data in the key which is not valid.
	ErrInvalidKeyData = errors.New("invalid key data")

	// ErrInvalidMagicBytes indicates that a passed Psbt serialization is
	// invalid due to having incorrect magic bytes.
	ErrInvalidMagicBytes = errors.New(
		"invalid PSBT due to incorrect magic bytes",
	)

	// ErrInvalidRawTxSigned indicates that the raw serialized transaction
	// in the global section of the passed Psbt serialization is invalid
	// because it contains scriptSigs/witnesses (i.e. is fully or
	// partially signed), which is not allowed by BIP174.
	ErrInvalidRawTxSigned = errors.New(
		"invalid PSBT, raw transaction must be unsigned",
	)

	// ErrVersionMismatch indicates that a field only defined for one PSBT
	// version was encountered in a packet of the other version, e.g. an
	// embedded unsigned transaction next to version 2 per-input prevout
	// fields.
	ErrVersionMismatch = errors.New(
		"field not valid for the packet's PSBT version",
	)

	// ErrInvalidPrevOutNonWitnessTransaction indicates that the
	// transaction hash (i.e. SHA256^2) of the fully serialized previous
	// transaction provided in the NonWitnessUtxo key-value field doesn't
	// match the prevout hash in the UnsignedTx field in the PSBT itself.
	ErrInvalidPrevOutNonWitnessTransaction = errors.New(
		"prevout hash does not match the provided non-witness utxo " +
			"serialization",
	)

	// ErrInputAlreadyFinalized indicates that the PSBT passed to a
	// Finalizer already contains the finalized scriptSig or witness.
	ErrInputAlreadyFinalized = errors.New(
		"cannot finalize PSBT, finalized scriptSig or scriptWitness " +
			"already exists",
	)

	// ErrIncompletePSBT indicates that the Extractor object was unable to
	// successfully extract the passed Psbt struct because it is not
	// complete.
	ErrIncompletePSBT = errors.New(
		"PSBT cannot be extracted as it is incomplete",
	)

	// ErrNotFinalizable indicates that the PSBT struct does not have
	// sufficient data (e.g. signatures) for finalization.
	ErrNotFinalizable = errors.New("PSBT is not finalizable")

	// ErrInvalidSigHashFlags indicates that a signature added to the PSBT
	// uses Sighash flags that are not in accordance with the requirement
	// according to the entry in SighashType, or otherwise not the default
	// value (SIGHASH_ALL).
	ErrInvalidSigHashFlags = errors.New("invalid sighash flags")

	// ErrUnsupportedScriptType indicates that the redeem script or script
	// witness given is not supported by this codebase, or is otherwise
	// not valid.
	ErrUnsupportedScriptType = errors.New("unsupported script type")

	// ErrIndexOutOfRange is returned when the caller names an input or
	// output index that the packet does not have.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// Unknown is a struct encapsulating a key-value pair for which the key type
// is unknown by this package; these fields are allowed in the global, input
// and output sections of a PSBT.
type Unknown struct {
	Key   []byte
	Value []byte
}

// Packet is the actual psbt representation. It is a set of 1 + N + M
// key-value pair lists, 1 global, defining the unsigned transaction
// structure with N inputs and M outputs. These key-value pairs can contain
// scripts, signatures, key derivations and other transaction-defining data.
//
// A version 0 packet embeds the unsigned transaction directly; a version 2
// packet instead carries the transaction version, lock time and the
// per-input/per-output core fields explicitly.
type Packet struct {
	// PsbtVersion is the PSBT format version, currently 0 or 2.
	PsbtVersion uint32

	// UnsignedTx is the decoded unsigned transaction for this PSBT. It is
	// non-nil exactly when PsbtVersion is 0.
	UnsignedTx *wire.MsgTx

	// TxVersion is the explicit transaction version of a version 2
	// packet. Ignored for version 0.
	TxVersion int32

	// FallbackLocktime is the lock time to use if no version 2 input
	// states a lock time requirement. Nil means zero.
	FallbackLocktime *uint32

	// TxModifiable is the version 2 flag bitfield describing which parts
	// of the transaction may still be modified.
	TxModifiable *uint8

	// Xpubs holds the global extended public keys with their derivation
	// paths.
	Xpubs []*Xpub

	// Inputs contains all the information needed to properly sign each
	// target input within the transaction.
	Inputs []PInput

	// Outputs contains all information required to spend any outputs
	// produced by this PSBT.
	Outputs []POutput

	// Unknowns are the set of custom types (global only) within this
	// PSBT.
	Unknowns []*Unknown
}

// validateUnsignedTX returns true if the transaction is unsigned. Note that
// more basic sanity requirements, such as the presence of inputs and
// outputs, is implicitly checked in the call to MsgTx.Deserialize().
func validateUnsignedTX(tx *wire.MsgTx) bool {
	for _, tin := range tx.TxIn {
		if len(tin.SignatureScript) != 0 || len(tin.Witness) != 0 {
			return false
		}
	}

	return true
}

// NewFromUnsignedTx creates a new Psbt struct, without any signatures (i.e.
// only the global section is non-empty) using the passed unsigned
// transaction.
func NewFromUnsignedTx(tx *wire.MsgTx) (*Packet, error) {
	if !validateUnsignedTX(tx) {
		return nil, ErrInvalidRawTxSigned
	}

	inSlice := make([]PInput, len(tx.TxIn))
	outSlice := make([]POutput, len(tx.TxOut))
	unknownSlice := make([]*Unknown, 0)

	return &Packet{
		UnsignedTx: tx,
		Inputs:     inSlice,
		Outputs:    outSlice,
		Unknowns:   unknownSlice,
	}, nil
}

// NewFromRawBytes returns a new instance of a Packet struct created by
// reading from a byte slice. If the format is invalid, an error is returned.
// If the argument b64 is true, the passed byte slice is decoded from base64
// encoding before processing.
//
// NOTE: To create a Packet from one's own data, rather than reading in a
// serialization from a counterparty, one should use NewFromUnsignedTx or
// the version 2 creator.
func NewFromRawBytes(r io.Reader, b64 bool) (*Packet, error) {
	// If the PSBT is encoded in base64, then we'll create a new wrapper
	// reader that'll allow us to incrementally decode the contents of
	// the io.Reader.
	if b64 {
		r = base64.NewDecoder(base64.StdEncoding, r)
	}

	// The Packet struct does not store the fixed magic bytes, but they
	// must be present or the serialization must be explicitly rejected.
	var magic [psbtMagicLength]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != psbtMagic {
		return nil, ErrInvalidMagicBytes
	}

	// First we parse the GLOBAL section in full. The version specific
	// consistency rules can only be checked once the whole map is known,
	// since BIP174 does not prescribe any key order.
	var (
		msgTx        *wire.MsgTx
		psbtVersion  *uint32
		txVersion    *int32
		inputCount   *uint64
		outputCount  *uint64
		fallbackLock *uint32
		txModifiable *uint8
		xpubs        []*Xpub
		unknownSlice []*Unknown
	)

	globalKeys := newKeySet()
	for {
		pair, err := getKVPair(r)
		if err != nil {
			return nil, err
		}

		// If this is the separator (nil pair), the section is done.
		if pair == nil {
			break
		}

		// According to BIP-0174, the key must be unique per map.
		if !globalKeys.addKey(pair.keyType, pair.keyData) {
			return nil, ErrDuplicateKey
		}

		switch GlobalType(pair.keyType) {
		case UnsignedTxType:
			if pair.keyData != nil {
				return nil, ErrInvalidKeyData
			}

			msgTx = wire.NewMsgTx(2)

			// BIP-0174 states: "The transaction must be in the
			// old serialization format (without witnesses)."
			err := msgTx.DeserializeNoWitness(
				bytes.NewReader(pair.valueData),
			)
			if err != nil {
				return nil, err
			}
			if !validateUnsignedTX(msgTx) {
				return nil, ErrInvalidRawTxSigned
			}

		case XpubType:
			xpub, err := readXpub(pair.keyData, pair.valueData)
			if err != nil {
				return nil, err
			}
			xpubs = append(xpubs, xpub)

		case TxVersionType:
			if pair.keyData != nil ||
				len(pair.valueData) != 4 {

				return nil, ErrInvalidKeyData
			}
			version := int32(
				binary.LittleEndian.Uint32(pair.valueData),
			)
			txVersion = &version

		case FallbackLocktimeType:
			if pair.keyData != nil ||
				len(pair.valueData) != 4 {

				return nil, ErrInvalidKeyData
			}
			lockTime := binary.LittleEndian.Uint32(pair.valueData)
			fallbackLock = &lockTime

		case InputCountType:
			if pair.keyData != nil {
				return nil, ErrInvalidKeyData
			}
			count, err := wire.ReadVarInt(
				bytes.NewReader(pair.valueData), 0,
			)
			if err != nil {
				return nil, err
			}
			inputCount = &count

		case OutputCountType:
			if pair.keyData != nil {
				return nil, ErrInvalidKeyData
			}
			count, err := wire.ReadVarInt(
				bytes.NewReader(pair.valueData), 0,
			)
			if err != nil {
				return nil, err
			}
			outputCount = &count

		case TxModifiableType:
			if pair.keyData != nil ||
				len(pair.valueData) != 1 {

				return nil, ErrInvalidKeyData
			}
			flags := pair.valueData[0]
			txModifiable = &flags

		case VersionType:
			if pair.keyData != nil ||
				len(pair.valueData) != 4 {

				return nil, ErrInvalidKeyData
			}
			version := binary.LittleEndian.Uint32(pair.valueData)
			psbtVersion = &version

		default:
			// A fall through case for any proprietary types.
			keyCodeAndData := append(
				[]byte{pair.keyType}, pair.keyData...,
			)
			unknownSlice = append(unknownSlice, &Unknown{
				Key:   keyCodeAndData,
				Value: pair.valueData,
			})
		}
	}

	// With the global map parsed, pin down the version and work out the
	// number of input and output maps to expect.
	version := uint32(0)
	if psbtVersion != nil {
		version = *psbtVersion
	}

	var numInputs, numOutputs int
	switch version {
	case 0:
		// Version 0 requires the embedded transaction and forbids the
		// version 2 global fields.
		if msgTx == nil {
			return nil, ErrInvalidPsbtFormat
		}
		if txVersion != nil || inputCount != nil ||
			outputCount != nil || fallbackLock != nil ||
			txModifiable != nil {

			return nil, ErrVersionMismatch
		}

		numInputs = len(msgTx.TxIn)
		numOutputs = len(msgTx.TxOut)

	case 2:
		// Version 2 forbids the embedded transaction and requires the
		// explicit core fields.
		if msgTx != nil {
			return nil, ErrVersionMismatch
		}
		if txVersion == nil || inputCount == nil ||
			outputCount == nil {

			return nil, ErrInvalidPsbtFormat
		}

		numInputs = int(*inputCount)
		numOutputs = int(*outputCount)

	default:
		return nil, ErrInvalidPsbtFormat
	}

	// Next we parse the INPUT section.
	inSlice := make([]PInput, numInputs)
	for i := 0; i < numInputs; i++ {
		input := PInput{}
		if err := input.deserialize(r); err != nil {
			return nil, err
		}

		inSlice[i] = input
	}

	// Next we parse the OUTPUT section.
	outSlice := make([]POutput, numOutputs)
	for i := 0; i < numOutputs; i++ {
		output := POutput{}
		if err := output.deserialize(r); err != nil {
			return nil, err
		}

		outSlice[i] = output
	}

	// Populate the new Packet object.
	newPsbt := Packet{
		PsbtVersion: version,
		UnsignedTx:  msgTx,
		Xpubs:       xpubs,
		Inputs:      inSlice,
		Outputs:     outSlice,
		Unknowns:    unknownSlice,
	}
	if version == 2 {
		newPsbt.TxVersion = *txVersion
		newPsbt.FallbackLocktime = fallbackLock
		newPsbt.TxModifiable = txModifiable
	}

	// Extended sanity checking is applied here to make sure the
	// externally-passed Packet follows all the rules.
	if err := newPsbt.SanityCheck(); err != nil {
		return nil, err
	}

	log.Tracef("Decoded PSBT packet: %v", spew.Sdump(newPsbt))

	return &newPsbt, nil
}

// Serialize creates a binary serialization of the referenced Packet struct
// with lexicographical ordering (by key) of the subsections.
func (p *Packet) Serialize(w io.Writer) error {
	// First we write out the precise set of magic bytes that identify a
	// valid PSBT transaction.
	if _, err := w.Write(psbtMagic[:]); err != nil {
		return err
	}

	switch p.PsbtVersion {
	case 0:
		// Serialize the unsigned transaction into an intermediate
		// buffer, then write it out as the proper global type.
		serializedTx := bytes.NewBuffer(
			make([]byte, 0, p.UnsignedTx.SerializeSize()),
		)
		err := p.UnsignedTx.SerializeNoWitness(serializedTx)
		if err != nil {
			return err
		}

		err = serializeKVPairWithType(
			w, uint8(UnsignedTxType), nil, serializedTx.Bytes(),
		)
		if err != nil {
			return err
		}

	case 2:
		var versionBytes [4]byte
		binary.LittleEndian.PutUint32(
			versionBytes[:], uint32(p.TxVersion),
		)
		err := serializeKVPairWithType(
			w, uint8(TxVersionType), nil, versionBytes[:],
		)
		if err != nil {
			return err
		}

		if p.FallbackLocktime != nil {
			var lockBytes [4]byte
			binary.LittleEndian.PutUint32(
				lockBytes[:], *p.FallbackLocktime,
			)
			err := serializeKVPairWithType(
				w, uint8(FallbackLocktimeType), nil,
				lockBytes[:],
			)
			if err != nil {
				return err
			}
		}

		var countBuf bytes.Buffer
		err = wire.WriteVarInt(&countBuf, 0, uint64(len(p.Inputs)))
		if err != nil {
			return err
		}
		err = serializeKVPairWithType(
			w, uint8(InputCountType), nil, countBuf.Bytes(),
		)
		if err != nil {
			return err
		}

		countBuf.Reset()
		err = wire.WriteVarInt(&countBuf, 0, uint64(len(p.Outputs)))
		if err != nil {
			return err
		}
		err = serializeKVPairWithType(
			w, uint8(OutputCountType), nil, countBuf.Bytes(),
		)
		if err != nil {
			return err
		}

		if p.TxModifiable != nil {
			err := serializeKVPairWithType(
				w, uint8(TxModifiableType), nil,
				[]byte{*p.TxModifiable},
			)
			if err != nil {
				return err
			}
		}

		var psbtVersionBytes [4]byte
		binary.LittleEndian.PutUint32(
			psbtVersionBytes[:], p.PsbtVersion,
		)
		err = serializeKVPairWithType(
			w, uint8(VersionType), nil, psbtVersionBytes[:],
		)
		if err != nil {
			return err
		}

	default:
		return ErrInvalidPsbtFormat
	}

	sortSlice := append([]*Xpub{}, p.Xpubs...)
	sortXpubs(sortSlice)
	for _, xpub := range sortSlice {
		err := serializeKVPairWithType(
			w, uint8(XpubType), xpub.ExtendedKey,
			SerializeBIP32Derivation(
				xpub.MasterKeyFingerprint, xpub.Bip32Path,
			),
		)
		if err != nil {
			return err
		}
	}

	// Unknown is a special case; we don't have a key type, only a key
	// and a value field.
	for _, kv := range p.Unknowns {
		if err := serializeKVpair(w, kv.Key, kv.Value); err != nil {
			return err
		}
	}

	// With that our global section is done, so we'll write out the
	// separator.
	separator := []byte{0x00}
	if _, err := w.Write(separator); err != nil {
		return err
	}

	for i := range p.Inputs {
		if err := p.Inputs[i].serialize(w); err != nil {
			return err
		}
	}

	for i := range p.Outputs {
		if err := p.Outputs[i].serialize(w); err != nil {
			return err
		}
	}

	return nil
}

// B64Encode returns the base64 encoding of the serialization of the current
// PSBT, or an error if the encoding fails.
func (p *Packet) B64Encode() (string, error) {
	var b bytes.Buffer
	if err := p.Serialize(&b); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(b.Bytes()), nil
}

// ParsePacket decodes a packet from raw bytes, accepting both the binary
// wire form and the whitespace-tolerant base64 text form.
func ParsePacket(raw []byte) (*Packet, error) {
	if bytes.HasPrefix(raw, psbtMagic[:]) {
		return NewFromRawBytes(bytes.NewReader(raw), false)
	}

	trimmed := bytes.TrimSpace(raw)
	return NewFromRawBytes(bytes.NewReader(trimmed), true)
}

// IsComplete returns true only if all of the inputs are finalized; this is
// particularly important in that it decides whether the final extraction to
// a network serialized signed transaction will be possible.
func (p *Packet) IsComplete() bool {
	for i := range p.Inputs {
		if !p.Inputs[i].isFinalized() {
			return false
		}
	}

	return true
}

// SanityCheck checks conditions on a PSBT to ensure that it obeys the rules
// of BIP174 and the version rules of BIP370, and returns an error if not.
func (p *Packet) SanityCheck() error {
	return p.Validate()
}

// GetTxFee returns the transaction fee. An error is returned if a
// transaction input does not contain any UTXO information, or if the output
// amounts cannot be resolved.
func (p *Packet) GetTxFee() (btcutil.Amount, error) {
	sumInputs, err := SumUtxoInputValues(p)
	if err != nil {
		return 0, err
	}

	var sumOutputs int64
	switch p.PsbtVersion {
	case 0:
		for _, txOut := range p.UnsignedTx.TxOut {
			sumOutputs += txOut.Value
		}

	default:
		for i := range p.Outputs {
			if p.Outputs[i].Amount == nil {
				return 0, ErrInvalidPsbtFormat
			}
			sumOutputs += *p.Outputs[i].Amount
		}
	}

	return btcutil.Amount(sumInputs - sumOutputs), nil
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// schnorrSigMinLength is the length of a schnorr signature without
	// the optional sighash type byte appended.
	schnorrSigMinLength = schnorr.SignatureSize

	// schnorrSigMaxLength is the length of a schnorr signature with the
	// optional sighash type byte appended.
	schnorrSigMaxLength = schnorrSigMinLength + 1

	// schnorrKeyLength is the length of an x-only public key.
	schnorrKeyLength = schnorr.PubKeyBytesLen

	// taprootLeafHashLength is the length of a tagged tapscript leaf
	// hash.
	taprootLeafHashLength = 32

	// controlBlockBaseLength is the shortest possible control block: the
	// leaf version/parity byte plus the internal key.
	controlBlockBaseLength = 33
)

// TaprootScriptSpendSig encapsulates an individual schnorr signature for a
// certain public key and script combination within a taproot script path
// spend.
type TaprootScriptSpendSig struct {
	// XOnlyPubKey is the x-only public key the signature was produced
	// for.
	XOnlyPubKey []byte

	// LeafHash is the tagged hash of the leaf the key appears in.
	LeafHash []byte

	// Signature is the 64-byte schnorr signature.
	Signature []byte

	// SigHash is the sighash flag the signature commits to. A value of
	// SigHashDefault means no explicit flag byte was appended.
	SigHash txscript.SigHashType
}

// checkValid checks that both the pubkey and the signature are valid.
func (s *TaprootScriptSpendSig) checkValid() bool {
	return validateXOnlyPubkey(s.XOnlyPubKey) &&
		validateSchnorrSignature(s.Signature)
}

// SortBefore returns true if the target script spend sig should come before
// the other one when serializing, ordering by pubkey and then leaf hash.
func (s *TaprootScriptSpendSig) SortBefore(other *TaprootScriptSpendSig) bool {
	keyCmp := bytes.Compare(s.XOnlyPubKey, other.XOnlyPubKey)
	if keyCmp == 0 {
		return bytes.Compare(s.LeafHash, other.LeafHash) < 0
	}

	return keyCmp < 0
}

// EqualKey returns true if this script spend sig's key descriptor (pubkey
// plus leaf hash) is equal to the other one's.
func (s *TaprootScriptSpendSig) EqualKey(other *TaprootScriptSpendSig) bool {
	return bytes.Equal(s.XOnlyPubKey, other.XOnlyPubKey) &&
		bytes.Equal(s.LeafHash, other.LeafHash)
}

// TaprootTapLeafScript represents a single tapscript leaf together with the
// control block required to prove its inclusion in the taproot output key
// commitment.
type TaprootTapLeafScript struct {
	// ControlBlock is the serialized control block: leaf version and
	// parity byte, internal key, and the inclusion proof hashes.
	ControlBlock []byte

	// Script is the leaf script itself.
	Script []byte

	// LeafVersion is the tapscript leaf version.
	LeafVersion txscript.TapscriptLeafVersion
}

// checkValid checks that the control block has a valid length for an
// inclusion proof.
func (t *TaprootTapLeafScript) checkValid() bool {
	blockLen := len(t.ControlBlock)
	switch {
	case blockLen < controlBlockBaseLength:
		return false

	case (blockLen-controlBlockBaseLength)%taprootLeafHashLength != 0:
		return false
	}

	return true
}

// SortBefore returns true if the target leaf script should come before the
// other one when serializing, ordering by control block.
func (t *TaprootTapLeafScript) SortBefore(other *TaprootTapLeafScript) bool {
	return bytes.Compare(t.ControlBlock, other.ControlBlock) < 0
}

// TaprootBip32Derivation encapsulates the BIP32 derivation of an x-only
// public key, including the hashes of the tapscript leaves the key appears
// in.
type TaprootBip32Derivation struct {
	// XOnlyPubKey is the x-only public key the derivation is recorded
	// for.
	XOnlyPubKey []byte

	// LeafHashes are the tagged hashes of the leaf scripts the key
	// appears in.
	LeafHashes [][]byte

	// MasterKeyFingerprint is the fingerprint of the master pubkey.
	MasterKeyFingerprint uint32

	// Bip32Path is the derivation path of the public key.
	Bip32Path []uint32
}

// SortBefore returns true if the target derivation should come before the
// other one when serializing.
func (d *TaprootBip32Derivation) SortBefore(
	other *TaprootBip32Derivation) bool {

	return bytes.Compare(d.XOnlyPubKey, other.XOnlyPubKey) < 0
}

// ReadTaprootBip32Derivation deserializes a taproot BIP32 derivation entry.
// The value is the compact size prefixed list of leaf hashes, followed by
// the master fingerprint and path in the same format as the non-taproot
// derivation entries.
func ReadTaprootBip32Derivation(xOnlyPubKey,
	value []byte) (*TaprootBip32Derivation, error) {

	// The value must at least contain the compact size of the leaf hash
	// list and the 4-byte fingerprint.
	if len(value) < 5 {
		return nil, ErrInvalidPsbtFormat
	}

	r := bytes.NewReader(value)
	numHashes, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, ErrInvalidPsbtFormat
	}

	// The stated count must fit in the bytes that are actually present
	// before anything is allocated for it.
	if numHashes > uint64(r.Len())/taprootLeafHashLength {
		return nil, ErrInvalidPsbtFormat
	}

	derivation := TaprootBip32Derivation{
		XOnlyPubKey: append([]byte{}, xOnlyPubKey...),
		LeafHashes:  make([][]byte, int(numHashes)),
	}

	for i := 0; i < int(numHashes); i++ {
		derivation.LeafHashes[i] = make([]byte, taprootLeafHashLength)
		_, err := io.ReadFull(r, derivation.LeafHashes[i])
		if err != nil {
			return nil, ErrInvalidPsbtFormat
		}
	}

	fingerprintAndPath := make([]byte, r.Len())
	if _, err := io.ReadFull(r, fingerprintAndPath); err != nil {
		return nil, ErrInvalidPsbtFormat
	}

	fingerprint, path, err := ReadBip32Derivation(fingerprintAndPath)
	if err != nil {
		return nil, err
	}

	derivation.MasterKeyFingerprint = fingerprint
	derivation.Bip32Path = path

	return &derivation, nil
}

// SerializeTaprootBip32Derivation serializes a taproot BIP32 derivation
// entry to its value format.
func SerializeTaprootBip32Derivation(
	d *TaprootBip32Derivation) ([]byte, error) {

	var buf bytes.Buffer
	err := wire.WriteVarInt(&buf, 0, uint64(len(d.LeafHashes)))
	if err != nil {
		return nil, ErrInvalidPsbtFormat
	}

	for _, hash := range d.LeafHashes {
		if len(hash) != taprootLeafHashLength {
			return nil, ErrInvalidPsbtFormat
		}
		if _, err := buf.Write(hash); err != nil {
			return nil, ErrInvalidPsbtFormat
		}
	}

	_, err = buf.Write(SerializeBIP32Derivation(
		d.MasterKeyFingerprint, d.Bip32Path,
	))
	if err != nil {
		return nil, ErrInvalidPsbtFormat
	}

	return buf.Bytes(), nil
}

// validateXOnlyPubkey returns true if the passed key parses as an x-only
// public key.
func validateXOnlyPubkey(pubKey []byte) bool {
	_, err := schnorr.ParsePubKey(pubKey)
	return err == nil
}

// validateSchnorrSignature returns true if the passed 64-byte signature
// parses as a schnorr signature.
func validateSchnorrSignature(sig []byte) bool {
	_, err := schnorr.ParseSignature(sig)
	return err == nil
}

// checkTaprootKeySpendSig validates a taproot key spend signature value,
// which is either a bare 64-byte schnorr signature or one with a sighash
// flag byte appended.
func checkTaprootKeySpendSig(sig []byte) bool {
	switch len(sig) {
	case schnorrSigMinLength:
		return validateSchnorrSignature(sig)

	case schnorrSigMaxLength:
		return validateSchnorrSignature(sig[:schnorrSigMinLength])

	default:
		return false
	}
}

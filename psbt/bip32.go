// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// bip32ExtendedKeyLen is the length of a raw serialized BIP32 extended key,
// including its 4-byte version prefix.
const bip32ExtendedKeyLen = 78

// Bip32Derivation encapsulates the BIP32 derivation of a single public key:
// the fingerprint of the master key the path is anchored at, plus the child
// indices leading to the key.
type Bip32Derivation struct {
	// PubKey is the serialized compressed or uncompressed public key the
	// derivation is recorded for.
	PubKey []byte

	// MasterKeyFingerprint is the fingerprint of the master pubkey.
	MasterKeyFingerprint uint32

	// Bip32Path is the derivation path of the public key, hardened
	// indices encoded with the top bit set.
	Bip32Path []uint32
}

// SortBefore returns true if the target derivation should come before the
// other one when serializing, using the lexicographic order of the public
// keys.
func (d *Bip32Derivation) SortBefore(other *Bip32Derivation) bool {
	return bytes.Compare(d.PubKey, other.PubKey) < 0
}

// Bip32Sorter implements sort.Interface for a slice of derivations.
type Bip32Sorter []*Bip32Derivation

func (s Bip32Sorter) Len() int { return len(s) }

func (s Bip32Sorter) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

func (s Bip32Sorter) Less(i, j int) bool { return s[i].SortBefore(s[j]) }

// ReadBip32Derivation deserializes a byte slice containing the master key
// fingerprint followed by a chain of little endian child indices.
func ReadBip32Derivation(path []byte) (uint32, []uint32, error) {
	// The value must contain the 4-byte fingerprint and then a whole
	// number of 4-byte child indices.
	if len(path) < 4 || len(path)%4 != 0 {
		return 0, nil, ErrInvalidPsbtFormat
	}

	masterKeyInt := binary.LittleEndian.Uint32(path[:4])

	var paths []uint32
	for i := 4; i < len(path); i += 4 {
		paths = append(paths, binary.LittleEndian.Uint32(path[i:i+4]))
	}

	return masterKeyInt, paths, nil
}

// SerializeBIP32Derivation takes a master key fingerprint as defined in
// BIP32, along with a path specified as a list of uint32 values, and returns
// a bytestring specifying the derivation in the format required by BIP174:
// // master key fingerprint (4) || child index (4) || child index (4) || ...
func SerializeBIP32Derivation(masterKeyFingerprint uint32,
	bip32Path []uint32) []byte {

	derivationPath := make([]byte, 0, 4+4*len(bip32Path))

	var masterKeyBytes [4]byte
	binary.LittleEndian.PutUint32(masterKeyBytes[:], masterKeyFingerprint)
	derivationPath = append(derivationPath, masterKeyBytes[:]...)

	for _, path := range bip32Path {
		var pathBytes [4]byte
		binary.LittleEndian.PutUint32(pathBytes[:], path)
		derivationPath = append(derivationPath, pathBytes[:]...)
	}

	return derivationPath
}

// Xpub is a global entry binding an extended public key to the derivation
// path that leads to it from the master key.
type Xpub struct {
	// ExtendedKey is the raw serialized extended public key, including
	// the 4-byte version prefix.
	ExtendedKey []byte

	// MasterKeyFingerprint is the fingerprint of the master pubkey.
	MasterKeyFingerprint uint32

	// Bip32Path is the derivation path of the extended key.
	Bip32Path []uint32
}

// SortBefore returns true if the target xpub should come before the other
// one when serializing.
func (x *Xpub) SortBefore(other *Xpub) bool {
	return bytes.Compare(x.ExtendedKey, other.ExtendedKey) < 0
}

// readXpub parses and validates a global extended public key entry. The key
// data is the raw 78-byte extended key, the value carries the fingerprint and
// path.
func readXpub(keyData, value []byte) (*Xpub, error) {
	if len(keyData) != bip32ExtendedKeyLen {
		return nil, ErrInvalidKeyData
	}

	// Run the raw key through hdkeychain to make sure it actually parses
	// as an extended key. The string form expected by hdkeychain is the
	// base58 encoding of the raw key plus a 4-byte double-sha checksum.
	str := base58.Encode(append(
		append([]byte{}, keyData...),
		chainhash.DoubleHashB(keyData)[:4]...,
	))
	key, err := hdkeychain.NewKeyFromString(str)
	if err != nil {
		return nil, ErrInvalidKeyData
	}
	if key.IsPrivate() {
		return nil, ErrInvalidKeyData
	}

	masterFingerprint, path, err := ReadBip32Derivation(value)
	if err != nil {
		return nil, err
	}

	// The number of path elements must match the key's depth, otherwise
	// the path cannot possibly lead to this key.
	if int(key.Depth()) != len(path) {
		return nil, ErrInvalidPsbtFormat
	}

	return &Xpub{
		ExtendedKey:          append([]byte{}, keyData...),
		MasterKeyFingerprint: masterFingerprint,
		Bip32Path:            path,
	}, nil
}

// validatePubkey returns true if the passed serialized public key parses on
// the secp256k1 curve.
func validatePubkey(pubKey []byte) bool {
	_, err := btcec.ParsePubKey(pubKey)
	return err == nil
}

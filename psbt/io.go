// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"io"

	"github.com/btcsuite/btcd/wire"
)

// MaxPsbtValueLength is the size of the largest value that we'll accept for
// any single key-value pair. This comfortably covers the largest transaction
// serialization that could be passed in a NonWitnessUtxo field.
const MaxPsbtValueLength = 4000000

// MaxPsbtKeyLength is the length of the largest key that we'll successfully
// deserialize from the wire. Anything more will return ErrInvalidKeyData.
const MaxPsbtKeyLength = 10000

// kvPair is a single decoded key-value pair of one of the packet's maps. The
// keyData slice is nil for key types that carry no key data.
type kvPair struct {
	keyType   uint8
	keyData   []byte
	valueData []byte
}

// getKVPair reads a key-value pair from the reader. A nil pair with a nil
// error is returned when the map separator (a zero-length key) is read,
// signalling the end of the current map.
func getKVPair(r io.Reader) (*kvPair, error) {
	// The key is a compact size prefixed byte string where the first byte
	// is the key type. wire.ReadVarInt rejects values that use a longer
	// encoding than necessary, which takes care of the non-canonical
	// compact size rejection rule for us.
	keyLen, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if keyLen == 0 {
		return nil, nil
	}
	if keyLen > MaxPsbtKeyLength {
		return nil, ErrInvalidKeyData
	}

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}

	valueLen, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if valueLen > MaxPsbtValueLength {
		return nil, ErrInvalidPsbtFormat
	}

	value := make([]byte, valueLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return nil, err
	}

	pair := &kvPair{
		keyType:   key[0],
		valueData: value,
	}
	if keyLen > 1 {
		pair.keyData = key[1:]
	}

	return pair, nil
}

// serializeKVpair writes out the kv pair using a compact size prefix for
// both the key and the value.
func serializeKVpair(w io.Writer, key []byte, value []byte) error {
	if err := wire.WriteVarInt(w, 0, uint64(len(key))); err != nil {
		return err
	}
	if _, err := w.Write(key); err != nil {
		return err
	}
	if err := wire.WriteVarInt(w, 0, uint64(len(value))); err != nil {
		return err
	}
	if _, err := w.Write(value); err != nil {
		return err
	}

	return nil
}

// serializeKVPairWithType writes out a kv pair whose key is the single type
// byte followed by the optional key data.
func serializeKVPairWithType(w io.Writer, kt uint8, keyData []byte,
	value []byte) error {

	key := append([]byte{kt}, keyData...)

	return serializeKVpair(w, key, value)
}

// keySet tracks the keys already seen within a single map so that duplicates
// can be rejected during decoding.
type keySet struct {
	keys map[string]struct{}
}

func newKeySet() *keySet {
	return &keySet{
		keys: make(map[string]struct{}),
	}
}

// addKey records the full key (type byte plus key data) and reports whether
// it was new. A false return means the key was already present in the map.
func (s *keySet) addKey(keyType uint8, keyData []byte) bool {
	key := string(append([]byte{keyType}, keyData...))
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}

	return true
}

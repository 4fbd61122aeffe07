// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
)

var (
	// ErrUnknownSigningKey is returned by a signing backend when it does
	// not hold the private key for the requested public key.
	ErrUnknownSigningKey = errors.New("no private key for public key")
)

// SignerBackend produces raw signatures over precomputed digests. The
// digest computation, sighash flag handling and placement of the result
// stay with the Signer; a backend only needs key custody. Implementations
// may be in-memory keyrings, hardware wallets or remote signing services.
type SignerBackend interface {
	// SignECDSA signs the 32-byte digest with the private key belonging
	// to the given compressed public key, returning a DER encoded
	// signature without a trailing sighash byte.
	SignECDSA(digest []byte, pubKey []byte) ([]byte, error)

	// SignSchnorr signs the 32-byte digest with the private key
	// belonging to the given 32-byte x-only public key, returning a
	// 64-byte BIP340 signature. A non-nil taprootTweak requests key path
	// signing: the private key is tweaked with the given script merkle
	// root (empty for a key-spend-only commitment) before signing. A nil
	// taprootTweak signs with the raw key, as script path spends do.
	SignSchnorr(digest []byte, pubKey []byte,
		taprootTweak []byte) ([]byte, error)
}

// MemoryBackend is a SignerBackend backed by an in-memory set of private
// keys, indexed by both their compressed and x-only public key encodings.
// Useful for tests and for wallets that keep hot keys.
type MemoryBackend struct {
	keys map[string]*btcec.PrivateKey
}

// A compile time check to ensure MemoryBackend implements SignerBackend.
var _ SignerBackend = (*MemoryBackend)(nil)

// NewMemoryBackend returns a MemoryBackend holding the given keys.
func NewMemoryBackend(privKeys ...*btcec.PrivateKey) *MemoryBackend {
	b := &MemoryBackend{
		keys: make(map[string]*btcec.PrivateKey, len(privKeys)*2),
	}
	for _, privKey := range privKeys {
		b.AddKey(privKey)
	}

	return b
}

// AddKey makes the given private key available for signing.
func (b *MemoryBackend) AddKey(privKey *btcec.PrivateKey) {
	pubKey := privKey.PubKey()
	b.keys[string(pubKey.SerializeCompressed())] = privKey
	b.keys[string(schnorr.SerializePubKey(pubKey))] = privKey
}

// SignECDSA signs the digest with the key matching the compressed public
// key, returning a DER signature.
//
// This is part of the SignerBackend interface.
func (b *MemoryBackend) SignECDSA(digest []byte,
	pubKey []byte) ([]byte, error) {

	privKey, ok := b.keys[string(pubKey)]
	if !ok {
		return nil, ErrUnknownSigningKey
	}

	return ecdsa.Sign(privKey, digest).Serialize(), nil
}

// SignSchnorr signs the digest with the key matching the x-only public
// key, applying the taproot output key tweak when requested.
//
// This is part of the SignerBackend interface.
func (b *MemoryBackend) SignSchnorr(digest []byte, pubKey []byte,
	taprootTweak []byte) ([]byte, error) {

	privKey, ok := b.keys[string(pubKey)]
	if !ok {
		return nil, ErrUnknownSigningKey
	}

	if taprootTweak != nil {
		privKey = txscript.TweakTaprootPrivKey(*privKey, taprootTweak)
	}

	sig, err := schnorr.Sign(privKey, digest)
	if err != nil {
		return nil, err
	}

	return sig.Serialize(), nil
}

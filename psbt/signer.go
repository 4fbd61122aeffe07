// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcpsbt/sighash"
)

var (
	// ErrSignerBackend wraps errors returned by a signing backend.
	ErrSignerBackend = errors.New("signer backend error")

	// ErrInvalidSignature is returned when a backend produces a
	// signature that does not verify against the requested public key
	// and digest.
	ErrInvalidSignature = errors.New("backend returned invalid signature")
)

// spendPath enumerates the spending generations an input can belong to.
// The path decides which sighash algorithm applies and where the produced
// signature is placed, so it is resolved once per input and switched on
// exhaustively.
type spendPath int

const (
	// spendPathLegacy covers bare pre-segwit outputs and P2SH outputs
	// whose redeem script is not a witness program.
	spendPathLegacy spendPath = iota

	// spendPathWitnessV0 covers native P2WPKH and P2WSH outputs.
	spendPathWitnessV0

	// spendPathNestedWitnessV0 covers P2SH outputs wrapping a witness
	// program.
	spendPathNestedWitnessV0

	// spendPathTaprootKey covers P2TR outputs spent through the output
	// key.
	spendPathTaprootKey

	// spendPathTaprootScript covers P2TR outputs spent through a leaf
	// of the committed script tree.
	spendPathTaprootScript
)

// inputSpendPath classifies the given input by inspecting the spent
// output's script and the attached script data.
func (p *Packet) inputSpendPath(idx int) (spendPath, error) {
	utxo, err := p.SpentOutput(idx)
	if err != nil {
		return 0, err
	}

	pIn := &p.Inputs[idx]
	script := utxo.PkScript

	switch {
	case txscript.IsPayToTaproot(script):
		if len(pIn.TaprootLeafScript) > 0 {
			return spendPathTaprootScript, nil
		}
		return spendPathTaprootKey, nil

	case txscript.IsPayToWitnessPubKeyHash(script),
		txscript.IsPayToWitnessScriptHash(script):

		return spendPathWitnessV0, nil

	case txscript.IsPayToScriptHash(script):
		if pIn.RedeemScript == nil {
			return 0, fmt.Errorf("%w: input %d needs a redeem "+
				"script", ErrMissingPrevoutInfo, idx)
		}
		if txscript.IsWitnessProgram(pIn.RedeemScript) {
			return spendPathNestedWitnessV0, nil
		}
		return spendPathLegacy, nil

	default:
		return spendPathLegacy, nil
	}
}

// Signer performs the Signer role for a single packet: it computes the
// digest of each requested input according to its spend path, obtains raw
// signatures from a SignerBackend and attaches them to the packet. A
// Signer only ever adds signature entries; it never removes or overwrites
// existing data.
//
// The shared sighash cache is computed lazily on first use and reused for
// every subsequent input, so signing all inputs stays linear in the
// transaction size. A Signer is not safe for concurrent use.
type Signer struct {
	packet  *Packet
	backend SignerBackend

	tx      *wire.MsgTx
	fetcher *txscript.MultiPrevOutFetcher
	hashes  *sighash.TxHashes
}

// NewSigner returns a Signer for the given packet and backend. The packet
// must pass its sanity check and carry enough previous output data to
// derive the effective unsigned transaction.
func NewSigner(packet *Packet, backend SignerBackend) (*Signer, error) {
	if err := packet.SanityCheck(); err != nil {
		return nil, err
	}

	tx, err := packet.UnsignedTransaction()
	if err != nil {
		return nil, err
	}

	return &Signer{
		packet:  packet,
		backend: backend,
		tx:      tx,
	}, nil
}

// sigHashes returns the lazily computed shared hash cache, requiring every
// input's previous output to be resolvable.
func (s *Signer) sigHashes() (*sighash.TxHashes, error) {
	if s.hashes != nil {
		return s.hashes, nil
	}

	fetcher, err := s.prevOutFetcher()
	if err != nil {
		return nil, err
	}

	hashes, err := sighash.NewTxHashes(s.tx, fetcher)
	if err != nil {
		return nil, err
	}
	s.hashes = hashes

	return hashes, nil
}

// prevOutFetcher builds a fetcher over all spent outputs the packet knows
// about, failing if any input's previous output cannot be resolved.
func (s *Signer) prevOutFetcher() (*txscript.MultiPrevOutFetcher, error) {
	if s.fetcher != nil {
		return s.fetcher, nil
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i := range s.packet.Inputs {
		op, err := s.packet.InputOutpoint(i)
		if err != nil {
			return nil, err
		}
		utxo, err := s.packet.SpentOutput(i)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		fetcher.AddPrevOut(op, utxo)
	}
	s.fetcher = fetcher

	return fetcher, nil
}

// Sign signs the input at the given index for the given public key. For
// ECDSA paths pubKey is the 33-byte compressed key and the result is
// appended to the partial signature map. For taproot key path spends
// pubKey is the 32-byte x-only internal key; for taproot script path
// spends the signer produces one signature per leaf script the key
// appears in.
//
// Signing an already finalized input fails with ErrInputAlreadyFinalized,
// and producing a second signature for the same key fails with
// ErrDuplicateKey. On error the packet is unchanged.
func (s *Signer) Sign(idx int, pubKey []byte) error {
	if idx < 0 || idx >= len(s.packet.Inputs) {
		return ErrIndexOutOfRange
	}

	pIn := &s.packet.Inputs[idx]
	if pIn.isFinalized() {
		return ErrInputAlreadyFinalized
	}

	path, err := s.packet.inputSpendPath(idx)
	if err != nil {
		return err
	}

	switch path {
	case spendPathLegacy:
		return s.signLegacy(idx, pubKey)

	case spendPathWitnessV0, spendPathNestedWitnessV0:
		return s.signWitnessV0(idx, pubKey)

	case spendPathTaprootKey:
		return s.signTaprootKeySpend(idx, pubKey)

	case spendPathTaprootScript:
		return s.signTaprootScriptSpend(idx, pubKey)

	default:
		return ErrUnsupportedScriptType
	}
}

// ecdsaHashType returns the sighash type to use for a pre-taproot input,
// defaulting to SIGHASH_ALL, and validates the flag combination.
func ecdsaHashType(pIn *PInput) (txscript.SigHashType, error) {
	hashType := pIn.SighashType
	if hashType == 0 {
		hashType = txscript.SigHashAll
	}

	switch hashType & ^txscript.SigHashAnyOneCanPay {
	case txscript.SigHashAll, txscript.SigHashNone,
		txscript.SigHashSingle:

		return hashType, nil

	default:
		return 0, ErrInvalidSigHashFlags
	}
}

// signLegacy produces a pre-segwit ECDSA signature over the resolved sign
// script.
func (s *Signer) signLegacy(idx int, pubKey []byte) error {
	pIn := &s.packet.Inputs[idx]

	hashType, err := ecdsaHashType(pIn)
	if err != nil {
		return err
	}

	script, err := s.packet.SignScript(idx)
	if err != nil {
		return err
	}

	digest, err := sighash.Legacy(s.tx, script, idx, hashType)
	if err != nil {
		return err
	}

	return s.addPartialSig(idx, pubKey, digest, hashType)
}

// signWitnessV0 produces a BIP143 ECDSA signature, deriving the canonical
// script code from the resolved script.
func (s *Signer) signWitnessV0(idx int, pubKey []byte) error {
	pIn := &s.packet.Inputs[idx]

	hashType, err := ecdsaHashType(pIn)
	if err != nil {
		return err
	}

	script, err := s.packet.SignScript(idx)
	if err != nil {
		return err
	}

	// A P2WPKH program is signed with the canonical P2PKH script of the
	// same key hash as its script code.
	if txscript.IsPayToWitnessPubKeyHash(script) {
		script, err = payToPubKeyHashScript(script[2:22])
		if err != nil {
			return err
		}
	}

	utxo, err := s.packet.SpentOutput(idx)
	if err != nil {
		return err
	}

	hashes, err := s.sigHashes()
	if err != nil {
		return err
	}

	digest, err := sighash.WitnessV0(
		hashes, script, s.tx, idx, hashType, utxo.Value,
	)
	if err != nil {
		return err
	}

	return s.addPartialSig(idx, pubKey, digest, hashType)
}

// addPartialSig obtains an ECDSA signature from the backend, verifies it
// against the digest and appends it with the trailing sighash byte to the
// input's partial signature map.
func (s *Signer) addPartialSig(idx int, pubKey, digest []byte,
	hashType txscript.SigHashType) error {

	pIn := &s.packet.Inputs[idx]
	for _, ps := range pIn.PartialSigs {
		if bytes.Equal(ps.PubKey, pubKey) {
			return ErrDuplicateKey
		}
	}

	parsedPubKey, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyData, err)
	}

	rawSig, err := s.backend.SignECDSA(digest, pubKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignerBackend, err)
	}

	parsedSig, err := ecdsa.ParseDERSignature(rawSig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !parsedSig.Verify(digest, parsedPubKey) {
		return ErrInvalidSignature
	}

	sigWithHashType := append(rawSig, byte(hashType))
	pIn.PartialSigs = append(pIn.PartialSigs, &PartialSig{
		PubKey:    pubKey,
		Signature: sigWithHashType,
	})

	log.Debugf("Signed input %d with key %x", idx, pubKey)

	return nil
}

// taprootHashType returns the sighash type for a taproot input, defaulting
// to SIGHASH_DEFAULT, and validates it against the BIP341 set.
func taprootHashType(pIn *PInput) (txscript.SigHashType, error) {
	hashType := pIn.SighashType

	switch hashType {
	case txscript.SigHashDefault, txscript.SigHashAll,
		txscript.SigHashNone, txscript.SigHashSingle,
		txscript.SigHashAll | txscript.SigHashAnyOneCanPay,
		txscript.SigHashNone | txscript.SigHashAnyOneCanPay,
		txscript.SigHashSingle | txscript.SigHashAnyOneCanPay:

		return hashType, nil

	default:
		return 0, ErrInvalidSigHashFlags
	}
}

// serializeTaprootSignature appends the sighash byte to a 64-byte BIP340
// signature unless the type is SIGHASH_DEFAULT, which is encoded by
// omission.
func serializeTaprootSignature(sig []byte,
	hashType txscript.SigHashType) []byte {

	if hashType == txscript.SigHashDefault {
		return sig
	}

	return append(sig, byte(hashType))
}

// signTaprootKeySpend produces a BIP340 signature spending the input
// through the taproot output key. The backend is asked to tweak the
// internal key with the recorded merkle root (empty when the output
// commits to no scripts).
func (s *Signer) signTaprootKeySpend(idx int, pubKey []byte) error {
	pIn := &s.packet.Inputs[idx]
	if pIn.TaprootKeySpendSig != nil {
		return ErrDuplicateKey
	}

	hashType, err := taprootHashType(pIn)
	if err != nil {
		return err
	}

	if len(pubKey) != schnorrKeyLength {
		return ErrInvalidKeyData
	}
	internalKey := pIn.TaprootInternalKey
	if internalKey != nil && !bytes.Equal(internalKey, pubKey) {
		return fmt.Errorf("%w: key does not match taproot internal "+
			"key of input %d", ErrInvalidKeyData, idx)
	}

	hashes, err := s.sigHashes()
	if err != nil {
		return err
	}
	fetcher, err := s.prevOutFetcher()
	if err != nil {
		return err
	}

	digest, err := sighash.TaprootKeySpend(
		hashes, fetcher, s.tx, idx, hashType,
	)
	if err != nil {
		return err
	}

	// The key path always signs with the tweaked output key. An absent
	// merkle root means the output commits to no script tree, which is
	// the empty tweak, not the raw key.
	tweak := pIn.TaprootMerkleRoot
	if tweak == nil {
		tweak = []byte{}
	}

	rawSig, err := s.backend.SignSchnorr(digest, pubKey, tweak)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignerBackend, err)
	}
	if err := s.verifySchnorrKeySpend(rawSig, digest, pubKey,
		pIn.TaprootMerkleRoot); err != nil {

		return err
	}

	pIn.TaprootKeySpendSig = serializeTaprootSignature(rawSig, hashType)

	log.Debugf("Signed taproot key spend of input %d", idx)

	return nil
}

// verifySchnorrKeySpend checks a key path signature against the taproot
// output key derived from the internal key and merkle root.
func (s *Signer) verifySchnorrKeySpend(rawSig, digest, internalKey,
	merkleRoot []byte) error {

	parsedSig, err := schnorr.ParseSignature(rawSig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	parsedInternalKey, err := schnorr.ParsePubKey(internalKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyData, err)
	}
	outputKey := txscript.ComputeTaprootOutputKey(
		parsedInternalKey, merkleRoot,
	)

	if !parsedSig.Verify(digest, outputKey) {
		return ErrInvalidSignature
	}

	return nil
}

// signTaprootScriptSpend produces one BIP340 signature per leaf script in
// which the given x-only key appears, extending the script spend
// signature map. At least one leaf must reference the key.
func (s *Signer) signTaprootScriptSpend(idx int, pubKey []byte) error {
	pIn := &s.packet.Inputs[idx]

	hashType, err := taprootHashType(pIn)
	if err != nil {
		return err
	}

	if len(pubKey) != schnorrKeyLength {
		return ErrInvalidKeyData
	}
	parsedPubKey, err := schnorr.ParsePubKey(pubKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyData, err)
	}

	hashes, err := s.sigHashes()
	if err != nil {
		return err
	}
	fetcher, err := s.prevOutFetcher()
	if err != nil {
		return err
	}

	// Collect the new entries first so a failure on a later leaf leaves
	// the input untouched.
	var newSigs []*TaprootScriptSpendSig
	for _, leaf := range pIn.TaprootLeafScript {
		if !bytes.Contains(leaf.Script, pubKey) {
			continue
		}

		tapLeaf := txscript.NewTapLeaf(leaf.LeafVersion, leaf.Script)
		leafHash := tapLeaf.TapHash()

		for _, sig := range pIn.TaprootScriptSpendSig {
			if bytes.Equal(sig.XOnlyPubKey, pubKey) &&
				bytes.Equal(sig.LeafHash, leafHash[:]) {

				return ErrDuplicateKey
			}
		}

		digest, err := sighash.TaprootScriptSpend(
			hashes, fetcher, s.tx, idx, hashType, leafHash[:],
		)
		if err != nil {
			return err
		}

		// Script path signatures use the raw key, no tweak.
		rawSig, err := s.backend.SignSchnorr(digest, pubKey, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSignerBackend, err)
		}

		parsedSig, err := schnorr.ParseSignature(rawSig)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		if !parsedSig.Verify(digest, parsedPubKey) {
			return ErrInvalidSignature
		}

		newSigs = append(newSigs, &TaprootScriptSpendSig{
			XOnlyPubKey: pubKey,
			LeafHash:    leafHash[:],
			Signature:   rawSig,
			SigHash:     hashType,
		})
	}

	if len(newSigs) == 0 {
		return fmt.Errorf("%w: key %x appears in no leaf script of "+
			"input %d", ErrUnsupportedScriptType, pubKey, idx)
	}

	pIn.TaprootScriptSpendSig = append(
		pIn.TaprootScriptSpendSig, newSigs...,
	)

	log.Debugf("Signed %d taproot leaf scripts of input %d",
		len(newSigs), idx)

	return nil
}

// payToPubKeyHashScript builds the canonical P2PKH script for the given
// 20-byte key hash.
func payToPubKeyHashScript(pubKeyHash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pubKeyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

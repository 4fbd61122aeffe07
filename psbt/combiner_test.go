// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// twoSignerPackets builds two copies of the same 2-of-2 P2WSH packet,
// each signed by a different key, plus the keys themselves.
func twoSignerPackets(t *testing.T) (*Packet, *Packet,
	[]*btcec.PrivateKey) {

	t.Helper()

	keys := testKeys(t, 2)
	witnessScript := multisigScript(
		t, 2, keys[0].PubKey(), keys[1].PubKey(),
	)
	pkScript := p2wshScript(t, witnessScript)

	_, op := fundingTx(t, pkScript, testFundingAmount)
	base := spendingPacket(t, op)

	u, err := NewUpdater(base)
	require.NoError(t, err)
	require.NoError(t, u.AddInWitnessUtxo(
		wire.NewTxOut(testFundingAmount, pkScript), 0,
	))
	require.NoError(t, u.AddInWitnessScript(witnessScript, 0))

	// Hand each signer an independent copy, as the real flow would.
	copyA, err := clonePacket(base)
	require.NoError(t, err)
	copyB, err := clonePacket(base)
	require.NoError(t, err)

	signerA, err := NewSigner(copyA, NewMemoryBackend(keys[0]))
	require.NoError(t, err)
	require.NoError(
		t, signerA.Sign(0, keys[0].PubKey().SerializeCompressed()),
	)

	signerB, err := NewSigner(copyB, NewMemoryBackend(keys[1]))
	require.NoError(t, err)
	require.NoError(
		t, signerB.Sign(0, keys[1].PubKey().SerializeCompressed()),
	)

	return copyA, copyB, keys
}

// TestCombineMergesSignatures tests that combining two independently
// signed packets yields a packet that finalizes and extracts to a valid
// transaction, in either combine order.
func TestCombineMergesSignatures(t *testing.T) {
	t.Parallel()

	// Arrange: Two packets signed by different keys.
	packetA, packetB, _ := twoSignerPackets(t)

	// Act: Combine in both orders.
	combinedAB, err := Combine(packetA, packetB)
	require.NoError(t, err)
	combinedBA, err := Combine(packetB, packetA)
	require.NoError(t, err)

	// Assert: Both orders carry both signatures and serialize
	// identically, since serialization sorts the signature map.
	require.Len(t, combinedAB.Inputs[0].PartialSigs, 2)

	var bufAB, bufBA bytes.Buffer
	require.NoError(t, combinedAB.Serialize(&bufAB))
	require.NoError(t, combinedBA.Serialize(&bufBA))
	require.Equal(t, bufAB.Bytes(), bufBA.Bytes())

	// Assert: The inputs survive finalization and script execution.
	require.NoError(t, FinalizeAll(combinedAB))
	finalTx, err := Extract(combinedAB)
	require.NoError(t, err)
	executeScripts(t, finalTx, PrevOutputFetcher(combinedAB))

	// Assert: The source packets kept their single signatures.
	require.Len(t, packetA.Inputs[0].PartialSigs, 1)
	require.Len(t, packetB.Inputs[0].PartialSigs, 1)
}

// TestCombineIncompatible tests that packets for different transactions
// refuse to combine.
func TestCombineIncompatible(t *testing.T) {
	t.Parallel()

	keys := testKeys(t, 1)
	pkScript := p2wpkhScript(t, keys[0].PubKey())

	_, op1 := fundingTx(t, pkScript, testFundingAmount)
	_, op2 := fundingTx(t, pkScript, testFundingAmount/2)
	packet1 := spendingPacket(t, op1)
	packet2 := spendingPacket(t, op2)

	_, err := Combine(packet1, packet2)
	require.ErrorIs(t, err, ErrIncompatibleBase)
}

// TestCombineConflicts tests that contradictory single-valued fields are
// reported with their index and field name.
func TestCombineConflicts(t *testing.T) {
	t.Parallel()

	// Arrange: Two copies of the same packet with differing unknown
	// values for the same key.
	keys := testKeys(t, 1)
	pkScript := p2wpkhScript(t, keys[0].PubKey())
	_, op := fundingTx(t, pkScript, testFundingAmount)
	base := spendingPacket(t, op)

	packetA, err := clonePacket(base)
	require.NoError(t, err)
	packetB, err := clonePacket(base)
	require.NoError(t, err)

	packetA.Inputs[0].Unknowns = []*Unknown{{
		Key:   []byte{0xf1},
		Value: []byte{0x01},
	}}
	packetB.Inputs[0].Unknowns = []*Unknown{{
		Key:   []byte{0xf1},
		Value: []byte{0x02},
	}}

	// Act: Combine the conflicting packets.
	_, err = Combine(packetA, packetB)

	// Assert: The conflict names input 0 and the unknown field.
	var conflict *CombineConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, 0, conflict.Index)
	require.Equal(t, "unknown", conflict.Field)

	// Arrange/Act: The same key with the same value is not a conflict.
	packetB.Inputs[0].Unknowns[0].Value = []byte{0x01}
	combined, err := Combine(packetA, packetB)

	// Assert: The entry appears once.
	require.NoError(t, err)
	require.Len(t, combined.Inputs[0].Unknowns, 1)
}

// TestCombineAllAssociative tests that folding three contributions in
// different groupings produces the same serialized packet.
func TestCombineAllAssociative(t *testing.T) {
	t.Parallel()

	// Arrange: Three contributions: two signatures and one with extra
	// derivation data.
	packetA, packetB, keys := twoSignerPackets(t)

	packetC, err := clonePacket(packetA)
	require.NoError(t, err)
	packetC.Inputs[0].PartialSigs = nil
	packetC.Inputs[0].Bip32Derivation = []*Bip32Derivation{{
		PubKey:               keys[0].PubKey().SerializeCompressed(),
		MasterKeyFingerprint: 1,
		Bip32Path:            []uint32{5},
	}}

	// Act: Fold in two different groupings.
	left, err := Combine(packetA, packetB)
	require.NoError(t, err)
	left, err = Combine(left, packetC)
	require.NoError(t, err)

	right, err := Combine(packetB, packetC)
	require.NoError(t, err)
	right, err = Combine(packetA, right)
	require.NoError(t, err)

	// Assert: Identical serializations.
	var bufLeft, bufRight bytes.Buffer
	require.NoError(t, left.Serialize(&bufLeft))
	require.NoError(t, right.Serialize(&bufRight))
	require.Equal(t, bufLeft.Bytes(), bufRight.Bytes())
}

// TestCombineSequenceMismatch tests that two version 2 packets that
// disagree on an input's effective sequence number refuse to combine in
// either order, and that an explicit default sequence still matches an
// absent one.
func TestCombineSequenceMismatch(t *testing.T) {
	t.Parallel()

	// Arrange: Identical v2 packets up to input 0's sequence.
	build := func(t *testing.T, seq *uint32) *Packet {
		packet := NewV2(2, nil)
		u, err := NewUpdater(packet)
		require.NoError(t, err)

		hash := chainhash.Hash{0x01}
		require.NoError(t, u.AddInput(&hash, 0, seq, &PInput{}))
		require.NoError(t, u.AddOutput(1000, []byte{0x51}, &POutput{}))

		return packet
	}

	defaultSeq := build(t, nil)
	rbfSeq := build(t, uint32Ptr(0xfffffffd))

	// Act/Assert: The sequences describe different transactions, so
	// combining fails symmetrically.
	_, err := Combine(defaultSeq, rbfSeq)
	require.ErrorIs(t, err, ErrIncompatibleBase)
	_, err = Combine(rbfSeq, defaultSeq)
	require.ErrorIs(t, err, ErrIncompatibleBase)

	// An explicitly encoded default sequence is the same transaction as
	// an absent field; both orders succeed, keep the explicit encoding
	// and serialize identically.
	explicitSeq := build(t, uint32Ptr(wire.MaxTxInSequenceNum))

	left, err := Combine(defaultSeq, explicitSeq)
	require.NoError(t, err)
	right, err := Combine(explicitSeq, defaultSeq)
	require.NoError(t, err)

	require.NotNil(t, left.Inputs[0].Sequence)
	require.Equal(
		t, uint32(wire.MaxTxInSequenceNum), *left.Inputs[0].Sequence,
	)

	var bufLeft, bufRight bytes.Buffer
	require.NoError(t, left.Serialize(&bufLeft))
	require.NoError(t, right.Serialize(&bufRight))
	require.Equal(t, bufLeft.Bytes(), bufRight.Bytes())
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// testXpubBytes derives the raw 78-byte serialization of a fresh master
// xpub.
func testXpubBytes(t *testing.T) []byte {
	t.Helper()

	seed := bytes.Repeat([]byte{0x42}, 32)
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)

	neutered, err := masterKey.Neuter()
	require.NoError(t, err)

	decoded := base58.Decode(neutered.String())
	require.Len(t, decoded, 82)

	return decoded[:78]
}

// richTestPacket builds a version 0 packet exercising most field types:
// witness and non-witness UTXOs, scripts, derivations, a partial
// signature, a global xpub and unknown entries at all three levels.
func richTestPacket(t *testing.T) *Packet {
	t.Helper()

	keys := testKeys(t, 2)
	witnessScript := multisigScript(
		t, 2, keys[0].PubKey(), keys[1].PubKey(),
	)
	pkScript := p2wshScript(t, witnessScript)

	prevTx, op := fundingTx(t, pkScript, testFundingAmount)
	packet := spendingPacket(t, op)

	u, err := NewUpdater(packet)
	require.NoError(t, err)
	require.NoError(t, u.AddInNonWitnessUtxo(prevTx, 0))
	require.NoError(t, u.AddInWitnessUtxo(
		wire.NewTxOut(testFundingAmount, pkScript), 0,
	))
	require.NoError(t, u.AddInWitnessScript(witnessScript, 0))
	require.NoError(t, u.AddInSighashType(txscript.SigHashAll, 0))
	require.NoError(t, u.AddInBip32Derivation(
		0xdeadbeef, []uint32{0, 1, 2},
		keys[0].PubKey().SerializeCompressed(), 0,
	))
	require.NoError(t, u.AddOutBip32Derivation(
		0xdeadbeef, []uint32{0, 1, 3},
		keys[1].PubKey().SerializeCompressed(), 0,
	))

	signer, err := NewSigner(packet, NewMemoryBackend(keys[0]))
	require.NoError(t, err)
	require.NoError(
		t, signer.Sign(0, keys[0].PubKey().SerializeCompressed()),
	)

	packet.Xpubs = append(packet.Xpubs, &Xpub{
		ExtendedKey:          testXpubBytes(t),
		MasterKeyFingerprint: 0xdeadbeef,
	})

	// Unknown entries use key types no released BIP has claimed.
	packet.Unknowns = append(packet.Unknowns, &Unknown{
		Key:   []byte{0xf0, 0x01, 0x02},
		Value: []byte{0xaa, 0xbb},
	})
	packet.Inputs[0].Unknowns = append(packet.Inputs[0].Unknowns,
		&Unknown{
			Key:   []byte{0xf1},
			Value: []byte{0xcc},
		})
	packet.Outputs[0].Unknowns = append(packet.Outputs[0].Unknowns,
		&Unknown{
			Key:   []byte{0xf2, 0x09},
			Value: []byte{0xdd, 0xee, 0xff},
		})

	return packet
}

// TestPacketRoundTrip tests that serializing and reparsing a packet is
// loss-free and that the serialization is deterministic.
func TestPacketRoundTrip(t *testing.T) {
	t.Parallel()

	// Arrange: A packet with most field types populated.
	packet := richTestPacket(t)

	// Act: Serialize, reparse and serialize again.
	var first bytes.Buffer
	require.NoError(t, packet.Serialize(&first))

	reparsed, err := NewFromRawBytes(
		bytes.NewReader(first.Bytes()), false,
	)
	require.NoError(t, err)

	var second bytes.Buffer
	require.NoError(t, reparsed.Serialize(&second))

	// Assert: Byte-identical output and preserved data.
	require.Equal(t, first.Bytes(), second.Bytes())
	require.Len(t, reparsed.Inputs[0].PartialSigs, 1)
	require.Len(t, reparsed.Xpubs, 1)
	require.Equal(t, packet.Unknowns, reparsed.Unknowns)
	require.Equal(
		t, packet.Inputs[0].Unknowns, reparsed.Inputs[0].Unknowns,
	)
	require.Equal(
		t, packet.Outputs[0].Unknowns, reparsed.Outputs[0].Unknowns,
	)
}

// TestPacketBase64RoundTrip tests the text form round trip through
// B64Encode and ParsePacket.
func TestPacketBase64RoundTrip(t *testing.T) {
	t.Parallel()

	packet := richTestPacket(t)

	encoded, err := packet.B64Encode()
	require.NoError(t, err)

	// A trailing newline must be tolerated.
	reparsed, err := ParsePacket([]byte(encoded + "\n"))
	require.NoError(t, err)

	reencoded, err := reparsed.B64Encode()
	require.NoError(t, err)
	require.Equal(t, encoded, reencoded)
}

// TestNewFromRawBytesErrors tests the decoder's rejection of malformed
// serializations.
func TestNewFromRawBytesErrors(t *testing.T) {
	t.Parallel()

	// A minimal valid packet to mutate.
	packet := richTestPacket(t)
	var valid bytes.Buffer
	require.NoError(t, packet.Serialize(&valid))

	testCases := []struct {
		name        string
		raw         []byte
		expectedErr error
	}{
		{
			name: "empty input",
			raw:  nil,
		},
		{
			name:        "wrong magic",
			raw:         []byte{0x70, 0x73, 0x62, 0x75, 0xff},
			expectedErr: ErrInvalidMagicBytes,
		},
		{
			name: "magic only",
			raw:  []byte{0x70, 0x73, 0x62, 0x74, 0xff},
		},
		{
			name: "truncated packet",
			raw:  valid.Bytes()[:valid.Len()-10],
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Act: Parse the malformed input.
			_, err := NewFromRawBytes(
				bytes.NewReader(tc.raw), false,
			)

			// Assert: Parsing fails, with the specific sentinel
			// where one is expected.
			require.Error(t, err)
			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)
			}
		})
	}
}

// TestSignedTxRejected tests that a transaction with filled-in signature
// scripts cannot seed a packet.
func TestSignedTxRejected(t *testing.T) {
	t.Parallel()

	keys := testKeys(t, 1)
	prevTx, op := fundingTx(
		t, p2pkhScript(t, keys[0].PubKey()), testFundingAmount,
	)
	_ = prevTx

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: op,
		SignatureScript:  []byte{0x51},
	})
	tx.AddTxOut(wire.NewTxOut(
		testFundingAmount-10_000,
		p2wpkhScript(t, keys[0].PubKey()),
	))

	_, err := NewFromUnsignedTx(tx)
	require.ErrorIs(t, err, ErrInvalidRawTxSigned)
}

// TestGetTxFee tests the fee computation over resolvable inputs.
func TestGetTxFee(t *testing.T) {
	t.Parallel()

	keys := testKeys(t, 1)
	pkScript := p2wpkhScript(t, keys[0].PubKey())

	_, op := fundingTx(t, pkScript, testFundingAmount)
	packet := spendingPacket(t, op)

	// Without UTXO information the fee is unknowable.
	_, err := packet.GetTxFee()
	require.Error(t, err)

	u, err := NewUpdater(packet)
	require.NoError(t, err)
	require.NoError(t, u.AddInWitnessUtxo(
		wire.NewTxOut(testFundingAmount, pkScript), 0,
	))

	fee, err := packet.GetTxFee()
	require.NoError(t, err)
	require.EqualValues(t, 10_000, fee)
}

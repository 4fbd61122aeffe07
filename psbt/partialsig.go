// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// PartialSig encapsulates a (public key, ECDSA signature) pair. The
// signature is DER encoded and carries the sighash flag byte at its end, as
// it would appear in a signature script or witness.
type PartialSig struct {
	PubKey    []byte
	Signature []byte
}

// checkValid checks that both the pubkey and sig are valid. A signature is
// considered valid here if it parses as DER; the sighash byte appended to it
// is not inspected.
func (ps *PartialSig) checkValid() bool {
	if _, err := btcec.ParsePubKey(ps.PubKey); err != nil {
		return false
	}

	// The trailing byte of the signature is the sighash flag, the DER
	// data precedes it.
	if len(ps.Signature) < 2 {
		return false
	}
	_, err := ecdsa.ParseDERSignature(ps.Signature[:len(ps.Signature)-1])

	return err == nil
}

// SortBefore returns true if the target partial sig should come before the
// other one when serializing, using the lexicographic order of the public
// keys.
func (ps *PartialSig) SortBefore(other *PartialSig) bool {
	return bytes.Compare(ps.PubKey, other.PubKey) < 0
}

// PartialSigSorter implements sort.Interface for a slice of partial sigs.
type PartialSigSorter []*PartialSig

func (s PartialSigSorter) Len() int { return len(s) }

func (s PartialSigSorter) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

func (s PartialSigSorter) Less(i, j int) bool {
	return s[i].SortBefore(s[j])
}

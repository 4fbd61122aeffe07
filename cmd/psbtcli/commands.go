// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcpsbt/psbt"
	"github.com/jessevdk/go-flags"
)

type decodeCommand struct {
	PacketFile string `long:"psbt" short:"p" default:"-" description:"PSBT file to decode, - for stdin"`
}

func newDecodeCommand() *decodeCommand {
	return &decodeCommand{}
}

func (x *decodeCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"decode",
		"Decode a PSBT and print a human readable summary",
		"Parse and validate a PSBT in binary or base64 form and "+
			"print its global, input and output fields",
		x,
	)
	return err
}

func (x *decodeCommand) Execute(_ []string) error {
	packet, err := readPacket(x.PacketFile)
	if err != nil {
		return err
	}

	fmt.Printf("psbt version: %d\n", packet.PsbtVersion)

	tx, err := packet.UnsignedTransaction()
	if err != nil {
		return err
	}
	fmt.Printf("tx version: %d, locktime: %d\n", tx.Version, tx.LockTime)
	fmt.Printf("inputs: %d, outputs: %d, complete: %v\n",
		len(packet.Inputs), len(packet.Outputs), packet.IsComplete())

	if fee, err := packet.GetTxFee(); err == nil {
		fmt.Printf("fee: %v\n", fee)
	}

	for i := range packet.Inputs {
		pIn := &packet.Inputs[i]
		op, err := packet.InputOutpoint(i)
		if err != nil {
			return err
		}

		fmt.Printf("input %d: %v\n", i, op)
		if amount, err := packet.SpentAmount(i); err == nil {
			fmt.Printf("  amount: %v\n", amount)
		}
		for _, sig := range pIn.PartialSigs {
			fmt.Printf("  partial sig for key %x\n", sig.PubKey)
		}
		if pIn.TaprootKeySpendSig != nil {
			fmt.Printf("  taproot key spend signature present\n")
		}
		for _, sig := range pIn.TaprootScriptSpendSig {
			fmt.Printf("  taproot script sig for key %x, leaf "+
				"%x\n", sig.XOnlyPubKey, sig.LeafHash)
		}
		if pIn.FinalScriptSig != nil ||
			pIn.FinalScriptWitness != nil {

			fmt.Printf("  finalized\n")
		}
	}

	for i := range packet.Outputs {
		txOut := tx.TxOut[i]
		fmt.Printf("output %d: %d sat to %x\n", i, txOut.Value,
			txOut.PkScript)
	}

	return nil
}

type analyzeCommand struct {
	PacketFile string `long:"psbt" short:"p" default:"-" description:"PSBT file to analyze, - for stdin"`
}

func newAnalyzeCommand() *analyzeCommand {
	return &analyzeCommand{}
}

func (x *analyzeCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"analyze",
		"Report signing progress and estimated fee rate",
		"Show per input signing progress of a PSBT along with the "+
			"estimated weight, virtual size and fee rate of the "+
			"final transaction",
		x,
	)
	return err
}

func (x *analyzeCommand) Execute(_ []string) error {
	packet, err := readPacket(x.PacketFile)
	if err != nil {
		return err
	}

	analysis, err := packet.Analyze()
	if err != nil {
		return err
	}

	for i, in := range analysis.Inputs {
		status := "missing utxo"
		switch {
		case in.IsFinal:
			status = "finalized"

		case in.HasUtxo && in.PartialSigs > 0:
			status = fmt.Sprintf("%d signature(s) collected",
				in.PartialSigs)

		case in.HasUtxo:
			status = "ready to sign"
		}
		fmt.Printf("input %d: %s\n", i, status)
	}

	fmt.Printf("all inputs final: %v\n", analysis.AllFinal)
	if analysis.EstimatedWeight > 0 {
		fmt.Printf("estimated weight: %v, vsize: %v\n",
			analysis.EstimatedWeight, analysis.EstimatedVSize)
	}
	if analysis.HasFee {
		fmt.Printf("fee: %v\n", analysis.Fee)
	}
	if analysis.HasFee && analysis.EstimatedVSize > 0 {
		fmt.Printf("estimated fee rate: %v\n", analysis.FeeRate)
	}

	return nil
}

type combineCommand struct {
	OutputFile string `long:"out" short:"o" default:"-" description:"Destination of the combined PSBT, - for stdout"`
}

func newCombineCommand() *combineCommand {
	return &combineCommand{}
}

func (x *combineCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"combine",
		"Combine multiple PSBTs for the same transaction",
		"Merge the contributions of two or more PSBT files, given "+
			"as command line arguments, into a single PSBT",
		x,
	)
	return err
}

func (x *combineCommand) Execute(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("at least two PSBT files are required")
	}

	packets := make([]*psbt.Packet, len(args))
	for i, path := range args {
		packet, err := readPacket(path)
		if err != nil {
			return err
		}
		packets[i] = packet
	}

	combined, err := psbt.CombineAll(packets...)
	if err != nil {
		return fmt.Errorf("cannot combine: %w", err)
	}

	return writePacket(combined, x.OutputFile)
}

type finalizeCommand struct {
	PacketFile string `long:"psbt" short:"p" default:"-" description:"PSBT file to finalize, - for stdin"`
	OutputFile string `long:"out" short:"o" default:"-" description:"Destination of the finalized PSBT, - for stdout"`
}

func newFinalizeCommand() *finalizeCommand {
	return &finalizeCommand{}
}

func (x *finalizeCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"finalize",
		"Finalize all inputs of a PSBT",
		"Turn the collected signatures of every input into final "+
			"scripts and witnesses; fails if any input lacks the "+
			"data to be finalized",
		x,
	)
	return err
}

func (x *finalizeCommand) Execute(_ []string) error {
	packet, err := readPacket(x.PacketFile)
	if err != nil {
		return err
	}

	if err := psbt.FinalizeAll(packet); err != nil {
		return fmt.Errorf("cannot finalize: %w", err)
	}

	return writePacket(packet, x.OutputFile)
}

type extractCommand struct {
	PacketFile string `long:"psbt" short:"p" default:"-" description:"PSBT file to extract from, - for stdin"`
}

func newExtractCommand() *extractCommand {
	return &extractCommand{}
}

func (x *extractCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"extract",
		"Extract the final transaction from a complete PSBT",
		"Print the hex encoded, network ready transaction of a "+
			"PSBT whose inputs are all finalized",
		x,
	)
	return err
}

func (x *extractCommand) Execute(_ []string) error {
	packet, err := readPacket(x.PacketFile)
	if err != nil {
		return err
	}

	finalTx, err := psbt.Extract(packet)
	if err != nil {
		return fmt.Errorf("cannot extract: %w", err)
	}

	var buf bytes.Buffer
	if err := finalTx.Serialize(&buf); err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(buf.Bytes()))

	return nil
}

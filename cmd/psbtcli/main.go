// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/btcpsbt/psbt"
	"github.com/btcsuite/btcpsbt/sighash"
	"github.com/jessevdk/go-flags"
)

type mainOptions struct {
	DebugLevel string `long:"debuglevel" description:"Logging level" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"off"`
}

type subCommand interface {
	Register(parser *flags.Parser) error
}

func main() {
	opts := &mainOptions{}
	parser := flags.NewParser(opts, flags.Default)

	commands := []subCommand{
		newDecodeCommand(),
		newAnalyzeCommand(),
		newCombineCommand(),
		newFinalizeCommand(),
		newExtractCommand(),
	}
	for _, command := range commands {
		if err := command.Register(parser); err != nil {
			fmt.Fprintf(os.Stderr, "could not register "+
				"subcommand: %v\n", err)
			os.Exit(1)
		}
	}

	parser.CommandHandler = func(command flags.Commander,
		args []string) error {

		setUpLogging(opts.DebugLevel)
		return command.Execute(args)
	}

	if _, err := parser.Parse(); err != nil {
		if !flags.WroteHelp(err) {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		os.Exit(1)
	}
}

// setUpLogging wires the package loggers to stderr so command output on
// stdout stays machine readable.
func setUpLogging(debugLevel string) {
	backend := btclog.NewBackend(os.Stderr)
	level, _ := btclog.LevelFromString(debugLevel)

	logger := backend.Logger("PSBT")
	logger.SetLevel(level)
	psbt.UseLogger(logger)

	shLogger := backend.Logger("SGHS")
	shLogger.SetLevel(level)
	sighash.UseLogger(shLogger)
}

// readPacket loads a packet from the given file path, or from stdin when
// the path is "-". Both the base64 text form and raw binary are accepted.
func readPacket(path string) (*psbt.Packet, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	packet, err := psbt.ParsePacket(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", path, err)
	}

	return packet, nil
}

// writePacket stores the packet at the given file path in base64 form, or
// prints it to stdout when the path is empty or "-".
func writePacket(packet *psbt.Packet, path string) error {
	encoded, err := packet.B64Encode()
	if err != nil {
		return err
	}

	if path == "" || path == "-" {
		fmt.Println(encoded)
		return nil
	}

	return os.WriteFile(path, []byte(encoded+"\n"), 0o644)
}

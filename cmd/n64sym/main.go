// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command n64sym identifies function symbols in a stripped N64
// executable image by matching it against a corpus of object
// archives and/or precomputed signature files.
//
// This front end is intentionally thin: it is the "external
// collaborator" spec.md §1 places out of the core's scope (directory
// enumeration, output dialects beyond the default one, and so on
// belong to a fuller CLI, not to this package).
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/aclements/n64sym/internal/aggregator"
	"github.com/aclements/n64sym/internal/scan"
	"github.com/aclements/n64sym/internal/sigfile"
	"github.com/aclements/n64sym/internal/target"
	"github.com/aclements/n64sym/internal/workerpool"
)

func main() {
	flagVerbose := flag.Bool("v", false, "log progress and per-object diagnostics to stderr")
	flagThorough := flag.Bool("thorough", false, "fall back to an exhaustive scan when signature candidates miss")
	flagHeaderSize := flag.String("header-size", "", "override header_size (decimal, 0x-hex, or 0-octal); required for raw RAM dumps with a non-default base")
	flagROM := flag.Bool("rom", false, "force ROM handling regardless of file extension")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] target-binary input...\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "input is an ar archive, a standalone ELF object, or a .sig signature file\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}

	var headerOverride *uint32
	if *flagHeaderSize != "" {
		v, err := strconv.ParseUint(*flagHeaderSize, 0, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: bad -header-size %q: %v\n", *flagHeaderSize, err)
			os.Exit(2)
		}
		u := uint32(v)
		headerOverride = &u
	}

	targetPath := flag.Arg(0)
	raw, err := ioutil.ReadFile(targetPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var isROM *bool
	if *flagROM {
		t := true
		isROM = &t
	}
	bin, err := target.Load(raw, target.Options{Path: targetPath, IsROM: isROM, HeaderSizeOverride: headerOverride})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var logger *log.Logger
	if *flagVerbose {
		logger = log.New(os.Stderr, "# ", 0)
	}

	agg := aggregator.New()
	pool := workerpool.New(0)
	scanner := &scan.ArchiveScanner{Bin: bin.P, HeaderSize: bin.HeaderSize, Pool: pool, Agg: agg, Logger: logger}

	candidates := scan.SeedCandidates(bin.P)

	for _, path := range flag.Args()[1:] {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "# %s: %v\n", path, err)
			continue
		}

		switch {
		case strings.HasSuffix(strings.ToLower(path), ".sig"):
			sf, err := sigfile.Parse(bytes.NewReader(data))
			if err != nil {
				fmt.Fprintf(os.Stderr, "# %s: %v\n", path, err)
				continue
			}
			scan.ScanSignatureFile(sf, bin.P, bin.HeaderSize, candidates, *flagThorough, agg)

		case isArArchive(data):
			if err := scanner.ScanArchive(path, data); err != nil {
				fmt.Fprintf(os.Stderr, "# %s: %v\n", path, err)
			}

		default:
			scanner.ScanObject(path, data)
		}
	}

	pool.Join()

	for _, r := range agg.Results() {
		fmt.Printf("%08X %s\n", r.Address, r.Name)
	}
}

func isArArchive(data []byte) bool {
	return bytes.HasPrefix(data, []byte("!<arch>\n"))
}

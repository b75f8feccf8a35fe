// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command n64sig builds a sig_v1 signature file from one or more ar
// archives and/or standalone ELF objects.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"

	"github.com/aclements/n64sym/internal/arutil"
	"github.com/aclements/n64sym/internal/elfobj"
	"github.com/aclements/n64sym/internal/sigfile"
)

func main() {
	flagOut := flag.String("o", "", "output signature file path (required)")
	flagVerbose := flag.Bool("v", false, "log dropped relocations and name collisions to stderr")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -o out.sig archive-or-object...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *flagOut == "" || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var logger *log.Logger
	if *flagVerbose {
		logger = log.New(os.Stderr, "# ", 0)
	}

	b := sigfile.NewBuilder()
	b.Logger = logger

	for _, path := range flag.Args() {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		if bytes.HasPrefix(data, []byte("!<arch>\n")) {
			if err := addArchive(b, path, data); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			continue
		}

		f, err := elfobj.Open(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "# %s: %v\n", path, err)
			continue
		}
		b.AddObject(path, f)
	}

	out, err := os.Create(*flagOut)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()

	if _, err := b.File().WriteTo(out); err != nil {
		fmt.Fprintf(os.Stderr, "error: writing %s: %v\n", *flagOut, err)
		os.Exit(1)
	}
}

func addArchive(b *sigfile.Builder, archiveName string, data []byte) error {
	r, err := arutil.NewReader(data)
	if err != nil {
		return fmt.Errorf("%s: %w", archiveName, err)
	}
	for {
		member, ok, err := r.Next()
		if err != nil {
			fmt.Fprintf(os.Stderr, "# %s: %v\n", archiveName, err)
			return nil
		}
		if !ok {
			return nil
		}
		f, err := elfobj.Open(member.Data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "# %s(%s): %v\n", archiveName, member.Identifier, err)
			continue
		}
		b.AddObject(member.Identifier, f)
	}
}

// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arutil

import (
	"bytes"
	"testing"
)

// header builds one 60-byte ar member header.
func header(ident string, size int) []byte {
	var h [headerSize]byte
	for i := range h {
		h[i] = ' '
	}
	copy(h[0:identSize], ident)
	copy(h[sizeFieldOff:sizeFieldOff+sizeFieldLen], []byte(padRight(itoa(size), sizeFieldLen)))
	h[58] = '`'
	h[59] = '\n'
	return h[:]
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func padRight(s string, n int) string {
	for len(s) < n {
		s += " "
	}
	return s
}

func buildArchive(members [][2]string, data [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(magic)
	for i, m := range members {
		buf.Write(header(m[0], len(data[i])))
		buf.Write(data[i])
		if len(data[i])%2 != 0 {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

func TestNewReaderRejectsBadMagic(t *testing.T) {
	_, err := NewReader([]byte("not an archive"))
	if err == nil {
		t.Fatal("NewReader accepted non-archive input")
	}
}

func TestReaderYieldsMembersInOrder(t *testing.T) {
	data := buildArchive(
		[][2]string{{"foo.o/", ""}, {"bar.o/", ""}},
		[][]byte{[]byte("FOOOBJDATA"), []byte("BAROBJDATA")},
	)
	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	var got []Member
	for {
		m, ok, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, m)
	}

	if len(got) != 2 {
		t.Fatalf("got %d members, want 2", len(got))
	}
	if got[0].Identifier != "foo.o" || string(got[0].Data) != "FOOOBJDATA" {
		t.Errorf("member 0 = %+v", got[0])
	}
	if got[1].Identifier != "bar.o" || string(got[1].Data) != "BAROBJDATA" {
		t.Errorf("member 1 = %+v", got[1])
	}
}

func TestReaderOddLengthPadding(t *testing.T) {
	data := buildArchive([][2]string{{"a.o/", ""}}, [][]byte{[]byte("ODD")})
	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	m, ok, err := r.Next()
	if err != nil || !ok {
		t.Fatalf("Next: %v, %v", ok, err)
	}
	if string(m.Data) != "ODD" {
		t.Fatalf("Data = %q, want ODD", m.Data)
	}
	_, ok, err = r.Next()
	if err != nil {
		t.Fatalf("Next after odd member: %v", err)
	}
	if ok {
		t.Fatal("expected end of archive after odd-length member's pad byte")
	}
}

func TestReaderExtendedIdentifiers(t *testing.T) {
	longName := "a_very_long_object_file_name_that_exceeds_sixteen_bytes.o"
	var ext bytes.Buffer
	ext.WriteString(longName)
	ext.WriteByte('/')
	ext.WriteByte('\n')

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.Write(header("//", ext.Len()))
	buf.Write(ext.Bytes())
	if ext.Len()%2 != 0 {
		buf.WriteByte('\n')
	}

	memberData := []byte("OBJDATA1")
	buf.Write(header("/0", len(memberData)))
	buf.Write(memberData)

	r, err := NewReader(buf.Bytes())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	m, ok, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ok {
		t.Fatal("Next returned no member")
	}
	if m.Identifier != longName {
		t.Errorf("Identifier = %q, want %q", m.Identifier, longName)
	}
	if string(m.Data) != "OBJDATA1" {
		t.Errorf("Data = %q, want OBJDATA1", m.Data)
	}
}

func TestReaderSkipsSymbolIndex(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.Write(header("/", 4))
	buf.WriteString("idx\x00")
	buf.Write(header("obj.o/", 3))
	buf.WriteString("abc")
	buf.WriteByte('\n')

	r, err := NewReader(buf.Bytes())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	m, ok, err := r.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if m.Identifier != "obj.o" {
		t.Errorf("Identifier = %q, want obj.o (symbol index skipped)", m.Identifier)
	}
	_, ok, _ = r.Next()
	if ok {
		t.Fatal("expected only one yielded member")
	}
}

func TestReaderArchiveOfOnlySpecialMembersYieldsNone(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.Write(header("/", 4))
	buf.WriteString("idx\x00")
	buf.Write(header("//", 2))
	buf.WriteString("a\n")

	r, err := NewReader(buf.Bytes())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	_, ok, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ok {
		t.Fatal("expected no yielded members")
	}
}

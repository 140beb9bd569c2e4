// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package storage

import (
	"crypto/md5"
	"fmt"
	"unicode/utf16"
)

// javaHashCode reproduces java.lang.String.hashCode over UTF-16 code units,
// rendered as eight lowercase hex digits. Path templates written for the
// archive's earlier generation depend on this exact function.
func javaHashCode(s string) string {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(u)
	}
	return fmt.Sprintf("%08x", uint32(h))
}

const base32Alphabet = "0123456789abcdefghijklmnopqrstuv"

// md5Base32 renders the MD5 digest in a 32-character alphabet, 5 bits per
// character, 26 characters total. The final character carries two zero pad
// bits past the 128th digest bit.
func md5Base32(s string) string {
	digest := md5.Sum([]byte(s))
	out := make([]byte, 26)
	for i := 0; i < 26; i++ {
		out[i] = base32Alphabet[digestBits(digest[:], i*5)]
	}
	return string(out)
}

// digestBits extracts 5 bits starting at the given bit offset, zero-filling
// past the end of the digest.
func digestBits(digest []byte, offset int) int {
	v := 0
	for i := 0; i < 5; i++ {
		v <<= 1
		bit := offset + i
		if bit < len(digest)*8 && digest[bit/8]&(0x80>>(bit%8)) != 0 {
			v |= 1
		}
	}
	return v
}

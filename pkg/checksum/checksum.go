// Package checksum implements the CRC32 checksum recorded in the schema
// history table.
//
// The algorithm must match the reference tool byte-for-byte: the script is
// split into lines, line terminators are stripped, and the CRC is updated
// with each line's UTF-8 bytes in order. Because no terminator bytes are
// ever fed to the CRC, LF, CR and CRLF scripts hash identically and a
// trailing newline doesn't change the result.
package checksum

import (
	"hash/crc32"
	"strings"
)

// Compute returns the signed 32-bit CRC32 of the script content.
//
// Steps:
//  1. A leading U+FEFF byte order mark is discarded.
//  2. The remainder is split on "\r\n", "\r" or "\n" into lines with
//     terminators stripped.
//  3. A CRC32 (IEEE polynomial) starting from register 0 is updated with
//     each line's UTF-8 bytes.
//  4. The final register is reinterpreted as a signed two's-complement
//     integer.
//
// A line containing only whitespace still contributes its whitespace bytes.
func Compute(content string) int32 {
	content = strings.TrimPrefix(content, "\uFEFF")

	var crc uint32
	for _, line := range SplitLines(content) {
		crc = crc32.Update(crc, crc32.IEEETable, []byte(line))
	}

	return int32(crc)
}

// SplitLines splits content on any of "\r\n", "\r" or "\n", returning the
// lines with terminators stripped. An empty input yields a single empty line.
func SplitLines(content string) []string {
	normalized := strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(content)
	return strings.Split(normalized, "\n")
}

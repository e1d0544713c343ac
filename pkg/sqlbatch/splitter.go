// Package sqlbatch divides SQL Server scripts into batches on the
// client-side GO separator.
//
// GO is not T-SQL; it is an instruction to client tools to send the
// accumulated statements as one batch. A separator is a line whose entire
// trimmed content is GO (case-insensitive), optionally followed by a
// positive repeat count. Because separator status requires the line to
// contain only "GO [N]", no string or comment awareness is needed: "GOTO"
// or "SELECT 'GO'" never occupy a line alone in valid scripts.
package sqlbatch

import (
	"regexp"
	"strconv"
	"strings"
)

// Batch is a fragment of a script bounded by GO separator lines (or the
// script's ends), sent to the server as a single command.
type Batch struct {
	// SQL is the batch body with separator lines removed.
	SQL string

	// RepeatCount is how many times the batch is executed. It comes from
	// the "GO N" form and defaults to 1.
	RepeatCount int

	// StartLine is the 1-based line number of the first non-blank line of
	// the batch within the original script, for diagnostics.
	StartLine int
}

var goLine = regexp.MustCompile(`(?i)^\s*go(?:\s+(\d+))?\s*$`)

// Split divides a script into its batches in order.
//
// Lines accumulate into the current batch until a GO line terminates it.
// Batches whose trimmed body is empty are discarded, so runs of consecutive
// GO lines produce nothing. Content after the final GO forms one more batch
// with a repeat count of 1.
func Split(script string) []Batch {
	var (
		batches []Batch
		lines   []string
		start   int
	)

	flush := func(repeat int) {
		sql := strings.Join(lines, "\n")
		if strings.TrimSpace(sql) != "" {
			batches = append(batches, Batch{SQL: sql, RepeatCount: repeat, StartLine: start})
		}
		lines = nil
		start = 0
	}

	for i, line := range splitLines(script) {
		if n, ok := parseSeparator(line); ok {
			flush(n)
			continue
		}

		lines = append(lines, line)
		if start == 0 && strings.TrimSpace(line) != "" {
			start = i + 1
		}
	}
	flush(1)

	return batches
}

// parseSeparator reports whether line is a GO separator and, if so, its
// repeat count. A count of 0 is not a positive integer, so "GO 0" is an
// ordinary line.
func parseSeparator(line string) (int, bool) {
	m := goLine.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}

	if m[1] == "" {
		return 1, true
	}

	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// splitLines splits on "\r\n", "\r" or "\n" with terminators stripped.
func splitLines(script string) []string {
	normalized := strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(script)
	return strings.Split(normalized, "\n")
}

package checksum_test

import (
	"hash/crc32"
	"testing"

	. "github.com/caretakerhq/caretaker/pkg/checksum"
	"github.com/stretchr/testify/require"
)

func TestCompute(t *testing.T) {
	t.Run("line terminators are equivalent", func(t *testing.T) {
		lf := Compute("CREATE TABLE t (id INT);\nGO\nSELECT 1;")
		crlf := Compute("CREATE TABLE t (id INT);\r\nGO\r\nSELECT 1;")
		cr := Compute("CREATE TABLE t (id INT);\rGO\rSELECT 1;")
		mixed := Compute("CREATE TABLE t (id INT);\r\nGO\nSELECT 1;")

		require.Equal(t, lf, crlf)
		require.Equal(t, lf, cr)
		require.Equal(t, lf, mixed)
	})

	t.Run("trailing newline does not change the checksum", func(t *testing.T) {
		require.Equal(t, Compute("SELECT 1;"), Compute("SELECT 1;\n"))
		require.Equal(t, Compute("SELECT 1;"), Compute("SELECT 1;\r\n"))
	})

	t.Run("leading BOM is discarded", func(t *testing.T) {
		require.Equal(t, Compute("SELECT 1;"), Compute("\uFEFFSELECT 1;"))
	})

	t.Run("BOM after the first character is significant", func(t *testing.T) {
		require.NotEqual(t, Compute("SELECT 1;"), Compute(" \uFEFFSELECT 1;"))
	})

	t.Run("terminator bytes are not fed to the CRC", func(t *testing.T) {
		// Two lines hash the same as their concatenation on one line.
		require.Equal(t, Compute("ab"), Compute("a\nb"))
	})

	t.Run("single line matches a plain IEEE CRC32", func(t *testing.T) {
		content := "CREATE TABLE users (id INT NOT NULL);"
		require.Equal(t, int32(crc32.ChecksumIEEE([]byte(content))), Compute(content))
	})

	t.Run("whitespace-only lines contribute their bytes", func(t *testing.T) {
		require.NotEqual(t, Compute("a\nb"), Compute("a\n  \nb"))
	})

	t.Run("different content yields different checksums", func(t *testing.T) {
		require.NotEqual(t, Compute("SELECT 1;"), Compute("SELECT 2;"))
	})

	t.Run("empty script", func(t *testing.T) {
		require.Equal(t, int32(0), Compute(""))
		require.Equal(t, Compute(""), Compute("\n"))
	})
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"lf", "a\nb", []string{"a", "b"}},
		{"crlf", "a\r\nb", []string{"a", "b"}},
		{"cr", "a\rb", []string{"a", "b"}},
		{"trailing lf", "a\n", []string{"a", ""}},
		{"empty", "", []string{""}},
		{"blank lines kept", "a\n\nb", []string{"a", "", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, SplitLines(tt.input))
		})
	}
}

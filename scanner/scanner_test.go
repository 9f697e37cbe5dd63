// SPDX-License-Identifier: GPL-3.0-or-later

package scanner

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedSource replays fixed byte chunks (simulating short non-blocking
// reads) and then reports io.EOF, invoking its callback synchronously —
// the scanner must tolerate both sync and async sources.
func chunkedSource(chunks ...[]byte) Source {
	i := 0
	return func(buf []byte, cb func(n int, err error)) {
		if i >= len(chunks) {
			cb(0, io.EOF)
			return
		}
		n := copy(buf, chunks[i])
		i++
		cb(n, nil)
	}
}

func TestScannerSingleLine(t *testing.T) {
	s := New(chunkedSource([]byte("hello\r\nworld\r\n")), 64, 16)
	var got []byte
	var gotErr error
	s.Scan(func(line []byte, err error) { got = line; gotErr = err })
	require.NoError(t, gotErr)
	assert.Equal(t, "hello", string(got))
}

func TestScannerLineSplitAcrossReads(t *testing.T) {
	s := New(chunkedSource([]byte("hel"), []byte("lo\r"), []byte("\nrest")), 64, 16)
	var got []byte
	s.Scan(func(line []byte, err error) {
		require.NoError(t, err)
		got = line
	})
	assert.Equal(t, "hello", string(got))
}

func TestScannerExactlyMaxTokenSizeAccepted(t *testing.T) {
	line := strings.Repeat("a", 10)
	s := New(chunkedSource([]byte(line+"\r\n")), 10, 32)
	var got []byte
	var gotErr error
	s.Scan(func(l []byte, err error) { got = l; gotErr = err })
	require.NoError(t, gotErr)
	assert.Equal(t, line, string(got))
}

func TestScannerOneByteOverMaxTokenSizeFails(t *testing.T) {
	line := strings.Repeat("a", 11)
	s := New(chunkedSource([]byte(line+"\r\n")), 10, 32)
	var gotErr error
	s.Scan(func(l []byte, err error) { gotErr = err })
	assert.ErrorIs(t, gotErr, ErrTooLong)
}

func TestScannerTrailingDataWithoutCRLFThenEOF(t *testing.T) {
	s := New(chunkedSource([]byte("partial")), 64, 16)
	var got []byte
	var gotErr error
	s.Scan(func(l []byte, err error) { got = l; gotErr = err })
	require.NoError(t, gotErr)
	assert.Equal(t, "partial", string(got))

	// Next scan call sees the EOF.
	var gotErr2 error
	s.Scan(func(l []byte, err error) { gotErr2 = err })
	assert.ErrorIs(t, gotErr2, ErrUnexpectedEOF)
}

func TestScannerReentrancyGuard(t *testing.T) {
	var inner error
	var s *Scanner
	s = New(func(buf []byte, cb func(n int, err error)) {
		// Calling Scan again here, before the outer callback has
		// returned, must be rejected.
		s.Scan(func(l []byte, err error) { inner = err })
	}, 64, 16)
	s.Scan(func(l []byte, err error) {})
	assert.ErrorIs(t, inner, ErrReentrant)
}

func TestScannerScanBytesExact(t *testing.T) {
	s := New(chunkedSource([]byte("abcde")), 64, 16)
	var got []byte
	var gotErr error
	s.ScanBytes(5, func(data []byte, err error) { got = data; gotErr = err })
	require.NoError(t, gotErr)
	assert.True(t, bytes.Equal([]byte("abcde"), got))
}

func TestScannerScanBytesAcrossReads(t *testing.T) {
	s := New(chunkedSource([]byte("ab"), []byte("cde"), []byte("fghij")), 64, 16)
	var got []byte
	s.ScanBytes(5, func(data []byte, err error) {
		got = data
	})
	assert.Equal(t, "abcde", string(got))

	// Leftover "fghij" is available for the next fixed read.
	var got2 []byte
	s.ScanBytes(5, func(data []byte, err error) { got2 = data })
	assert.Equal(t, "fghij", string(got2))
}

func TestScannerReadRestAccumulatesUntilEOF(t *testing.T) {
	s := New(chunkedSource([]byte("ab"), []byte("cde"), []byte("fg")), 64, 16)
	var got []byte
	var gotErr error
	s.ReadRest(func(data []byte, err error) { got = data; gotErr = err })
	require.NoError(t, gotErr)
	assert.Equal(t, "abcdefg", string(got))
}

func TestScannerReadRestOverMaxTokenSizeFails(t *testing.T) {
	s := New(chunkedSource([]byte("abcdefghijk")), 10, 16)
	var gotErr error
	s.ReadRest(func(data []byte, err error) { gotErr = err })
	assert.ErrorIs(t, gotErr, ErrTooLong)
}

func TestScannerResetClearsState(t *testing.T) {
	s := New(chunkedSource([]byte("x\r\n")), 64, 16)
	s.Scan(func(l []byte, err error) {})
	s.Reset()
	assert.Empty(t, s.buf)
	assert.False(t, s.eof)
}

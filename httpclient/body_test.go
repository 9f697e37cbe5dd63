// SPDX-License-Identifier: GPL-3.0-or-later

package httpclient

import (
	"io"
	"testing"

	"github.com/bassosimone/evloop/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedSource replays fixed byte chunks and then reports io.EOF,
// mirroring scanner's own test double (scanner_test.go's
// chunkedSource) since that helper is unexported to its package.
func chunkedSource(chunks ...[]byte) scanner.Source {
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

func TestReadBodyContentLength(t *testing.T) {
	s := scanner.New(chunkedSource([]byte("hello")), 1024, 16)
	h := NewHeaders()
	h.Add("content-length", "5")
	var got []byte
	var gotErr *Error
	readBody(s, h, 0, func(body []byte, err *Error) { got = body; gotErr = err })
	require.Nil(t, gotErr)
	assert.Equal(t, "hello", string(got))
}

func TestReadBodyContentLengthInvalid(t *testing.T) {
	s := scanner.New(chunkedSource([]byte("hello")), 1024, 16)
	h := NewHeaders()
	h.Add("content-length", "not-a-number")
	var gotErr *Error
	readBody(s, h, 0, func(body []byte, err *Error) { gotErr = err })
	require.NotNil(t, gotErr)
	assert.Equal(t, KindInvalidLength, gotErr.Kind)
}

func TestReadBodyContentLengthTooLong(t *testing.T) {
	s := scanner.New(chunkedSource([]byte("hello")), 1024, 16)
	h := NewHeaders()
	h.Add("content-length", "1000")
	var gotErr *Error
	readBody(s, h, 10, func(body []byte, err *Error) { gotErr = err })
	require.NotNil(t, gotErr)
	assert.Equal(t, KindTooLong, gotErr.Kind)
}

func TestReadBodyReadUntilClose(t *testing.T) {
	s := scanner.New(chunkedSource([]byte("ab"), []byte("cd")), 1024, 16)
	h := NewHeaders()
	var got []byte
	readBody(s, h, 0, func(body []byte, err *Error) { got = body })
	assert.Equal(t, "abcd", string(got))
}

func TestReadBodyChunked(t *testing.T) {
	raw := "5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	s := scanner.New(chunkedSource([]byte(raw)), 1024, 16)
	h := NewHeaders()
	h.Add("transfer-encoding", "chunked")
	var got []byte
	var gotErr *Error
	readBody(s, h, 0, func(body []byte, err *Error) { got = body; gotErr = err })
	require.Nil(t, gotErr)
	assert.Equal(t, "hello world", string(got))
	assert.False(t, h.Has("transfer-encoding"))
}

func TestReadBodyChunkedWithTrailer(t *testing.T) {
	raw := "3\r\nabc\r\n0\r\nX-Trailer: value\r\nContent-Length: 3\r\n\r\n"
	s := scanner.New(chunkedSource([]byte(raw)), 1024, 16)
	h := NewHeaders()
	h.Add("transfer-encoding", "chunked")
	h.Add("trailer", "X-Trailer")
	var got []byte
	var gotErr *Error
	readBody(s, h, 0, func(body []byte, err *Error) { got = body; gotErr = err })
	require.Nil(t, gotErr)
	assert.Equal(t, "abc", string(got))
	v, ok := h.Get("x-trailer")
	assert.True(t, ok)
	assert.Equal(t, "value", v)
	// content-length is framing-related: dropped from the trailer set.
	_, hasCL := h.Get("content-length")
	assert.False(t, hasCL)
	assert.False(t, h.Has("trailer"))
}

func TestReadBodyChunkedInvalidSize(t *testing.T) {
	raw := "zz\r\n"
	s := scanner.New(chunkedSource([]byte(raw)), 1024, 16)
	h := NewHeaders()
	h.Add("transfer-encoding", "chunked")
	var gotErr *Error
	readBody(s, h, 0, func(body []byte, err *Error) { gotErr = err })
	require.NotNil(t, gotErr)
	assert.Equal(t, KindInvalidChunkSize, gotErr.Kind)
}

func TestStripChunkedCoding(t *testing.T) {
	assert.Equal(t, "gzip", stripChunkedCoding("gzip, chunked"))
	assert.Equal(t, "", stripChunkedCoding("chunked"))
}

func TestIsFormURLEncoded(t *testing.T) {
	assert.True(t, isFormURLEncoded("application/x-www-form-urlencoded; charset=utf-8"))
	assert.False(t, isFormURLEncoded("application/json"))
}

func TestDecodeFormBody(t *testing.T) {
	got := decodeFormBody([]byte("a=1&b=two+words"), func(string, ...any) {})
	assert.Equal(t, "1", got["a"])
	assert.Equal(t, "two words", got["b"])
}

func TestDecodeFormBodyDropsMalformedEntry(t *testing.T) {
	var warned bool
	got := decodeFormBody([]byte("a=1&%zz=bad"), func(string, ...any) { warned = true })
	assert.Equal(t, "1", got["a"])
	assert.True(t, warned)
	assert.NotContains(t, got, "%zz")
}

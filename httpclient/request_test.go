// SPDX-License-Identifier: GPL-3.0-or-later

package httpclient

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestSerializeAutoHeaders(t *testing.T) {
	req := NewRequest("GET", "/index.html")
	out := string(req.serialize(nil, "example.com", "evloop-httpclient/1.0"))

	assert.True(t, strings.HasPrefix(out, "GET /index.html HTTP/1.1\r\n"))
	assert.Contains(t, out, "content-length: 0\r\n")
	assert.Contains(t, out, "accept: */*\r\n")
	assert.Contains(t, out, "user-agent: evloop-httpclient/1.0\r\n")
	assert.Contains(t, out, "host: example.com\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n"))
}

func TestRequestSerializeUserHeaderOverridesAuto(t *testing.T) {
	req := NewRequest("GET", "/")
	req.Headers.Set("User-Agent", "custom/1.0")
	out := string(req.serialize(nil, "example.com", "evloop-httpclient/1.0"))
	assert.Contains(t, out, "User-Agent: custom/1.0\r\n")
	assert.NotContains(t, out, "user-agent: evloop-httpclient/1.0")
}

func TestRequestSerializeBodyContentLength(t *testing.T) {
	req := NewRequest("POST", "/submit")
	req.Body = []byte("hello")
	out := string(req.serialize(nil, "example.com", "ua"))
	assert.Contains(t, out, "content-length: 5\r\n")
}

func TestRequestSerializeEscapesNewlineInHeaderValue(t *testing.T) {
	req := NewRequest("GET", "/")
	req.Headers.Add("X-Evil", "line1\nline2")
	out := string(req.serialize(nil, "example.com", "ua"))
	assert.Contains(t, out, `X-Evil: line1\nline2`+"\r\n")
	assert.NotContains(t, out, "line1\nline2")
}

func TestRequestSerializeCookieLine(t *testing.T) {
	req := NewRequest("GET", "/")
	req.Cookies = []Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}
	out := string(req.serialize(nil, "example.com", "ua"))
	assert.Contains(t, out, "cookie: a=1; b=2\r\n")
}

func TestRequestSerializeTerminatesWithBlankLine(t *testing.T) {
	req := NewRequest("GET", "/")
	out := string(req.serialize(nil, "example.com", "ua"))
	idx := strings.Index(out, "\r\n\r\n")
	assert.Equal(t, len(out)-4, idx)
}

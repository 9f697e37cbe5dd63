// SPDX-License-Identifier: GPL-3.0-or-later

package httpclient

import (
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// ResponseCallback receives the outcome of a [Request]: either a
// [*Response] with a nil error, or a nil Response with a non-nil
// error, mirroring [dnsresolver.ResolveCallback]'s (user, result,
// err) shape.
type ResponseCallback func(user any, resp *Response, err error)

// Request is one HTTP request queued on a [Connection] (spec.md §3
// "Request"). Construct with [NewRequest]; enqueue with
// [Connection.Do].
type Request struct {
	Method  string
	Path    string
	Headers *Headers
	Cookies []Cookie
	Body    []byte

	user any
	cb   ResponseCallback

	conn *Connection
	next *Request

	resp *Response
}

// Response returns the Response slot spec.md §3 "Request" describes,
// populated once [Connection.Do]'s callback has fired. Nil before
// then or after a failed request.
func (r *Request) Response() *Response { return r.resp }

// NewRequest builds a Request for method/path with empty headers and
// body. Callers set Headers/Cookies/Body before handing it to
// [Connection.Do].
func NewRequest(method, path string) *Request {
	return &Request{
		Method:  method,
		Path:    path,
		Headers: NewHeaders(),
	}
}

// escapeHeaderValue replaces any embedded "\n" with the literal
// two-character sequence "\\n" (spec.md §4.4 "Header values have \n
// escaped to \\n to prevent header injection"), then strips any other
// byte [httpguts.ValidHeaderFieldValue] would reject (a lone "\r",
// embedded NUL, ...) rather than emit a header the wire format cannot
// safely carry — the same validity gate net/http's own Header.Write
// applies before writing a field.
func escapeHeaderValue(v string) string {
	if strings.Contains(v, "\n") {
		v = strings.ReplaceAll(v, "\n", `\n`)
	}
	if httpguts.ValidHeaderFieldValue(v) {
		return v
	}
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if c := v[i]; c == '\t' || (c >= 0x20 && c != 0x7f) {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// serialize assembles the request line, auto headers, user headers,
// cookie line, and terminating blank line into buf, per spec.md §4.4
// "Request serialization". host is the target's Host header value
// (authority, including a non-default port if any).
func (r *Request) serialize(buf []byte, host, userAgent string) []byte {
	buf = append(buf, r.Method...)
	buf = append(buf, ' ')
	buf = append(buf, r.Path...)
	buf = append(buf, " HTTP/1.1\r\n"...)

	hasHeader := func(key string) bool { return r.Headers.Has(key) }

	if !hasHeader("content-length") {
		buf = appendHeaderLine(buf, "content-length", strconv.Itoa(len(r.Body)))
	}
	if !hasHeader("accept") {
		buf = appendHeaderLine(buf, "accept", "*/*")
	}
	if !hasHeader("user-agent") {
		buf = appendHeaderLine(buf, "user-agent", userAgent)
	}
	if !hasHeader("host") {
		buf = appendHeaderLine(buf, "host", host)
	}

	for _, key := range r.Headers.Keys() {
		for _, v := range r.Headers.Values(key) {
			buf = appendHeaderLine(buf, key, v)
		}
	}

	if len(r.Cookies) > 0 {
		var sb strings.Builder
		for i, c := range r.Cookies {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(c.Name)
			sb.WriteByte('=')
			sb.WriteString(c.Value)
		}
		buf = appendHeaderLine(buf, "cookie", sb.String())
	}

	buf = append(buf, "\r\n"...)
	return buf
}

func appendHeaderLine(buf []byte, key, value string) []byte {
	buf = append(buf, key...)
	buf = append(buf, ':', ' ')
	buf = append(buf, escapeHeaderValue(value)...)
	buf = append(buf, "\r\n"...)
	return buf
}

// SPDX-License-Identifier: GPL-3.0-or-later

package httpclient

import (
	"strconv"
	"strings"

	"github.com/bassosimone/evloop/scanner"
)

// readBody implements spec.md §4.4 "Body framing", derived from RFC
// 7230 §3.3.3: chunked transfer-coding takes priority over
// Content-Length, which takes priority over read-until-close. headers
// is the response's parsed header map (still writable at this point;
// [readChunkedBody] strips "chunked" from Transfer-Encoding and drops
// Trailer per the chunked branch below).
func readBody(scan *scanner.Scanner, headers *Headers, maxBody int64, cb func(body []byte, err *Error)) {
	if te, ok := headers.Get("transfer-encoding"); ok && strings.HasSuffix(strings.ToLower(strings.TrimSpace(te)), "chunked") {
		readChunkedBody(scan, headers, maxBody, cb)
		return
	}
	if cl, ok := headers.Get("content-length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			cb(nil, newError(KindInvalidLength, err))
			return
		}
		if maxBody > 0 && n > maxBody {
			cb(nil, newError(KindTooLong, nil))
			return
		}
		scan.ScanBytes(int(n), func(data []byte, err error) {
			if err != nil {
				cb(nil, newError(KindScanFailed, err))
				return
			}
			cb(data, nil)
		})
		return
	}
	scan.ReadRest(func(data []byte, err error) {
		if err != nil {
			cb(nil, newError(KindScanFailed, err))
			return
		}
		if maxBody > 0 && int64(len(data)) > maxBody {
			cb(nil, newError(KindTooLong, nil))
			return
		}
		cb(data, nil)
	})
}

// trailerAllowed reports whether header name may appear as a chunked
// trailer (RFC 7230 §4.1.2 forbids re-stating framing/routing headers
// there).
func trailerAllowed(name string) bool {
	switch strings.ToLower(name) {
	case "transfer-encoding", "content-length", "host", "cache-control",
		"trailer", "te", "authorization", "set-cookie", "content-encoding",
		"content-type", "content-range", "trailer-encoding":
		return false
	default:
		return true
	}
}

// readChunkedBody implements the chunked branch: hex chunk-size (up
// to an optional ';' chunk-extension) + CRLF, exactly that many
// bytes, CRLF, repeated until a zero-size chunk, then optional
// trailer header lines until an empty line.
func readChunkedBody(scan *scanner.Scanner, headers *Headers, maxBody int64, cb func(body []byte, err *Error)) {
	var body []byte
	var readChunk func()
	readChunk = func() {
		scan.Scan(func(line []byte, err error) {
			if err != nil {
				cb(nil, newError(KindInvalidChunkSize, err))
				return
			}
			sizeField := line
			if idx := indexByte(line, ';'); idx >= 0 {
				sizeField = line[:idx]
			}
			size, perr := strconv.ParseInt(strings.TrimSpace(string(sizeField)), 16, 64)
			if perr != nil || size < 0 {
				cb(nil, newError(KindInvalidChunkSize, perr))
				return
			}
			if maxBody > 0 && int64(len(body))+size > maxBody {
				cb(nil, newError(KindTooLong, nil))
				return
			}
			if size == 0 {
				readTrailers(scan, headers, body, cb)
				return
			}
			scan.ScanBytes(int(size), func(data []byte, err error) {
				if err != nil {
					cb(nil, newError(KindScanFailed, err))
					return
				}
				body = append(body, data...)
				scan.Scan(func(crlf []byte, err error) {
					if err != nil {
						cb(nil, newError(KindScanFailed, err))
						return
					}
					if len(crlf) != 0 {
						cb(nil, newError(KindInvalidChunkSize, nil))
						return
					}
					readChunk()
				})
			})
		})
	}
	readChunk()
}

func readTrailers(scan *scanner.Scanner, headers *Headers, body []byte, cb func(body []byte, err *Error)) {
	var next func()
	next = func() {
		scan.Scan(func(line []byte, err error) {
			if err != nil {
				cb(nil, newError(KindInvalidTrailerHeader, err))
				return
			}
			if len(line) == 0 {
				finishChunked(headers, body, cb)
				return
			}
			name, value, ok := splitHeaderLine(line)
			if !ok {
				cb(nil, newError(KindInvalidTrailerHeader, nil))
				return
			}
			if trailerAllowed(name) {
				headers.Add(name, value)
			}
			next()
		})
	}
	next()
}

func finishChunked(headers *Headers, body []byte, cb func(body []byte, err *Error)) {
	if te, ok := headers.Get("transfer-encoding"); ok {
		stripped := stripChunkedCoding(te)
		headers.Del("transfer-encoding")
		if stripped != "" {
			headers.Add("transfer-encoding", stripped)
		}
	}
	headers.Del("trailer")
	cb(body, nil)
}

// stripChunkedCoding removes a trailing "chunked" coding (and its
// preceding comma/space) from a Transfer-Encoding value, leaving any
// earlier codings (e.g. "gzip, chunked" -> "gzip") intact.
func stripChunkedCoding(te string) string {
	parts := strings.Split(te, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.EqualFold(strings.TrimSpace(p), "chunked") {
			continue
		}
		out = append(out, strings.TrimSpace(p))
	}
	return strings.Join(out, ", ")
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// splitHeaderLine splits "name: value" into its two parts, trimming
// surrounding whitespace from the value per RFC 7230 §3.2.
func splitHeaderLine(line []byte) (name, value string, ok bool) {
	idx := indexByte(line, ':')
	if idx <= 0 {
		return "", "", false
	}
	name = string(line[:idx])
	value = strings.TrimSpace(string(line[idx+1:]))
	return name, value, true
}

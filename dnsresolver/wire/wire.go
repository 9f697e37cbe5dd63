// SPDX-License-Identifier: GPL-3.0-or-later

// Package wire hand-implements encode/decode of DNS packets: the
// 12-byte header, the question section, and resource records,
// including name-compression-pointer skipping (spec.md §6 "Wire:
// DNS"). It is a deliberate divergence from the teacher, which
// delegates this to a sibling module — see DESIGN.md. The
// Query/Response naming mirrors that module's vocabulary even though
// the implementation here is new.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Record types this resolver cares about (spec.md §6).
const (
	TypeA    = 1
	TypeAAAA = 28
)

const classIN = 1

// HeaderLen is the fixed DNS header size in bytes.
const HeaderLen = 12

var (
	// ErrPacketTooShort is returned when a buffer is too small to
	// contain even a DNS header.
	ErrPacketTooShort = errors.New("wire: packet shorter than header")
	// ErrNotResponse is returned when the QR bit is not set.
	ErrNotResponse = errors.New("wire: not a response packet")
	// ErrQuestionCount is returned when qdcount != 1.
	ErrQuestionCount = errors.New("wire: expected exactly one question")
	// ErrMalformedName is returned when a name (question or RR) cannot
	// be decoded (bad length byte, pointer loop, or pointer out of range).
	ErrMalformedName = errors.New("wire: malformed name")
	// ErrMalformedRecord is returned when a resource record's fixed
	// header or rdata runs past the end of the packet.
	ErrMalformedRecord = errors.New("wire: malformed resource record")
)

// Query encodes a DNS query packet for hostname of the given qtype
// (TypeA or TypeAAAA), using id as the transaction ID.
func Query(id uint16, hostname string, qtype uint16) ([]byte, error) {
	name, err := encodeName(hostname)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, HeaderLen+len(name)+4)
	buf = appendHeader(buf, id, 0x0100 /* RD */, 1, 0, 0, 0)
	buf = append(buf, name...)
	buf = binary.BigEndian.AppendUint16(buf, qtype)
	buf = binary.BigEndian.AppendUint16(buf, classIN)
	return buf, nil
}

// SetQType rewrites the QTYPE field of an already-built query packet
// in place. The resolver does not use it: for the IPv6 attempt it calls
// [Query] again to rebuild the packet from scratch (DESIGN.md's Open
// Question decision).
func SetQType(packet []byte, qtype uint16) error {
	if len(packet) < 6 {
		return ErrPacketTooShort
	}
	binary.BigEndian.PutUint16(packet[len(packet)-4:], qtype)
	return nil
}

func appendHeader(buf []byte, id uint16, flags uint16, qd, an, ns, ar uint16) []byte {
	buf = binary.BigEndian.AppendUint16(buf, id)
	buf = binary.BigEndian.AppendUint16(buf, flags)
	buf = binary.BigEndian.AppendUint16(buf, qd)
	buf = binary.BigEndian.AppendUint16(buf, an)
	buf = binary.BigEndian.AppendUint16(buf, ns)
	buf = binary.BigEndian.AppendUint16(buf, ar)
	return buf
}

// encodeName produces the length-prefixed-label wire encoding of
// hostname, terminated by a zero length byte. hostname must already be
// ASCII (callers punycode-encode non-ASCII names first).
func encodeName(hostname string) ([]byte, error) {
	hostname = strings.TrimSuffix(hostname, ".")
	if hostname == "" {
		return []byte{0}, nil
	}
	labels := strings.Split(hostname, ".")
	var out []byte
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return nil, fmt.Errorf("%w: label %q", ErrMalformedName, label)
		}
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	out = append(out, 0)
	return out, nil
}

// Response is a parsed DNS response (spec.md §4.3 "Record parsing").
type Response struct {
	ID      uint16
	ANCount int
}

// Record is one parsed resource record from the answer, authority, or
// additional section.
type Record struct {
	Type  uint16
	Class uint16
	TTL   uint32
	Data  []byte // raw rdata; 4 bytes for A, 16 for AAAA
}

// ParseHeader validates and decodes the fixed 12-byte header, per
// spec.md §4.3 ("validate sz >= 12, header is a response,
// question_count == 1").
func ParseHeader(packet []byte) (hdr Response, qdcount, ancount, nscount, arcount int, err error) {
	if len(packet) < HeaderLen {
		return Response{}, 0, 0, 0, 0, ErrPacketTooShort
	}
	id := binary.BigEndian.Uint16(packet[0:2])
	flags := binary.BigEndian.Uint16(packet[2:4])
	if flags&0x8000 == 0 {
		return Response{}, 0, 0, 0, 0, ErrNotResponse
	}
	qd := int(binary.BigEndian.Uint16(packet[4:6]))
	an := int(binary.BigEndian.Uint16(packet[6:8]))
	ns := int(binary.BigEndian.Uint16(packet[8:10]))
	ar := int(binary.BigEndian.Uint16(packet[10:12]))
	if qd != 1 {
		return Response{}, 0, 0, 0, 0, ErrQuestionCount
	}
	return Response{ID: id, ANCount: an}, qd, an, ns, ar, nil
}

// SkipName advances past a (possibly compressed) name starting at
// offset and returns the offset immediately following it. It does not
// follow compression pointers recursively beyond validating they point
// backward within the packet (spec.md §6 "compression pointers must be
// skipped").
func SkipName(packet []byte, offset int) (next int, err error) {
	for {
		if offset >= len(packet) {
			return 0, ErrMalformedName
		}
		b := packet[offset]
		switch {
		case b == 0:
			return offset + 1, nil
		case b&0xC0 == 0xC0:
			if offset+1 >= len(packet) {
				return 0, ErrMalformedName
			}
			ptr := int(b&0x3F)<<8 | int(packet[offset+1])
			if ptr >= offset {
				return 0, ErrMalformedName // pointers must point backward
			}
			return offset + 2, nil
		case b&0xC0 != 0:
			return 0, ErrMalformedName
		default:
			labelLen := int(b)
			offset++
			if offset+labelLen > len(packet) {
				return 0, ErrMalformedName
			}
			offset += labelLen
		}
	}
}

// ParseRecords walks count resource records starting at offset
// (spec.md §4.3 "Record parsing"): for each, skip the name, read the
// fixed header (type, class, ttl, rdlength), extract rdlength bytes of
// payload.
func ParseRecords(packet []byte, offset, count int) (records []Record, next int, err error) {
	records = make([]Record, 0, count)
	for i := 0; i < count; i++ {
		offset, err = SkipName(packet, offset)
		if err != nil {
			return nil, 0, err
		}
		if offset+10 > len(packet) {
			return nil, 0, ErrMalformedRecord
		}
		typ := binary.BigEndian.Uint16(packet[offset : offset+2])
		class := binary.BigEndian.Uint16(packet[offset+2 : offset+4])
		ttl := binary.BigEndian.Uint32(packet[offset+4 : offset+8])
		rdlen := int(binary.BigEndian.Uint16(packet[offset+8 : offset+10]))
		offset += 10
		if offset+rdlen > len(packet) {
			return nil, 0, ErrMalformedRecord
		}
		data := packet[offset : offset+rdlen]
		offset += rdlen
		records = append(records, Record{Type: typ, Class: class, TTL: ttl, Data: data})
	}
	return records, offset, nil
}

// DecodeHostname extracts the hostname starting at the question
// section (immediately after the header) for round-trip tests; it
// does not need to handle compression since queries never compress
// their own sole question.
func DecodeHostname(packet []byte) (string, int, error) {
	offset := HeaderLen
	var labels []string
	for {
		if offset >= len(packet) {
			return "", 0, ErrMalformedName
		}
		b := packet[offset]
		if b == 0 {
			offset++
			break
		}
		if b&0xC0 != 0 {
			return "", 0, ErrMalformedName
		}
		labelLen := int(b)
		offset++
		if offset+labelLen > len(packet) {
			return "", 0, ErrMalformedName
		}
		labels = append(labels, string(packet[offset:offset+labelLen]))
		offset += labelLen
	}
	return strings.Join(labels, "."), offset, nil
}

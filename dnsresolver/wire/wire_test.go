// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"encoding/binary"
	"math/rand"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryDecodeHostnameRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	alphabet := "abcdefghijklmnopqrstuvwxyz0123456789"
	for i := 0; i < 256; i++ {
		numLabels := 1 + rng.Intn(4)
		var labels []string
		for l := 0; l < numLabels; l++ {
			labelLen := 1 + rng.Intn(20)
			var sb strings.Builder
			for c := 0; c < labelLen; c++ {
				sb.WriteByte(alphabet[rng.Intn(len(alphabet))])
			}
			labels = append(labels, sb.String())
		}
		hostname := strings.Join(labels, ".")

		qtype := uint16(TypeA)
		if i%2 == 1 {
			qtype = TypeAAAA
		}
		packet, err := Query(uint16(i), hostname, qtype)
		require.NoError(t, err)

		gotName, _, err := DecodeHostname(packet)
		require.NoError(t, err)
		assert.Equal(t, hostname, gotName)

		gotType := binary.BigEndian.Uint16(packet[len(packet)-4:])
		assert.Equal(t, qtype, gotType)
	}
}

func TestParseHeaderRejectsShortPacket(t *testing.T) {
	_, _, _, _, _, err := ParseHeader(make([]byte, 4))
	assert.ErrorIs(t, err, ErrPacketTooShort)
}

func TestParseHeaderRejectsNonResponse(t *testing.T) {
	packet, err := Query(1, "example.com", TypeA)
	require.NoError(t, err)
	_, _, _, _, _, err = ParseHeader(packet) // QR bit unset: this is a query, not a response
	assert.ErrorIs(t, err, ErrNotResponse)
}

// buildFixtureWithMiekg builds a realistic compressed-name response
// using github.com/miekg/dns, independent of this package's own
// encoder, to cross-check SkipName/ParseRecords against a real DNS
// library's wire output (spec.md §8 "DNS packet encode/decode").
func buildFixtureWithMiekg(t *testing.T) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion("example.test.", dns.TypeA)
	m.Response = true
	m.Compress = true
	m.Answer = append(m.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: "example.test.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   []byte{93, 184, 216, 34},
	})
	raw, err := m.Pack()
	require.NoError(t, err)
	return raw
}

func TestParseRecordsAgainstMiekgFixture(t *testing.T) {
	packet := buildFixtureWithMiekg(t)

	hdr, qd, an, _, _, err := ParseHeader(packet)
	require.NoError(t, err)
	require.Equal(t, 1, qd)
	require.Equal(t, 1, an)

	offset, err := SkipName(packet, HeaderLen)
	require.NoError(t, err)
	offset += 4 // QTYPE + QCLASS

	records, _, err := ParseRecords(packet, offset, hdr.ANCount)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint16(TypeA), records[0].Type)
	assert.Equal(t, uint32(300), records[0].TTL)
	assert.Equal(t, []byte{93, 184, 216, 34}, records[0].Data)
}

func TestOurEncodedQueryParsesWithMiekg(t *testing.T) {
	packet, err := Query(0xABCD, "example.test", TypeAAAA)
	require.NoError(t, err)

	var m dns.Msg
	require.NoError(t, m.Unpack(packet))
	require.Len(t, m.Question, 1)
	assert.Equal(t, "example.test.", m.Question[0].Name)
	assert.Equal(t, dns.TypeAAAA, m.Question[0].Qtype)
	assert.Equal(t, uint16(0xABCD), m.Id)
}

func TestSkipNameRejectsForwardPointer(t *testing.T) {
	packet := make([]byte, HeaderLen+4)
	packet[HeaderLen] = 0xC0
	packet[HeaderLen+1] = 0xFF // points far forward / out of range
	_, err := SkipName(packet, HeaderLen)
	assert.ErrorIs(t, err, ErrMalformedName)
}

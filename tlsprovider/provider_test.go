// SPDX-License-Identifier: GPL-3.0-or-later

package tlsprovider

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string   { return "i/o timeout" }
func (fakeTimeoutError) Timeout() bool   { return true }
func (fakeTimeoutError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	assert.Equal(t, ResultNone, classify(nil, ResultWantRead))
	assert.Equal(t, ResultWantRead, classify(fakeTimeoutError{}, ResultWantRead))
	assert.Equal(t, ResultWantWrite, classify(fakeTimeoutError{}, ResultWantWrite))
	assert.Equal(t, ResultShutdown, classify(io.EOF, ResultWantRead))
	assert.Equal(t, ResultFatal, classify(errors.New("boom"), ResultWantRead))
}

func TestResultString(t *testing.T) {
	cases := map[Result]string{
		ResultNone:      "none",
		ResultWantRead:  "want-read",
		ResultWantWrite: "want-write",
		ResultShutdown:  "shutdown",
		ResultFatal:     "fatal",
		Result(99):      "unknown",
	}
	for result, want := range cases {
		assert.Equal(t, want, result.String())
	}
}

func TestErrorKindStringAndIs(t *testing.T) {
	err := &Error{Kind: KindWriteFailed, Err: errors.New("short write")}
	assert.Contains(t, err.Error(), "write-failed")
	assert.Contains(t, err.Error(), "short write")
	assert.True(t, errors.Is(err, ErrWriteFailed))
	assert.False(t, errors.Is(err, ErrFatalShutdown))
	assert.Equal(t, err.Err, err.Unwrap())
}

// selfSignedCert generates a minimal, short-lived certificate for a
// loopback TLS handshake test; no pack example does this directly, but
// it is the standard crypto/tls idiom for testing without touching the
// network beyond localhost.
func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestStdlibProviderHandshakeAndRoundTrip(t *testing.T) {
	cert := selfSignedCert(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer raw.Close()
		srv := tls.Server(raw, &tls.Config{Certificates: []tls.Certificate{cert}})
		if err := srv.Handshake(); err != nil {
			serverDone <- err
			return
		}
		buf := make([]byte, 5)
		if _, err := io.ReadFull(srv, buf); err != nil {
			serverDone <- err
			return
		}
		if _, err := srv.Write(buf); err != nil {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	tcpConn, ok := client.(*net.TCPConn)
	require.True(t, ok)
	file, err := tcpConn.File()
	require.NoError(t, err)
	defer file.Close()
	client.Close() // the dup'd fd in file keeps the connection alive

	provider := &StdlibProvider{
		Config:      &tls.Config{InsecureSkipVerify: true},
		PollQuantum: 20 * time.Millisecond,
	}
	session, err := provider.ConnectionCreate(provider.ClientCreate(), int(file.Fd()), "127.0.0.1")
	require.NoError(t, err)
	defer session.Close()

	var result Result
	for i := 0; i < 50; i++ {
		result = session.Connect()
		if result != ResultWantRead && result != ResultWantWrite {
			break
		}
	}
	require.Equal(t, ResultNone, result)

	n, sendResult := session.Send([]byte("hello"))
	require.Equal(t, ResultNone, sendResult)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	got := 0
	for i := 0; i < 50 && got < len(buf); i++ {
		n, recvResult := session.Recv(buf[got:])
		got += n
		if recvResult == ResultFatal || recvResult == ResultShutdown {
			break
		}
	}
	assert.Equal(t, "hello", string(buf[:got]))
	require.NoError(t, <-serverDone)
}

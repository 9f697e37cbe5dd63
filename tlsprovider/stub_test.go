// SPDX-License-Identifier: GPL-3.0-or-later

package tlsprovider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubSessionDefaults(t *testing.T) {
	s := &StubSession{}
	assert.Equal(t, ResultNone, s.Connect())
	n, res := s.Send([]byte("hello"))
	assert.Equal(t, 5, n)
	assert.Equal(t, ResultNone, res)
	n, res = s.Recv(make([]byte, 16))
	assert.Equal(t, 0, n)
	assert.Equal(t, ResultNone, res)
	assert.NoError(t, s.Close())
	assert.Equal(t, []string{"Connect", "Send", "Recv", "Close"}, s.CallSequence)
}

func TestSequencedResultsHandshakeDance(t *testing.T) {
	s := &StubSession{ConnectFunc: SequencedResults(ResultWantRead, ResultWantWrite, ResultNone)}
	assert.Equal(t, ResultWantRead, s.Connect())
	assert.Equal(t, ResultWantWrite, s.Connect())
	assert.Equal(t, ResultNone, s.Connect())
	// Exhausted: keeps returning the last scripted result.
	assert.Equal(t, ResultNone, s.Connect())
}

func TestStubProviderConnectionCreateDefault(t *testing.T) {
	p := &StubProvider{}
	assert.Nil(t, p.ClientCreate())
	session, err := p.ConnectionCreate(nil, 7, "example.com")
	require.NoError(t, err)
	_, ok := session.(*StubSession)
	assert.True(t, ok)
}

func TestStubProviderScripted(t *testing.T) {
	wantCtx := "ctx"
	var gotSock int
	var gotHost string
	p := &StubProvider{
		ClientCreateFunc: func() ClientCtx { return wantCtx },
		ConnectionCreateFunc: func(ctx ClientCtx, sock int, host string) (Session, error) {
			gotSock, gotHost = sock, host
			return &StubSession{ConnectFunc: func() Result { return ResultFatal }}, nil
		},
	}
	assert.Equal(t, wantCtx, p.ClientCreate())
	session, err := p.ConnectionCreate(p.ClientCreate(), 42, "example.test")
	require.NoError(t, err)
	assert.Equal(t, 42, gotSock)
	assert.Equal(t, "example.test", gotHost)
	assert.Equal(t, ResultFatal, session.Connect())
}

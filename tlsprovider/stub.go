// SPDX-License-Identifier: GPL-3.0-or-later

package tlsprovider

// StubProvider is a scriptable [Provider] fake, grounded on the
// teacher's external tlsstub.FuncTLSEngine test double: a struct of
// function fields that let each test script exactly the calls it
// cares about and fall back to a sane zero value otherwise. Built
// locally rather than depending on tlsstub itself, which this module
// cannot fetch (see DESIGN.md).
type StubProvider struct {
	// ClientCreateFunc backs [Provider.ClientCreate]. If nil, returns nil.
	ClientCreateFunc func() ClientCtx

	// ConnectionCreateFunc backs [Provider.ConnectionCreate]. If nil,
	// returns a [*StubSession] with every method defaulting to
	// [ResultNone]/success.
	ConnectionCreateFunc func(ctx ClientCtx, sock int, host string) (Session, error)
}

var _ Provider = &StubProvider{}

func (p *StubProvider) ClientCreate() ClientCtx {
	if p.ClientCreateFunc != nil {
		return p.ClientCreateFunc()
	}
	return nil
}

func (p *StubProvider) ConnectionCreate(ctx ClientCtx, sock int, host string) (Session, error) {
	if p.ConnectionCreateFunc != nil {
		return p.ConnectionCreateFunc(ctx, sock, host)
	}
	return &StubSession{}, nil
}

// StubSession is a scriptable [Session] fake, grounded on the
// teacher's external tlsstub.FuncTLSConn test double.
//
// Each *Func field scripts one call; ConnectFunc/SendFunc/RecvFunc
// default to reporting immediate success if left nil (SendFunc
// reports the full buffer written; RecvFunc reports zero bytes read,
// matching a connection with nothing pending).
type StubSession struct {
	ConnectFunc func() Result
	SendFunc    func(b []byte) (int, Result)
	RecvFunc    func(b []byte) (int, Result)
	CloseFunc   func() error

	// CallSequence records every method invoked, in order, so tests can
	// assert on the exact shape of a handshake/send/recv dance without
	// re-deriving it from call counts.
	CallSequence []string
}

var _ Session = &StubSession{}

func (s *StubSession) Connect() Result {
	s.CallSequence = append(s.CallSequence, "Connect")
	if s.ConnectFunc != nil {
		return s.ConnectFunc()
	}
	return ResultNone
}

func (s *StubSession) Send(b []byte) (int, Result) {
	s.CallSequence = append(s.CallSequence, "Send")
	if s.SendFunc != nil {
		return s.SendFunc(b)
	}
	return len(b), ResultNone
}

func (s *StubSession) Recv(b []byte) (int, Result) {
	s.CallSequence = append(s.CallSequence, "Recv")
	if s.RecvFunc != nil {
		return s.RecvFunc(b)
	}
	return 0, ResultNone
}

func (s *StubSession) Close() error {
	s.CallSequence = append(s.CallSequence, "Close")
	if s.CloseFunc != nil {
		return s.CloseFunc()
	}
	return nil
}

// SequencedResults returns a ConnectFunc that replays results in
// order, repeating the last one once exhausted — the shape spec.md §8
// scenario 5 needs ("a mock TLS provider that returns WantRead then
// WantWrite then None across three invocations").
func SequencedResults(results ...Result) func() Result {
	i := 0
	return func() Result {
		r := results[i]
		if i < len(results)-1 {
			i++
		}
		return r
	}
}

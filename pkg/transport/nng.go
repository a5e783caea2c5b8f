package transport

import (
	"errors"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/sub"

	// Register all transports (tcp, ipc, inproc, ...)
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

func init() {
	RegisterFactory("nng", func() SocketFactory { return NNGSocketFactory{} })
}

// nngSocket wraps a mangos.Socket
type nngSocket struct {
	sock mangos.Socket
}

func (s *nngSocket) Send(data []byte) error {
	return s.sock.Send(data)
}

func (s *nngSocket) Recv() ([]byte, error) {
	data, err := s.sock.Recv()
	if errors.Is(err, mangos.ErrRecvTimeout) {
		return nil, ErrRecvTimeout
	}
	if errors.Is(err, mangos.ErrClosed) {
		return nil, ErrClosed
	}
	return data, err
}

func (s *nngSocket) Close() error {
	return s.sock.Close()
}

func (s *nngSocket) SetRecvDeadline(d time.Duration) error {
	return s.sock.SetOption(mangos.OptionRecvDeadline, d)
}

func (s *nngSocket) SetSendDeadline(d time.Duration) error {
	return s.sock.SetOption(mangos.OptionSendDeadline, d)
}

func (s *nngSocket) Listen(addr string) error {
	return s.sock.Listen(addr)
}

// Dial connects asynchronously so a peer that is not up yet is retried by
// mangos instead of failing startup
func (s *nngSocket) Dial(addr string) error {
	return s.sock.DialOptions(addr, map[string]any{mangos.OptionDialAsynch: true})
}

func (s *nngSocket) Subscribe(prefix []byte) error {
	return s.sock.SetOption(mangos.OptionSubscribe, prefix)
}

// NNGSocketFactory creates pure-Go mangos sockets
type NNGSocketFactory struct{}

func (NNGSocketFactory) NewPubSocket() (ListenSocket, error) {
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, err
	}
	return &nngSocket{sock: sock}, nil
}

func (NNGSocketFactory) NewSubSocket() (SubscribeSocket, error) {
	sock, err := sub.NewSocket()
	if err != nil {
		return nil, err
	}
	return &nngSocket{sock: sock}, nil
}

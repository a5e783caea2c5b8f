//go:build zmq
// +build zmq

package transport

import (
	"errors"
	"strings"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
)

func init() {
	RegisterFactory("zmq", func() SocketFactory { return ZMQSocketFactory{} })
}

// zmqSocket wraps a ZeroMQ socket. A zmq socket must only be used from one
// goroutine at a time; Fabric serialises sends and confines the SUB socket
// to its receive loop.
type zmqSocket struct {
	sock *zmq.Socket
}

func (s *zmqSocket) Send(data []byte) error {
	_, err := s.sock.SendBytes(data, 0)
	return err
}

func (s *zmqSocket) Recv() ([]byte, error) {
	data, err := s.sock.RecvBytes(0)
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) || zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
			return nil, ErrRecvTimeout
		}
		if zmq.AsErrno(err) == zmq.ETERM {
			return nil, ErrClosed
		}
		return nil, err
	}
	return data, nil
}

func (s *zmqSocket) Close() error {
	return s.sock.Close()
}

func (s *zmqSocket) SetRecvDeadline(d time.Duration) error {
	return s.sock.SetRcvtimeo(d)
}

func (s *zmqSocket) SetSendDeadline(d time.Duration) error {
	return s.sock.SetSndtimeo(d)
}

// Listen binds addr. mangos-style wildcard hosts ("tcp://:7001") are
// rewritten to ZeroMQ's "tcp://*:7001".
func (s *zmqSocket) Listen(addr string) error {
	if strings.HasPrefix(addr, "tcp://:") {
		addr = "tcp://*" + strings.TrimPrefix(addr, "tcp://")
	}
	return s.sock.Bind(addr)
}

func (s *zmqSocket) Dial(addr string) error {
	return s.sock.Connect(addr)
}

func (s *zmqSocket) Subscribe(prefix []byte) error {
	return s.sock.SetSubscribe(string(prefix))
}

// ZMQSocketFactory creates libzmq sockets. Built only with -tags zmq.
type ZMQSocketFactory struct{}

func (ZMQSocketFactory) NewPubSocket() (ListenSocket, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	return &zmqSocket{sock: sock}, nil
}

func (ZMQSocketFactory) NewSubSocket() (SubscribeSocket, error) {
	sock, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, err
	}
	return &zmqSocket{sock: sock}, nil
}

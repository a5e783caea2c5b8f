package transport

import (
	"io"
	"time"
)

// Socket is a messaging socket. Implementations wrap mangos or ZeroMQ; tests
// use an in-memory fake.
type Socket interface {
	io.Closer
	Send([]byte) error
	// Recv returns ErrRecvTimeout when the receive deadline passes
	Recv() ([]byte, error)
	SetRecvDeadline(d time.Duration) error
	SetSendDeadline(d time.Duration) error
}

// ListenSocket is a socket that binds an address
type ListenSocket interface {
	Socket
	Listen(addr string) error
}

// SubscribeSocket is a SUB socket that dials publishers and filters by topic
// prefix
type SubscribeSocket interface {
	Socket
	Dial(addr string) error
	Subscribe(prefix []byte) error
}

// SocketFactory creates the two sockets a node needs
type SocketFactory interface {
	NewPubSocket() (ListenSocket, error)
	NewSubSocket() (SubscribeSocket, error)
}

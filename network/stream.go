// Package network implements the cluster transport: a fixed roster of
// server and client peers addressed by (pid, role), length-prefixed JSON
// framing over TCP (optionally TLS), and link-failure injection for
// testing partition and recovery behavior.
package network

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/duskmere/paxokv/codec"
	"github.com/duskmere/paxokv/paxosproto"
)

// Stream is the minimal send/receive/close surface the Messenger needs
// from a connection. tcpStream is the only implementation; the replica and
// client tests fake the higher-level Transport interface instead of a
// Stream.
type Stream interface {
	Send(msg paxosproto.Message) error
	Receive() (paxosproto.Message, error)
	Close() error
}

// readDeadline bounds a single Receive call so a stalled peer cannot block
// a reader goroutine forever.
const readDeadline = 60 * time.Second

// tcpStream is the real Stream implementation: length-prefixed JSON frames
// over a net.Conn, optionally wrapped in TLS by the caller.
type tcpStream struct {
	conn net.Conn
	mu   sync.Mutex

	reader *bufio.Reader
}

// newTCPStream wraps an established connection as a Stream.
func newTCPStream(conn net.Conn) *tcpStream {
	return &tcpStream{conn: conn, reader: codec.NewReader(conn)}
}

// dial connects to addr, using TLS if cfg is non-nil.
func dial(addr string, cfg *tls.Config) (*tcpStream, error) {
	var conn net.Conn
	var err error
	if cfg != nil {
		conn, err = tls.Dial("tcp", addr, cfg)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("network: dial %s: %w", addr, err)
	}
	return newTCPStream(conn), nil
}

func (s *tcpStream) Send(msg paxosproto.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return codec.Encode(s.conn, msg)
}

func (s *tcpStream) Receive() (paxosproto.Message, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))
	var msg paxosproto.Message
	if err := codec.Decode(s.reader, &msg); err != nil {
		return paxosproto.Message{}, err
	}
	return msg, nil
}

func (s *tcpStream) Close() error {
	return s.conn.Close()
}

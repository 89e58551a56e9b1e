package server

import (
	"bufio"
	"io"
	"net"
	"sync"
)

// MaxLineBytes bounds a single request line.
const MaxLineBytes = 1 << 20

// Transport carries protocol lines for one client. ReadLine returns io.EOF
// when the peer goes away.
type Transport interface {
	ReadLine() ([]byte, error)
	WriteLine(line []byte) error
	Close() error
	RemoteAddr() string
}

type lineTransport struct {
	conn    net.Conn
	scanner *bufio.Scanner
	wmu     sync.Mutex
}

// NewLineTransport wraps a stream connection speaking newline-delimited lines.
func NewLineTransport(conn net.Conn) Transport {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), MaxLineBytes)
	return &lineTransport{conn: conn, scanner: sc}
}

func (t *lineTransport) ReadLine() ([]byte, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return t.scanner.Bytes(), nil
}

func (t *lineTransport) WriteLine(line []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	_, err := t.conn.Write(line)
	return err
}

func (t *lineTransport) Close() error {
	return t.conn.Close()
}

func (t *lineTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

package adapthttp

import (
	"bytes"
	"io"
	"sync"

	"github.com/gorilla/websocket"

	"conquest/internal/server"
)

// wsTransport carries one protocol line per text frame.
type wsTransport struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	conn.SetReadLimit(server.MaxLineBytes)
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadLine() ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return bytes.TrimRight(data, "\r\n"), nil
		}
	}
}

func (t *wsTransport) WriteLine(line []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, bytes.TrimRight(line, "\n"))
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

package net

import (
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// link moves whole frames over one connection.
type link interface {
	ReadFrame() (byte, []byte, error)
	WriteFrame(flags byte, body []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

type tcpLink struct {
	conn net.Conn
}

func (l tcpLink) ReadFrame() (byte, []byte, error)         { return ReadFrame(l.conn) }
func (l tcpLink) WriteFrame(flags byte, body []byte) error { return WriteFrame(l.conn, flags, body) }
func (l tcpLink) SetReadDeadline(t time.Time) error        { return l.conn.SetReadDeadline(t) }
func (l tcpLink) SetWriteDeadline(t time.Time) error       { return l.conn.SetWriteDeadline(t) }
func (l tcpLink) RemoteAddr() string                       { return l.conn.RemoteAddr().String() }
func (l tcpLink) Close() error                             { return l.conn.Close() }

// wsLink carries one frame per binary message; the message boundary
// replaces the length prefix.
type wsLink struct {
	conn *websocket.Conn
}

func (l wsLink) ReadFrame() (byte, []byte, error) {
	for {
		mt, data, err := l.conn.ReadMessage()
		if err != nil {
			return 0, nil, fmt.Errorf("read ws message: %w", err)
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if len(data) < 2 {
			return 0, nil, fmt.Errorf("invalid ws frame length: %d", len(data))
		}
		return data[0], data[1:], nil
	}
}

func (l wsLink) WriteFrame(flags byte, body []byte) error {
	if len(body) > maxBodySize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 1+len(body))
	buf[0] = flags
	copy(buf[1:], body)
	return l.conn.WriteMessage(websocket.BinaryMessage, buf)
}

func (l wsLink) SetReadDeadline(t time.Time) error  { return l.conn.SetReadDeadline(t) }
func (l wsLink) SetWriteDeadline(t time.Time) error { return l.conn.SetWriteDeadline(t) }
func (l wsLink) RemoteAddr() string                 { return l.conn.RemoteAddr().String() }
func (l wsLink) Close() error                       { return l.conn.Close() }

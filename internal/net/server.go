package net

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server accepts TCP connections and joins them to a Hub.
type Server struct {
	listener net.Listener
	hub      *Hub
	log      *zap.Logger
	closeCh  chan struct{}
}

func Listen(bindAddr string, hub *Hub, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", bindAddr, err)
	}
	return &Server{
		listener: ln,
		hub:      hub,
		log:      log,
		closeCh:  make(chan struct{}),
	}, nil
}

// AcceptLoop runs in its own goroutine until Shutdown.
func (s *Server) AcceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
			}
			s.log.Error("accept failed", zap.Error(err))
			continue
		}
		go func() {
			if _, err := s.hub.accept(tcpLink{conn: conn}); err != nil {
				s.log.Info("join refused", zap.String("addr", conn.RemoteAddr().String()), zap.Error(err))
			}
		}()
	}
}

func (s *Server) Shutdown() {
	close(s.closeCh)
	s.listener.Close()
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// WSHandler upgrades HTTP requests to WebSocket peers of a Hub.
type WSHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewWSHandler(hub *Hub, log *zap.Logger) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	if _, err := h.hub.accept(wsLink{conn: conn}); err != nil {
		h.log.Info("ws join refused", zap.String("addr", r.RemoteAddr), zap.Error(err))
	}
}

// Dial connects a client node to the server at addr over TCP. It returns
// the client's hub, whose only peer is the server, and the assigned id.
func Dial(ctx context.Context, addr, secret string, opts Options, log *zap.Logger) (*Hub, uint32, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("dial %s: %w", addr, err)
	}
	return join(tcpLink{conn: conn}, secret, opts, log)
}

// DialWebSocket is Dial over a ws:// or wss:// url.
func DialWebSocket(ctx context.Context, url, secret string, opts Options, log *zap.Logger) (*Hub, uint32, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("dial %s: %w", url, err)
	}
	return join(wsLink{conn: conn}, secret, opts, log)
}

func join(l link, secret string, opts Options, log *zap.Logger) (*Hub, uint32, error) {
	hub := NewHub(opts, log)
	l.SetWriteDeadline(time.Now().Add(hub.opts.WriteTimeout))
	if err := l.WriteFrame(0, encodeHello(secret)); err != nil {
		l.Close()
		return nil, 0, fmt.Errorf("write hello: %w", err)
	}
	l.SetReadDeadline(time.Now().Add(hub.opts.HandshakeTimeout))
	flags, body, err := l.ReadFrame()
	if err != nil {
		l.Close()
		return nil, 0, fmt.Errorf("read welcome: %w", err)
	}
	data, err := DecodeBody(flags, body)
	if err != nil {
		l.Close()
		return nil, 0, fmt.Errorf("read welcome: %w", err)
	}
	id, err := decodeReply(data)
	if err != nil {
		l.Close()
		return nil, 0, err
	}
	l.SetReadDeadline(time.Time{})
	hub.attach(l)
	log.Info("joined server", zap.Uint32("client_id", id))
	return hub, id, nil
}

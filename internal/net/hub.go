package net

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/netrepl/internal/replication"
)

// maxPendingJoins caps peers that completed the handshake but were not yet
// taken by the node loop.
const maxPendingJoins = 64

// Hub owns the connected peers of one node and implements
// replication.Transport over them. A new peer stays hidden from Peers,
// Send and Drain until the node loop takes it with TakeJoined.
// Departures are reported on a channel.
type Hub struct {
	opts Options
	log  *zap.Logger

	mu       sync.RWMutex
	sessions map[uint32]*Session
	pending  []uint32
	nextID   atomic.Uint32

	left chan uint32
}

var _ replication.Transport = (*Hub)(nil)

func NewHub(opts Options, log *zap.Logger) *Hub {
	return &Hub{
		opts:     opts.withDefaults(),
		log:      log,
		sessions: make(map[uint32]*Session, 16),
		left:     make(chan uint32, 64),
	}
}

// accept runs the server side of the join handshake on l and registers the
// new peer with the next client id.
func (h *Hub) accept(l link) (*Session, error) {
	l.SetReadDeadline(time.Now().Add(h.opts.HandshakeTimeout))
	flags, body, err := l.ReadFrame()
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("read hello: %w", err)
	}
	data, err := DecodeBody(flags, body)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("read hello: %w", err)
	}
	version, secret, err := decodeHello(data)
	if err != nil {
		l.Close()
		return nil, err
	}
	if version != ProtocolVersion {
		h.reject(l, "protocol version mismatch")
		return nil, fmt.Errorf("%w: peer %d, local %d", ErrVersionMismatch, version, ProtocolVersion)
	}
	if !checkSecret(h.opts.JoinSecretHash, secret) {
		h.reject(l, "bad join secret")
		return nil, fmt.Errorf("%w: bad join secret from %s", ErrRejected, l.RemoteAddr())
	}

	id := h.nextID.Add(1)
	l.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
	if err := l.WriteFrame(0, encodeWelcome(id)); err != nil {
		l.Close()
		return nil, fmt.Errorf("write welcome: %w", err)
	}
	l.SetReadDeadline(time.Time{})

	s := newSession(l, id, h.opts, h.remove, h.log)
	if !h.add(s) {
		s.Close()
		return nil, fmt.Errorf("%w: join queue full", ErrRejected)
	}
	s.start()
	h.log.Info("peer joined", zap.Uint32("peer", id), zap.String("addr", s.Addr))
	return s, nil
}

func (h *Hub) reject(l link, reason string) {
	l.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
	l.WriteFrame(0, encodeReject(reason))
	l.Close()
}

// attach registers the session to the server on a client node.
func (h *Hub) attach(l link) *Session {
	s := newSession(l, replication.ServerClientID, h.opts, h.remove, h.log)
	h.add(s)
	s.start()
	return s
}

func (h *Hub) add(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) >= maxPendingJoins {
		return false
	}
	h.sessions[s.ID] = s
	h.pending = append(h.pending, s.ID)
	return true
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	if cur, ok := h.sessions[s.ID]; !ok || cur != s {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.ID)
	announced := s.announced
	if !announced {
		h.pending = slices.DeleteFunc(h.pending, func(id uint32) bool { return id == s.ID })
	}
	h.mu.Unlock()
	h.log.Info("peer left", zap.Uint32("peer", s.ID))
	if !announced {
		return
	}
	select {
	case h.left <- s.ID:
	default:
	}
}

// TakeJoined returns the peers that completed the handshake since the last
// call, in join order, and makes them visible to Peers, Send and Drain.
// The caller must announce each one to the replicator before its next Tick.
func (h *Hub) TakeJoined() []uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) == 0 {
		return nil
	}
	ids := h.pending
	h.pending = nil
	for _, id := range ids {
		h.sessions[id].announced = true
	}
	return ids
}

// Left reports ids of taken peers whose connection closed.
func (h *Hub) Left() <-chan uint32 { return h.left }

// Send buffers payload for each target. Unknown and untaken targets are
// skipped.
func (h *Hub) Send(ch replication.Channel, targets []uint32, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range targets {
		if s, ok := h.sessions[id]; ok && s.announced {
			s.Send(ch, payload)
		}
	}
}

// Peers returns the taken, connected peer ids in ascending order.
func (h *Hub) Peers() []uint32 {
	h.mu.RLock()
	ids := make([]uint32, 0, len(h.sessions))
	for id, s := range h.sessions {
		if s.announced && !s.IsClosed() {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (h *Hub) Session(id uint32) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Drain delivers up to limit queued inbound payloads per taken peer to fn
// without blocking. limit <= 0 drains everything queued.
func (h *Hub) Drain(limit int, fn func(sender uint32, payload []byte)) int {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.announced {
			sessions = append(sessions, s)
		}
	}
	h.mu.RUnlock()
	slices.SortFunc(sessions, func(a, b *Session) int { return cmp.Compare(a.ID, b.ID) })

	total := 0
	for _, s := range sessions {
		for n := 0; limit <= 0 || n < limit; n++ {
			select {
			case data := <-s.InQueue:
				fn(s.ID, data)
				total++
				continue
			default:
			}
			break
		}
	}
	return total
}

// Flush pushes every peer's buffered output to its writer.
func (h *Hub) Flush() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()
	for _, s := range sessions {
		s.Flush()
	}
}

// Close disconnects every peer.
func (h *Hub) Close() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()
	for _, s := range sessions {
		s.Close()
	}
}

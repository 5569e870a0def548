package net

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/l1jgo/netrepl/internal/replication"
)

// Options tunes sessions created by a Hub.
type Options struct {
	InQueueSize       int
	OutQueueSize      int
	CompressThreshold int
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	HandshakeTimeout  time.Duration
	// PacketsPerSecond limits inbound frames per peer; 0 disables.
	PacketsPerSecond float64
	Burst            int
	JoinSecretHash   string
}

func (o Options) withDefaults() Options {
	if o.InQueueSize <= 0 {
		o.InQueueSize = 128
	}
	if o.OutQueueSize <= 0 {
		o.OutQueueSize = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.Burst <= 0 {
		o.Burst = int(o.PacketsPerSecond) + 1
	}
	return o
}

type outFrame struct {
	ch   replication.Channel
	data []byte
}

// Session is one connected peer. Reads and writes run in their own
// goroutines; the node loop only touches InQueue and the send buffer.
type Session struct {
	ID   uint32
	Addr string

	link link
	opts Options

	InQueue  chan []byte
	outQueue chan outFrame

	mu     sync.Mutex
	outBuf []outFrame

	limiter *rate.Limiter

	// announced is set once the node loop has taken this peer's join.
	// Guarded by the owning Hub's mutex.
	announced bool

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	onClose   func(*Session)

	log *zap.Logger
}

func newSession(l link, id uint32, opts Options, onClose func(*Session), log *zap.Logger) *Session {
	s := &Session{
		ID:       id,
		Addr:     l.RemoteAddr(),
		link:     l,
		opts:     opts,
		InQueue:  make(chan []byte, opts.InQueueSize),
		outQueue: make(chan outFrame, opts.OutQueueSize),
		closeCh:  make(chan struct{}),
		onClose:  onClose,
		log:      log.With(zap.Uint32("peer", id)),
	}
	if opts.PacketsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.PacketsPerSecond), opts.Burst)
	}
	return s
}

func (s *Session) start() {
	go s.readLoop()
	go s.writeLoop()
}

// Send buffers payload until the next Flush.
func (s *Session) Send(ch replication.Channel, payload []byte) {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	s.outBuf = append(s.outBuf, outFrame{ch: ch, data: payload})
	s.mu.Unlock()
}

// Flush hands buffered payloads to the writer without blocking. A full
// queue drops unreliable payloads and disconnects the peer on a reliable
// one.
func (s *Session) Flush() {
	s.mu.Lock()
	buf := s.outBuf
	s.outBuf = nil
	s.mu.Unlock()

	for _, f := range buf {
		select {
		case s.outQueue <- f:
		default:
			if f.ch == replication.ChannelUnreliable {
				continue
			}
			s.log.Warn("output queue full, disconnecting slow peer")
			s.Close()
			return
		}
	}
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		s.link.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

func (s *Session) readLoop() {
	defer s.Close()
	for {
		if s.opts.ReadTimeout > 0 {
			s.link.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		}
		flags, body, err := s.link.ReadFrame()
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}
		if s.limiter != nil && !s.limiter.Allow() {
			s.log.Warn("inbound rate exceeded, disconnecting")
			return
		}
		payload, err := DecodeBody(flags, body)
		if err != nil {
			s.log.Debug("drop undecodable frame", zap.Error(err))
			continue
		}
		select {
		case s.InQueue <- payload:
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) writeLoop() {
	defer s.Close()
	for {
		select {
		case f := <-s.outQueue:
			flags, body := EncodeBody(f.data, s.opts.CompressThreshold)
			if len(body) > maxBodySize && f.ch == replication.ChannelUnreliable {
				s.log.Warn("drop oversized unreliable frame", zap.Int("size", len(body)))
				continue
			}
			s.link.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := s.link.WriteFrame(flags, body); err != nil {
				if !s.closed.Load() {
					s.log.Debug("write error", zap.Error(err))
				}
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

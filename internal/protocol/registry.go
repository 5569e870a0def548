package protocol

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/l1jgo/netrepl/internal/netstream"
)

var ErrEmptyMessage = errors.New("protocol: empty message")

// HandlerFunc handles one inbound message. sender is the transport's
// identity of the peer that sent it.
type HandlerFunc func(sender uint32, r *netstream.Reader)

// Registry maps message kinds to handlers.
type Registry struct {
	handlers map[Kind]HandlerFunc
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[Kind]HandlerFunc, 8),
		log:      log,
	}
}

// Register maps kind to fn, replacing any previous handler.
func (reg *Registry) Register(kind Kind, fn HandlerFunc) {
	reg.handlers[kind] = fn
}

// Dispatch routes data by its kind tag. Unknown kinds are ignored.
func (reg *Registry) Dispatch(sender uint32, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyMessage
	}
	kind := Kind(data[0])
	fn, ok := reg.handlers[kind]
	if !ok {
		reg.log.Debug("unknown message kind", zap.Uint8("kind", data[0]), zap.Uint32("sender", sender))
		return nil
	}
	return reg.safeCall(fn, sender, netstream.NewMessageReader(data), kind)
}

// safeCall keeps one malformed message from taking down the loop.
func (reg *Registry) safeCall(fn HandlerFunc, sender uint32, r *netstream.Reader, kind Kind) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.Stringer("kind", kind),
				zap.Uint32("sender", sender),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for %s: %v", kind, rec)
		}
	}()
	fn(sender, r)
	return nil
}

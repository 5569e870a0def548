package net

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/l1jgo/netrepl/internal/netstream"
)

// ProtocolVersion must match on both ends of a handshake.
const ProtocolVersion uint16 = 1

// Handshake kinds sit above the replication kinds.
const (
	kindHello   byte = 0xF0
	kindWelcome byte = 0xF1
	kindReject  byte = 0xF2
)

var (
	ErrRejected        = errors.New("net: join rejected")
	ErrBadHandshake    = errors.New("net: malformed handshake")
	ErrVersionMismatch = errors.New("net: protocol version mismatch")
)

func encodeHello(secret string) []byte {
	w := netstream.NewWriterWithKind(kindHello)
	w.WriteU16(ProtocolVersion)
	w.WriteString(secret)
	return w.Bytes()
}

func decodeHello(data []byte) (uint16, string, error) {
	if len(data) == 0 || data[0] != kindHello {
		return 0, "", ErrBadHandshake
	}
	r := netstream.NewMessageReader(data)
	version := r.ReadU16()
	secret := r.ReadString()
	if r.Err() != nil {
		return 0, "", ErrBadHandshake
	}
	return version, secret, nil
}

func encodeWelcome(id uint32) []byte {
	w := netstream.NewWriterWithKind(kindWelcome)
	w.WriteU32(id)
	return w.Bytes()
}

func encodeReject(reason string) []byte {
	w := netstream.NewWriterWithKind(kindReject)
	w.WriteString(reason)
	return w.Bytes()
}

// decodeReply returns the client id from a Welcome or the reason from a
// Reject as an error.
func decodeReply(data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, ErrBadHandshake
	}
	r := netstream.NewMessageReader(data)
	switch data[0] {
	case kindWelcome:
		id := r.ReadU32()
		if r.Err() != nil {
			return 0, ErrBadHandshake
		}
		return id, nil
	case kindReject:
		reason := r.ReadString()
		return 0, fmt.Errorf("%w: %s", ErrRejected, reason)
	default:
		return 0, ErrBadHandshake
	}
}

// checkSecret verifies a join secret against a bcrypt hash. An empty hash
// admits everyone.
func checkSecret(hash, secret string) bool {
	if hash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// HashSecret produces the join_secret_hash value for a secret.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash join secret: %w", err)
	}
	return string(hash), nil
}

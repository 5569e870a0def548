package net

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Frame layout: [u16 LE total length incl. header][u8 flags][body].
const (
	frameHeaderSize = 3
	maxFrameSize    = 0xFFFF
	maxBodySize     = maxFrameSize - frameHeaderSize

	FlagCompressed byte = 1 << 0
)

var ErrFrameTooLarge = errors.New("net: frame exceeds 65535 bytes")

// ReadFrame reads one frame from r and returns its flags and raw body.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("read frame header: %w", err)
	}
	total := int(binary.LittleEndian.Uint16(header[:2]))
	bodyLen := total - frameHeaderSize
	if bodyLen <= 0 {
		return 0, nil, fmt.Errorf("invalid frame length: %d", total)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("read frame body (%d bytes): %w", bodyLen, err)
	}
	return header[2], body, nil
}

// WriteFrame writes body with flags as one frame in a single write.
func WriteFrame(w io.Writer, flags byte, body []byte) error {
	if len(body) > maxBodySize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, frameHeaderSize+len(body))
	binary.LittleEndian.PutUint16(buf[:2], uint16(len(buf)))
	buf[2] = flags
	copy(buf[frameHeaderSize:], body)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// EncodeBody compresses payload when it is at least threshold bytes and
// compression actually shrinks it. threshold <= 0 disables compression.
func EncodeBody(payload []byte, threshold int) (byte, []byte) {
	if threshold <= 0 || len(payload) < threshold {
		return 0, payload
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return 0, payload
	}
	if err := zw.Close(); err != nil {
		return 0, payload
	}
	if buf.Len() >= len(payload) {
		return 0, payload
	}
	return FlagCompressed, buf.Bytes()
}

// DecodeBody reverses EncodeBody.
func DecodeBody(flags byte, body []byte) ([]byte, error) {
	if flags&FlagCompressed == 0 {
		return body, nil
	}
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
	if err != nil {
		return nil, fmt.Errorf("lz4 decode: %w", err)
	}
	return out, nil
}

// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

// Package openflow implements the fixed 8-byte OpenFlow message header, which
// is all the framing the proxy needs to cut the control channel into whole
// messages. Message bodies stay opaque.
package openflow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the size of the fixed OpenFlow header. Every OpenFlow
// message, in every protocol version, starts with it.
const HeaderLen = 8

// Wire protocol versions.
const (
	Version10 = 0x01 // OpenFlow 1.0
	Version13 = 0x04 // OpenFlow 1.3
	Version14 = 0x05 // OpenFlow 1.4
	Version15 = 0x06 // OpenFlow 1.5
)

// Message types stable across all OpenFlow versions.
const (
	TypeHello       = 0
	TypeError       = 1
	TypeEchoRequest = 2
	TypeEchoReply   = 3
)

var (
	// ErrShortHeader is returned when fewer than HeaderLen bytes are available.
	ErrShortHeader = errors.New("openflow: short header")

	// ErrBadLength is returned when the header length field is smaller
	// than the header itself.
	ErrBadLength = errors.New("openflow: header length below minimum")

	// ErrTooLong is returned when a message exceeds MaxMessageLen.
	ErrTooLong = errors.New("openflow: message exceeds maximum length")
)

// MaxMessageLen bounds a single message. The length field is 16 bits, so
// this is the largest value a conforming peer can encode anyway.
const MaxMessageLen = 1<<16 - 1

// Header is the fixed OpenFlow message header.
type Header struct {
	Version uint8
	Type    uint8
	Length  uint16 // total message length, header included
	XID     uint32 // transaction ID correlating requests and replies
}

// ParseHeader decodes the fixed header from the start of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, ErrShortHeader
	}
	h := Header{
		Version: buf[0],
		Type:    buf[1],
		Length:  binary.BigEndian.Uint16(buf[2:4]),
		XID:     binary.BigEndian.Uint32(buf[4:8]),
	}
	if h.Length < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d", ErrBadLength, h.Length)
	}
	return h, nil
}

// Marshal encodes the header into an 8-byte slice.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = h.Version
	buf[1] = h.Type
	binary.BigEndian.PutUint16(buf[2:4], h.Length)
	binary.BigEndian.PutUint32(buf[4:8], h.XID)
	return buf
}

// String returns a compact representation for logging.
func (h Header) String() string {
	return fmt.Sprintf("of{v=%d type=%d len=%d xid=%#x}", h.Version, h.Type, h.Length, h.XID)
}

// ReadMessage reads exactly one OpenFlow message from r and returns its raw
// bytes, header included. It returns io.EOF when r is cleanly at end of
// stream and io.ErrUnexpectedEOF when the stream ends mid-message.
func ReadMessage(r io.Reader) ([]byte, Header, error) {
	var hbuf [HeaderLen]byte
	if _, err := io.ReadFull(r, hbuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, Header{}, io.ErrUnexpectedEOF
		}
		return nil, Header{}, err
	}

	h, err := ParseHeader(hbuf[:])
	if err != nil {
		return nil, Header{}, err
	}

	msg := make([]byte, h.Length)
	copy(msg, hbuf[:])
	if _, err := io.ReadFull(r, msg[HeaderLen:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, Header{}, io.ErrUnexpectedEOF
		}
		return nil, Header{}, err
	}

	return msg, h, nil
}

// NewHello builds a minimal HELLO message for the given protocol version.
// Handy for tests and for tools that need to speak just enough OpenFlow to
// open a channel.
func NewHello(version uint8, xid uint32) []byte {
	return Header{Version: version, Type: TypeHello, Length: HeaderLen, XID: xid}.Marshal()
}

// Package cec implements the binary record formats of the 3DS CEC
// (StreetPass) service: message records, mailbox lists and the 12-byte
// calendar timestamps embedded in them. Everything is little-endian and
// offset-exact; parsing never reads past the supplied buffer.
package cec

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const (
	// MessageMagic is the 2-byte constant at the start of every message
	// record ("``").
	MessageMagic = 0x6060

	// MessageHeaderSize is the size of the fixed message header.
	MessageHeaderSize = 0x70

	// MaxMessageSize bounds a full message record (header + extra
	// headers + body).
	MaxMessageSize = 0x20000
)

// Message header field offsets.
const (
	offSize         = 0x04
	offHeaderSize   = 0x08
	offBodySize     = 0x0C
	offTitleID      = 0x10
	offBatchID      = 0x18
	offMessageID    = 0x20
	offMessageID2   = 0x2C
	offSendMethod   = 0x35
	offUnopened     = 0x36
	offNewFlag      = 0x37
	offSenderID     = 0x38
	offSent         = 0x48
	offReceived     = 0x54
	offCreated      = 0x60
	offSendCount    = 0x6C
	offForwardCount = 0x6D
)

// UnlimitedSendCount marks a message whose retransmission budget is
// never decremented.
const UnlimitedSendCount = 0xFF

// Message is a CEC message record over a raw byte buffer. A buffer of
// exactly MessageHeaderSize bytes is a header-only record; Body and
// ExtraHeaders are empty for it. Setters mutate the buffer in place and
// never change its length.
type Message struct {
	data []byte
}

// ExtraHeader is one entry of the chained extra-header region between
// the fixed header and the body.
type ExtraHeader struct {
	Type uint32
	Data []byte
}

// ParseMessage wraps buf as a message record. It requires at least the
// fixed header and the message magic; all other validation is left to
// ValidateHeader / Validate so that callers can inspect malformed
// records.
func ParseMessage(buf []byte) (*Message, error) {
	if len(buf) < MessageHeaderSize {
		return nil, fmt.Errorf("message truncated: %d bytes, need %d", len(buf), MessageHeaderSize)
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != MessageMagic {
		return nil, fmt.Errorf("bad message magic %#04x", binary.LittleEndian.Uint16(buf[0:2]))
	}
	return &Message{data: buf}, nil
}

// Bytes returns the underlying buffer. It is not a copy; mutating the
// message mutates the returned slice.
func (m *Message) Bytes() []byte { return m.data }

// Size is the declared total record size.
func (m *Message) Size() uint32 { return binary.LittleEndian.Uint32(m.data[offSize:]) }

// TotalHeaderSize is the declared size of the fixed header plus the
// extra-header chain.
func (m *Message) TotalHeaderSize() uint32 { return binary.LittleEndian.Uint32(m.data[offHeaderSize:]) }

// BodySize is the declared body size.
func (m *Message) BodySize() uint32 { return binary.LittleEndian.Uint32(m.data[offBodySize:]) }

// TitleID is the owning application of the message.
func (m *Message) TitleID() uint32 { return binary.LittleEndian.Uint32(m.data[offTitleID:]) }

func (m *Message) BatchID() uint32 { return binary.LittleEndian.Uint32(m.data[offBatchID:]) }

func (m *Message) SetBatchID(v uint32) { binary.LittleEndian.PutUint32(m.data[offBatchID:], v) }

// MessageID identifies the message within the sender's outbox.
func (m *Message) MessageID() int64 {
	return int64(binary.LittleEndian.Uint64(m.data[offMessageID:]))
}

func (m *Message) SetMessageID(v int64) {
	binary.LittleEndian.PutUint64(m.data[offMessageID:], uint64(v))
}

// MessageID2 links a message to its counterpart when a bidirectional
// pairing was performed.
func (m *Message) MessageID2() int64 {
	return int64(binary.LittleEndian.Uint64(m.data[offMessageID2:]))
}

func (m *Message) SetMessageID2(v int64) {
	binary.LittleEndian.PutUint64(m.data[offMessageID2:], uint64(v))
}

// SendMethod is the delivery-mode enum. 0 requires a reciprocal message
// for the same title on the peer; 1 and 3 deliver one-sided.
func (m *Message) SendMethod() uint8 { return m.data[offSendMethod] }

func (m *Message) Unopened() bool { return m.data[offUnopened] != 0 }

func (m *Message) NewFlag() bool { return m.data[offNewFlag] != 0 }

func (m *Message) SenderID() uint64 { return binary.LittleEndian.Uint64(m.data[offSenderID:]) }

// SendCount is the remaining retransmission budget. UnlimitedSendCount
// never decrements; zero retires the message.
func (m *Message) SendCount() uint8 { return m.data[offSendCount] }

func (m *Message) SetSendCount(v uint8) { m.data[offSendCount] = v }

// ForwardCount is the per-hop counter, decremented on every relay hop.
func (m *Message) ForwardCount() uint8 { return m.data[offForwardCount] }

func (m *Message) SetForwardCount(v uint8) { m.data[offForwardCount] = v }

func (m *Message) SentAt() Timestamp { return decodeTimestamp(m.data[offSent:]) }

func (m *Message) SetSentAt(ts Timestamp) { ts.encode(m.data[offSent:]) }

func (m *Message) ReceivedAt() Timestamp { return decodeTimestamp(m.data[offReceived:]) }

func (m *Message) CreatedAt() Timestamp { return decodeTimestamp(m.data[offCreated:]) }

// ValidateHeader checks the size arithmetic of the fixed header:
// size == total_header_size + body_size + 0x20 and size < MaxMessageSize.
// It does not require the buffer to hold the full record.
func (m *Message) ValidateHeader() bool {
	return binary.LittleEndian.Uint16(m.data[0:2]) == MessageMagic &&
		m.Size() == m.TotalHeaderSize()+m.BodySize()+0x20 &&
		m.Size() < MaxMessageSize
}

// Validate reports whether the record is fully valid: header arithmetic
// holds and the declared size matches the actual buffer length. This is
// the defense against truncated or padded uploads.
func (m *Message) Validate() bool {
	return m.ValidateHeader() && m.Size() == uint32(len(m.data))
}

// ExtraHeaders walks the self-describing extra-header chain starting at
// the end of the fixed header. A chain that runs past the declared
// header size or the buffer is treated as truncated: the walk stops and
// the entries read so far are returned.
func (m *Message) ExtraHeaders() []ExtraHeader {
	if len(m.data) <= MessageHeaderSize {
		return nil
	}
	end := int(m.TotalHeaderSize())
	if end > len(m.data) {
		end = len(m.data)
	}
	var out []ExtraHeader
	off := MessageHeaderSize
	for off+8 <= end {
		typ := binary.LittleEndian.Uint32(m.data[off:])
		size := int(binary.LittleEndian.Uint32(m.data[off+4:]))
		if size < 0 || off+8+size > end {
			break
		}
		out = append(out, ExtraHeader{Type: typ, Data: m.data[off+8 : off+8+size]})
		off += 8 + size
	}
	return out
}

// Body returns the message body, or nil for a header-only record. A
// body that runs past the buffer is clamped.
func (m *Message) Body() []byte {
	if len(m.data) <= MessageHeaderSize {
		return nil
	}
	start := int(m.TotalHeaderSize())
	if start > len(m.data) {
		return nil
	}
	stop := start + int(m.BodySize())
	if stop > len(m.data) {
		stop = len(m.data)
	}
	return m.data[start:stop]
}

// IntegrityHash is the SHA-256 digest of the fixed header, used by
// clients to verify a relayed record was not tampered with in transit.
func (m *Message) IntegrityHash() [sha256.Size]byte {
	return sha256.Sum256(m.data[:MessageHeaderSize])
}

// VerifyIntegrityHash compares digest against the header hash.
func (m *Message) VerifyIntegrityHash(digest []byte) bool {
	want := m.IntegrityHash()
	if len(digest) != len(want) {
		return false
	}
	for i := range want {
		if digest[i] != want[i] {
			return false
		}
	}
	return true
}

package cec

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildRecord assembles a message buffer: fixed header, extra-header
// region, body, 0x20-byte trailer, with the size fields consistent.
type recordSpec struct {
	titleID      uint32
	messageID    int64
	sendMethod   uint8
	sendCount    uint8
	forwardCount uint8
	senderID     uint64
	extra        []byte
	body         []byte
}

func buildRecord(spec recordSpec) []byte {
	headerSize := MessageHeaderSize + len(spec.extra)
	total := headerSize + len(spec.body) + 0x20
	buf := make([]byte, total)
	binary.LittleEndian.PutUint16(buf[0:2], MessageMagic)
	binary.LittleEndian.PutUint32(buf[offSize:], uint32(total))
	binary.LittleEndian.PutUint32(buf[offHeaderSize:], uint32(headerSize))
	binary.LittleEndian.PutUint32(buf[offBodySize:], uint32(len(spec.body)))
	binary.LittleEndian.PutUint32(buf[offTitleID:], spec.titleID)
	binary.LittleEndian.PutUint64(buf[offMessageID:], uint64(spec.messageID))
	buf[offSendMethod] = spec.sendMethod
	buf[offSendCount] = spec.sendCount
	buf[offForwardCount] = spec.forwardCount
	binary.LittleEndian.PutUint64(buf[offSenderID:], spec.senderID)
	copy(buf[MessageHeaderSize:], spec.extra)
	copy(buf[headerSize:], spec.body)
	return buf
}

func mustParse(t *testing.T, buf []byte) *Message {
	t.Helper()
	msg, err := ParseMessage(buf)
	if err != nil {
		t.Fatalf("parse message: %v", err)
	}
	return msg
}

func TestParseMessageTruncated(t *testing.T) {
	if _, err := ParseMessage(make([]byte, MessageHeaderSize-1)); err == nil {
		t.Fatal("expected error for truncated buffer")
	}
}

func TestParseMessageBadMagic(t *testing.T) {
	buf := buildRecord(recordSpec{titleID: 1})
	buf[0] = 0x61
	if _, err := ParseMessage(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestMessageFields(t *testing.T) {
	buf := buildRecord(recordSpec{
		titleID:      0x00020800,
		messageID:    42,
		sendMethod:   1,
		sendCount:    3,
		forwardCount: 1,
		senderID:     0xAABB,
		body:         []byte("hello"),
	})
	msg := mustParse(t, buf)

	if msg.TitleID() != 0x00020800 {
		t.Fatalf("title id = %#x", msg.TitleID())
	}
	if msg.MessageID() != 42 {
		t.Fatalf("message id = %d", msg.MessageID())
	}
	if msg.SendMethod() != 1 || msg.SendCount() != 3 || msg.ForwardCount() != 1 {
		t.Fatalf("method/count/forward = %d/%d/%d", msg.SendMethod(), msg.SendCount(), msg.ForwardCount())
	}
	if msg.SenderID() != 0xAABB {
		t.Fatalf("sender id = %#x", msg.SenderID())
	}
	if msg.Size() != uint32(len(buf)) {
		t.Fatalf("size = %d, buffer %d", msg.Size(), len(buf))
	}
	if string(msg.Body()) != "hello" {
		t.Fatalf("body = %q", msg.Body())
	}
	if !msg.Validate() {
		t.Fatal("record should validate")
	}
}

func TestValidateHeaderArithmetic(t *testing.T) {
	buf := buildRecord(recordSpec{titleID: 1, body: []byte("x")})
	msg := mustParse(t, buf)
	if !msg.ValidateHeader() {
		t.Fatal("expected valid header")
	}

	// Break the size relation.
	binary.LittleEndian.PutUint32(buf[offSize:], msg.Size()+1)
	if msg.ValidateHeader() {
		t.Fatal("broken size arithmetic should fail")
	}

	// Oversize record fails even when arithmetic holds.
	buf = buildRecord(recordSpec{titleID: 1})
	binary.LittleEndian.PutUint32(buf[offSize:], MaxMessageSize)
	binary.LittleEndian.PutUint32(buf[offBodySize:], MaxMessageSize-MessageHeaderSize-0x20)
	msg = mustParse(t, buf)
	if msg.ValidateHeader() {
		t.Fatal("record at the size cap should fail")
	}
}

func TestValidateRequiresExactLength(t *testing.T) {
	buf := buildRecord(recordSpec{titleID: 1, body: []byte("abc")})
	msg := mustParse(t, append(buf, 0x00))
	if !msg.ValidateHeader() {
		t.Fatal("header should still validate on a padded buffer")
	}
	if msg.Validate() {
		t.Fatal("padded buffer should fail full validation")
	}

	msg = mustParse(t, buf[:len(buf)-1])
	if msg.Validate() {
		t.Fatal("truncated buffer should fail full validation")
	}
}

func TestSettersPreserveBuffer(t *testing.T) {
	buf := buildRecord(recordSpec{titleID: 7, messageID: 9, sendCount: 5, forwardCount: 1, body: []byte("body")})
	orig := make([]byte, len(buf))
	copy(orig, buf)

	msg := mustParse(t, buf)
	msg.SetSendCount(4)
	msg.SetForwardCount(0)
	msg.SetMessageID2(9001)
	msg.SetSentAt(Timestamp{Year: 2026, Month: 8, Day: 28})

	if len(msg.Bytes()) != len(orig) {
		t.Fatalf("length changed: %d -> %d", len(orig), len(msg.Bytes()))
	}
	if msg.SendCount() != 4 || msg.ForwardCount() != 0 || msg.MessageID2() != 9001 {
		t.Fatalf("setters did not land: %d/%d/%d", msg.SendCount(), msg.ForwardCount(), msg.MessageID2())
	}
	if ts := msg.SentAt(); ts.Year != 2026 || ts.Month != 8 || ts.Day != 28 {
		t.Fatalf("sent timestamp = %+v", ts)
	}
	if msg.TitleID() != 7 || msg.MessageID() != 9 || !bytes.Equal(msg.Body(), []byte("body")) {
		t.Fatal("unrelated fields mutated")
	}
	if !msg.Validate() {
		t.Fatal("mutated record should still validate")
	}
}

func TestExtraHeaders(t *testing.T) {
	extra := make([]byte, 8+4)
	binary.LittleEndian.PutUint32(extra[0:], 0x12)
	binary.LittleEndian.PutUint32(extra[4:], 4)
	copy(extra[8:], []byte{1, 2, 3, 4})

	buf := buildRecord(recordSpec{titleID: 1, extra: extra, body: []byte("b")})
	msg := mustParse(t, buf)
	headers := msg.ExtraHeaders()
	if len(headers) != 1 {
		t.Fatalf("got %d extra headers", len(headers))
	}
	if headers[0].Type != 0x12 || !bytes.Equal(headers[0].Data, []byte{1, 2, 3, 4}) {
		t.Fatalf("header = %+v", headers[0])
	}
	if string(msg.Body()) != "b" {
		t.Fatalf("body after extra headers = %q", msg.Body())
	}
}

func TestExtraHeadersTruncatedChain(t *testing.T) {
	// First entry well formed, second declares a size past the header
	// region: the walk must stop after the first without panicking.
	extra := make([]byte, 8+2+8)
	binary.LittleEndian.PutUint32(extra[0:], 1)
	binary.LittleEndian.PutUint32(extra[4:], 2)
	binary.LittleEndian.PutUint32(extra[10:], 2)
	binary.LittleEndian.PutUint32(extra[14:], 0xFFFF)

	buf := buildRecord(recordSpec{titleID: 1, extra: extra})
	headers := mustParse(t, buf).ExtraHeaders()
	if len(headers) != 1 {
		t.Fatalf("got %d extra headers, want the chain truncated at 1", len(headers))
	}
}

func TestHeaderOnlyRecord(t *testing.T) {
	buf := buildRecord(recordSpec{titleID: 1})
	msg := mustParse(t, buf[:MessageHeaderSize])
	if msg.Body() != nil || msg.ExtraHeaders() != nil {
		t.Fatal("header-only record should have no body or extra headers")
	}
}

func TestIntegrityHash(t *testing.T) {
	msg := mustParse(t, buildRecord(recordSpec{titleID: 3, messageID: 11}))
	digest := msg.IntegrityHash()
	if !msg.VerifyIntegrityHash(digest[:]) {
		t.Fatal("digest should verify against its own record")
	}
	if msg.VerifyIntegrityHash(digest[:16]) {
		t.Fatal("short digest should not verify")
	}
	msg.SetMessageID(12)
	if msg.VerifyIntegrityHash(digest[:]) {
		t.Fatal("digest should not verify after header mutation")
	}
}

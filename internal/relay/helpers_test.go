package relay

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/introkun/netpass-mirror/internal/cec"
	"github.com/introkun/netpass-mirror/internal/core"
	"github.com/introkun/netpass-mirror/internal/metrics"
	"github.com/introkun/netpass-mirror/internal/storage"
)

const (
	devA core.DeviceID = 0x0000cd0bf0a9e24c
	devB core.DeviceID = 0x0000eeff11223344
	devC core.DeviceID = 0x0000565758595a5b

	titleOne uint32 = 0x00020800
	titleTwo uint32 = 0x0004000e
)

// makeRecord builds a minimal full message record: fixed header plus
// the 0x20-byte trailer, no extra headers or body.
func makeRecord(t *testing.T, titleID uint32, messageID int64, method, count, forward uint8) []byte {
	t.Helper()
	buf := make([]byte, cec.MessageHeaderSize+0x20)
	binary.LittleEndian.PutUint16(buf[0:2], cec.MessageMagic)
	binary.LittleEndian.PutUint32(buf[0x04:], uint32(len(buf)))
	binary.LittleEndian.PutUint32(buf[0x08:], cec.MessageHeaderSize)
	binary.LittleEndian.PutUint32(buf[0x10:], titleID)
	binary.LittleEndian.PutUint64(buf[0x20:], uint64(messageID))
	buf[0x35] = method
	buf[0x6C] = count
	buf[0x6D] = forward

	msg, err := cec.ParseMessage(buf)
	if err != nil || !msg.Validate() {
		t.Fatalf("built an invalid record: %v", err)
	}
	return buf
}

func parseRecord(t *testing.T, buf []byte) *cec.Message {
	t.Helper()
	msg, err := cec.ParseMessage(buf)
	if err != nil {
		t.Fatalf("parse record: %v", err)
	}
	return msg
}

func makeBoxList(t *testing.T, titleIDs ...uint32) *cec.BoxList {
	t.Helper()
	buf := make([]byte, 12+16*16)
	binary.LittleEndian.PutUint16(buf[0:2], cec.BoxListMagic)
	binary.LittleEndian.PutUint32(buf[4:8], 1)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(titleIDs)))
	for i, id := range titleIDs {
		copy(buf[12+i*16:], fmt.Sprintf("%08x", id))
	}
	list, err := cec.ParseBoxList(buf)
	if err != nil {
		t.Fatalf("build box list: %v", err)
	}
	return list
}

// seedOutbox stores a record directly, bypassing reconciliation.
func seedOutbox(t *testing.T, st *storage.InMemory, device core.DeviceID, record []byte, updatedAt int64) {
	t.Helper()
	msg := parseRecord(t, record)
	err := st.UpsertOutbox(core.OutboxEntry{
		TitleID:   msg.TitleID(),
		MessageID: msg.MessageID(),
		Device:    device,
		Message:   record,
		UpdatedAt: updatedAt,
		SendCount: msg.SendCount(),
	})
	if err != nil {
		t.Fatalf("seed outbox: %v", err)
	}
}

func newTestRelay(t *testing.T) (*storage.InMemory, *metrics.Metrics) {
	t.Helper()
	return storage.NewInMemory(), metrics.New()
}

func nopLog() zerolog.Logger { return zerolog.Nop() }

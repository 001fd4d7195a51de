package cec

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

const (
	// BoxListMagic is the 2-byte constant at the start of a mailbox
	// list record ("hh").
	BoxListMagic = 0x6868

	// BoxListSlots is the number of physical title slots ever read.
	BoxListSlots = 16

	// BoxListMaxBoxes bounds the declared box count. Newer firmware
	// declares up to 24 even though only 16 slots exist; the two
	// limits are independent on purpose.
	BoxListMaxBoxes = 24

	// BoxListSize bounds the record buffer.
	BoxListSize = 12 + 16*24

	boxListSlotWidth = 16
	boxListSlotsOff  = 0x0C
)

// BoxList is a device's mailbox list: which application mailboxes it
// currently has active. Each slot is a fixed-width ASCII field holding
// an 8-hex-digit title ID, or empty.
type BoxList struct {
	data []byte
}

// ParseBoxList wraps buf as a mailbox list record, requiring the fixed
// 12-byte prefix and the magic.
func ParseBoxList(buf []byte) (*BoxList, error) {
	if len(buf) < boxListSlotsOff {
		return nil, fmt.Errorf("box list truncated: %d bytes", len(buf))
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != BoxListMagic {
		return nil, fmt.Errorf("bad box list magic %#04x", binary.LittleEndian.Uint16(buf[0:2]))
	}
	return &BoxList{data: buf}, nil
}

// Bytes returns the underlying buffer.
func (l *BoxList) Bytes() []byte { return l.data }

func (l *BoxList) Version() uint32 { return binary.LittleEndian.Uint32(l.data[4:8]) }

// NumBoxes is the declared box count. It may exceed the number of
// populated slots.
func (l *BoxList) NumBoxes() uint32 { return binary.LittleEndian.Uint32(l.data[8:12]) }

// BoxNames returns the non-empty slot strings in slot order.
func (l *BoxList) BoxNames() []string {
	var out []string
	for i := 0; i < BoxListSlots; i++ {
		start := boxListSlotsOff + i*boxListSlotWidth
		if start+boxListSlotWidth > len(l.data) {
			break
		}
		name := strings.Trim(string(l.data[start:start+boxListSlotWidth]), "\x00")
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// TitleIDs parses the populated slots as 8-hex-digit title IDs.
func (l *BoxList) TitleIDs() ([]uint32, error) {
	var out []uint32
	for _, name := range l.BoxNames() {
		id, err := strconv.ParseUint(name, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("parse title id %q: %w", name, err)
		}
		out = append(out, uint32(id))
	}
	return out, nil
}

// Validate reports whether the record is well formed: magic, declared
// box count within bounds, buffer within bounds, and every populated
// slot a parseable title ID.
func (l *BoxList) Validate() bool {
	if binary.LittleEndian.Uint16(l.data[0:2]) != BoxListMagic {
		return false
	}
	if l.NumBoxes() > BoxListMaxBoxes || len(l.data) > BoxListSize {
		return false
	}
	_, err := l.TitleIDs()
	return err == nil
}

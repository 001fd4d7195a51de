package cec

import (
	"encoding/binary"
	"time"
)

// TimestampSize is the encoded size of a CEC calendar timestamp.
const TimestampSize = 12

// Timestamp is the 12-byte calendar timestamp used throughout CEC
// records: a 32-bit year followed by month, day, weekday, hour, minute,
// second bytes and a 16-bit millisecond field, all little-endian.
type Timestamp struct {
	Year        uint32
	Month       uint8
	Day         uint8
	Weekday     uint8
	Hour        uint8
	Minute      uint8
	Second      uint8
	Millisecond uint16
}

// Now returns the current local time as a CEC timestamp. The console
// stores civil time, not UTC, so the server stamps local time as well.
func Now() Timestamp {
	return TimestampAt(time.Now())
}

// TimestampAt converts t to a CEC timestamp.
func TimestampAt(t time.Time) Timestamp {
	return Timestamp{
		Year:    uint32(t.Year()),
		Month:   uint8(t.Month()),
		Day:     uint8(t.Day()),
		Weekday: uint8(t.Weekday()),
		Hour:    uint8(t.Hour()),
		Minute:  uint8(t.Minute()),
		Second:  uint8(t.Second()),
	}
}

func decodeTimestamp(b []byte) Timestamp {
	return Timestamp{
		Year:        binary.LittleEndian.Uint32(b[0:4]),
		Month:       b[4],
		Day:         b[5],
		Weekday:     b[6],
		Hour:        b[7],
		Minute:      b[8],
		Second:      b[9],
		Millisecond: binary.LittleEndian.Uint16(b[10:12]),
	}
}

func (ts Timestamp) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], ts.Year)
	b[4] = ts.Month
	b[5] = ts.Day
	b[6] = ts.Weekday
	b[7] = ts.Hour
	b[8] = ts.Minute
	b[9] = ts.Second
	binary.LittleEndian.PutUint16(b[10:12], ts.Millisecond)
}

// Bytes returns the encoded form of the timestamp.
func (ts Timestamp) Bytes() []byte {
	b := make([]byte, TimestampSize)
	ts.encode(b)
	return b
}

// Package core holds the domain records shared by the relay, the
// storage layer and the HTTP front: device identities and the four
// persisted row families.
package core

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// DeviceID is a device identity: the 48-bit integer derived from the
// console's 6-byte hardware address, little-endian with two zero bytes
// appended.
type DeviceID uint64

// ParseDeviceID decodes a 12-hex-character hardware address into a
// device identity.
func ParseDeviceID(macHex string) (DeviceID, error) {
	if len(macHex) != 12 {
		return 0, fmt.Errorf("hardware address must be 12 hex chars, got %d", len(macHex))
	}
	raw, err := hex.DecodeString(macHex)
	if err != nil {
		return 0, fmt.Errorf("decode hardware address: %w", err)
	}
	var buf [8]byte
	copy(buf[:], raw)
	return DeviceID(binary.LittleEndian.Uint64(buf[:])), nil
}

// MAC returns the 12-hex-character hardware address form of the
// identity.
func (d DeviceID) MAC() string {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(d))
	return hex.EncodeToString(buf[:6])
}

func (d DeviceID) String() string { return d.MAC() }

// OutboxEntry is one uploaded message awaiting relay. Exactly one row
// exists per (device, message id). Modified means the server has
// decremented the message's budget through a relay since the device
// last uploaded it.
type OutboxEntry struct {
	TitleID   uint32
	MessageID int64
	Device    DeviceID
	Message   []byte
	UpdatedAt int64
	SendCount uint8
	Modified  bool
}

// InboxEntry is one delivered message. The (message id, recipient) key
// is unique so redelivery attempts are no-ops. Consumed rows are never
// returned again.
type InboxEntry struct {
	TitleID     uint32
	MessageID   int64
	From        DeviceID
	To          DeviceID
	Message     []byte
	Consumed    bool
	DeliveredAt int64
}

// LocationEntry is a device's presence window at a location. A device
// occupies at most one window at a time.
type LocationEntry struct {
	LocationID int32
	Device     DeviceID
	Start      int64
	End        int64
}

// Membership records that a device has activated a title's mailbox,
// gating which messages it may receive.
type Membership struct {
	Device    DeviceID
	TitleID   uint32
	UpdatedAt int64
}

// AnomalyReason classifies structurally valid but unexpected field
// values seen on upload. Anomalies are counted, never rejected.
type AnomalyReason int

const (
	AnomalySendMethod   AnomalyReason = 1
	AnomalySendCount    AnomalyReason = 2
	AnomalyForwardCount AnomalyReason = 3
)

func (r AnomalyReason) String() string {
	switch r {
	case AnomalySendMethod:
		return "send_method"
	case AnomalySendCount:
		return "send_count"
	case AnomalyForwardCount:
		return "forward_count"
	}
	return "unknown"
}

// DeviceData is everything stored for one device, for the data dump
// and erasure endpoints.
type DeviceData struct {
	Outbox      []OutboxEntry
	InboxFrom   []InboxEntry
	InboxTo     []InboxEntry
	Locations   []LocationEntry
	Memberships []Membership
}

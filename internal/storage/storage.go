// Package storage defines the persistent store contract consumed by
// the relay, plus an in-memory implementation used by unit tests.
package storage

import "github.com/introkun/netpass-mirror/internal/core"

// Ops is the row-level operation set. Every method invoked outside Tx
// runs atomically on its own; Tx groups several into one transaction.
//
// Inserts keyed on an existing row are conflict-tolerant where noted:
// a duplicate insert is a harmless no-op, because a manual trigger and
// the hourly background match may race to deliver the same message.
type Ops interface {
	// ModifiedOutbox returns the stored message bytes for the row iff
	// it exists and is marked modified, else nil.
	ModifiedOutbox(device core.DeviceID, titleID uint32, messageID int64) ([]byte, error)
	// UpsertOutbox inserts or replaces the (device, message id) row
	// and clears its modified flag.
	UpsertOutbox(e core.OutboxEntry) error
	DeleteOutbox(device core.DeviceID, titleID uint32, messageID int64) error
	// UpdateOutboxRelayed persists a budget decrement performed by the
	// matcher and sets the modified flag.
	UpdateOutboxRelayed(device core.DeviceID, messageID int64, sendCount uint8, message []byte) error
	// EligibleOutbox returns the messages recipient could receive from
	// sender: outbox rows whose title is in the recipient's membership
	// set and whose budget is non-zero, at most one row per title.
	EligibleOutbox(recipient, sender core.DeviceID) ([]core.OutboxEntry, error)

	// InsertInbox is conflict-tolerant on (message id, recipient).
	InsertInbox(e core.InboxEntry) error
	// NewestUnconsumedInbox returns the most recently delivered
	// unconsumed row for (device, title), or nil.
	NewestUnconsumedInbox(device core.DeviceID, titleID uint32) (*core.InboxEntry, error)
	MarkInboxConsumed(messageID int64, device core.DeviceID) error

	// ReplaceMemberships swaps the device's activated-title set.
	ReplaceMemberships(device core.DeviceID, titleIDs []uint32, now int64) error
	MembershipCount(device core.DeviceID) (int, error)

	// EnterLocation is conflict-tolerant on the device key: a device
	// already windowed anywhere keeps its existing window.
	EnterLocation(e core.LocationEntry) error
	Location(device core.DeviceID) (*core.LocationEntry, error)
	// RandomPeers returns up to limit other devices windowed at the
	// location, in random order.
	RandomPeers(device core.DeviceID, locationID int32, limit int) ([]core.DeviceID, error)
	LocationPopulation(locationID int32) (int, error)
	// SamplePairs returns up to limit random devices at the location,
	// each paired with one random co-located device. A device with no
	// peer is returned paired with itself so callers can account for
	// it; the matcher's identity short-circuit makes that a no-op.
	SamplePairs(locationID int32, limit int) ([][2]core.DeviceID, error)

	// CountAnomaly and BumpTitleName maintain the write-mostly
	// telemetry counters. Neither is ever read back by the relay.
	CountAnomaly(titleID uint32, reason core.AnomalyReason, note string) error
	BumpTitleName(titleID uint32, name string) error

	DeleteOutboxBefore(cutoff int64) (int64, error)
	DeleteInboxBefore(cutoff int64) (int64, error)
	DeleteMembershipsBefore(cutoff int64) (int64, error)
	DeleteExpiredLocations(now int64) (int64, error)

	DeviceData(device core.DeviceID) (core.DeviceData, error)
	PurgeDevice(device core.DeviceID) error
}

// Store is the full persistent store contract.
type Store interface {
	Ops
	// Tx runs fn atomically. Read-then-write sequences (outbox budget
	// decrement, inbox mark-consumed) must go through Tx so concurrent
	// matches observe a consistent starting state.
	Tx(fn func(Ops) error) error
	Close() error
}

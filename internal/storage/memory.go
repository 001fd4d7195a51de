package storage

import (
	"math/rand/v2"
	"sync"

	"github.com/introkun/netpass-mirror/internal/core"
)

// InMemory is a mutex-guarded in-memory store for tests. Tx holds the
// lock across fn; there is no rollback.
type InMemory struct {
	mu  sync.Mutex
	ops memOps
}

func NewInMemory() *InMemory {
	return &InMemory{
		ops: memOps{
			outbox:      make(map[outboxKey]*core.OutboxEntry),
			inboxKeys:   make(map[inboxKey]struct{}),
			locations:   make(map[core.DeviceID]core.LocationEntry),
			memberships: make(map[core.DeviceID]map[uint32]int64),
			anomalies:   make(map[anomalyKey]int),
			titles:      make(map[titleKey]int),
		},
	}
}

func (m *InMemory) Tx(fn func(Ops) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&m.ops)
}

func (m *InMemory) Close() error { return nil }

type outboxKey struct {
	device    core.DeviceID
	messageID int64
}

type inboxKey struct {
	messageID int64
	to        core.DeviceID
}

type anomalyKey struct {
	titleID uint32
	reason  core.AnomalyReason
}

type titleKey struct {
	titleID uint32
	name    string
}

type memOps struct {
	outbox      map[outboxKey]*core.OutboxEntry
	inbox       []*core.InboxEntry
	inboxKeys   map[inboxKey]struct{}
	locations   map[core.DeviceID]core.LocationEntry
	memberships map[core.DeviceID]map[uint32]int64
	anomalies   map[anomalyKey]int
	titles      map[titleKey]int
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (o *memOps) ModifiedOutbox(device core.DeviceID, titleID uint32, messageID int64) ([]byte, error) {
	e, ok := o.outbox[outboxKey{device, messageID}]
	if !ok || e.TitleID != titleID || !e.Modified {
		return nil, nil
	}
	return cloneBytes(e.Message), nil
}

func (o *memOps) UpsertOutbox(e core.OutboxEntry) error {
	e.Message = cloneBytes(e.Message)
	e.Modified = false
	o.outbox[outboxKey{e.Device, e.MessageID}] = &e
	return nil
}

func (o *memOps) DeleteOutbox(device core.DeviceID, titleID uint32, messageID int64) error {
	k := outboxKey{device, messageID}
	if e, ok := o.outbox[k]; ok && e.TitleID == titleID {
		delete(o.outbox, k)
	}
	return nil
}

func (o *memOps) UpdateOutboxRelayed(device core.DeviceID, messageID int64, sendCount uint8, message []byte) error {
	if e, ok := o.outbox[outboxKey{device, messageID}]; ok {
		e.SendCount = sendCount
		e.Message = cloneBytes(message)
		e.Modified = true
	}
	return nil
}

func (o *memOps) EligibleOutbox(recipient, sender core.DeviceID) ([]core.OutboxEntry, error) {
	titles := o.memberships[recipient]
	seen := make(map[uint32]bool)
	var out []core.OutboxEntry
	for _, e := range o.outbox {
		if e.Device != sender || e.SendCount == 0 || seen[e.TitleID] {
			continue
		}
		if _, ok := titles[e.TitleID]; !ok {
			continue
		}
		seen[e.TitleID] = true
		entry := *e
		entry.Message = cloneBytes(e.Message)
		out = append(out, entry)
	}
	return out, nil
}

func (o *memOps) InsertInbox(e core.InboxEntry) error {
	k := inboxKey{e.MessageID, e.To}
	if _, ok := o.inboxKeys[k]; ok {
		return nil
	}
	o.inboxKeys[k] = struct{}{}
	e.Message = cloneBytes(e.Message)
	o.inbox = append(o.inbox, &e)
	return nil
}

func (o *memOps) NewestUnconsumedInbox(device core.DeviceID, titleID uint32) (*core.InboxEntry, error) {
	var best *core.InboxEntry
	for _, e := range o.inbox {
		if e.To != device || e.TitleID != titleID || e.Consumed {
			continue
		}
		if best == nil || e.DeliveredAt >= best.DeliveredAt {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	out.Message = cloneBytes(best.Message)
	return &out, nil
}

func (o *memOps) MarkInboxConsumed(messageID int64, device core.DeviceID) error {
	for _, e := range o.inbox {
		if e.MessageID == messageID && e.To == device {
			e.Consumed = true
		}
	}
	return nil
}

func (o *memOps) ReplaceMemberships(device core.DeviceID, titleIDs []uint32, now int64) error {
	set := make(map[uint32]int64, len(titleIDs))
	for _, id := range titleIDs {
		set[id] = now
	}
	o.memberships[device] = set
	return nil
}

func (o *memOps) MembershipCount(device core.DeviceID) (int, error) {
	return len(o.memberships[device]), nil
}

func (o *memOps) EnterLocation(e core.LocationEntry) error {
	if _, ok := o.locations[e.Device]; ok {
		return nil
	}
	o.locations[e.Device] = e
	return nil
}

func (o *memOps) Location(device core.DeviceID) (*core.LocationEntry, error) {
	e, ok := o.locations[device]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (o *memOps) locatedAt(locationID int32) []core.DeviceID {
	var out []core.DeviceID
	for d, e := range o.locations {
		if e.LocationID == locationID {
			out = append(out, d)
		}
	}
	return out
}

func (o *memOps) RandomPeers(device core.DeviceID, locationID int32, limit int) ([]core.DeviceID, error) {
	var peers []core.DeviceID
	for _, d := range o.locatedAt(locationID) {
		if d != device {
			peers = append(peers, d)
		}
	}
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	if len(peers) > limit {
		peers = peers[:limit]
	}
	return peers, nil
}

func (o *memOps) LocationPopulation(locationID int32) (int, error) {
	return len(o.locatedAt(locationID)), nil
}

func (o *memOps) SamplePairs(locationID int32, limit int) ([][2]core.DeviceID, error) {
	devices := o.locatedAt(locationID)
	rand.Shuffle(len(devices), func(i, j int) { devices[i], devices[j] = devices[j], devices[i] })
	if len(devices) > limit {
		devices = devices[:limit]
	}
	var out [][2]core.DeviceID
	for _, d := range devices {
		partner := d
		var others []core.DeviceID
		for _, p := range o.locatedAt(locationID) {
			if p != d {
				others = append(others, p)
			}
		}
		if len(others) > 0 {
			partner = others[rand.IntN(len(others))]
		}
		out = append(out, [2]core.DeviceID{d, partner})
	}
	return out, nil
}

func (o *memOps) CountAnomaly(titleID uint32, reason core.AnomalyReason, note string) error {
	o.anomalies[anomalyKey{titleID, reason}]++
	return nil
}

func (o *memOps) BumpTitleName(titleID uint32, name string) error {
	o.titles[titleKey{titleID, name}]++
	return nil
}

func (o *memOps) DeleteOutboxBefore(cutoff int64) (int64, error) {
	var n int64
	for k, e := range o.outbox {
		if e.UpdatedAt < cutoff {
			delete(o.outbox, k)
			n++
		}
	}
	return n, nil
}

func (o *memOps) DeleteInboxBefore(cutoff int64) (int64, error) {
	var n int64
	kept := o.inbox[:0]
	for _, e := range o.inbox {
		if e.DeliveredAt < cutoff {
			delete(o.inboxKeys, inboxKey{e.MessageID, e.To})
			n++
			continue
		}
		kept = append(kept, e)
	}
	o.inbox = kept
	return n, nil
}

func (o *memOps) DeleteMembershipsBefore(cutoff int64) (int64, error) {
	var n int64
	for d, titles := range o.memberships {
		for id, at := range titles {
			if at < cutoff {
				delete(titles, id)
				n++
			}
		}
		if len(titles) == 0 {
			delete(o.memberships, d)
		}
	}
	return n, nil
}

func (o *memOps) DeleteExpiredLocations(now int64) (int64, error) {
	var n int64
	for d, e := range o.locations {
		if e.End < now {
			delete(o.locations, d)
			n++
		}
	}
	return n, nil
}

func (o *memOps) DeviceData(device core.DeviceID) (core.DeviceData, error) {
	var data core.DeviceData
	for _, e := range o.outbox {
		if e.Device == device {
			entry := *e
			entry.Message = cloneBytes(e.Message)
			data.Outbox = append(data.Outbox, entry)
		}
	}
	for _, e := range o.inbox {
		entry := *e
		entry.Message = cloneBytes(e.Message)
		if e.From == device {
			data.InboxFrom = append(data.InboxFrom, entry)
		}
		if e.To == device {
			data.InboxTo = append(data.InboxTo, entry)
		}
	}
	if e, ok := o.locations[device]; ok {
		data.Locations = append(data.Locations, e)
	}
	for id, at := range o.memberships[device] {
		data.Memberships = append(data.Memberships, core.Membership{Device: device, TitleID: id, UpdatedAt: at})
	}
	return data, nil
}

func (o *memOps) PurgeDevice(device core.DeviceID) error {
	for k, e := range o.outbox {
		if e.Device == device {
			delete(o.outbox, k)
		}
	}
	kept := o.inbox[:0]
	for _, e := range o.inbox {
		if e.From == device || e.To == device {
			delete(o.inboxKeys, inboxKey{e.MessageID, e.To})
			continue
		}
		kept = append(kept, e)
	}
	o.inbox = kept
	delete(o.locations, device)
	delete(o.memberships, device)
	return nil
}

// Locking wrappers so InMemory satisfies storage.Store outside Tx.

func (m *InMemory) ModifiedOutbox(device core.DeviceID, titleID uint32, messageID int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.ModifiedOutbox(device, titleID, messageID)
}

func (m *InMemory) UpsertOutbox(e core.OutboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.UpsertOutbox(e)
}

func (m *InMemory) DeleteOutbox(device core.DeviceID, titleID uint32, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.DeleteOutbox(device, titleID, messageID)
}

func (m *InMemory) UpdateOutboxRelayed(device core.DeviceID, messageID int64, sendCount uint8, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.UpdateOutboxRelayed(device, messageID, sendCount, message)
}

func (m *InMemory) EligibleOutbox(recipient, sender core.DeviceID) ([]core.OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.EligibleOutbox(recipient, sender)
}

func (m *InMemory) InsertInbox(e core.InboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.InsertInbox(e)
}

func (m *InMemory) NewestUnconsumedInbox(device core.DeviceID, titleID uint32) (*core.InboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.NewestUnconsumedInbox(device, titleID)
}

func (m *InMemory) MarkInboxConsumed(messageID int64, device core.DeviceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.MarkInboxConsumed(messageID, device)
}

func (m *InMemory) ReplaceMemberships(device core.DeviceID, titleIDs []uint32, now int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.ReplaceMemberships(device, titleIDs, now)
}

func (m *InMemory) MembershipCount(device core.DeviceID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.MembershipCount(device)
}

func (m *InMemory) EnterLocation(e core.LocationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.EnterLocation(e)
}

func (m *InMemory) Location(device core.DeviceID) (*core.LocationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.Location(device)
}

func (m *InMemory) RandomPeers(device core.DeviceID, locationID int32, limit int) ([]core.DeviceID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.RandomPeers(device, locationID, limit)
}

func (m *InMemory) LocationPopulation(locationID int32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.LocationPopulation(locationID)
}

func (m *InMemory) SamplePairs(locationID int32, limit int) ([][2]core.DeviceID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.SamplePairs(locationID, limit)
}

func (m *InMemory) CountAnomaly(titleID uint32, reason core.AnomalyReason, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.CountAnomaly(titleID, reason, note)
}

func (m *InMemory) BumpTitleName(titleID uint32, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.BumpTitleName(titleID, name)
}

func (m *InMemory) DeleteOutboxBefore(cutoff int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.DeleteOutboxBefore(cutoff)
}

func (m *InMemory) DeleteInboxBefore(cutoff int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.DeleteInboxBefore(cutoff)
}

func (m *InMemory) DeleteMembershipsBefore(cutoff int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.DeleteMembershipsBefore(cutoff)
}

func (m *InMemory) DeleteExpiredLocations(now int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.DeleteExpiredLocations(now)
}

func (m *InMemory) DeviceData(device core.DeviceID) (core.DeviceData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.DeviceData(device)
}

func (m *InMemory) PurgeDevice(device core.DeviceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.PurgeDevice(device)
}

// AnomalyCount returns the telemetry counter for (title, reason). Test
// helper; the relay itself never reads these back.
func (m *InMemory) AnomalyCount(titleID uint32, reason core.AnomalyReason) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.anomalies[anomalyKey{titleID, reason}]
}

// TitleNameCount returns the popularity counter for (title, name).
func (m *InMemory) TitleNameCount(titleID uint32, name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.titles[titleKey{titleID, name}]
}

// OutboxEntry returns the stored row for (device, message id), or nil.
func (m *InMemory) OutboxEntry(device core.DeviceID, messageID int64) *core.OutboxEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.ops.outbox[outboxKey{device, messageID}]
	if !ok {
		return nil
	}
	out := *e
	out.Message = cloneBytes(e.Message)
	return &out
}

// InboxSize returns the number of inbox rows, consumed or not.
func (m *InMemory) InboxSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops.inbox)
}

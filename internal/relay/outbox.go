// Package relay implements the StreetPass relay engine: outbox
// reconciliation, the pairing/exchange matcher, location windows and
// inbox consumption, all over a storage.Store.
package relay

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/introkun/netpass-mirror/internal/cec"
	"github.com/introkun/netpass-mirror/internal/core"
	"github.com/introkun/netpass-mirror/internal/metrics"
	"github.com/introkun/netpass-mirror/internal/storage"
)

// Outbox reconciles uploaded messages against previously-relayed state
// and enforces the retransmission budget.
type Outbox struct {
	store   storage.Store
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewOutbox(store storage.Store, m *metrics.Metrics, log zerolog.Logger) *Outbox {
	return &Outbox{store: store, metrics: m, log: log.With().Str("component", "outbox").Logger()}
}

// Upload stores msg in the device's outbox. If the server has already
// spent down the message's budget through a relay since the last upload
// (row marked modified) and the stored count is lower than the uploaded
// one, the server's count wins: the uploaded record is corrected in
// place and the authoritative count is returned non-nil so the caller
// can report it back to the device. A zero authoritative count retires
// the message instead of storing it.
//
// titleName, when non-empty, feeds the title popularity counter. Odd
// but structurally valid field values are counted as anomalies, never
// rejected.
func (o *Outbox) Upload(device core.DeviceID, msg *cec.Message, titleName string) (*uint8, error) {
	var corrected *uint8

	err := o.store.Tx(func(ops storage.Ops) error {
		stored, err := ops.ModifiedOutbox(device, msg.TitleID(), msg.MessageID())
		if err != nil {
			return fmt.Errorf("load stored outbox row: %w", err)
		}
		if stored != nil {
			old, err := cec.ParseMessage(stored)
			if err != nil {
				return fmt.Errorf("parse stored outbox row: %w", err)
			}
			if old.SendCount() < msg.SendCount() {
				count := old.SendCount()
				corrected = &count
				msg.SetSendCount(count)
			}
		}

		if titleName != "" {
			if err := ops.BumpTitleName(msg.TitleID(), titleName); err != nil {
				return fmt.Errorf("bump title name: %w", err)
			}
		}

		if msg.SendCount() == 0 {
			return ops.DeleteOutbox(device, msg.TitleID(), msg.MessageID())
		}

		if err := ops.UpsertOutbox(core.OutboxEntry{
			TitleID:   msg.TitleID(),
			MessageID: msg.MessageID(),
			Device:    device,
			Message:   msg.Bytes(),
			UpdatedAt: time.Now().Unix(),
			SendCount: msg.SendCount(),
		}); err != nil {
			return fmt.Errorf("upsert outbox row: %w", err)
		}
		return o.recordAnomalies(ops, msg)
	})
	if err != nil {
		return nil, err
	}

	o.metrics.Uploads.Inc()
	o.log.Debug().
		Stringer("device", device).
		Uint32("title_id", msg.TitleID()).
		Int64("message_id", msg.MessageID()).
		Uint8("send_count", msg.SendCount()).
		Bool("corrected", corrected != nil).
		Msg("outbox upload stored")
	return corrected, nil
}

func (o *Outbox) recordAnomalies(ops storage.Ops, msg *cec.Message) error {
	count := func(reason core.AnomalyReason, note string) error {
		o.metrics.Anomalies.WithLabelValues(reason.String()).Inc()
		return ops.CountAnomaly(msg.TitleID(), reason, note)
	}
	if m := msg.SendMethod(); m != 0 && m != 1 && m != 3 {
		if err := count(core.AnomalySendMethod, fmt.Sprintf("Unknown msg send_method %d", m)); err != nil {
			return err
		}
	}
	if c := msg.SendCount(); c != 0 && c != 1 && c != cec.UnlimitedSendCount {
		if err := count(core.AnomalySendCount, fmt.Sprintf("Interesting send_count %d", c)); err != nil {
			return err
		}
	}
	if f := msg.ForwardCount(); f != 1 {
		if err := count(core.AnomalyForwardCount, fmt.Sprintf("Interesting forward_count %d", f)); err != nil {
			return err
		}
	}
	return nil
}

// StoreBoxList replaces the device's mailbox memberships with the
// titles in the uploaded list.
func (o *Outbox) StoreBoxList(device core.DeviceID, list *cec.BoxList) error {
	titleIDs, err := list.TitleIDs()
	if err != nil {
		return fmt.Errorf("parse box list titles: %w", err)
	}
	if err := o.store.ReplaceMemberships(device, titleIDs, time.Now().Unix()); err != nil {
		return fmt.Errorf("replace memberships: %w", err)
	}
	o.metrics.BoxListUploads.Inc()
	o.log.Debug().Stringer("device", device).Int("titles", len(titleIDs)).Msg("box list stored")
	return nil
}

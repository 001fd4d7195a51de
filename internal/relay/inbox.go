package relay

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/introkun/netpass-mirror/internal/cec"
	"github.com/introkun/netpass-mirror/internal/core"
	"github.com/introkun/netpass-mirror/internal/metrics"
	"github.com/introkun/netpass-mirror/internal/storage"
)

// Inbox hands delivered messages back to their recipient.
type Inbox struct {
	store   storage.Store
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewInbox(store storage.Store, m *metrics.Metrics, log zerolog.Logger) *Inbox {
	return &Inbox{store: store, metrics: m, log: log.With().Str("component", "inbox").Logger()}
}

// Pop returns the newest unconsumed inbox message for (device, title)
// and marks it consumed, or nil when the inbox is empty. Older rows
// stay queued for subsequent calls. A stored record that fails full
// validation is dropped (consumed, not returned); that only happens if
// something other than the matcher wrote the row.
func (i *Inbox) Pop(device core.DeviceID, titleID uint32) (*cec.Message, core.DeviceID, error) {
	var (
		msg  *cec.Message
		from core.DeviceID
	)
	err := i.store.Tx(func(ops storage.Ops) error {
		row, err := ops.NewestUnconsumedInbox(device, titleID)
		if err != nil {
			return fmt.Errorf("load inbox row: %w", err)
		}
		if row == nil {
			return nil
		}
		if err := ops.MarkInboxConsumed(row.MessageID, row.To); err != nil {
			return fmt.Errorf("mark consumed: %w", err)
		}
		parsed, err := cec.ParseMessage(row.Message)
		if err != nil || !parsed.Validate() {
			i.log.Warn().
				Stringer("device", device).
				Uint32("title_id", titleID).
				Int64("message_id", row.MessageID).
				Msg("invalid inbox record dropped")
			return nil
		}
		msg = parsed
		from = row.From
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if msg != nil {
		i.metrics.InboxPops.Inc()
	}
	return msg, from, nil
}

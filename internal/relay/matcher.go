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

// Matcher carries out the message exchange between two devices.
type Matcher struct {
	store   storage.Store
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewMatcher(store storage.Store, m *metrics.Metrics, log zerolog.Logger) *Matcher {
	return &Matcher{store: store, metrics: m, log: log.With().Str("component", "matcher").Logger()}
}

type candidate struct {
	sender core.DeviceID
	recv   core.DeviceID
	msg    *cec.Message
}

// Exchange moves eligible outbox messages between the two devices'
// inboxes. A message is eligible when its title is in the recipient's
// membership set and its budget is non-zero. Messages with send method
// 0 are delivered only when the opposite direction also carries a
// message for the same title; the pair is then linked through each
// other's secondary message ID. Delivered messages have their budget
// decremented (unless unlimited) and persisted back to the sender's
// outbox with the modified flag set; the relayed copy additionally
// gets its hop counter decremented and the send timestamp stamped.
//
// Returns false only for the identity pair; a processed pair with zero
// eligible messages still returns true. Duplicate deliveries from
// racing triggers are absorbed by the conflict-tolerant inbox insert.
func (m *Matcher) Exchange(a, b core.DeviceID) (bool, error) {
	if a == b {
		return false, nil
	}

	delivered := 0
	err := m.store.Tx(func(ops storage.Ops) error {
		var passes [2]map[uint32]candidate
		for i, dir := range [2][2]core.DeviceID{{a, b}, {b, a}} {
			recv, send := dir[0], dir[1]
			rows, err := ops.EligibleOutbox(recv, send)
			if err != nil {
				return fmt.Errorf("eligible outbox %s<-%s: %w", recv, send, err)
			}
			passes[i] = make(map[uint32]candidate, len(rows))
			for _, row := range rows {
				msg, err := cec.ParseMessage(row.Message)
				if err != nil {
					m.log.Warn().Err(err).
						Stringer("device", send).
						Int64("message_id", row.MessageID).
						Msg("unparseable outbox row skipped")
					continue
				}
				if msg.SendCount() == 0 {
					continue
				}
				passes[i][msg.TitleID()] = candidate{sender: send, recv: recv, msg: msg}
			}
		}

		now := time.Now().Unix()
		for i := range passes {
			for titleID, c := range passes[i] {
				msg := c.msg
				if msg.SendCount() == 0 {
					continue
				}
				if msg.SendMethod() == 0 {
					// Bidirectional rule: no counterpart, no delivery.
					other, ok := passes[1-i][titleID]
					if !ok {
						continue
					}
					msg.SetMessageID2(other.msg.MessageID())
				}
				if msg.SendCount() < cec.UnlimitedSendCount {
					msg.SetSendCount(msg.SendCount() - 1)
					if err := ops.UpdateOutboxRelayed(c.sender, msg.MessageID(), msg.SendCount(), msg.Bytes()); err != nil {
						return fmt.Errorf("persist budget decrement: %w", err)
					}
				}
				// The relayed copy carries the hop decrement and the
				// send timestamp; the sender's stored copy does not.
				msg.SetForwardCount(msg.ForwardCount() - 1)
				msg.SetSentAt(cec.Now())

				if err := ops.InsertInbox(core.InboxEntry{
					TitleID:     titleID,
					MessageID:   msg.MessageID(),
					From:        c.sender,
					To:          c.recv,
					Message:     msg.Bytes(),
					DeliveredAt: now,
				}); err != nil {
					return fmt.Errorf("insert inbox row: %w", err)
				}
				delivered++
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	m.metrics.Exchanges.Inc()
	m.metrics.Deliveries.Add(float64(delivered))
	m.log.Debug().Stringer("a", a).Stringer("b", b).Int("delivered", delivered).Msg("pair exchanged")
	return true, nil
}

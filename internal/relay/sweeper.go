package relay

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/introkun/netpass-mirror/internal/metrics"
	"github.com/introkun/netpass-mirror/internal/storage"
)

// DefaultRetention is how long outbox, inbox and membership rows
// survive without activity. Policy, not protocol.
const DefaultRetention = 30 * 24 * time.Hour

// Sweeper deletes expired records: inactive rows past the retention
// threshold and location windows that have ended.
type Sweeper struct {
	store     storage.Store
	metrics   *metrics.Metrics
	retention time.Duration
	log       zerolog.Logger
}

func NewSweeper(store storage.Store, m *metrics.Metrics, retention time.Duration, log zerolog.Logger) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Sweeper{
		store:     store,
		metrics:   m,
		retention: retention,
		log:       log.With().Str("component", "sweeper").Logger(),
	}
}

// Sweep runs one deletion pass.
func (s *Sweeper) Sweep() error {
	now := time.Now().Unix()
	cutoff := now - int64(s.retention/time.Second)

	var total int64
	for _, sweep := range []struct {
		table string
		run   func() (int64, error)
	}{
		{"outbox", func() (int64, error) { return s.store.DeleteOutboxBefore(cutoff) }},
		{"inbox", func() (int64, error) { return s.store.DeleteInboxBefore(cutoff) }},
		{"mboxlist", func() (int64, error) { return s.store.DeleteMembershipsBefore(cutoff) }},
		{"location", func() (int64, error) { return s.store.DeleteExpiredLocations(now) }},
	} {
		n, err := sweep.run()
		if err != nil {
			return fmt.Errorf("sweep %s: %w", sweep.table, err)
		}
		if n > 0 {
			s.metrics.SweepDeletions.WithLabelValues(sweep.table).Add(float64(n))
			total += n
		}
	}
	if total > 0 {
		s.log.Info().Int64("deleted", total).Msg("retention sweep removed rows")
	}
	return nil
}

package relay

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/introkun/netpass-mirror/internal/core"
	"github.com/introkun/netpass-mirror/internal/metrics"
	"github.com/introkun/netpass-mirror/internal/storage"
)

// PresenceWindow is how long a device stays matchable after entering a
// location.
const PresenceWindow = 10 * time.Hour

// Locations tracks device presence windows and triggers matching, both
// device-initiated and background.
type Locations struct {
	store     storage.Store
	matcher   *Matcher
	metrics   *metrics.Metrics
	locations int32
	log       zerolog.Logger
}

func NewLocations(store storage.Store, matcher *Matcher, m *metrics.Metrics, numLocations int, log zerolog.Logger) *Locations {
	return &Locations{
		store:     store,
		matcher:   matcher,
		metrics:   m,
		locations: int32(numLocations),
		log:       log.With().Str("component", "locations").Logger(),
	}
}

// Valid reports whether locationID is within the configured range.
func (l *Locations) Valid(locationID int32) bool {
	return locationID >= 0 && locationID < l.locations
}

// Enter opens a presence window for the device. Entry is refused for an
// out-of-range location or a device with no activated mailboxes
// (nothing to exchange). A device already windowed keeps its existing
// window; re-entry still succeeds.
func (l *Locations) Enter(device core.DeviceID, locationID int32) (bool, error) {
	if !l.Valid(locationID) {
		return false, nil
	}
	n, err := l.store.MembershipCount(device)
	if err != nil {
		return false, fmt.Errorf("count memberships: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	now := time.Now().Unix()
	if err := l.store.EnterLocation(core.LocationEntry{
		LocationID: locationID,
		Device:     device,
		Start:      now,
		End:        now + int64(PresenceWindow/time.Second),
	}); err != nil {
		return false, fmt.Errorf("enter location: %w", err)
	}
	l.metrics.LocationEntries.Inc()
	l.log.Debug().Stringer("device", device).Int32("location", locationID).Msg("entered location")
	return true, nil
}

// Current returns the device's location, or ok=false when it is not
// windowed anywhere.
func (l *Locations) Current(device core.DeviceID) (int32, bool, error) {
	e, err := l.store.Location(device)
	if err != nil {
		return 0, false, fmt.Errorf("load location: %w", err)
	}
	if e == nil {
		return 0, false, nil
	}
	return e.LocationID, true, nil
}

// TriggerImmediate runs device-initiated matching: with the device's
// window active at the location, match it against a small random number
// of co-located devices, the initiating device on the receiving side of
// the first direction. A failed peer match is logged and does not stop
// the rest.
func (l *Locations) TriggerImmediate(device core.DeviceID, locationID int32) (bool, error) {
	e, err := l.store.Location(device)
	if err != nil {
		return false, fmt.Errorf("load location: %w", err)
	}
	now := time.Now().Unix()
	if e == nil || e.LocationID != locationID || e.Start > now || now >= e.End {
		return false, nil
	}
	peers, err := l.store.RandomPeers(device, locationID, 1+rand.IntN(3))
	if err != nil {
		return false, fmt.Errorf("pick peers: %w", err)
	}
	for _, peer := range peers {
		if _, err := l.matcher.Exchange(device, peer); err != nil {
			l.log.Error().Err(err).
				Stringer("device", device).
				Stringer("peer", peer).
				Int32("location", locationID).
				Msg("immediate match failed")
		}
	}
	return true, nil
}

// TriggerBackground runs one bulk matching pass over a location: sample
// a population-scaled number of devices, each against one random
// co-located device. The sample size is
// ceil(min(1, population/1000) * population); for populations of 1000
// and above the cap degenerates to the full population, which is kept
// as observed in deployed servers. A failed pair is logged and the
// rest of the batch proceeds.
func (l *Locations) TriggerBackground(locationID int32) error {
	population, err := l.store.LocationPopulation(locationID)
	if err != nil {
		return fmt.Errorf("location population: %w", err)
	}
	if population == 0 {
		return nil
	}
	limit := int(math.Ceil(math.Min(1, float64(population)/1000) * float64(population)))
	pairs, err := l.store.SamplePairs(locationID, limit)
	if err != nil {
		return fmt.Errorf("sample pairs: %w", err)
	}
	for _, pair := range pairs {
		if _, err := l.matcher.Exchange(pair[0], pair[1]); err != nil {
			l.log.Error().Err(err).
				Stringer("a", pair[0]).
				Stringer("b", pair[1]).
				Int32("location", locationID).
				Msg("background match failed")
		}
	}
	l.log.Debug().
		Int32("location", locationID).
		Int("population", population).
		Int("sampled", len(pairs)).
		Msg("background matching pass done")
	return nil
}

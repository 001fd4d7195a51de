package httpapi

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

// handleData serves a plaintext dump of everything stored for the
// device (GET) and full erasure (DELETE).
func (s *Service) handleData(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleDataDump(w, r)
	case http.MethodDelete:
		s.handleDataDelete(w, r)
	default:
		writeText(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Service) handleDataDump(w http.ResponseWriter, r *http.Request) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}
	data, err := s.store.DeviceData(device)
	if err != nil {
		s.log.Error().Err(err).Stringer("device", device).Msg("data dump failed")
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	out := func(format string, args ...any) {
		fmt.Fprintf(w, format, args...)
	}

	out("NetPass data dump\n")
	out("Time: %s\n", time.Now().Format(time.RFC3339))
	out("Mac Address: %s\n\n\n", device.MAC())

	out("Outboxes\n")
	for _, e := range data.Outbox {
		out("  title_id: %08x\n", e.TitleID)
		out("  message_id: %016x\n", uint64(e.MessageID))
		out("  message: %s\n", hex.EncodeToString(e.Message))
		out("  time: %d\n\n", e.UpdatedAt)
	}

	out("Inboxes sent to others\n")
	for _, e := range data.InboxFrom {
		dumpInbox(out, e.TitleID, e.MessageID, e.Message, e.Consumed, e.DeliveredAt)
	}
	out("Inboxes sent to yourself\n")
	for _, e := range data.InboxTo {
		dumpInbox(out, e.TitleID, e.MessageID, e.Message, e.Consumed, e.DeliveredAt)
	}

	out("Locations\n")
	for _, e := range data.Locations {
		out("  location_id: %d\n", e.LocationID)
		out("  time_start: %d\n", e.Start)
		out("  time_end: %d\n\n", e.End)
	}

	out("Activated message boxes\n")
	for _, e := range data.Memberships {
		out("  title_id: %08x\n", e.TitleID)
		out("  time: %d\n\n", e.UpdatedAt)
	}
}

func dumpInbox(out func(string, ...any), titleID uint32, messageID int64, message []byte, consumed bool, at int64) {
	out("  title_id: %08x\n", titleID)
	out("  message_id: %016x\n", uint64(messageID))
	out("  message: %s\n", hex.EncodeToString(message))
	out("  sent: %t\n", consumed)
	out("  time: %d\n\n", at)
}

func (s *Service) handleDataDelete(w http.ResponseWriter, r *http.Request) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}
	if err := s.store.PurgeDevice(device); err != nil {
		s.log.Error().Err(err).Stringer("device", device).Msg("data delete failed")
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeText(w, http.StatusOK, "Success")
}

func (s *Service) handlePing(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "pong")
}

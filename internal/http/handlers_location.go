package httpapi

import (
	"encoding/binary"
	"net/http"
	"strconv"
	"strings"
)

// handleLocation routes /location/current and /location/{id}/enter.
func (s *Service) handleLocation(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/location/"), "/")
	if rest == "current" {
		if r.Method != http.MethodGet {
			writeText(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		s.handleCurrentLocation(w, r)
		return
	}

	parts := strings.Split(rest, "/")
	if len(parts) == 2 && parts[1] == "enter" {
		if r.Method != http.MethodPut {
			writeText(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		locationID, err := strconv.ParseInt(parts[0], 10, 32)
		if err != nil || !s.locations.Valid(int32(locationID)) {
			writeText(w, http.StatusBadRequest, "Invalid location id")
			return
		}
		s.handleEnterLocation(w, r, int32(locationID))
		return
	}
	writeText(w, http.StatusNotFound, "path not found")
}

func (s *Service) handleEnterLocation(w http.ResponseWriter, r *http.Request, locationID int32) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}
	entered, err := s.locations.Enter(device, locationID)
	if err != nil {
		s.log.Error().Err(err).Stringer("device", device).Msg("enter location failed")
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !entered {
		writeText(w, http.StatusConflict, "Cannot enter location")
		return
	}
	// Device-initiated matching runs on entry; a failure here does not
	// undo the entry.
	if _, err := s.locations.TriggerImmediate(device, locationID); err != nil {
		s.log.Error().Err(err).Stringer("device", device).Msg("immediate matching failed")
	}
	writeText(w, http.StatusOK, "Success")
}

func (s *Service) handleCurrentLocation(w http.ResponseWriter, r *http.Request) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}
	locationID, present, err := s.locations.Current(device)
	if err != nil {
		s.log.Error().Err(err).Stringer("device", device).Msg("current location failed")
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !present {
		writeText(w, http.StatusNoContent, "Not in any location")
		return
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(locationID))
	w.Header().Set("Content-Type", "application/binary")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf[:])
}

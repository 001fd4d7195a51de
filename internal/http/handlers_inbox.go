package httpapi

import (
	"net/http"
	"strconv"
	"strings"
)

// handleInbox routes /inbox/{titlehex}/pop. The title segment is the
// 8-hex-digit box name.
func (s *Service) handleInbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeText(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/inbox/"), "/"), "/")
	if len(parts) != 2 || parts[1] != "pop" {
		writeText(w, http.StatusNotFound, "path not found")
		return
	}
	titleID, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil || len(parts[0]) != 8 {
		writeText(w, http.StatusBadRequest, "Invalid inbox id")
		return
	}
	device, ok := s.device(w, r)
	if !ok {
		return
	}

	msg, _, err2 := s.inbox.Pop(device, uint32(titleID))
	if err2 != nil {
		s.log.Error().Err(err2).Stringer("device", device).Msg("inbox pop failed")
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if msg == nil {
		writeText(w, http.StatusNoContent, "Inbox empty")
		return
	}
	w.Header().Set("Content-Type", "application/binary")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(msg.Bytes())
}

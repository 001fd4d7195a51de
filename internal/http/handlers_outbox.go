package httpapi

import (
	"io"
	"net/http"

	"github.com/introkun/netpass-mirror/internal/cec"
)

// contentLength bounds the declared request length. A missing length
// is a 411, an oversize one a 413.
func contentLength(w http.ResponseWriter, r *http.Request, max int64) (int64, bool) {
	length := r.ContentLength
	if length < 0 {
		writeText(w, http.StatusLengthRequired, "Invalid content-length error")
		return 0, false
	}
	if length < 4 {
		writeText(w, http.StatusBadRequest, "Content too short")
		return 0, false
	}
	if length > max {
		writeText(w, http.StatusRequestEntityTooLarge, "Content too long")
		return 0, false
	}
	return length, true
}

func (s *Service) handleUploadMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeText(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	length, ok := contentLength(w, r, cec.MaxMessageSize)
	if !ok {
		return
	}
	device, ok := s.device(w, r)
	if !ok {
		return
	}

	// Validate the fixed header before trusting any length derived
	// from it.
	buf := make([]byte, cec.MessageHeaderSize)
	if _, err := io.ReadFull(r.Body, buf); err != nil {
		writeText(w, http.StatusBadRequest, "Bad Message Header")
		return
	}
	header, err := cec.ParseMessage(buf)
	if err != nil || !header.ValidateHeader() {
		writeText(w, http.StatusBadRequest, "Bad Message Header")
		return
	}
	if int64(header.Size()) != length {
		writeText(w, http.StatusBadRequest, "Bad Message Length")
		return
	}

	buf = append(buf, make([]byte, header.Size()-cec.MessageHeaderSize)...)
	if _, err := io.ReadFull(r.Body, buf[cec.MessageHeaderSize:]); err != nil {
		writeText(w, http.StatusBadRequest, "Bad Message")
		return
	}
	msg, err := cec.ParseMessage(buf)
	if err != nil || !msg.Validate() {
		writeText(w, http.StatusBadRequest, "Bad Message")
		return
	}

	corrected, err := s.outbox.Upload(device, msg, titleName(r))
	if err != nil {
		s.log.Error().Err(err).Stringer("device", device).Msg("outbox upload failed")
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if corrected == nil {
		writeText(w, http.StatusNoContent, "Success")
		return
	}
	// The server's stored budget overrode the uploaded one; hand the
	// authoritative count back so the device can adopt it.
	w.Header().Set("Content-Type", "application/binary")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte{*corrected})
}

func (s *Service) handleUploadBoxList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeText(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if _, ok := contentLength(w, r, cec.BoxListSize); !ok {
		return
	}
	device, ok := s.device(w, r)
	if !ok {
		return
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, cec.BoxListSize))
	if err != nil {
		writeText(w, http.StatusBadRequest, "Bad Message")
		return
	}
	list, err := cec.ParseBoxList(buf)
	if err != nil || !list.Validate() {
		writeText(w, http.StatusBadRequest, "Bad Message")
		return
	}
	if err := s.outbox.StoreBoxList(device, list); err != nil {
		s.log.Error().Err(err).Stringer("device", device).Msg("box list upload failed")
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeText(w, http.StatusOK, "Success")
}

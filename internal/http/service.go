// Package httpapi is the request-routing layer: it maps the console's
// HTTP surface onto the relay operations and handles transport framing
// (device identity header, length gating, binary responses).
package httpapi

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf16"

	"github.com/rs/zerolog"

	"github.com/introkun/netpass-mirror/internal/core"
	"github.com/introkun/netpass-mirror/internal/relay"
	"github.com/introkun/netpass-mirror/internal/storage"
)

// macHeader carries the console's 6-byte hardware address as 12 hex
// characters.
const macHeader = "3ds-mac"

// titleNameHeader optionally carries a human-readable title name,
// base64 with '+' and '-' as the extra alphabet characters.
const titleNameHeader = "3ds-title-name"

const maxTitleNameLen = 50

type Service struct {
	outbox    *relay.Outbox
	inbox     *relay.Inbox
	locations *relay.Locations
	store     storage.Store
	log       zerolog.Logger
}

func NewService(outbox *relay.Outbox, inbox *relay.Inbox, locations *relay.Locations, store storage.Store, log zerolog.Logger) *Service {
	return &Service{
		outbox:    outbox,
		inbox:     inbox,
		locations: locations,
		store:     store,
		log:       log.With().Str("component", "http").Logger(),
	}
}

// writeText writes a plain-text status response. For status codes that
// forbid a body (204) only the status is sent.
func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	if status != http.StatusNoContent {
		_, _ = w.Write([]byte(msg))
	}
}

// device extracts the device identity from the request, writing the
// error response itself when the header is missing or malformed.
func (s *Service) device(w http.ResponseWriter, r *http.Request) (core.DeviceID, bool) {
	mac := r.Header.Get(macHeader)
	if mac == "" {
		writeText(w, http.StatusBadRequest, "Missing mac")
		return 0, false
	}
	id, err := core.ParseDeviceID(mac)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid mac")
		return 0, false
	}
	return id, true
}

var titleNameEncoding = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+-")

// titleName decodes the optional title-name header. Anything malformed
// or overlong yields the empty string; the upload itself never fails
// on it.
func titleName(r *http.Request) string {
	raw := r.Header.Get(titleNameHeader)
	if raw == "" {
		return ""
	}
	for len(raw)%4 != 0 {
		raw += "="
	}
	buf, err := titleNameEncoding.DecodeString(raw)
	if err != nil {
		return ""
	}
	name, err := decodeUTF16(buf)
	if err != nil {
		name = string(buf)
	}
	name = strings.Trim(name, "\x00")
	if i := strings.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	if len(name) > maxTitleNameLen {
		return ""
	}
	return name
}

func decodeUTF16(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("odd utf-16 length %d", len(b))
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return string(utf16.Decode(units)), nil
}

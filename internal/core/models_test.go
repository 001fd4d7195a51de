package core

import "testing"

func TestParseDeviceID(t *testing.T) {
	id, err := ParseDeviceID("4ce2a9f00bcd")
	if err != nil {
		t.Fatalf("parse device id: %v", err)
	}
	// Little-endian over the 6 address bytes plus two zero bytes.
	if id != 0x0000cd0bf0a9e24c {
		t.Fatalf("device id = %#x", uint64(id))
	}
	if id.MAC() != "4ce2a9f00bcd" {
		t.Fatalf("mac round trip = %q", id.MAC())
	}
}

func TestParseDeviceIDRejects(t *testing.T) {
	for _, mac := range []string{"", "4ce2a9f00b", "4ce2a9f00bcdee", "4ce2a9f00bzz"} {
		if _, err := ParseDeviceID(mac); err == nil {
			t.Fatalf("expected error for %q", mac)
		}
	}
}

func TestAnomalyReasonString(t *testing.T) {
	cases := map[AnomalyReason]string{
		AnomalySendMethod:   "send_method",
		AnomalySendCount:    "send_count",
		AnomalyForwardCount: "forward_count",
		AnomalyReason(99):   "unknown",
	}
	for reason, want := range cases {
		if got := reason.String(); got != want {
			t.Fatalf("reason %d = %q, want %q", reason, got, want)
		}
	}
}

package registry

import (
	"testing"

	"github.com/Maxencejules/hybrid-go-os/kernel/config"
)

func resetForTest() {
	entries = [config.MaxServiceEntries]entry{}
}

func TestRegisterAndLookupRoundTrip(t *testing.T) {
	resetForTest()
	if rc := Register("pong", 7); rc != 0 {
		t.Fatalf("expected Register to succeed; got %d", rc)
	}
	if port := Lookup("pong"); port != 7 {
		t.Fatalf("expected Lookup to return 7; got %d", port)
	}
}

func TestLookupUnknownNameReturnsZero(t *testing.T) {
	resetForTest()
	if port := Lookup("nope"); port != 0 {
		t.Fatalf("expected 0 for an unregistered name; got %d", port)
	}
}

func TestLookupDoesNotPrefixMatch(t *testing.T) {
	resetForTest()
	Register("ping", 3)
	if port := Lookup("pingpong"); port != 0 {
		t.Fatalf("expected no match for a name that only shares a prefix; got %d", port)
	}
	if port := Lookup("pin"); port != 0 {
		t.Fatalf("expected no match for a truncated name; got %d", port)
	}
}

func TestFirstMatchingEntryWins(t *testing.T) {
	resetForTest()
	Register("svc", 1)
	Register("svc", 2)
	if port := Lookup("svc"); port != 1 {
		t.Fatalf("expected the first registered entry's port to win; got %d", port)
	}
}

func TestRegisterFailsWhenTableFull(t *testing.T) {
	resetForTest()
	for i := 0; i < config.MaxServiceEntries; i++ {
		if rc := Register("x", uint32(i)); rc != 0 {
			t.Fatalf("expected registration %d to succeed", i)
		}
	}
	if rc := Register("overflow", 99); rc != -1 {
		t.Fatalf("expected Register to fail once the table is full; got %d", rc)
	}
}

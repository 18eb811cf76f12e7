package restore

import (
	"errors"
	"testing"

	"github.com/restoregoose/idevicerestore/pkg/tss"
)

func fixtureTicket() tss.Ticket {
	return tss.Ticket{
		"KernelCache": map[string]any{
			"Path": "kernelcache.release.n71",
			"Blob": []byte("kernel-blob"),
		},
		"OS": map[string]any{
			"Info": map[string]any{
				"Path": "018-00000-000.dmg",
			},
		},
		"Bogus": "not-a-dict",
		"LLB": map[string]any{
			"Path": "LLB.n71ap.RELEASE.img3",
		},
	}
}

func TestResolveByName(t *testing.T) {
	name, path, blob, err := Resolve(fixtureTicket(), ByName("KernelCache"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if name != "KernelCache" || path != "kernelcache.release.n71" || string(blob) != "kernel-blob" {
		t.Errorf("Resolve() = (%q, %q, %q), want (KernelCache, kernelcache.release.n71, kernel-blob)", name, path, blob)
	}
}

func TestResolveOSNestedPath(t *testing.T) {
	name, path, _, err := Resolve(fixtureTicket(), ByName("OS"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if name != "OS" || path != "018-00000-000.dmg" {
		t.Errorf("Resolve() = (%q, %q), want (OS, 018-00000-000.dmg)", name, path)
	}
}

func TestResolveByPath(t *testing.T) {
	name, _, _, err := Resolve(fixtureTicket(), ByPath("018-00000-000.dmg"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if name != "OS" {
		t.Errorf("Resolve() name = %q, want OS", name)
	}
}

func TestResolveMissingName(t *testing.T) {
	_, _, _, err := Resolve(fixtureTicket(), ByName("DoesNotExist"))
	var missing *TicketEntryMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("Resolve() error = %v, want *TicketEntryMissingError", err)
	}
}

func TestResolveMissingPath(t *testing.T) {
	_, _, _, err := Resolve(fixtureTicket(), ByPath("no/such/path"))
	var missing *TicketPathMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("Resolve() error = %v, want *TicketPathMissingError", err)
	}
}

func TestResolveMalformedEntry(t *testing.T) {
	_, _, _, err := Resolve(fixtureTicket(), ByName("Bogus"))
	var malformed *TicketEntryMalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("Resolve() error = %v, want *TicketEntryMalformedError", err)
	}
}

func TestResolveMissingBlobOnNonOSEntry(t *testing.T) {
	// LLB has a Path but no Blob: a malformed signing response for any
	// component other than OS, which is the only entry allowed to be
	// legitimately blob-less.
	_, _, _, err := Resolve(fixtureTicket(), ByName("LLB"))
	var malformed *TicketEntryMalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("Resolve() error = %v, want *TicketEntryMalformedError", err)
	}
}

func TestResolveByPathSkipsMalformedEntries(t *testing.T) {
	// The Bogus entry can't be decoded, so a ByPath scan must continue past
	// it rather than returning TicketEntryMalformedError.
	name, _, _, err := Resolve(fixtureTicket(), ByPath("kernelcache.release.n71"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if name != "KernelCache" {
		t.Errorf("Resolve() name = %q, want KernelCache", name)
	}
}

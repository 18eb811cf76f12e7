package tss

import (
	"testing"

	"github.com/restoregoose/idevicerestore/pkg/plist"
)

// fixtureManifest builds a minimal BuildManifest with one matching
// BuildIdentity so Personalize doesn't need a firmware bundle on disk.
func fixtureManifest() *plist.BuildManifest {
	return &plist.BuildManifest{
		ProductBuildVersion: "21A329",
		BuildIdentities: []plist.BuildIdentity{
			{
				ApProductType: "iPhone14,2",
				ApBoardID:     "0x8",
				ApChipID:      "0x8120",
				Manifest: map[string]plist.IdentityManifest{
					"PersonalizedDMG": {Digest: []byte("dmg-digest")},
					"LoadableTrustCache": {
						Digest: []byte("trust-cache-digest"),
						Info: map[string]any{
							"RestoreRequestRules": []any{
								map[string]any{
									"Conditions": map[string]any{"ApRawProductionMode": true},
									"Actions":    map[string]any{"EPRO": true, "ESEC": false},
								},
							},
						},
					},
				},
			},
		},
	}
}

func TestPersonalizeFailsWithoutSigningServer(t *testing.T) {
	conf := &PersonalConfig{
		BuildManifest: fixtureManifest(),
		PersonlID: map[string]any{
			"BoardId":      float64(8),
			"ChipID":       float64(0x8120),
			"UniqueChipID": float64(6303405673529390),
			"ApNonce":      "0000000000000000000000000000000000000000000000000000000000000000",
		},
	}

	// Personalize always reaches the signing-authority exchange last; a nil
	// Proxy/Insecure config with no network available fails there, which is
	// enough to exercise the rule-application and manifest-matching logic
	// above it without a live endpoint.
	_, err := Personalize(conf)
	if err == nil {
		t.Fatalf("Personalize() error = nil, want a signing exchange failure (no TSS server reachable in this test)")
	}
}

func TestTicketDecodeBlob(t *testing.T) {
	ticket := Ticket{
		"ApImg4Ticket": []byte("img4-ticket-bytes"),
		"BBTicket":     []byte("bb-ticket-bytes"),
		"KernelCache":  map[string]any{"Path": "kernelcache", "Blob": []byte("kernel-blob")},
	}

	blob, err := ticket.DecodeBlob()
	if err != nil {
		t.Fatalf("DecodeBlob() error = %v", err)
	}
	if string(blob.ApImg4Ticket) != "img4-ticket-bytes" {
		t.Errorf("ApImg4Ticket = %q, want img4-ticket-bytes", blob.ApImg4Ticket)
	}
	if string(blob.BBTicket) != "bb-ticket-bytes" {
		t.Errorf("BBTicket = %q, want bb-ticket-bytes", blob.BBTicket)
	}
}

func TestGetTSSResponseRequiresECID(t *testing.T) {
	_, err := GetTSSResponse(&Config{
		Device:   "iPhone14,2",
		Manifest: fixtureManifest(),
		ECID:     0,
	})
	if err == nil {
		t.Fatalf("GetTSSResponse() error = nil, want an error for missing ECID")
	}
}

func TestGetTSSResponseUnknownDevice(t *testing.T) {
	_, err := GetTSSResponse(&Config{
		Device:   "NotARealProduct",
		Manifest: fixtureManifest(),
		ECID:     1234,
	})
	if err == nil {
		t.Fatalf("GetTSSResponse() error = nil, want a build-identity lookup failure")
	}
}

package restore

import (
	"errors"
	"net"
	"testing"

	"github.com/restoregoose/idevicerestore/pkg/usb"
)

func TestHandleProgressInvokesCallback(t *testing.T) {
	var got int
	d := &Dispatcher{OnProgress: func(percent int) { got = percent }}

	d.handleProgress(map[string]any{"MsgType": "ProgressMsg", "Progress": 42})

	if got != 42 {
		t.Errorf("OnProgress received %d, want 42", got)
	}
}

func TestHandleProgressToleratesNilCallback(t *testing.T) {
	d := &Dispatcher{}
	d.handleProgress(map[string]any{"Progress": 10}) // must not panic
}

func TestHandleStatusTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"SUCCESS", true},
		{"FAIL", true},
		{"RESTORE_STATE", false},
	}
	for _, tt := range tests {
		var reported string
		var reportedTerminal bool
		d := &Dispatcher{OnStatus: func(status string, terminal bool) {
			reported = status
			reportedTerminal = terminal
		}}

		got := d.handleStatus(map[string]any{"Status": tt.status})

		if got != tt.want {
			t.Errorf("handleStatus(%q) = %t, want %t", tt.status, got, tt.want)
		}
		if reported != tt.status || reportedTerminal != tt.want {
			t.Errorf("OnStatus callback got (%q, %t), want (%q, %t)", reported, reportedTerminal, tt.status, tt.want)
		}
	}
}

func TestHandleDataRequestUnknownType(t *testing.T) {
	d := &Dispatcher{}

	err := d.handleDataRequest(map[string]any{"DataType": "SomethingNew"})

	var unknown *UnknownDataTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("handleDataRequest() error = %v, want *UnknownDataTypeError", err)
	}
	if unknown.DataType != "SomethingNew" {
		t.Errorf("UnknownDataTypeError.DataType = %q, want SomethingNew", unknown.DataType)
	}
}

func TestHandleDataRequestSystemImageStreamsASR(t *testing.T) {
	var streamedPath string
	d := &Dispatcher{
		SystemImage: "018-00000-000.dmg",
		StreamASR: func(imagePath string) error {
			streamedPath = imagePath
			return nil
		},
	}

	if err := d.handleDataRequest(map[string]any{"DataType": "SystemImageData"}); err != nil {
		t.Fatalf("handleDataRequest() error = %v", err)
	}
	if streamedPath != "018-00000-000.dmg" {
		t.Errorf("StreamASR called with %q, want 018-00000-000.dmg", streamedPath)
	}
}

func TestHandleDataRequestSystemImageWithoutStreamerFails(t *testing.T) {
	d := &Dispatcher{SystemImage: "018-00000-000.dmg"}

	err := d.handleDataRequest(map[string]any{"DataType": "SystemImageData"})

	var failure *TransportFailureError
	if !errors.As(err, &failure) {
		t.Fatalf("handleDataRequest() error = %v, want *TransportFailureError", err)
	}
}

// TestRunEndsCleanlyOnPeerClose exercises Run's loop against a real
// net.Conn: a clean peer close surfaces as io.EOF from DeviceLinkRecv and
// must end the loop immediately with a nil error, distinct from the
// bounded consecutiveErrors path used for every other receive failure.
func TestRunEndsCleanlyOnPeerClose(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	serverConn.Close()
	defer clientConn.Close()

	d := &Dispatcher{client: usb.NewClientFromConn(clientConn)}
	session := NewSession()

	err := d.Run(session)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil on clean peer close", err)
	}
}

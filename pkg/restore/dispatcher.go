package restore

import (
	"errors"
	"fmt"
	"io"

	"github.com/apex/log"
	"github.com/restoregoose/idevicerestore/pkg/tss"
	"github.com/restoregoose/idevicerestore/pkg/usb"
	"github.com/restoregoose/idevicerestore/pkg/usb/lockdownd"
)

// norComponents is the NOR-region bundle this dispatcher resolves and sends
// for a NORData request: the legacy (pre-recovery-mode-boot) bootloader
// stages that live in the device's NOR flash rather than being streamed as
// part of the C7 bootchain upload.
var norComponents = []string{"LLB", "iBoot"}

const restoredServiceName = "com.apple.mobile.restored"

// maxConsecutiveErrors is the bounded-error counter §9's resolved open
// question calls for: the dispatcher terminates after this many consecutive
// non-success receives rather than looping forever.
const maxConsecutiveErrors = 5

// ProgressHandler is invoked for every ProgressMsg; percent is the value of
// the message's Progress field (0-100), matching the original's behavior of
// printing a percentage (§12).
type ProgressHandler func(percent int)

// StatusHandler is invoked for every StatusMsg; terminal reports whether the
// status ends the restore (success or failure) and should latch quit.
type StatusHandler func(status string, terminal bool)

// Dispatcher implements C8: the restore-protocol message loop that serves
// the device's DataRequestMsg pulls and forwards Progress/Status messages.
type Dispatcher struct {
	client *usb.Client

	Archive     *Archive
	Ticket      tss.Ticket
	Custom      bool
	Debug       bool // write re-signed components to the cwd under their basename
	SystemImage string // path to the extracted filesystem image on disk
	OnProgress  ProgressHandler
	OnStatus    StatusHandler
	StreamASR   func(imagePath string) error // external filesystem-image streamer
}

// OpenDispatcher connects to the restore-protocol transport on the
// re-enumerated device, over the same usbmux/lockdown service-discovery
// path every other lockdown-backed service uses, and performs the
// QueryType + device-link handshake.
func OpenDispatcher(udid string) (*Dispatcher, error) {
	cli, err := lockdownd.NewClientForService(restoredServiceName, udid, true)
	if err != nil {
		return nil, &TransportFailureError{Stage: "open restore service", Cause: err}
	}

	var typeResp struct {
		Type string
	}
	if err := cli.Request(map[string]string{"Request": "QueryType"}, &typeResp); err != nil {
		cli.Close()
		return nil, &TransportFailureError{Stage: "restore QueryType", Cause: err}
	}
	if typeResp.Type != restoredServiceName {
		cli.Close()
		return nil, &NotInRestoreModeError{GotType: typeResp.Type}
	}

	if err := cli.DeviceLinkHandshake(); err != nil {
		cli.Close()
		return nil, &TransportFailureError{Stage: "restore device-link handshake", Cause: err}
	}

	return &Dispatcher{client: cli}, nil
}

func (d *Dispatcher) Close() error {
	return d.client.Close()
}

// StartRestore sends the start-restore control message that puts the
// device's restore agent into its message-pump state.
func (d *Dispatcher) StartRestore(buildVersion string) error {
	msg := map[string]any{
		"Operation":           "start-restore",
		"ProductBuildVersion": buildVersion,
	}
	if err := d.client.DeviceLinkSend(msg); err != nil {
		return &TransportFailureError{Stage: "start-restore", Cause: err}
	}
	return nil
}

// Run drives the message loop until quit is latched on session, a clean
// peer close is observed, UnknownDataType is hit, or maxConsecutiveErrors
// consecutive non-success receives accumulate.
func (d *Dispatcher) Run(session *Session) error {
	consecutiveErrors := 0

	for !session.Quit() {
		payload, err := d.client.DeviceLinkRecv()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				log.Debug("restore peer closed the connection")
				return nil
			}
			consecutiveErrors++
			log.WithError(err).Warn("restore message receive failed")
			if consecutiveErrors >= maxConsecutiveErrors {
				return &TransportFailureError{Stage: "restore", Cause: err}
			}
			continue
		}
		consecutiveErrors = 0

		dict, ok := payload.(map[string]any)
		if !ok {
			log.Warnf("restore message was not a dict: %T", payload)
			continue
		}

		msgType, _ := dict["MsgType"].(string)
		switch msgType {
		case "ProgressMsg":
			d.handleProgress(dict)
		case "StatusMsg":
			if d.handleStatus(dict) {
				session.LatchQuit()
			}
		case "DataRequestMsg":
			if err := d.handleDataRequest(dict); err != nil {
				return err
			}
		default:
			log.Debugf("restore message: unhandled MsgType %q", msgType)
		}
	}

	return nil
}

func (d *Dispatcher) handleProgress(dict map[string]any) {
	if d.OnProgress == nil {
		return
	}
	// Integers decoded from a plist into an `any` arrive as uint64 (int64
	// when negative); plain int is accepted for callers building dicts by hand.
	var percent int
	switch v := dict["Progress"].(type) {
	case int:
		percent = v
	case int64:
		percent = int(v)
	case uint64:
		percent = int(v)
	}
	d.OnProgress(percent)
}

// handleStatus reports whether the status is terminal (ends the restore).
func (d *Dispatcher) handleStatus(dict map[string]any) bool {
	status, _ := dict["Status"].(string)
	terminal := status == "SUCCESS" || status == "FAIL"
	if d.OnStatus != nil {
		d.OnStatus(status, terminal)
	}
	return terminal
}

func (d *Dispatcher) handleDataRequest(dict map[string]any) error {
	dataType, _ := dict["DataType"].(string)

	switch dataType {
	case "SystemImageData":
		if d.StreamASR == nil {
			return &TransportFailureError{Stage: "SystemImageData", Cause: fmt.Errorf("no ASR streamer configured")}
		}
		if err := d.StreamASR(d.SystemImage); err != nil {
			return &TransportFailureError{Stage: "SystemImageData", Cause: err}
		}
		return nil

	case "KernelCache":
		return d.sendComponentReply("KernelCache")

	case "NORData":
		return d.sendNORData()

	default:
		return &UnknownDataTypeError{DataType: dataType}
	}
}

// sendNORData resolves and re-signs every component in the device's
// NOR-region bundle and sends their concatenated bytes as a single
// restore-protocol reply.
func (d *Dispatcher) sendNORData() error {
	var bundle []byte
	for _, name := range norComponents {
		payload, err := d.resolveComponent(name)
		if err != nil {
			return err
		}
		bundle = append(bundle, payload...)
	}

	if err := d.client.DeviceLinkSend(bundle); err != nil {
		return &TransportFailureError{Stage: "send NORData", Cause: err}
	}
	return nil
}

func (d *Dispatcher) sendComponentReply(name string) error {
	payload, err := d.resolveComponent(name)
	if err != nil {
		return err
	}
	if err := d.client.DeviceLinkSend(payload); err != nil {
		return &TransportFailureError{Stage: fmt.Sprintf("send %s", name), Cause: err}
	}
	return nil
}

// resolveComponent resolves name by C4, extracts it from the bundle by C1,
// and re-signs it by C3 unless custom mode is set.
func (d *Dispatcher) resolveComponent(name string) ([]byte, error) {
	_, path, blob, err := Resolve(d.Ticket, ByName(name))
	if err != nil {
		return nil, err
	}

	raw, err := d.Archive.ExtractToMemory(path)
	if err != nil {
		return nil, err
	}

	payload := raw
	if !d.Custom {
		payload, err = resign(raw, blob)
		if err != nil {
			return nil, err
		}
		if d.Debug {
			if err := writeDebugCopy(path, payload); err != nil {
				log.WithError(err).Warnf("failed to write debug copy of %s", name)
			}
		}
	}
	return payload, nil
}

package restore

import (
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/restoregoose/idevicerestore/pkg/usb"
	"github.com/restoregoose/idevicerestore/pkg/usb/irecv"
	"github.com/restoregoose/idevicerestore/pkg/usb/lockdownd"
)

// HotplugEvent is delivered to a Tracker subscriber when a device attaches
// or detaches from usbmuxd's device list.
type HotplugEvent struct {
	Add  bool
	UDID string
}

// Tracker implements C6: it knows which mode the targeted device is
// currently in and how to read its identity in Normal or Recovery mode.
type Tracker struct {
	session *Session
}

// NewTracker returns a Tracker that publishes mode/quit transitions onto s.
func NewTracker(s *Session) *Tracker {
	return &Tracker{session: s}
}

// Detect attempts a normal-mode attach first, then a recovery-mode attach.
// It fails with DeviceAbsentError if neither succeeds.
func (t *Tracker) Detect() (Mode, error) {
	if lc, err := lockdownd.NewClient(t.session.UDID); err == nil {
		lc.Close()
		t.session.SetMode(ModeNormal)
		return ModeNormal, nil
	}

	if rc, err := irecv.NewClient(); err == nil {
		rc.Close()
		t.session.SetMode(ModeRecovery)
		return ModeRecovery, nil
	}

	return ModeUnknown, &DeviceAbsentError{}
}

// ReadECID reads the device's 64-bit exclusive chip ID via whichever
// transport matches the session's current mode. It is never valid in
// Restore mode.
func (t *Tracker) ReadECID() (uint64, error) {
	switch t.session.Mode() {
	case ModeNormal:
		lc, err := lockdownd.NewClient(t.session.UDID)
		if err != nil {
			return 0, &IdentityUnavailableError{Cause: err}
		}
		defer lc.Close()

		values, err := lc.GetValues()
		if err != nil {
			return 0, &IdentityUnavailableError{Cause: err}
		}
		log.Debugf("device values:\n%s", values)
		return uint64(values.UniqueChipID), nil

	case ModeRecovery:
		rc, err := irecv.NewClient()
		if err != nil {
			return 0, &IdentityUnavailableError{Cause: err}
		}
		defer rc.Close()

		ecid, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(rc.ECID), "0x"), 16, 64)
		if err != nil {
			return 0, &IdentityUnavailableError{Cause: err}
		}
		return ecid, nil

	default:
		return 0, &IdentityUnavailableError{Cause: &DeviceAbsentError{}}
	}
}

// EnterRecovery is only valid from Normal. It sends the recovery command
// over the identity service and disconnects; the caller must wait for the
// device to re-enumerate in Recovery mode before continuing (C7).
func (t *Tracker) EnterRecovery() error {
	if t.session.Mode() != ModeNormal {
		return &TransportFailureError{Stage: "enter-recovery", Cause: &DeviceAbsentError{}}
	}

	lc, err := lockdownd.NewClient(t.session.UDID)
	if err != nil {
		return &TransportFailureError{Stage: "enter-recovery", Cause: err}
	}
	defer lc.Close()

	if _, err := lc.EnterRecovery(); err != nil {
		return &TransportFailureError{Stage: "enter-recovery", Cause: err}
	}
	return nil
}

// Subscribe registers a hotplug observer goroutine that polls usbmuxd's
// device listing once per second and diffs it against the previous poll.
// The returned stop function ends the observer. The observer only promotes
// mode to Restore on add events and latches quit on remove events; no other
// mutation happens from this context (§5).
func (t *Tracker) Subscribe(callback func(HotplugEvent)) (stop func()) {
	done := make(chan struct{})

	go func() {
		seen := map[string]bool{}
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				conn, err := usb.NewConn()
				if err != nil {
					log.WithError(err).Debug("hotplug poll: usbmuxd unreachable")
					continue
				}
				devices, err := conn.ListDevices()
				conn.Close()
				if err != nil {
					log.WithError(err).Debug("hotplug poll: ListDevices failed")
					continue
				}

				current := make(map[string]bool, len(devices))
				for _, d := range devices {
					current[d.UDID] = true
					if !seen[d.UDID] {
						log.Debugf("hotplug attach:\n%s", d)
						if t.session.UDID == "" || matchesUDID(t.session.UDID, d.UDID) {
							t.session.SetMode(ModeRestore)
						}
						callback(HotplugEvent{Add: true, UDID: d.UDID})
					}
				}
				for udid := range seen {
					if !current[udid] {
						if t.session.UDID == "" || matchesUDID(t.session.UDID, udid) {
							t.session.LatchQuit()
						}
						callback(HotplugEvent{Add: false, UDID: udid})
					}
				}
				seen = current
			}
		}
	}()

	return func() { close(done) }
}

// matchesUDID implements the original's case-insensitive, prefix-tolerant
// -u matching (idevicerestore.c compares with strcasecmp against the full
// 40-character UDID; this preserves that leniency rather than requiring an
// exact-case match).
func matchesUDID(want, got string) bool {
	return strings.EqualFold(want, got) || strings.HasPrefix(strings.ToLower(got), strings.ToLower(want))
}

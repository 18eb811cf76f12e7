package restore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/restoregoose/idevicerestore/internal/utils"
	"github.com/restoregoose/idevicerestore/pkg/img3"
	"github.com/restoregoose/idevicerestore/pkg/tss"
	"github.com/restoregoose/idevicerestore/pkg/usb/irecv"
)

// CheckpointHook pauses the bootchain upload between Ramdisk and KernelCache.
// iBoot requires a hard reset after the ramdisk loads, so the operator must
// physically unplug and re-plug the device before the upload can continue.
// The default hook blocks on stdin; automated deployments that target
// hardware without this quirk may supply a no-op hook.
type CheckpointHook func() error

// DefaultCheckpointHook prompts on stdin and blocks for one keystroke.
func DefaultCheckpointHook(in io.Reader) CheckpointHook {
	r := bufio.NewReader(in)
	return func() error {
		log.Info("please unplug and re-plug the device, then press any key to continue...")
		_, err := r.ReadByte()
		return err
	}
}

// Uploader implements C7: the serial five-stage bootchain push to a
// recovery-mode device.
type Uploader struct {
	Archive    *Archive
	Ticket     tss.Ticket
	Custom     bool
	Debug      bool // write re-signed components to the cwd under their basename
	Checkpoint CheckpointHook
}

var bootchainComponents = []string{"iBEC", "AppleLogo", "DeviceTree", "Ramdisk"}

// Run executes the bootchain upload in the fixed order the spec requires:
// iBEC, a 1-second delay, AppleLogo, DeviceTree, Ramdisk, the checkpoint
// hook, then KernelCache. Any failure aborts; there is no partial-state
// recovery, the operator must re-enumerate the device and start over.
func (u *Uploader) Run(rc *irecv.Client) error {
	if err := u.pushComponent(rc, "iBEC"); err != nil {
		return err
	}

	time.Sleep(1 * time.Second)

	for _, name := range bootchainComponents[1:] {
		if err := u.pushComponent(rc, name); err != nil {
			return err
		}
	}

	if u.Checkpoint != nil {
		if err := u.Checkpoint(); err != nil {
			return &TransportFailureError{Stage: "checkpoint", Cause: err}
		}
	}

	return u.pushComponent(rc, "KernelCache")
}

// pushComponent resolves name by C4, extracts it from the bundle by C1,
// re-signs it by C3 unless custom mode is set, and pushes the resulting
// bytes over the recovery transport.
func (u *Uploader) pushComponent(rc *irecv.Client, name string) error {
	_, path, blob, err := Resolve(u.Ticket, ByName(name))
	if err != nil {
		return err
	}

	raw, err := u.Archive.ExtractToMemory(path)
	if err != nil {
		return err
	}

	payload := raw
	if !u.Custom {
		payload, err = resign(raw, blob)
		if err != nil {
			return err
		}
		if u.Debug {
			if err := writeDebugCopy(path, payload); err != nil {
				log.WithError(err).Warnf("failed to write debug copy of %s", name)
			}
		}
	}

	utils.Indent(log.Info, 2)(fmt.Sprintf("uploading %s (%s) [%s]", name, path, humanize.Bytes(uint64(len(payload)))))

	if err := rc.SendBytes(payload); err != nil {
		return &TransportFailureError{Stage: fmt.Sprintf("upload %s", name), Cause: err}
	}
	return nil
}

// resign replaces the signature chunk of a tagged-container component with
// the ticket-issued blob, leaving every other chunk byte-identical (C3).
func resign(raw, blob []byte) ([]byte, error) {
	container, err := img3.ParseImg3(raw)
	if err != nil {
		return nil, &ContainerMalformedError{Cause: err}
	}
	if err := container.ReplaceSignature(blob); err != nil {
		return nil, &NoSignatureChunkError{}
	}
	out, err := container.Serialize()
	if err != nil {
		return nil, &ContainerMalformedError{Cause: err}
	}
	return out, nil
}

// writeDebugCopy writes payload to path's basename in the current working
// directory, so an operator running with -d can diff a re-signed component
// against the one still inside the bundle.
func writeDebugCopy(path string, payload []byte) error {
	return os.WriteFile(filepath.Base(path), payload, 0o644)
}

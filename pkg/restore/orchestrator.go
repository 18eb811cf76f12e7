package restore

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/restoregoose/idevicerestore/pkg/plist"
	"github.com/restoregoose/idevicerestore/pkg/tss"
	"github.com/restoregoose/idevicerestore/pkg/usb/irecv"
)

// Config is everything the orchestrator needs from the CLI (§6).
type Config struct {
	BundlePath string
	UDID       string
	Custom     bool
	Debug      bool // write re-signed components to the cwd under their basename
	Proxy      string
	Insecure   bool
	Checkpoint CheckpointHook
	StreamASR  func(imagePath string) error
}

// Run drives the full restore pipeline (C9): linear, with one allowed skip
// (Normal->Recovery is skipped when the device is already in Recovery at
// detect time). Every step failure frees transient resources and exits
// non-zero; the extracted filesystem image is left on disk only once the
// device has entered Restore, and is unlinked on clean completion.
func Run(cfg *Config) error {
	session := NewSession()
	session.UDID = cfg.UDID
	session.Custom = cfg.Custom

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		if sig, ok := <-sigc; ok {
			log.Warnf("received %s, stopping restore", sig)
			session.LatchQuit()
		}
	}()

	archive, err := OpenArchive(cfg.BundlePath)
	if err != nil {
		return err
	}
	defer archive.Close()

	manifestData, err := archive.ExtractToMemory("BuildManifest.plist")
	if err != nil {
		return err
	}
	manifest, err := plist.ParseBuildManifest(manifestData)
	if err != nil {
		return &SchemaViolationError{Context: fmt.Sprintf("BuildManifest.plist: %v", err)}
	}

	var restoreInfo *plist.Restore
	if restoreData, err := archive.ExtractToMemory("Restore.plist"); err == nil {
		restoreInfo, err = plist.ParseRestore(restoreData)
		if err != nil {
			return &SchemaViolationError{Context: fmt.Sprintf("Restore.plist: %v", err)}
		}
	}

	if sysVersionData, err := archive.ExtractToMemory("SystemVersion.plist"); err == nil {
		if sysVersion, err := plist.ParseSystemVersion(sysVersionData); err == nil {
			log.Infof("bundle targets %s build %s", sysVersion.ProductVersion, sysVersion.ProductBuildVersion)
		}
	}

	tracker := NewTracker(session)
	mode, err := tracker.Detect()
	if err != nil {
		return err
	}
	log.Infof("device detected in %s mode", mode)

	ecid, err := tracker.ReadECID()
	if err != nil {
		return err
	}
	log.Infof("device ECID: %#x", ecid)

	device := manifest.BuildIdentities[0].ApProductType

	if bID, err := manifest.GetBuildIdentity(device); err == nil {
		log.Debugf("boot loaders for %s: %v", bID.Info.DeviceClass, manifest.GetBootLoaders()[bID.Info.DeviceClass])
		log.Debugf("kernel cache for %s: %v", bID.Info.DeviceClass, manifest.GetKernelForModel(bID.Info.DeviceClass))
	}

	ticket, err := tss.GetTSSResponse(&tss.Config{
		Device:   device,
		Manifest: manifest,
		ECID:     ecid,
		Proxy:    cfg.Proxy,
		Insecure: cfg.Insecure,
	})
	if err != nil {
		return &SigningUnavailableError{Cause: err}
	}

	_, systemImageMember, _, err := Resolve(ticket, ByName("OS"))
	if err != nil {
		return err
	}
	systemImagePath := filepath.Base(systemImageMember)
	if err := archive.ExtractToFile(systemImageMember, systemImagePath); err != nil {
		return err
	}
	cleanupImage := func() {
		os.Remove(systemImagePath)
	}
	defer func() {
		if session.Mode() != ModeRestore {
			cleanupImage()
		}
	}()

	if mode == ModeNormal {
		if err := tracker.EnterRecovery(); err != nil {
			return err
		}
	}

	rc, err := waitForRecovery()
	if err != nil {
		return err
	}
	session.SetMode(ModeRecovery)

	if restoreInfo != nil && rc.BDID != "" && rc.CPID != "" {
		// The recovery-mode serial string reports BDID/CPID in hex (as it
		// does ECID); the DeviceMap carries them as plain integers.
		bdid, berr := strconv.ParseUint(rc.BDID, 16, 64)
		cpid, cerr := strconv.ParseUint(rc.CPID, 16, 64)
		matched := false
		for _, dm := range restoreInfo.DeviceMap {
			if berr == nil && cerr == nil && uint64(dm.BDID) == bdid && uint64(dm.CPID) == cpid {
				matched = true
				break
			}
		}
		if !matched {
			return &DeviceMismatchError{BDID: rc.BDID, CPID: rc.CPID}
		}
	}

	uploader := &Uploader{
		Archive:    archive,
		Ticket:     ticket,
		Custom:     cfg.Custom,
		Debug:      cfg.Debug,
		Checkpoint: cfg.Checkpoint,
	}
	if uploader.Checkpoint == nil {
		uploader.Checkpoint = DefaultCheckpointHook(os.Stdin)
	}
	if err := uploader.Run(rc); err != nil {
		rc.Close()
		return err
	}
	rc.Close()

	stop := tracker.Subscribe(func(ev HotplugEvent) {
		log.WithField("udid", ev.UDID).Debugf("hotplug add=%t", ev.Add)
	})
	defer stop()

	for session.Mode() != ModeRestore && !session.Quit() {
		time.Sleep(1 * time.Second)
	}
	if session.Quit() {
		return nil
	}

	dispatcher, err := OpenDispatcher(session.UDID)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	dispatcher.Archive = archive
	dispatcher.Ticket = ticket
	dispatcher.Custom = cfg.Custom
	dispatcher.Debug = cfg.Debug
	dispatcher.SystemImage = systemImagePath
	dispatcher.StreamASR = cfg.StreamASR
	dispatcher.OnProgress = func(percent int) {
		log.Infof("restore progress: %d%%", percent)
	}
	dispatcher.OnStatus = func(status string, terminal bool) {
		log.Infof("restore status: %s", status)
		if terminal {
			session.LatchQuit()
		}
	}

	if err := dispatcher.StartRestore(manifest.ProductBuildVersion); err != nil {
		return err
	}

	if err := dispatcher.Run(session); err != nil {
		return err
	}

	session.SetMode(ModeTerminal)
	cleanupImage()
	return nil
}

// waitForRecovery polls for the device's recovery-mode USB descriptor to
// appear after an enter-recovery command (or immediately, when the device
// was already found there at detect time).
func waitForRecovery() (*irecv.Client, error) {
	deadline := time.Now().Add(30 * time.Second)
	for {
		rc, err := irecv.NewClient()
		if err == nil {
			return rc, nil
		}
		if time.Now().After(deadline) {
			return nil, &TransportFailureError{Stage: "wait-for-recovery", Cause: err}
		}
		time.Sleep(1 * time.Second)
	}
}

package restore

import "fmt"

// CliUsageError reports a malformed invocation of the command-line interface.
type CliUsageError struct {
	Reason string
}

func (e *CliUsageError) Error() string { return fmt.Sprintf("usage error: %s", e.Reason) }

// DeviceAbsentError reports that no device could be found in any mode.
type DeviceAbsentError struct{}

func (e *DeviceAbsentError) Error() string { return "no device found in normal or recovery mode" }

// IdentityUnavailableError reports that the device's ECID could not be read.
type IdentityUnavailableError struct {
	Cause error
}

func (e *IdentityUnavailableError) Error() string {
	return fmt.Sprintf("unable to read device identity: %v", e.Cause)
}
func (e *IdentityUnavailableError) Unwrap() error { return e.Cause }

// ArchiveMemberError reports a missing member in the firmware bundle.
type ArchiveMemberError struct {
	Path string
}

func (e *ArchiveMemberError) Error() string {
	return fmt.Sprintf("firmware bundle missing member: %s", e.Path)
}

// SchemaViolationError reports a property-list shape violation.
type SchemaViolationError struct {
	Context string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation: %s", e.Context)
}

// SigningUnavailableError reports that the signing authority rejected,
// could not be reached, or returned a malformed response body.
type SigningUnavailableError struct {
	Cause error
}

func (e *SigningUnavailableError) Error() string {
	return fmt.Sprintf("signing authority unavailable: %v", e.Cause)
}
func (e *SigningUnavailableError) Unwrap() error { return e.Cause }

// TicketEntryMissingError reports an absent top-level ticket entry.
type TicketEntryMissingError struct {
	Name string
}

func (e *TicketEntryMissingError) Error() string {
	return fmt.Sprintf("ticket entry missing: %s", e.Name)
}

// TicketPathMissingError reports that no ticket entry's inner Path matched.
type TicketPathMissingError struct {
	Path string
}

func (e *TicketPathMissingError) Error() string {
	return fmt.Sprintf("no ticket entry found for path: %s", e.Path)
}

// TicketEntryMalformedError reports a ticket entry with the wrong shape.
type TicketEntryMalformedError struct {
	Name   string
	Reason string
}

func (e *TicketEntryMalformedError) Error() string {
	return fmt.Sprintf("ticket entry %q malformed: %s", e.Name, e.Reason)
}

// ContainerMalformedError reports truncated or unparseable tagged-container input.
type ContainerMalformedError struct {
	Cause error
}

func (e *ContainerMalformedError) Error() string {
	return fmt.Sprintf("malformed tagged container: %v", e.Cause)
}
func (e *ContainerMalformedError) Unwrap() error { return e.Cause }

// NoSignatureChunkError reports a container with no signature chunk to replace.
type NoSignatureChunkError struct{}

func (e *NoSignatureChunkError) Error() string { return "no signature chunk found in container" }

// TransportFailureError reports an upload or restore-protocol I/O failure.
type TransportFailureError struct {
	Stage string
	Cause error
}

func (e *TransportFailureError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Stage, e.Cause)
}
func (e *TransportFailureError) Unwrap() error { return e.Cause }

// NotInRestoreModeError reports that the peer refused the restore handshake.
type NotInRestoreModeError struct {
	GotType string
}

func (e *NotInRestoreModeError) Error() string {
	return fmt.Sprintf("device is not in restore mode (QueryType returned %q)", e.GotType)
}

// DeviceMismatchError reports that the attached device's BDID/CPID pair
// does not appear in the bundle's Restore.plist DeviceMap, meaning the
// bundle was not built for this hardware.
type DeviceMismatchError struct {
	BDID, CPID string
}

func (e *DeviceMismatchError) Error() string {
	return fmt.Sprintf("device (BDID:%s CPID:%s) is not listed in this bundle's DeviceMap", e.BDID, e.CPID)
}

// UnknownDataTypeError reports a DataRequestMsg the dispatcher cannot serve.
type UnknownDataTypeError struct {
	DataType string
}

func (e *UnknownDataTypeError) Error() string {
	return fmt.Sprintf("unknown restore data type: %s", e.DataType)
}

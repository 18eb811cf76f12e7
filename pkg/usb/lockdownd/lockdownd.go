package lockdownd

import (
	"fmt"

	"github.com/restoregoose/idevicerestore/internal/colors"
	"github.com/restoregoose/idevicerestore/pkg/usb"
)

const lockdownPort = 62078

var colorFaint = colors.FaintHiBlue().SprintFunc()
var colorBold = colors.Bold().SprintFunc()

// Client is a lockdownd session: the identity/control service every
// Normal-mode device exposes on lockdownPort, used here to read ECID (C6)
// and to trigger the Normal->Recovery transition (C6).
type Client struct {
	*usb.Client
}

type startSessionRequest struct {
	Label           string
	ProtocolVersion string
	Request         string
	HostID          string
	SystemBUID      string
}

type startSessionResponse struct {
	Request          string
	Result           string
	EnableSessionSSL bool
	SessionID        string
}

// NewClient connects to lockdownd on the named device and starts a session,
// enabling TLS when the pair record calls for it.
func NewClient(udid string) (*Client, error) {
	cli, err := usb.NewClient(udid, lockdownPort)
	if err != nil {
		return nil, err
	}
	req := &startSessionRequest{
		Label:           usb.BundleID,
		ProtocolVersion: "2",
		Request:         "StartSession",
		HostID:          cli.PairRecord().HostID,
		SystemBUID:      cli.PairRecord().SystemBUID,
	}
	var resp startSessionResponse
	if err := cli.Request(req, &resp); err != nil {
		return nil, err
	}

	if resp.EnableSessionSSL {
		if err := cli.EnableSSL(); err != nil {
			return nil, fmt.Errorf("failed to enable SSL for lockdown service: %v", err)
		}
	}

	return &Client{cli}, nil
}

// NewClientForService starts the named lockdown-backed service (e.g. the
// restore service this package's caller in pkg/restore targets) and returns
// a usbmux client connected to its dedicated port.
func NewClientForService(serviceName, udid string, withEscrowBag bool) (*usb.Client, error) {
	lc, err := NewClient(udid)
	if err != nil {
		return nil, fmt.Errorf("failed to create lockdownd client for service %s: %v", serviceName, err)
	}
	defer lc.Close()

	svc, err := lc.StartService(serviceName, withEscrowBag)
	if err != nil {
		return nil, fmt.Errorf("failed to start service %s: %v", serviceName, err)
	}

	cli, err := usb.NewClient(udid, svc.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to create usbmux client for service %s on port %d: %v", serviceName, svc.Port, err)
	}

	if svc.EnableServiceSSL {
		if err := cli.EnableSSL(); err != nil {
			return nil, fmt.Errorf("failed to enable SSL for lockdown service %s: %v", serviceName, err)
		}
	}

	return cli, nil
}

type startServiceRequest struct {
	Label     string
	Request   string `plist:"Request"`
	Service   string
	EscrowBag []byte `plist:"EscrowBag,omitempty"`
}

type StartServiceResponse struct {
	Request          string
	Result           string
	Service          string
	Port             int
	EnableServiceSSL bool
}

func (lc *Client) StartService(service string, withEscrowBag bool) (*StartServiceResponse, error) {
	req := &startServiceRequest{
		Label:   usb.BundleID,
		Request: "StartService",
		Service: service,
	}
	if withEscrowBag {
		req.EscrowBag = lc.PairRecord().EscrowBag
	}

	var resp StartServiceResponse
	if err := lc.Request(req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// DeviceValues is the subset of lockdownd's GetValue dictionary this package
// actually reads: the fields the orchestrator uses for device identity (C6)
// and status logging.
type DeviceValues struct {
	DeviceName     string `plist:"DeviceName,omitempty" json:"device_name,omitempty"`
	ProductType    string `plist:"ProductType,omitempty" json:"product_type,omitempty"`
	ProductVersion string `plist:"ProductVersion,omitempty" json:"product_version,omitempty"`
	HardwareModel  string `plist:"HardwareModel,omitempty" json:"hardware_model,omitempty"`
	BuildVersion   string `plist:"BuildVersion,omitempty" json:"build_version,omitempty"`
	UniqueChipID   int64  `plist:"UniqueChipID,omitempty" json:"unique_chip_id,omitempty"`
	SerialNumber   string `plist:"SerialNumber,omitempty" json:"serial_number,omitempty"`
	ActivationState string `plist:"ActivationState,omitempty" json:"activation_state,omitempty"`
}

func (dv DeviceValues) String() string {
	return fmt.Sprintf(
		colorFaint("Device Name:     ")+colorBold("%s\n")+
			colorFaint("Product Type:    ")+colorBold("%s\n")+
			colorFaint("Product Version: ")+colorBold("%s\n")+
			colorFaint("HardwareModel:   ")+colorBold("%s\n")+
			colorFaint("BuildVersion:    ")+colorBold("%s\n")+
			colorFaint("UniqueChipID:    ")+colorBold("%#x\n")+
			colorFaint("SerialNumber:    ")+colorBold("%s\n")+
			colorFaint("ActivationState: ")+colorBold("%s\n"),
		dv.DeviceName,
		dv.ProductType,
		dv.ProductVersion,
		dv.HardwareModel,
		dv.BuildVersion,
		dv.UniqueChipID,
		dv.SerialNumber,
		dv.ActivationState,
	)
}

type getValueRequest struct {
	Request string
	Label   string
	Domain  string `plist:"Domain,omitempty"`
	Key     string `plist:"Key,omitempty"`
}

type getValuesResponse struct {
	Domain  string `plist:"Domain,omitempty"`
	Error   string `plist:"Error,omitempty"`
	Key     string `plist:"Key,omitempty"`
	Request string `plist:"Request,omitempty"`
	Result  string `plist:"Result,omitempty"`
	Value   *DeviceValues
}

// GetValues fetches the device's full lockdownd value dictionary, decoded
// into the fields this restore implementation needs.
func (lc *Client) GetValues() (*DeviceValues, error) {
	req := &getValueRequest{
		Request: "GetValue",
		Label:   usb.BundleID,
	}
	var resp getValuesResponse
	if err := lc.Request(req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("failed to get value: %s", resp.Error)
	}
	return resp.Value, nil
}

type queryTypeRequest struct {
	Label   string
	Request string `plist:"Request"`
}

type queryTypeResponse struct {
	Request string
	Result  string
	Type    string
	Error   string `plist:"Error,omitempty"`
}

// EnterRecovery sends the Normal->Recovery control message (C6). The device
// disconnects from usbmuxd immediately afterward; the caller is responsible
// for waiting until it re-enumerates in Recovery mode.
func (lc *Client) EnterRecovery() (string, error) {
	req := &queryTypeRequest{
		Request: "EnterRecovery",
		Label:   usb.BundleID,
	}
	var resp queryTypeResponse
	if err := lc.Request(req, &resp); err != nil {
		return "", err
	}

	return resp.Type, nil
}

func (lc *Client) Close() error {
	return lc.Client.Close()
}

package devinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudkucooland/dingzfar/fetch"
)

const (
	dingzInfoPath   = "/api/v1/device"
	myStromInfoPath = "/api/v1/info"
	legacyInfoPath  = "/info"
)

// what a dingz says about itself, keyed by its MAC
type dingzDescriptor struct {
	Type          string `json:"type"`
	Battery       bool   `json:"battery"`
	Reachable     bool   `json:"reachable"`
	FWVersion     string `json:"fw_version"`
	HWVersion     string `json:"hw_version"`
	FWVersionPuck string `json:"fw_version_puck"`
	BLVersionPuck string `json:"bl_version_puck"`
	DIPConfig     int    `json:"dip_config"`
	HasPIR        bool   `json:"has_pir"`
	HWModel       string `json:"hw_model"`
	FrontHWModel  string `json:"front_hw_model"`
	PuckHWModel   string `json:"puck_hw_model"`
	FrontSN       string `json:"front_sn"`
	PuckSN        string `json:"puck_sn"`
}

// switch, bulb and led strip info
type myStromDescriptor struct {
	Version   string     `json:"version"`
	MAC       string     `json:"mac"`
	Type      DeviceType `json:"type"`
	Name      string     `json:"name"`
	SSID      string     `json:"ssid"`
	IP        string     `json:"ip"`
	Connected bool       `json:"connected"`
}

// Resolver asks devices who they are
type Resolver struct {
	client fetch.Fetcher
	now    func() time.Time
}

// NewResolver uses the given client for every call
func NewResolver(client fetch.Fetcher) *Resolver {
	return &Resolver{client: client, now: time.Now}
}

// ResolveDingz reads /api/v1/device, which answers with exactly one MAC -> descriptor pair
func (r *Resolver) ResolveDingz(ctx context.Context, address, token string) (*DeviceInfo, error) {
	body, err := r.get(ctx, address, dingzInfoPath, token)
	if err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &DeviceNotReachableError{Address: address, Err: fmt.Errorf("malformed device info: %w", err)}
	}
	if len(raw) != 1 {
		return nil, &DeviceNotReachableError{Address: address, Err: fmt.Errorf("expected one device in info, got %d", len(raw))}
	}

	var mac string
	var hw json.RawMessage
	for k, v := range raw {
		mac, hw = NormalizeMAC(k), v
	}
	if mac == "" {
		return nil, &DeviceNotReachableError{Address: address, Err: fmt.Errorf("device info without mac")}
	}
	var d dingzDescriptor
	if err := json.Unmarshal(hw, &d); err != nil {
		return nil, &DeviceNotReachableError{Address: address, Err: fmt.Errorf("malformed device info: %w", err)}
	}

	t := ParseType(d.Type)
	if t != TypeDingz {
		return nil, &InvalidTypeError{Address: address, Expected: FamilyDingz, Observed: d.Type}
	}

	model := t.Model()
	if d.PuckHWModel != "" {
		model = d.PuckHWModel
	}
	now := r.now()
	return &DeviceInfo{
		Address:       address,
		MAC:           mac,
		Token:         token,
		Model:         model,
		Type:          t,
		Firmware:      d.FWVersion,
		HWInfo:        hw,
		AccessoryKind: KindDingz,
		LastUpdate:    &now,
	}, nil
}

// ResolveMyStrom reads /api/v1/info, or /info for first generation switches, and checks the
// reported type belongs to the expected family
func (r *Resolver) ResolveMyStrom(ctx context.Context, address, token string, expected Family, legacy bool) (*DeviceInfo, error) {
	path, auth := myStromInfoPath, token
	if legacy {
		// the old endpoint has no auth
		path, auth = legacyInfoPath, ""
	}
	body, err := r.get(ctx, address, path, auth)
	if err != nil {
		return nil, err
	}

	var d myStromDescriptor
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, &DeviceNotReachableError{Address: address, Err: fmt.Errorf("malformed device info: %w", err)}
	}
	if NormalizeMAC(d.MAC) == "" {
		return nil, &DeviceNotReachableError{Address: address, Err: fmt.Errorf("device info without mac")}
	}
	if d.Type.Family() != expected {
		return nil, &InvalidTypeError{Address: address, Expected: expected, Observed: fmt.Sprint(uint8(d.Type))}
	}

	now := r.now()
	return &DeviceInfo{
		Name:          d.Name,
		Address:       address,
		MAC:           NormalizeMAC(d.MAC),
		Token:         token,
		Model:         d.Type.Model(),
		Type:          d.Type,
		Firmware:      d.Version,
		HWInfo:        json.RawMessage(body),
		AccessoryKind: d.Type.Kind(),
		LastUpdate:    &now,
	}, nil
}

func (r *Resolver) get(ctx context.Context, address, path, token string) ([]byte, error) {
	res, err := r.client.Fetch(ctx, fetch.Request{
		URL:        fmt.Sprintf("http://%s%s", address, path),
		Token:      token,
		ReturnBody: true,
	})
	if err != nil {
		return nil, &DeviceNotReachableError{Address: address, Err: err}
	}
	if res == nil || len(res.Body) == 0 {
		return nil, &DeviceNotReachableError{Address: address, Err: fmt.Errorf("empty response from %s", path)}
	}
	return res.Body, nil
}

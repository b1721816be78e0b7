package devinfo

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// DeviceInfo is what we know about one physical device.
// MAC is the identity and never changes; Address may move with DHCP.
type DeviceInfo struct {
	Name          string          `json:"name"`
	Address       string          `json:"address"`
	MAC           string          `json:"mac"`
	Token         string          `json:"token,omitempty"`
	Model         string          `json:"model"`
	Type          DeviceType      `json:"type"`
	Firmware      string          `json:"firmware,omitempty"`
	HWInfo        json.RawMessage `json:"hwInfo,omitempty"`
	AccessoryKind Kind            `json:"accessoryKind"`
	LastUpdate    *time.Time      `json:"lastUpdate,omitempty"`
}

// NormalizeMAC uppercases and strips separators: "aa:bb:cc:dd:ee:ff" -> "AABBCCDDEEFF"
func NormalizeMAC(mac string) string {
	r := strings.NewReplacer(":", "", "-", "", ".", "", " ", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(mac)))
}

// MACFromBytes prints raw MAC bytes the way the devices do
func MACFromBytes(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// SerialID turns the MAC into the numeric accessory ID HomeKit wants
func (d DeviceInfo) SerialID() uint64 {
	raw, err := hex.DecodeString(NormalizeMAC(d.MAC))
	if err != nil {
		return 0
	}
	var id uint64
	for _, v := range raw {
		id = id<<8 | uint64(v)
	}
	return id
}

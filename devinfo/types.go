package devinfo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DeviceType is the canonical type code, as broadcast by the devices (byte 6)
type DeviceType uint8

const (
	TypeUnknown    DeviceType = 0
	TypeSwitchCHv1 DeviceType = 101
	TypeBulb       DeviceType = 102
	TypeButtonPlus DeviceType = 103
	TypeButton     DeviceType = 104
	TypeLedStrip   DeviceType = 105
	TypeSwitchCHv2 DeviceType = 106
	TypeSwitchEU   DeviceType = 107
	TypeDingz      DeviceType = 108
	TypeSwitchZero DeviceType = 113 // relay-only, reports no model name of its own
)

// older firmware reports a short string instead of the number
var firmwareTypes = map[string]DeviceType{
	"WSW":   TypeSwitchCHv1,
	"WRB":   TypeBulb,
	"WBP":   TypeButtonPlus,
	"WBS":   TypeButton,
	"WRS":   TypeLedStrip,
	"WS2":   TypeSwitchCHv2,
	"WSE":   TypeSwitchEU,
	"DINGZ": TypeDingz,
}

var models = map[DeviceType]string{
	TypeSwitchCHv1: "WiFi Switch CH v1",
	TypeBulb:       "WiFi Bulb",
	TypeButtonPlus: "WiFi Button+",
	TypeButton:     "WiFi Button",
	TypeLedStrip:   "WiFi LED Strip",
	TypeSwitchCHv2: "WiFi Switch CH v2",
	TypeSwitchEU:   "WiFi Switch EU",
	TypeDingz:      "dingz",
}

// GenericModel is shown for types we do not know the name of
const GenericModel = "myStrom Device"

// ParseType normalizes a numeric or firmware-string type; unknown input gives TypeUnknown
func ParseType(s string) DeviceType {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 255 {
			return TypeUnknown
		}
		return DeviceType(n)
	}
	if t, ok := firmwareTypes[strings.ToUpper(s)]; ok {
		return t
	}
	return TypeUnknown
}

// UnmarshalJSON accepts both `106` and `"WS2"`
func (t *DeviceType) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*t = ParseType(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("device type: %w", err)
	}
	*t = ParseType(s)
	return nil
}

// Model is the display name, falling back to GenericModel
func (t DeviceType) Model() string {
	if m, ok := models[t]; ok {
		return m
	}
	return GenericModel
}

// Family is the hardware line the type belongs to
func (t DeviceType) Family() Family {
	switch t {
	case TypeDingz:
		return FamilyDingz
	case TypeSwitchCHv1, TypeSwitchCHv2, TypeSwitchEU, TypeSwitchZero:
		return FamilySwitch
	case TypeBulb, TypeLedStrip:
		return FamilyLight
	case TypeButton, TypeButtonPlus:
		return FamilyButton
	}
	return FamilyUnknown
}

// Legacy types only answer on the unversioned /info endpoint
func (t DeviceType) Legacy() bool {
	return t == TypeSwitchCHv1
}

// Kind picks the accessory variant for the type
func (t DeviceType) Kind() Kind {
	switch t {
	case TypeDingz:
		return KindDingz
	case TypeSwitchCHv1, TypeSwitchCHv2, TypeSwitchEU, TypeSwitchZero:
		return KindSwitch
	case TypeBulb:
		return KindLightbulb
	case TypeLedStrip:
		return KindLedStrip
	}
	return KindUnknown
}

func (t DeviceType) String() string {
	return fmt.Sprintf("%d (%s)", uint8(t), t.Model())
}

// Family groups device types that share an info endpoint and an entry point
type Family string

const (
	FamilyUnknown Family = ""
	FamilyDingz   Family = "dingz"
	FamilySwitch  Family = "switch"
	FamilyLight   Family = "light"
	FamilyButton  Family = "button"
)

// ParseFamily reads the type names used in the configuration file
func ParseFamily(s string) Family {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dingz":
		return FamilyDingz
	case "switch", "mystromswitch":
		return FamilySwitch
	case "bulb", "ledstrip", "light", "lightbulb", "mystromlightbulb", "mystromledstrip":
		return FamilyLight
	case "button", "buttonplus":
		return FamilyButton
	}
	return FamilyUnknown
}

// Kind selects the accessory variant that owns a device
type Kind string

const (
	KindUnknown   Kind = ""
	KindDingz     Kind = "Dingz"
	KindSwitch    Kind = "MyStromSwitch"
	KindLightbulb Kind = "MyStromLightbulb"
	KindLedStrip  Kind = "MyStromLedStrip"
)

// ParseKind returns KindUnknown for anything outside the closed set
func ParseKind(s string) Kind {
	switch k := Kind(s); k {
	case KindDingz, KindSwitch, KindLightbulb, KindLedStrip:
		return k
	}
	return KindUnknown
}

const placeholderPrefix = "Auto-Discovered "

// Placeholder is the name given to a discovered device until it is renamed
func (k Kind) Placeholder() string {
	return placeholderPrefix + string(k)
}

// IsPlaceholder reports whether name was made up by discovery
func IsPlaceholder(name string) bool {
	return strings.HasPrefix(name, placeholderPrefix)
}

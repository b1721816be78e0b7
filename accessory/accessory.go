package accessory

import (
	"context"
	"fmt"
	"io/ioutil"
	"sync"
	"time"

	hcaccessory "github.com/brutella/hc/accessory"
	"github.com/brutella/hc/log"

	"github.com/cloudkucooland/dingzfar/devinfo"
	"github.com/cloudkucooland/dingzfar/events"
	"github.com/cloudkucooland/dingzfar/fetch"
)

// Handle is a registered device, dingzfar's view plus hc's
type Handle interface {
	Kind() devinfo.Kind
	Device() devinfo.DeviceInfo
	Accessory() *hcaccessory.Accessory
	// Identify is the user-visible acknowledgment, also wired to HomeKit's identify
	Identify()
	UpdateInfo(devinfo.DeviceInfo)
	HandleEvent(events.Event) error
}

// ErrUnknownKind is returned by New for a kind outside the closed set
type ErrUnknownKind struct {
	Kind devinfo.Kind
}

func (e *ErrUnknownKind) Error() string {
	return fmt.Sprintf("unknown accessory kind %q", string(e.Kind))
}

// New builds the variant for kind. client is used for HomeKit writes and may be nil.
func New(kind devinfo.Kind, info devinfo.DeviceInfo, client fetch.Fetcher) (Handle, error) {
	info.AccessoryKind = kind
	switch kind {
	case devinfo.KindDingz:
		return newDingz(info, client), nil
	case devinfo.KindSwitch:
		return newSwitch(info, client), nil
	case devinfo.KindLightbulb:
		return newLight(info, client, false), nil
	case devinfo.KindLedStrip:
		return newLight(info, client, true), nil
	}
	return nil, &ErrUnknownKind{Kind: kind}
}

func manufacturer(kind devinfo.Kind) string {
	if kind == devinfo.KindDingz {
		return "iolo AG"
	}
	return "myStrom AG"
}

func hcInfo(info devinfo.DeviceInfo) hcaccessory.Info {
	name := info.Name
	if name == "" {
		name = fmt.Sprintf("%s %s", info.AccessoryKind, info.MAC)
	}
	return hcaccessory.Info{
		Name:             name,
		ID:               info.SerialID(),
		SerialNumber:     info.MAC,
		Manufacturer:     manufacturer(info.AccessoryKind),
		Model:            info.Model,
		FirmwareRevision: info.Firmware,
	}
}

// the parts every variant shares
type base struct {
	kind   devinfo.Kind
	acc    *hcaccessory.Accessory
	client fetch.Fetcher

	// mu guards info and every characteristic write made from outside hc
	mu         sync.Mutex
	info       devinfo.DeviceInfo
	identified int
}

func (b *base) init(info devinfo.DeviceInfo, acc *hcaccessory.Accessory, client fetch.Fetcher) {
	b.kind = info.AccessoryKind
	b.info = info
	b.acc = acc
	b.client = client
	acc.OnIdentify(b.Identify)
}

func (b *base) Kind() devinfo.Kind {
	return b.kind
}

func (b *base) Device() devinfo.DeviceInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.info
}

func (b *base) Accessory() *hcaccessory.Accessory {
	return b.acc
}

func (b *base) Identify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.identified++

	log.Info.Printf("identify called for [%s] at %s", b.info.Name, b.info.Address)
	if !debugEnabled() {
		return
	}
	for _, svc := range b.acc.GetServices() {
		for _, char := range svc.GetCharacteristics() {
			log.Debug.Printf("[%s] service %s characteristic %s: %v", b.info.Name, svc.Type, char.Type, char.GetValue())
		}
	}
}

func debugEnabled() bool {
	return log.Debug.Writer() != ioutil.Discard
}

// Identified counts Identify calls
func (b *base) Identified() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.identified
}

// UpdateInfo refreshes the display data; the MAC never changes and a placeholder never
// replaces a real name
func (b *base) UpdateInfo(d devinfo.DeviceInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d.MAC != "" && devinfo.NormalizeMAC(d.MAC) != b.info.MAC {
		log.Info.Printf("warning: info for %s offered to %s, ignoring", d.MAC, b.info.MAC)
		return
	}
	if d.Name != "" && d.Name != b.info.Name && !(devinfo.IsPlaceholder(d.Name) && b.info.Name != "") {
		b.info.Name = d.Name
		b.acc.Info.Name.SetValue(d.Name)
	}
	if d.Firmware != "" && d.Firmware != b.info.Firmware {
		b.info.Firmware = d.Firmware
		b.acc.Info.FirmwareRevision.SetValue(d.Firmware)
	}
	if d.Address != "" && d.Address != b.info.Address {
		log.Info.Printf("[%s] moved from %s to %s", b.info.Name, b.info.Address, d.Address)
		b.info.Address = d.Address
	}
	if d.Token != "" {
		b.info.Token = d.Token
	}
	if d.Model != "" {
		b.info.Model = d.Model
	}
	if len(d.HWInfo) > 0 {
		b.info.HWInfo = d.HWInfo
	}
	if d.LastUpdate != nil {
		b.info.LastUpdate = d.LastUpdate
	}
}

func (b *base) handleInfo(e events.Event) error {
	if e.Device == nil {
		return fmt.Errorf("info update for %s without a device record", e.MAC)
	}
	b.UpdateInfo(*e.Device)
	return nil
}

// send pushes a HomeKit write to the device without holding up hc
func (b *base) send(path, method, body string) {
	if b.client == nil {
		return
	}
	d := b.Device()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		url := fmt.Sprintf("http://%s%s", d.Address, path)
		res, err := b.client.Fetch(ctx, fetch.Request{URL: url, Method: method, Body: body, Token: d.Token})
		if err != nil {
			log.Info.Printf("[%s] %s failed: %s", d.Name, path, err.Error())
			return
		}
		if res.StatusCode < 200 || res.StatusCode > 299 {
			log.Info.Printf("[%s] %s answered %d", d.Name, path, res.StatusCode)
		}
	}()
}

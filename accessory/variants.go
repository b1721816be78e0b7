package accessory

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/brutella/hc/characteristic"
	"github.com/brutella/hc/log"

	"github.com/cloudkucooland/dingzfar/devices"
	"github.com/cloudkucooland/dingzfar/devinfo"
	"github.com/cloudkucooland/dingzfar/events"
	"github.com/cloudkucooland/dingzfar/fetch"
)

// a switch drawing more than this is "in use"
const inUseWatts = 1.0

// Dingz owns the buttons, thermometer and PIR of one dingz
type Dingz struct {
	base
	HC *devices.Dingz
}

func newDingz(info devinfo.DeviceInfo, client fetch.Fetcher) *Dingz {
	var hw struct {
		HasPIR bool `json:"has_pir"`
	}
	if len(info.HWInfo) > 0 {
		if err := json.Unmarshal(info.HWInfo, &hw); err != nil {
			log.Info.Printf("warning: [%s] unreadable hardware info: %s", info.MAC, err.Error())
		}
	}

	d := &Dingz{}
	d.HC = devices.NewDingz(hcInfo(info), hw.HasPIR)
	d.init(info, d.HC.Accessory, client)
	return d
}

// LastPress is the press type last shown on button n (1 to 4)
func (d *Dingz) LastPress(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.HC.Buttons[n-1].ProgrammableSwitchEvent.GetValue()
}

// HasPIR reports whether the front plate carries a motion sensor
func (d *Dingz) HasPIR() bool {
	return d.HC.Motion != nil
}

// dingz action codes to HomeKit press types
var pressTypes = map[string]int{
	"1": characteristic.ProgrammableSwitchEventSinglePress,
	"2": characteristic.ProgrammableSwitchEventDoublePress,
	"3": characteristic.ProgrammableSwitchEventLongPress,
}

func (d *Dingz) HandleEvent(e events.Event) error {
	switch e.Kind {
	case events.InfoUpdate:
		return d.handleInfo(e)
	case events.DeviceAction:
		d.mu.Lock()
		defer d.mu.Unlock()
		n, err := strconv.Atoi(e.Button)
		if err != nil || n < 1 || n > devices.DingzButtons {
			return fmt.Errorf("dingz %s: no button %q", e.MAC, e.Button)
		}
		press, ok := pressTypes[e.Action]
		if !ok {
			return fmt.Errorf("dingz %s: unknown action %q", e.MAC, e.Action)
		}
		d.HC.Buttons[n-1].ProgrammableSwitchEvent.SetValue(press)
	case events.StateUpdate:
		if e.State == nil {
			return nil
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if e.State.Temperature != nil {
			d.HC.Temperature.CurrentTemperature.SetValue(*e.State.Temperature)
		}
		if e.State.Motion != nil && d.HasPIR() {
			d.HC.Motion.MotionDetected.SetValue(*e.State.Motion)
		}
	}
	return nil
}

// MyStromSwitch is a relay
type MyStromSwitch struct {
	base
	HC *devices.MyStromSwitch
}

func newSwitch(info devinfo.DeviceInfo, client fetch.Fetcher) *MyStromSwitch {
	s := &MyStromSwitch{}
	s.HC = devices.NewMyStromSwitch(hcInfo(info))
	s.init(info, s.HC.Accessory, client)

	s.HC.Outlet.On.OnValueRemoteUpdate(func(on bool) {
		state := 0
		if on {
			state = 1
		}
		s.send(fmt.Sprintf("/relay?state=%d", state), http.MethodGet, "")
	})
	return s
}

func (s *MyStromSwitch) HandleEvent(e events.Event) error {
	switch e.Kind {
	case events.InfoUpdate:
		return s.handleInfo(e)
	case events.DeviceAction:
		return fmt.Errorf("switch %s has no buttons", e.MAC)
	case events.StateUpdate:
		if e.State == nil {
			return nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if e.State.On != nil {
			s.HC.Outlet.On.SetValue(*e.State.On)
		}
		if e.State.Power != nil {
			s.HC.Outlet.OutletInUse.SetValue(*e.State.Power > inUseWatts)
		}
		if e.State.Temperature != nil {
			s.HC.Temperature.CurrentTemperature.SetValue(*e.State.Temperature)
		}
	}
	return nil
}

// MyStromLight is a bulb or, with color, an LED strip
type MyStromLight struct {
	base
	HC *devices.MyStromLight
}

func newLight(info devinfo.DeviceInfo, client fetch.Fetcher, color bool) *MyStromLight {
	l := &MyStromLight{}
	l.HC = devices.NewMyStromLight(hcInfo(info), color)
	l.init(info, l.HC.Accessory, client)

	path := "/api/v1/device/" + info.MAC
	svc := l.HC.Lightbulb
	svc.On.OnValueRemoteUpdate(func(on bool) {
		action := "off"
		if on {
			action = "on"
		}
		l.send(path, http.MethodPost, "action="+action)
	})
	svc.Brightness.OnValueRemoteUpdate(func(v int) {
		l.send(path, http.MethodPost, l.colorBody(v))
	})
	if color {
		svc.Hue.OnValueRemoteUpdate(func(float64) {
			l.send(path, http.MethodPost, l.colorBody(svc.Brightness.GetValue()))
		})
		svc.Saturation.OnValueRemoteUpdate(func(float64) {
			l.send(path, http.MethodPost, l.colorBody(svc.Brightness.GetValue()))
		})
	}
	return l
}

// hsv as the device expects it: hue;saturation;value
func (l *MyStromLight) colorBody(brightness int) string {
	svc := l.HC.Lightbulb
	hue, sat := 0, 0
	if svc.Hue != nil {
		hue, sat = int(svc.Hue.GetValue()), int(svc.Saturation.GetValue())
	}
	return fmt.Sprintf("action=on&mode=hsv&color=%d;%d;%d", hue, sat, brightness)
}

func (l *MyStromLight) HandleEvent(e events.Event) error {
	switch e.Kind {
	case events.InfoUpdate:
		return l.handleInfo(e)
	case events.DeviceAction:
		return fmt.Errorf("light %s has no buttons", e.MAC)
	case events.StateUpdate:
		if e.State == nil {
			return nil
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		if e.State.On != nil {
			l.HC.Lightbulb.On.SetValue(*e.State.On)
		}
		if e.State.Brightness != nil {
			l.HC.Lightbulb.Brightness.SetValue(*e.State.Brightness)
		}
	}
	return nil
}

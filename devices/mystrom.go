package devices

import (
	"github.com/brutella/hc/accessory"
	"github.com/brutella/hc/characteristic"
	"github.com/brutella/hc/service"
)

// MyStromSwitch is a single relay with power metering and a thermometer
type MyStromSwitch struct {
	*accessory.Accessory
	Outlet      *MyStromOutletSvc
	Temperature *service.TemperatureSensor
}

func NewMyStromSwitch(info accessory.Info) *MyStromSwitch {
	acc := MyStromSwitch{}
	acc.Accessory = accessory.New(info, accessory.TypeOutlet)

	acc.Outlet = NewMyStromOutletSvc()
	acc.AddService(acc.Outlet.Service)

	acc.Temperature = service.NewTemperatureSensor()
	acc.AddService(acc.Temperature.Service)

	return &acc
}

type MyStromOutletSvc struct {
	*service.Service

	On          *characteristic.On
	OutletInUse *characteristic.OutletInUse
}

func NewMyStromOutletSvc() *MyStromOutletSvc {
	svc := MyStromOutletSvc{}
	svc.Service = service.New(service.TypeOutlet)

	svc.On = characteristic.NewOn()
	svc.AddCharacteristic(svc.On.Characteristic)

	svc.OutletInUse = characteristic.NewOutletInUse()
	svc.AddCharacteristic(svc.OutletInUse.Characteristic)

	return &svc
}

// MyStromLight covers the bulb and the LED strip; only the strip gets hue and saturation
type MyStromLight struct {
	*accessory.Accessory
	Lightbulb *MyStromLightSvc
}

func NewMyStromLight(info accessory.Info, color bool) *MyStromLight {
	acc := MyStromLight{}
	acc.Accessory = accessory.New(info, accessory.TypeLightbulb)

	acc.Lightbulb = NewMyStromLightSvc(color)
	acc.AddService(acc.Lightbulb.Service)

	return &acc
}

type MyStromLightSvc struct {
	*service.Service

	On         *characteristic.On
	Brightness *characteristic.Brightness
	Hue        *characteristic.Hue
	Saturation *characteristic.Saturation
}

func NewMyStromLightSvc(color bool) *MyStromLightSvc {
	svc := MyStromLightSvc{}
	svc.Service = service.New(service.TypeLightbulb)

	svc.On = characteristic.NewOn()
	svc.AddCharacteristic(svc.On.Characteristic)

	svc.Brightness = characteristic.NewBrightness()
	svc.AddCharacteristic(svc.Brightness.Characteristic)

	if color {
		svc.Hue = characteristic.NewHue()
		svc.AddCharacteristic(svc.Hue.Characteristic)

		svc.Saturation = characteristic.NewSaturation()
		svc.AddCharacteristic(svc.Saturation.Characteristic)
	}

	return &svc
}

package devices

import (
	"fmt"

	"github.com/brutella/hc/accessory"
	"github.com/brutella/hc/characteristic"
	"github.com/brutella/hc/service"
)

// DingzButtons is the number of push buttons on the front plate
const DingzButtons = 4

// Dingz is the multi-channel controller: four stateless buttons, a thermometer and the PIR
type Dingz struct {
	*accessory.Accessory

	Buttons     [DingzButtons]*DingzButton
	Temperature *service.TemperatureSensor
	Motion      *service.MotionSensor
}

func NewDingz(info accessory.Info, hasPIR bool) *Dingz {
	acc := Dingz{}
	acc.Accessory = accessory.New(info, accessory.TypeProgrammableSwitch)

	for i := 0; i < DingzButtons; i++ {
		acc.Buttons[i] = NewDingzButton(fmt.Sprintf("%s Button %d", info.Name, i+1))
		acc.AddService(acc.Buttons[i].Service)
	}
	acc.Buttons[0].Primary = true

	acc.Temperature = service.NewTemperatureSensor()
	acc.AddService(acc.Temperature.Service)

	if hasPIR {
		acc.Motion = service.NewMotionSensor()
		acc.AddService(acc.Motion.Service)
	}

	return &acc
}

type DingzButton struct {
	*service.Service

	ProgrammableSwitchEvent *characteristic.ProgrammableSwitchEvent
	Name                    *characteristic.Name
}

func NewDingzButton(name string) *DingzButton {
	svc := DingzButton{}
	svc.Service = service.New(service.TypeStatelessProgrammableSwitch)

	svc.ProgrammableSwitchEvent = characteristic.NewProgrammableSwitchEvent()
	svc.AddCharacteristic(svc.ProgrammableSwitchEvent.Characteristic)

	svc.Name = characteristic.NewName()
	svc.Name.SetValue(name)
	svc.AddCharacteristic(svc.Name.Characteristic)

	return &svc
}

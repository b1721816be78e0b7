package homecontrol

import (
	"sync"
	"time"

	"github.com/brutella/hc"
	hcaccessory "github.com/brutella/hc/accessory"
	"github.com/brutella/hc/log"
	"github.com/brutella/hc/util"

	"github.com/cloudkucooland/dingzfar/accessory"
	"github.com/cloudkucooland/dingzfar/metrics"
)

// hc fixes the accessory list when the transport is built, so a new device means a new transport
const restartDelay = 5 * time.Second

type transport interface {
	Start()
	Stop() <-chan struct{}
	XHMURI() (string, error)
}

type transportFunc func(hc.Config, *hcaccessory.Accessory, ...*hcaccessory.Accessory) (transport, error)

func ipTransport(c hc.Config, root *hcaccessory.Accessory, as ...*hcaccessory.Accessory) (transport, error) {
	return hc.NewIPTransport(c, root, as...)
}

// Bridge publishes every registered accessory to HomeKit
type Bridge struct {
	config   hc.Config
	name     string
	storage  string
	registry *accessory.Registry

	newTransport transportFunc
	delay        time.Duration

	mu      sync.Mutex
	root    *hcaccessory.Bridge
	current transport
	timer   *time.Timer
	stopped bool
}

// NewBridge prepares a bridge named name; storage holds its serial number
func NewBridge(config hc.Config, name, storage string, registry *accessory.Registry) *Bridge {
	return &Bridge{
		config:       config,
		name:         name,
		storage:      storage,
		registry:     registry,
		newTransport: ipTransport,
		delay:        restartDelay,
	}
}

// Start is called after the persisted accessories are restored
func (b *Bridge) Start() error {
	storage, err := util.NewFileStorage(b.storage)
	if err != nil {
		log.Info.Println("unable to get storage")
		return err
	}
	serial := util.GetSerialNumberForAccessoryName("DingzFarRoot", storage)

	root := hcaccessory.NewBridge(hcaccessory.Info{
		Name:             b.name,
		ID:               1,
		SerialNumber:     serial,
		Manufacturer:     "deviousness",
		Model:            "dingzfar",
		FirmwareRevision: "0.1.0",
	})
	root.Accessory.OnIdentify(func() {
		log.Info.Printf("bridge root identify called: %s", b.name)
	})

	b.mu.Lock()
	b.root = root
	err = b.startLocked()
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.registry.OnAdd(b.schedule)
	return nil
}

func (b *Bridge) startLocked() error {
	handles := b.registry.Handles()
	values := make([]*hcaccessory.Accessory, 0, len(handles))
	for _, h := range handles {
		values = append(values, h.Accessory())
	}

	t, err := b.newTransport(b.config, b.root.Accessory, values...)
	if err != nil {
		return err
	}
	b.current = t
	go t.Start()
	metrics.Accessories.Set(float64(len(values)))

	if uri, err := t.XHMURI(); err == nil {
		log.Info.Printf("add this bridge with: %s", uri)
	}
	log.Info.Printf("HomeKit bridge up with %d accessories", len(values))
	return nil
}

// schedule a restart; registrations close together share one
func (b *Bridge) schedule(h accessory.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	log.Debug.Printf("[%s] added, restarting HomeKit transport in %s", h.Device().Name, b.delay)
	if b.timer != nil {
		b.timer.Reset(b.delay)
		return
	}
	b.timer = time.AfterFunc(b.delay, b.restart)
}

func (b *Bridge) restart() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timer = nil
	if b.stopped {
		return
	}

	if b.current != nil {
		<-b.current.Stop()
	}
	if err := b.startLocked(); err != nil {
		log.Info.Printf("unable to restart HomeKit transport: %s", err.Error())
	}
}

// Stop is called at process teardown
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
	}
	if b.current != nil {
		<-b.current.Stop()
		b.current = nil
	}
}

package dingzfar

import (
	"context"
	"fmt"

	"github.com/brutella/hc/log"

	"github.com/cloudkucooland/dingzfar/accessory"
	"github.com/cloudkucooland/dingzfar/callback"
	"github.com/cloudkucooland/dingzfar/config"
	"github.com/cloudkucooland/dingzfar/devinfo"
	"github.com/cloudkucooland/dingzfar/discovery"
	"github.com/cloudkucooland/dingzfar/events"
	"github.com/cloudkucooland/dingzfar/fetch"
	"github.com/cloudkucooland/dingzfar/homecontrol"
	"github.com/cloudkucooland/dingzfar/metrics"
	"github.com/cloudkucooland/dingzfar/mqtt"
	"github.com/cloudkucooland/dingzfar/platform"
)

// Daemon holds every running part of the bridge
type Daemon struct {
	conf *config.Config

	Bus      *events.Bus
	Registry *accessory.Registry
	Platform *platform.Platform

	bridge    *homecontrol.Bridge
	callback  *callback.Server
	discovery *discovery.Listener
	metrics   *metrics.Server
	mqtt      *mqtt.Client
	forwarder *mqtt.Forwarder

	ctx    context.Context
	cancel context.CancelFunc
}

// Bootstrap wires the parts together and restores the persisted accessories
func Bootstrap(conf *config.Config) (*Daemon, error) {
	client := fetch.NewClient(conf.FetchTimeoutDuration())
	bus := events.New()

	store, err := accessory.NewFileStore(conf.StoragePath())
	if err != nil {
		return nil, fmt.Errorf("accessory storage: %w", err)
	}
	registry := accessory.NewRegistry(func(k devinfo.Kind, i devinfo.DeviceInfo) (accessory.Handle, error) {
		return accessory.New(k, i, client)
	}, bus, store)
	n, err := registry.Load()
	if err != nil {
		// start empty rather than not at all; devices register again as they are found
		log.Info.Printf("warning: %s", err.Error())
	}
	log.Info.Printf("restored %d accessories", n)

	plat := platform.New(platform.Options{
		GlobalToken: conf.GlobalToken,
		CallbackURL: conf.CallbackURL(),
		MotionPoll:  conf.MotionPoll,
		PullRate:    conf.PullInterval(),
	}, devinfo.NewResolver(client), registry, bus, client)

	d := &Daemon{
		conf:     conf,
		Bus:      bus,
		Registry: registry,
		Platform: plat,
		bridge:   homecontrol.NewBridge(conf.HCConfig, conf.Name, conf.StoragePath(), registry),
		callback: callback.New(bus),
	}
	d.discovery = discovery.New(conf.DiscoveryPort, discovery.Window, plat.HandleAnnouncement)
	return d, nil
}

// Candidates turns the configured devices into registration candidates
func Candidates(conf *config.Config) []platform.Candidate {
	out := make([]platform.Candidate, 0, len(conf.Devices))
	for _, dev := range conf.Devices {
		out = append(out, platform.Candidate{
			Address: dev.Address,
			Name:    dev.Name,
			Token:   dev.Token,
			Family:  dev.Family(),
		})
	}
	return out
}

// Run starts everything. Only listener binds fail it; device trouble is logged.
func (d *Daemon) Run() error {
	d.ctx, d.cancel = context.WithCancel(context.Background())

	d.metrics = metrics.Start(d.conf.MetricsAddress)

	if err := d.callback.Start(fmt.Sprintf(":%d", d.conf.CallbackPort)); err != nil {
		return fmt.Errorf("callback listener: %w", err)
	}

	if d.conf.MQTT.Broker != "" {
		if err := d.startMQTT(); err != nil {
			log.Info.Printf("warning: %s", err.Error())
		}
	}

	if err := d.Platform.Start(); err != nil {
		return err
	}

	// HC can only be started once the restored accessories are known; later ones restart it
	if err := d.bridge.Start(); err != nil {
		return fmt.Errorf("HomeKit bridge: %w", err)
	}

	if d.conf.AutoDiscover {
		if err := d.StartDiscovery(); err != nil {
			return fmt.Errorf("discovery listener: %w", err)
		}
	}

	go func() {
		results := d.Platform.RegisterConfigured(d.ctx, Candidates(d.conf))
		ok := 0
		for _, r := range results {
			if r.Err == nil {
				ok++
			}
		}
		log.Info.Printf("%d of %d configured devices registered", ok, len(results))
	}()
	return nil
}

// StartDiscovery opens a new ten minute discovery session
func (d *Daemon) StartDiscovery() error {
	return d.discovery.Start(d.ctx)
}

func (d *Daemon) startMQTT() error {
	c, err := mqtt.Connect(d.conf.MQTT)
	if err != nil {
		return err
	}
	f, err := mqtt.Forward(d.Bus, c, d.conf.MQTT.TopicPrefix)
	if err != nil {
		c.Close()
		return err
	}
	d.mqtt, d.forwarder = c, f
	return nil
}

// Shutdown is called at process stop
func (d *Daemon) Shutdown() {
	if d.cancel != nil {
		d.cancel()
	}
	d.discovery.Stop()
	d.discovery.Wait()
	d.Platform.Shutdown()
	d.bridge.Stop()
	d.callback.Shutdown()
	if d.forwarder != nil {
		d.forwarder.Stop()
		d.mqtt.Close()
	}
	if d.metrics != nil {
		d.metrics.Shutdown()
	}
	d.Bus.Close()
}
